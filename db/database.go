package db

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// tableNamePattern covers length, charset and the edge characters.
// The no-`--` rule is checked separately.
var tableNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61})?[a-z0-9]$`)

// ValidateTableName checks a table name: 3-63 chars of lower-case
// ASCII letters, digits and `-`, not starting or ending with `-` and
// without `--`.
func ValidateTableName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return ErrTableNameValidation
	}
	if !tableNamePattern.MatchString(name) {
		return ErrTableNameValidation
	}
	if strings.Contains(name, "--") {
		return ErrTableNameValidation
	}
	return nil
}

// Database is the table registry. The map is read-mostly: lookups take
// the shared section, create and delete take the exclusive one. A
// returned table hands out shared ownership and stays valid after its
// removal from the registry.
type Database struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// New creates an empty database.
func New() *Database {
	return &Database{tables: make(map[string]*Table)}
}

// GetTable returns the table with the given name.
func (d *Database) GetTable(name string) (*Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[name]
	return t, ok
}

// Tables returns all tables, ordered by name.
func (d *Database) Tables() []*Table {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tables := make([]*Table, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}

// TableNames returns all table names, ordered.
func (d *Database) TableNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TablesCount returns the number of registered tables.
func (d *Database) TablesCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tables)
}

// CreateTableIfMissing registers a table under the given name, or
// returns the existing one. The second return value reports whether
// the table was just created.
func (d *Database) CreateTableIfMissing(name string, attributes TableAttributes, now int64) (*Table, bool, error) {
	if err := ValidateTableName(name); err != nil {
		return nil, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.tables[name]; ok {
		return t, false, nil
	}
	if attributes.Created == 0 {
		attributes.Created = now
	}
	t := NewTable(name, attributes)
	d.tables[name] = t
	return t, true, nil
}

// DeleteTable removes the table from the registry, returning it if it
// was registered.
func (d *Database) DeleteTable(name string) (*Table, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[name]
	if !ok {
		return nil, false
	}
	delete(d.tables, name)
	return t, true
}
