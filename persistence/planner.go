package persistence

import (
	"sync"
	"time"

	"github.com/MyJetTools/my-no-sql-server-sub000/events"
)

// TaskKind is the granularity of one unit of persistence work, in
// descending priority.
type TaskKind int

// Task kinds.
const (
	TaskDeleteTable TaskKind = iota
	TaskSaveTable
	TaskSavePartition
	TaskSaveRows
	TaskSaveAttributes
)

// Task is one unit of persistence work claimed from the planner.
type Task struct {
	Table        string
	Kind         TaskKind
	PartitionKey string
	RowKeys      []string
	Due          int64
}

const durationRingSize = 16

// tableMarkers is the per-table dirty-state lattice. The whole-table
// flag subsumes partition and row markers; the delete flag supersedes
// everything. Overlapping marks keep the minimum due moment.
type tableMarkers struct {
	mu sync.Mutex

	attributesDirty bool
	attributesDue   int64

	wholeTable    bool
	wholeTableDue int64

	partitions map[string]int64
	rows       map[string]map[string]int64

	deleteTable bool
	deleteDue   int64

	// metrics
	persisted     uint64
	failed        uint64
	durations     [durationRingSize]time.Duration
	durationsNext int
	durationsLen  int
}

// TableStats is a metrics snapshot of one table's persistence record.
type TableStats struct {
	Table        string
	Persisted    uint64
	Failed       uint64
	LastDuration time.Duration
	HasPending   bool
}

// Planner holds the per-table persistence markers. Each record is
// guarded by its own mutex; the outer lock only protects the map.
type Planner struct {
	mu     sync.RWMutex
	tables map[string]*tableMarkers
}

// NewPlanner creates an empty planner.
func NewPlanner() *Planner {
	return &Planner{tables: make(map[string]*tableMarkers)}
}

func (p *Planner) markers(table string) *tableMarkers {
	p.mu.RLock()
	m, ok := p.tables[table]
	p.mu.RUnlock()
	if ok {
		return m
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok = p.tables[table]; ok {
		return m
	}
	m = &tableMarkers{
		partitions: make(map[string]int64),
		rows:       make(map[string]map[string]int64),
	}
	p.tables[table] = m
	return m
}

// Apply merges one sync event into the dirty state. Node-init events
// came from the backend and are not persisted again.
func (p *Planner) Apply(ev events.SyncEvent) {
	if ev.EventSource().Kind == events.SourceNodeInit {
		return
	}
	due := ev.PersistTargetTime()

	switch e := ev.(type) {
	case events.InitTable:
		p.MarkTable(e.TableName(), due)
	case events.InitPartitions:
		for pk := range e.Partitions {
			p.MarkPartition(e.TableName(), pk, due)
		}
	case events.UpdateRows:
		for pk, rows := range e.Rows {
			rowKeys := make([]string, 0, len(rows))
			for _, row := range rows {
				rowKeys = append(rowKeys, row.RowKey)
			}
			p.MarkRows(e.TableName(), pk, rowKeys, due)
		}
	case events.DeleteRows:
		for pk, rowKeys := range e.Rows {
			p.MarkRows(e.TableName(), pk, rowKeys, due)
		}
		for _, pk := range e.DeletedPartitions {
			p.MarkPartition(e.TableName(), pk, due)
		}
	case events.DeleteTable:
		p.MarkDeleteTable(e.TableName(), due)
	case events.UpdateTableAttributes:
		p.MarkAttributes(e.TableName(), due)
	case events.TableFirstInit:
		// Reader-only event, nothing to persist.
	}
}

// MarkAttributes records an attribute-only change.
func (p *Planner) MarkAttributes(table string, due int64) {
	m := p.markers(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteTable {
		return
	}
	if !m.attributesDirty || due < m.attributesDue {
		m.attributesDirty = true
		m.attributesDue = due
	}
}

// MarkTable records that the whole table must be persisted, subsuming
// any partition and row markers.
func (p *Planner) MarkTable(table string, due int64) {
	m := p.markers(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteTable {
		return
	}
	if !m.wholeTable || due < m.wholeTableDue {
		m.wholeTable = true
		m.wholeTableDue = due
	}
	m.partitions = make(map[string]int64)
	m.rows = make(map[string]map[string]int64)
}

// MarkPartition records that one partition must be persisted (or its
// file deleted, when the partition is gone by flush time).
func (p *Planner) MarkPartition(table, pk string, due int64) {
	m := p.markers(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteTable {
		return
	}
	if m.wholeTable {
		if due < m.wholeTableDue {
			m.wholeTableDue = due
		}
		return
	}
	if prev, ok := m.partitions[pk]; !ok || due < prev {
		m.partitions[pk] = due
	}
	delete(m.rows, pk)
}

// MarkRows records rows to persist or delete, unless subsumed by a
// dirty partition or table.
func (p *Planner) MarkRows(table, pk string, rowKeys []string, due int64) {
	m := p.markers(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteTable {
		return
	}
	if m.wholeTable {
		if due < m.wholeTableDue {
			m.wholeTableDue = due
		}
		return
	}
	if prev, ok := m.partitions[pk]; ok {
		if due < prev {
			m.partitions[pk] = due
		}
		return
	}
	rows, ok := m.rows[pk]
	if !ok {
		rows = make(map[string]int64)
		m.rows[pk] = rows
	}
	for _, rk := range rowKeys {
		if prev, ok := rows[rk]; !ok || due < prev {
			rows[rk] = due
		}
	}
}

// MarkDeleteTable records table deletion, superseding all other
// markers.
func (p *Planner) MarkDeleteTable(table string, due int64) {
	m := p.markers(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteTable = true
	m.deleteDue = due
	m.attributesDirty = false
	m.wholeTable = false
	m.partitions = make(map[string]int64)
	m.rows = make(map[string]map[string]int64)
}

// Next claims the highest-priority task due at now. ignoreDue is set
// during shutdown draining, when all dirty state must go out
// regardless of target moments. The claimed scope is cleared; Requeue
// restores it on failure.
func (p *Planner) Next(now int64, ignoreDue bool) (Task, bool) {
	p.mu.RLock()
	names := make([]string, 0, len(p.tables))
	for name := range p.tables {
		names = append(names, name)
	}
	markers := make([]*tableMarkers, 0, len(names))
	for _, name := range names {
		markers = append(markers, p.tables[name])
	}
	p.mu.RUnlock()

	best := Task{}
	bestOK := false
	better := func(candidate Task) bool {
		if !bestOK {
			return true
		}
		if candidate.Kind != best.Kind {
			return candidate.Kind < best.Kind
		}
		return candidate.Due < best.Due
	}

	for i, m := range markers {
		m.mu.Lock()
		if candidate, ok := m.peek(names[i], now, ignoreDue); ok && better(candidate) {
			best = candidate
			bestOK = true
		}
		m.mu.Unlock()
	}
	if !bestOK {
		return Task{}, false
	}

	// Claim the chosen scope.
	m := p.markers(best.Table)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch best.Kind {
	case TaskDeleteTable:
		m.deleteTable = false
	case TaskSaveTable:
		m.wholeTable = false
		m.attributesDirty = false
		m.partitions = make(map[string]int64)
		m.rows = make(map[string]map[string]int64)
	case TaskSavePartition:
		delete(m.partitions, best.PartitionKey)
	case TaskSaveRows:
		delete(m.rows, best.PartitionKey)
	case TaskSaveAttributes:
		m.attributesDirty = false
	}
	return best, true
}

// peek returns the table's highest-priority due task without claiming
// it. Caller holds m.mu.
func (m *tableMarkers) peek(table string, now int64, ignoreDue bool) (Task, bool) {
	due := func(at int64) bool { return ignoreDue || at <= now }

	if m.deleteTable && due(m.deleteDue) {
		return Task{Table: table, Kind: TaskDeleteTable, Due: m.deleteDue}, true
	}
	if m.wholeTable && due(m.wholeTableDue) {
		return Task{Table: table, Kind: TaskSaveTable, Due: m.wholeTableDue}, true
	}

	bestPK, bestDue, found := "", int64(0), false
	for pk, at := range m.partitions {
		if due(at) && (!found || at < bestDue || (at == bestDue && pk < bestPK)) {
			bestPK, bestDue, found = pk, at, true
		}
	}
	if found {
		return Task{Table: table, Kind: TaskSavePartition, PartitionKey: bestPK, Due: bestDue}, true
	}

	for pk, rows := range m.rows {
		earliest := int64(0)
		first := true
		for _, at := range rows {
			if first || at < earliest {
				earliest = at
				first = false
			}
		}
		if !first && due(earliest) && (!found || earliest < bestDue || (earliest == bestDue && pk < bestPK)) {
			bestPK, bestDue, found = pk, earliest, true
		}
	}
	if found {
		rowKeys := make([]string, 0, len(m.rows[bestPK]))
		for rk := range m.rows[bestPK] {
			rowKeys = append(rowKeys, rk)
		}
		return Task{Table: table, Kind: TaskSaveRows, PartitionKey: bestPK, RowKeys: rowKeys, Due: bestDue}, true
	}

	if m.attributesDirty && due(m.attributesDue) {
		return Task{Table: table, Kind: TaskSaveAttributes, Due: m.attributesDue}, true
	}
	return Task{}, false
}

// Requeue restores a failed task's scope with a fresh retry moment.
func (p *Planner) Requeue(task Task, retryAt int64) {
	switch task.Kind {
	case TaskDeleteTable:
		p.MarkDeleteTable(task.Table, retryAt)
	case TaskSaveTable:
		p.MarkTable(task.Table, retryAt)
	case TaskSavePartition:
		p.MarkPartition(task.Table, task.PartitionKey, retryAt)
	case TaskSaveRows:
		p.MarkRows(task.Table, task.PartitionKey, task.RowKeys, retryAt)
	case TaskSaveAttributes:
		p.MarkAttributes(task.Table, retryAt)
	}
}

// RecordResult updates the per-table persistence metrics.
func (p *Planner) RecordResult(table string, duration time.Duration, err error) {
	m := p.markers(table)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed++
		return
	}
	m.persisted++
	m.durations[m.durationsNext] = duration
	m.durationsNext = (m.durationsNext + 1) % durationRingSize
	if m.durationsLen < durationRingSize {
		m.durationsLen++
	}
}

// HasPending reports whether any dirty state remains.
func (p *Planner) HasPending() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.tables {
		m.mu.Lock()
		_, pending := m.peek("", 0, true)
		m.mu.Unlock()
		if pending {
			return true
		}
	}
	return false
}

// Stats snapshots the per-table persistence metrics.
func (p *Planner) Stats() []TableStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]TableStats, 0, len(p.tables))
	for name, m := range p.tables {
		m.mu.Lock()
		s := TableStats{
			Table:     name,
			Persisted: m.persisted,
			Failed:    m.failed,
		}
		if m.durationsLen > 0 {
			last := (m.durationsNext - 1 + durationRingSize) % durationRingSize
			s.LastDuration = m.durations[last]
		}
		_, s.HasPending = m.peek(name, 0, true)
		m.mu.Unlock()
		stats = append(stats, s)
	}
	return stats
}
