package db

import (
	"sort"
	"sync"
	"sync/atomic"
)

// UpdateStatistics carries the read-statistics options a read request
// may opt into. Flags are independent; the expiration values apply
// only when the matching Set flag is on. PartitionHasExpiration and
// RowsHasExpiration distinguish "expire at this moment" from "clear
// the expiration", so an epoch-zero moment is a valid expiration.
type UpdateStatistics struct {
	UpdatePartitionLastReadTime bool
	UpdateRowsLastReadTime      bool

	SetPartitionExpirationTime bool
	PartitionExpirationTime    int64
	PartitionHasExpiration     bool

	SetRowsExpirationTime bool
	RowsExpirationTime    int64
	RowsHasExpiration     bool
}

// needsExclusive reports whether applying the options mutates the
// expiration index, which the shared section cannot do.
func (u *UpdateStatistics) needsExclusive() bool {
	return u != nil && u.SetRowsExpirationTime
}

// Table owns the partitions of one table, its attributes and its
// access moments. Each table carries its own shared/exclusive section;
// writes against one table are totally ordered by the order in which
// they acquire it.
type Table struct {
	Name string

	mu         sync.RWMutex
	partitions map[string]*Partition
	attributes TableAttributes

	lastUpdateTime int64 // atomic micros
	lastReadTime   int64 // atomic micros
}

// NewTable creates an empty table. The name must have been validated
// by the registry.
func NewTable(name string, attributes TableAttributes) *Table {
	return &Table{
		Name:       name,
		partitions: make(map[string]*Partition),
		attributes: attributes,
	}
}

// LastUpdateTime returns the moment of the last write.
func (t *Table) LastUpdateTime() int64 {
	return atomic.LoadInt64(&t.lastUpdateTime)
}

// LastReadTime returns the moment of the last read.
func (t *Table) LastReadTime() int64 {
	return atomic.LoadInt64(&t.lastReadTime)
}

func (t *Table) markUpdate(now int64) {
	atomic.StoreInt64(&t.lastUpdateTime, now)
}

func (t *Table) markRead(now int64) {
	atomic.StoreInt64(&t.lastReadTime, now)
}

// Attributes returns a snapshot of the table attributes.
func (t *Table) Attributes() TableAttributes {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attributes
}

// SetAttributes replaces the table attributes and reports whether they
// changed. Tightened limits are enforced by the caller through the GC
// operations on the next mutation.
func (t *Table) SetAttributes(attributes TableAttributes, now int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attributes.Equal(attributes) {
		return false
	}
	if attributes.Created == 0 {
		attributes.Created = t.attributes.Created
	}
	t.attributes = attributes
	t.markUpdate(now)
	return true
}

// InsertRow adds the row if its (partition key, row key) slot is
// empty and reports whether it did.
func (t *Table) InsertRow(row *Row, now int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partitionForWrite(row.PartitionKey)
	if !p.Insert(row) {
		return false
	}
	p.MarkWrite(now)
	t.markUpdate(now)
	return true
}

// InsertOrReplaceRow stores the row, returning the previous row at its
// slot, if any.
func (t *Table) InsertOrReplaceRow(row *Row, now int64) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partitionForWrite(row.PartitionKey)
	prev := p.InsertOrReplace(row)
	p.MarkWrite(now)
	t.markUpdate(now)
	return prev
}

// ReplaceRow stores the row iff a row currently exists at its slot
// whose TimeStamp equals expected.
func (t *Table) ReplaceRow(row *Row, expected int64, now int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[row.PartitionKey]
	if !ok {
		return ErrRecordNotFound
	}
	current, ok := p.Get(row.RowKey)
	if !ok {
		return ErrRecordNotFound
	}
	if current.TimeStamp != expected {
		return ErrOptimisticConcurrencyFailed
	}
	p.InsertOrReplace(row)
	p.MarkWrite(now)
	t.markUpdate(now)
	return nil
}

// BulkInsertOrReplace stores all rows, grouped by partition key.
func (t *Table) BulkInsertOrReplace(rowsByPartition map[string][]*Row, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for pk, rows := range rowsByPartition {
		p := t.partitionForWrite(pk)
		for _, row := range rows {
			p.InsertOrReplace(row)
		}
		p.MarkWrite(now)
	}
	t.markUpdate(now)
}

// BulkDelete removes the named rows. It returns the removed rows by
// partition and the keys of partitions that became empty and were
// dropped.
func (t *Table) BulkDelete(keysByPartition map[string][]string, now int64) (map[string][]*Row, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make(map[string][]*Row)
	var deletedPartitions []string
	for pk, rowKeys := range keysByPartition {
		p, ok := t.partitions[pk]
		if !ok {
			continue
		}
		for _, rk := range rowKeys {
			if row, ok := p.Remove(rk); ok {
				removed[pk] = append(removed[pk], row)
			}
		}
		if p.RowsCount() == 0 {
			delete(t.partitions, pk)
			deletedPartitions = append(deletedPartitions, pk)
		}
	}
	if len(removed) > 0 || len(deletedPartitions) > 0 {
		t.markUpdate(now)
	}
	return removed, deletedPartitions
}

// DeleteRow removes one row. It reports the removed row, whether it
// existed, and whether its partition was dropped for becoming empty.
func (t *Table) DeleteRow(pk, rk string, now int64) (*Row, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[pk]
	if !ok {
		return nil, false, false
	}
	row, ok := p.Remove(rk)
	if !ok {
		return nil, false, false
	}
	partitionDeleted := false
	if p.RowsCount() == 0 {
		delete(t.partitions, pk)
		partitionDeleted = true
	}
	t.markUpdate(now)
	return row, true, partitionDeleted
}

// CleanTable drops all partitions, returning the previous ones.
func (t *Table) CleanTable(now int64) map[string]*Partition {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.partitions
	t.partitions = make(map[string]*Partition)
	t.markUpdate(now)
	return previous
}

// RemovePartitions drops the given partitions, returning the removed
// ones by key.
func (t *Table) RemovePartitions(pks []string, now int64) map[string]*Partition {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make(map[string]*Partition)
	for _, pk := range pks {
		if p, ok := t.partitions[pk]; ok {
			removed[pk] = p
			delete(t.partitions, pk)
		}
	}
	if len(removed) > 0 {
		t.markUpdate(now)
	}
	return removed
}

// GCKeepMaxPartitions drops partitions until at most max remain, in
// LRU-by-last-read-access order with ties broken by partition key
// ascending. It returns the removed partitions.
func (t *Table) GCKeepMaxPartitions(max int, now int64) map[string]*Partition {
	t.mu.Lock()
	defer t.mu.Unlock()

	if max < 0 || len(t.partitions) <= max {
		return nil
	}

	candidates := make([]*Partition, 0, len(t.partitions))
	for _, p := range t.partitions {
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.LastReadAccess() != b.LastReadAccess() {
			return a.LastReadAccess() < b.LastReadAccess()
		}
		return a.Key < b.Key
	})

	removed := make(map[string]*Partition)
	for _, p := range candidates[:len(candidates)-max] {
		removed[p.Key] = p
		delete(t.partitions, p.Key)
	}
	t.markUpdate(now)
	return removed
}

// GCKeepMaxRowsInPartition drops rows of the given partition until at
// most max remain, in LRU-by-last-read-access order. It returns the
// removed rows and whether the partition itself was dropped.
func (t *Table) GCKeepMaxRowsInPartition(pk string, max int, now int64) ([]*Row, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[pk]
	if !ok || max < 0 || p.RowsCount() <= max {
		return nil, false
	}

	rows := p.Rows()
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.LastReadAccess() != b.LastReadAccess() {
			return a.LastReadAccess() < b.LastReadAccess()
		}
		return a.RowKey < b.RowKey
	})

	var removed []*Row
	for _, row := range rows[:len(rows)-max] {
		if r, ok := p.Remove(row.RowKey); ok {
			removed = append(removed, r)
		}
	}
	partitionDeleted := false
	if p.RowsCount() == 0 {
		delete(t.partitions, pk)
		partitionDeleted = true
	}
	t.markUpdate(now)
	return removed, partitionDeleted
}

// GCExpired removes every row whose expiration moment is at or before
// now. It returns the removed rows by partition and the keys of
// partitions dropped for becoming empty.
func (t *Table) GCExpired(now int64) (map[string][]*Row, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := make(map[string][]*Row)
	var deletedPartitions []string
	for pk, p := range t.partitions {
		rows := p.RowsToExpire(now)
		if len(rows) == 0 {
			continue
		}
		for _, row := range rows {
			if r, ok := p.Remove(row.RowKey); ok {
				expired[pk] = append(expired[pk], r)
			}
		}
		if p.RowsCount() == 0 {
			delete(t.partitions, pk)
			deletedPartitions = append(deletedPartitions, pk)
		}
	}
	if len(expired) > 0 {
		t.markUpdate(now)
	}
	return expired, deletedPartitions
}

// GetPartition returns the partition at the given key.
func (t *Table) GetPartition(pk string) (*Partition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.partitions[pk]
	return p, ok
}

// PartitionKeys returns all partition keys in ascending order.
func (t *Table) PartitionKeys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.partitionKeysLocked()
}

func (t *Table) partitionKeysLocked() []string {
	keys := make([]string, 0, len(t.partitions))
	for pk := range t.partitions {
		keys = append(keys, pk)
	}
	sort.Strings(keys)
	return keys
}

// PartitionsCount returns the number of partitions.
func (t *Table) PartitionsCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.partitions)
}

// RowsCount returns the number of rows across all partitions.
func (t *Table) RowsCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, p := range t.partitions {
		count += p.RowsCount()
	}
	return count
}

// DataSize returns the summed payload size of all rows.
func (t *Table) DataSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	size := 0
	for _, p := range t.partitions {
		size += p.DataSize()
	}
	return size
}

// Snapshot captures all rows by partition, each partition's rows in
// ascending row-key order.
func (t *Table) Snapshot() map[string][]*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string][]*Row, len(t.partitions))
	for pk, p := range t.partitions {
		snapshot[pk] = p.Rows()
	}
	return snapshot
}

// PartitionSnapshot captures the rows of one partition in ascending
// row-key order, or nil if the partition does not exist.
func (t *Table) PartitionSnapshot(pk string) []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.partitions[pk]
	if !ok {
		return nil
	}
	return p.Rows()
}

// GetRow is the point read. Statistics options are applied to the
// visited partition and row.
func (t *Table) GetRow(pk, rk string, opts *UpdateStatistics, now int64) (*Row, bool) {
	unlock := t.lockForRead(opts)
	defer unlock()
	t.markRead(now)

	p, ok := t.partitions[pk]
	if !ok {
		return nil, false
	}
	row, ok := p.Get(rk)
	if !ok {
		return nil, false
	}
	t.applyStatistics(p, []*Row{row}, opts, now)
	return row, true
}

// GetPartitionRows returns the rows of one partition in row-key order,
// honoring limit and skip.
func (t *Table) GetPartitionRows(pk string, limit, skip int, opts *UpdateStatistics, now int64) []*Row {
	unlock := t.lockForRead(opts)
	defer unlock()
	t.markRead(now)

	p, ok := t.partitions[pk]
	if !ok {
		return nil
	}
	rows := applyLimitSkip(p.Rows(), limit, skip)
	t.applyStatistics(p, rows, opts, now)
	return rows
}

// GetRowsByRowKey returns rows with the given row key across all
// partitions, in ascending partition-key order.
func (t *Table) GetRowsByRowKey(rk string, limit, skip int, opts *UpdateStatistics, now int64) []*Row {
	unlock := t.lockForRead(opts)
	defer unlock()
	t.markRead(now)

	var rows []*Row
	for _, pk := range t.partitionKeysLocked() {
		p := t.partitions[pk]
		row, ok := p.Get(rk)
		if !ok {
			continue
		}
		rows = append(rows, row)
		t.applyStatistics(p, []*Row{row}, opts, now)
	}
	return applyLimitSkip(rows, limit, skip)
}

// GetAllRows returns every row, partitions in ascending key order,
// rows in ascending row-key order, honoring limit and skip.
func (t *Table) GetAllRows(limit, skip int, opts *UpdateStatistics, now int64) []*Row {
	unlock := t.lockForRead(opts)
	defer unlock()
	t.markRead(now)

	var rows []*Row
	for _, pk := range t.partitionKeysLocked() {
		p := t.partitions[pk]
		collected := p.Rows()
		rows = append(rows, collected...)
		t.applyStatistics(p, collected, opts, now)
	}
	return applyLimitSkip(rows, limit, skip)
}

// HighestRowAndBelow returns rows of the partition with row key
// strictly below rk, highest first, up to max rows.
func (t *Table) HighestRowAndBelow(pk, rk string, max int, opts *UpdateStatistics, now int64) []*Row {
	unlock := t.lockForRead(opts)
	defer unlock()
	t.markRead(now)

	p, ok := t.partitions[pk]
	if !ok {
		return nil
	}
	rows := p.RangeBelow(rk, max)
	t.applyStatistics(p, rows, opts, now)
	return rows
}

// GetRowsMulti performs a point lookup for each given row key in one
// partition, skipping misses.
func (t *Table) GetRowsMulti(pk string, rowKeys []string, opts *UpdateStatistics, now int64) []*Row {
	unlock := t.lockForRead(opts)
	defer unlock()
	t.markRead(now)

	p, ok := t.partitions[pk]
	if !ok {
		return nil
	}
	var rows []*Row
	for _, rk := range rowKeys {
		if row, ok := p.Get(rk); ok {
			rows = append(rows, row)
		}
	}
	t.applyStatistics(p, rows, opts, now)
	return rows
}

// ApplyPartitionReadTime bumps the read moment of the given
// partitions. Used by the reader protocol's update-last-read commands.
func (t *Table) ApplyPartitionReadTime(pks []string, now int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.markRead(now)
	for _, pk := range pks {
		if p, ok := t.partitions[pk]; ok {
			p.BumpReadAccess(now)
		}
	}
}

// ApplyRowsReadTime bumps the read moment of the given rows.
func (t *Table) ApplyRowsReadTime(pk string, rowKeys []string, now int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.markRead(now)
	p, ok := t.partitions[pk]
	if !ok {
		return
	}
	p.BumpReadAccess(now)
	for _, rk := range rowKeys {
		if row, ok := p.Get(rk); ok {
			row.BumpReadAccess(now)
		}
	}
}

// ApplyPartitionsExpiration stores the partition expiration hint on
// the given partitions.
func (t *Table) ApplyPartitionsExpiration(pks []string, at int64, has bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pk := range pks {
		if p, ok := t.partitions[pk]; ok {
			p.SetExpires(at, has)
		}
	}
}

// ApplyRowsExpiration moves the given rows to a new expiration moment.
func (t *Table) ApplyRowsExpiration(pk string, rowKeys []string, at int64, has bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[pk]
	if !ok {
		return
	}
	for _, rk := range rowKeys {
		if row, ok := p.Get(rk); ok {
			p.SetExpiration(row, at, has)
		}
	}
}

// lockForRead takes the shared section, or the exclusive one when the
// statistics options mutate the expiration index.
func (t *Table) lockForRead(opts *UpdateStatistics) func() {
	if opts.needsExclusive() {
		t.mu.Lock()
		return t.mu.Unlock
	}
	t.mu.RLock()
	return t.mu.RUnlock
}

func (t *Table) applyStatistics(p *Partition, rows []*Row, opts *UpdateStatistics, now int64) {
	if opts == nil {
		return
	}
	if opts.UpdatePartitionLastReadTime {
		p.BumpReadAccess(now)
	}
	if opts.SetPartitionExpirationTime {
		p.SetExpires(opts.PartitionExpirationTime, opts.PartitionHasExpiration)
	}
	for _, row := range rows {
		if opts.UpdateRowsLastReadTime {
			row.BumpReadAccess(now)
		}
		if opts.SetRowsExpirationTime {
			p.SetExpiration(row, opts.RowsExpirationTime, opts.RowsHasExpiration)
		}
	}
}

func (t *Table) partitionForWrite(pk string) *Partition {
	p, ok := t.partitions[pk]
	if !ok {
		p = NewPartition(pk)
		t.partitions[pk] = p
	}
	return p
}

func applyLimitSkip(rows []*Row, limit, skip int) []*Row {
	if skip > 0 {
		if skip >= len(rows) {
			return nil
		}
		rows = rows[skip:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
