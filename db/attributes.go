package db

// TableAttributes hold the per-table settings that survive restarts.
// They are mutated only through the dedicated update-attributes write
// operation.
type TableAttributes struct {
	// Persist controls whether table content is written to the
	// persistence backend at all.
	Persist bool

	// MaxPartitionsAmount caps the number of partitions; exceeding it
	// garbage-collects partitions in LRU-by-read-access order. Nil
	// means unlimited.
	MaxPartitionsAmount *int

	// MaxRowsPerPartitionAmount caps rows within each partition. Nil
	// means unlimited.
	MaxRowsPerPartitionAmount *int

	// Created is the table creation moment in microseconds.
	Created int64
}

// DefaultAttributes are used for tables created without explicit
// attributes and for tables loaded from a backend missing a metadata
// file.
func DefaultAttributes(now int64) TableAttributes {
	return TableAttributes{Persist: true, Created: now}
}

// Equal reports whether two attribute sets are the same, ignoring the
// creation moment.
func (a TableAttributes) Equal(b TableAttributes) bool {
	return a.Persist == b.Persist &&
		intPtrEqual(a.MaxPartitionsAmount, b.MaxPartitionsAmount) &&
		intPtrEqual(a.MaxRowsPerPartitionAmount, b.MaxRowsPerPartitionAmount)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
