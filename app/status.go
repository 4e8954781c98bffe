package app

import (
	"os"

	"github.com/shirou/gopsutil/process"

	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// TableStatus is one table's monitoring row.
type TableStatus struct {
	Name            string `json:"name"`
	Persist         bool   `json:"persist"`
	PartitionsCount int    `json:"partitionsCount"`
	RowsCount       int    `json:"rowsCount"`
	DataSize        int    `json:"dataSize"`
	LastUpdateTime  string `json:"lastUpdateTime"`
	HasPendingFlush bool   `json:"hasPendingFlush"`
}

// ReaderStatus is one session's monitoring row.
type ReaderStatus struct {
	ID           int64    `json:"id"`
	Kind         string   `json:"kind"`
	IP           string   `json:"ip"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Tables       []string `json:"tables"`
	PendingBytes int64    `json:"pendingBytes"`
}

// Status is the /api/Status model.
type Status struct {
	Location         string         `json:"location"`
	Initialized      bool           `json:"initialized"`
	QueueDepth       int            `json:"queueDepth"`
	TablesCount      int            `json:"tablesCount"`
	Tables           []TableStatus  `json:"tables"`
	Readers          []ReaderStatus `json:"readers"`
	OpenTransactions int            `json:"openTransactions"`
	ProcessMemory    uint64         `json:"processMemory"`
	StartedAt        string         `json:"startedAt"`
}

// Status snapshots the application for monitoring.
func (a *App) Status() Status {
	pending := make(map[string]bool)
	for _, stat := range a.Planner.Stats() {
		pending[stat.Table] = stat.HasPending
	}

	s := Status{
		Location:         a.Settings.Location,
		Initialized:      a.Core.Initialized.IsSet(),
		QueueDepth:       a.Dispatcher.Depth(),
		TablesCount:      a.DB.TablesCount(),
		OpenTransactions: a.Transactions.Count(),
		StartedAt:        a.StartedAt.UTC().Format("2006-01-02T15:04:05.000000"),
	}
	for _, table := range a.DB.Tables() {
		s.Tables = append(s.Tables, TableStatus{
			Name:            table.Name,
			Persist:         table.Attributes().Persist,
			PartitionsCount: table.PartitionsCount(),
			RowsCount:       table.RowsCount(),
			DataSize:        table.DataSize(),
			LastUpdateTime:  timeutils.MicrosToISO(table.LastUpdateTime()),
			HasPendingFlush: pending[table.Name],
		})
	}
	for _, session := range a.Registry.All() {
		s.Readers = append(s.Readers, ReaderStatus{
			ID:           session.ID,
			Kind:         session.Kind.String(),
			IP:           session.IP,
			Name:         session.Name(),
			Version:      session.Version(),
			Tables:       session.Tables(),
			PendingBytes: session.PendingBytes(),
		})
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			s.ProcessMemory = mem.RSS
		}
	}
	return s
}
