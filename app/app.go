// Package app wires the server's components together: the database,
// the dispatcher consumer, the persistence loop, background timers and
// the reader registry.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/tevino/abool"

	"github.com/MyJetTools/my-no-sql-server-sub000/backup"
	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/ops"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers/wire"
	"github.com/MyJetTools/my-no-sql-server-sub000/settings"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// App is the process-wide application context threaded to every
// surface.
type App struct {
	Settings settings.Settings

	DB           *db.Database
	Dispatcher   *events.Dispatcher
	Core         *ops.Core
	Transactions *ops.Transactions
	Registry     *readers.Registry
	Planner      *persistence.Planner
	Flusher      *persistence.Flusher
	Backend      storage.Backend
	Backups      *backup.Manager

	ShuttingDown *abool.AtomicBool
	StartedAt    time.Time

	consumerDone chan struct{}
}

// New wires an application around a storage backend.
func New(cfg settings.Settings, backend storage.Backend) *App {
	database := db.New()
	dispatcher := events.NewDispatcher()
	core := ops.NewCore(database, dispatcher)
	planner := persistence.NewPlanner()

	a := &App{
		Settings:     cfg,
		DB:           database,
		Dispatcher:   dispatcher,
		Core:         core,
		Transactions: ops.NewTransactions(core),
		Registry:     readers.NewRegistry(),
		Planner:      planner,
		Flusher: &persistence.Flusher{
			DB:      database,
			Planner: planner,
			Backend: backend,
		},
		Backend: backend,
		Backups: &backup.Manager{
			Backend: backend,
			Folder:  cfg.BackupFolder,
			MaxKeep: cfg.MaxBackupsToKeep,
		},
		ShuttingDown: abool.New(),
		StartedAt:    time.Now(),
		consumerDone: make(chan struct{}),
	}
	a.registerMetrics()
	return a
}

// StartDispatcher launches the single consumer that fans events out
// to subscribers and the persistence planner.
func (a *App) StartDispatcher() {
	go func() {
		defer close(a.consumerDone)
		a.Dispatcher.Run(a.deliver)
	}()
}

func (a *App) deliver(ev events.SyncEvent) {
	if first, ok := ev.(events.TableFirstInit); ok {
		if session, found := a.Registry.Get(first.TargetSession); found {
			a.sendFirstInit(session, first)
		}
	} else {
		for _, session := range a.Registry.SubscribedTo(ev.TableName()) {
			// Deltas wait until the session's snapshot went out, so
			// a subscriber never sees an update ahead of InitTable.
			if session.InitPending(ev.TableName()) {
				continue
			}
			a.send(session, ev)
		}
	}
	a.Planner.Apply(ev)
}

// sendFirstInit delivers a session's initial snapshot. A nil Snapshot
// means "capture now": taking it here, on the consumer goroutine,
// guarantees every write already delivered as a delta would also be
// absent from the snapshot, and every write still queued behind this
// event is already in it.
func (a *App) sendFirstInit(session *readers.Session, first events.TableFirstInit) {
	tableName := first.TableName()
	if first.Snapshot == nil {
		table, ok := a.DB.GetTable(tableName)
		if !ok {
			session.Unsubscribe(tableName)
			if session.Kind == readers.KindTCP {
				session.Enqueue(wire.TableNotFound(tableName))
			}
			return
		}
		first.Snapshot = table.Snapshot()
	}
	a.send(session, first)
	session.ClearInitPending(tableName)
}

// send encodes for the session's transport and enqueues; a full queue
// closes the session.
func (a *App) send(session *readers.Session, ev events.SyncEvent) {
	switch session.Kind {
	case readers.KindTCP:
		for _, frame := range wire.EncodeEventTCP(ev) {
			if !session.Enqueue(frame) {
				session.Close()
				return
			}
		}
	case readers.KindHTTP:
		if encoded := wire.EncodeEventLongPoll(ev); len(encoded) > 0 {
			if !session.Enqueue(encoded) {
				session.Close()
			}
		}
	}
}

// CompleteInitialization flips the ready flag and releases the
// snapshot deliveries deferred by early subscribers.
func (a *App) CompleteInitialization() {
	a.Core.Initialized.Set()
	now := timeutils.NowMicros()

	for _, session := range a.Registry.All() {
		for _, tableName := range session.TakeDeferredFirstInits() {
			// Snapshot stays nil; the consumer captures it at delivery
			// and answers TableNotFound for tables that vanished.
			a.Dispatcher.Push(events.TableFirstInit{
				EventBase:     events.NewEventBase(tableName, events.ClientSource(events.Immediately), now),
				TargetSession: session.ID,
			})
		}
	}
}

// StartTimers launches the background ticks. They stop when ctx is
// cancelled.
func (a *App) StartTimers(ctx context.Context) {
	tick(ctx, 30*time.Second, func() {
		a.Core.GCExpiredRows(timeutils.NowMicros())
	})
	tick(ctx, 10*time.Second, func() {
		a.Registry.GCDead(timeutils.NowMicros())
	})
	tick(ctx, 10*time.Second, func() {
		a.Transactions.GC(timeutils.NowMicros())
	})
	tick(ctx, time.Second, func() {
		a.Flusher.Tick(ctx, timeutils.NowMicros(), false)
	})
	tick(ctx, 5*time.Second, a.refreshTableMetrics)

	if a.Settings.BackupIntervalHours > 0 && a.Settings.BackupFolder != "" {
		interval := time.Duration(a.Settings.BackupIntervalHours) * time.Hour
		tick(ctx, interval, func() {
			_ = a.Backups.RunOnce(ctx, time.Now())
		})
	}
}

func tick(ctx context.Context, period time.Duration, run func()) {
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// Shutdown drains the dispatcher and flushes all dirty state.
func (a *App) Shutdown(ctx context.Context) error {
	a.ShuttingDown.Set()
	a.Core.Initialized.UnSet()

	a.Dispatcher.Close()
	select {
	case <-a.consumerDone:
	case <-ctx.Done():
	}

	var result *multierror.Error
	a.Flusher.Tick(ctx, timeutils.NowMicros(), true)
	if a.Planner.HasPending() {
		result = multierror.Append(result, fmt.Errorf("persistence state remains dirty after final flush"))
	}
	for _, session := range a.Registry.All() {
		session.Close()
	}
	return result.ErrorOrNil()
}

func (a *App) registerMetrics() {
	metrics.GetOrCreateGauge("mynosql_dispatcher_queue_depth", func() float64 {
		return float64(a.Dispatcher.Depth())
	})
	metrics.GetOrCreateGauge("mynosql_tables_count", func() float64 {
		return float64(a.DB.TablesCount())
	})
	metrics.GetOrCreateGauge("mynosql_reader_sessions", func() float64 {
		return float64(a.Registry.Count())
	})
	metrics.GetOrCreateGauge("mynosql_open_transactions", func() float64 {
		return float64(a.Transactions.Count())
	})
}

// refreshTableMetrics makes sure every live table has its gauges
// registered. Gauge callbacks read the live table, so values are
// always current at scrape time.
func (a *App) refreshTableMetrics() {
	for _, table := range a.DB.Tables() {
		table := table
		metrics.GetOrCreateGauge(
			fmt.Sprintf(`mynosql_table_partitions{table=%q}`, table.Name),
			func() float64 { return float64(table.PartitionsCount()) })
		metrics.GetOrCreateGauge(
			fmt.Sprintf(`mynosql_table_rows{table=%q}`, table.Name),
			func() float64 { return float64(table.RowsCount()) })
		metrics.GetOrCreateGauge(
			fmt.Sprintf(`mynosql_table_data_size{table=%q}`, table.Name),
			func() float64 { return float64(table.DataSize()) })
	}
	for _, stat := range a.Planner.Stats() {
		stat := stat
		metrics.GetOrCreateCounter(
			fmt.Sprintf(`mynosql_persistence_completed_total{table=%q}`, stat.Table)).Set(stat.Persisted)
		metrics.GetOrCreateCounter(
			fmt.Sprintf(`mynosql_persistence_failed_total{table=%q}`, stat.Table)).Set(stat.Failed)
	}
}
