// Package ops implements the write and read operations clients reach
// through the HTTP, gRPC and TCP surfaces. Every write mutates the
// database under the table's exclusive section and pushes exactly one
// sync event per logical change onto the dispatcher.
package ops

import (
	"github.com/tevino/abool"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
)

// Core binds the database to the event dispatcher and gates traffic on
// the initialization flag.
type Core struct {
	DB          *db.Database
	Dispatcher  *events.Dispatcher
	Initialized *abool.AtomicBool
}

// NewCore wires an operations core. The initialized flag starts
// false; the startup loader flips it.
func NewCore(database *db.Database, dispatcher *events.Dispatcher) *Core {
	return &Core{
		DB:          database,
		Dispatcher:  dispatcher,
		Initialized: abool.New(),
	}
}

func (c *Core) ready() error {
	if !c.Initialized.IsSet() {
		return db.ErrNotInitialized
	}
	return nil
}

func (c *Core) table(name string) (*db.Table, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	table, ok := c.DB.GetTable(name)
	if !ok {
		return nil, db.ErrTableNotFound
	}
	return table, nil
}

func (c *Core) push(ev events.SyncEvent) {
	c.Dispatcher.Push(ev)
}
