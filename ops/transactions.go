package ops

import (
	"encoding/json"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
)

// Step kinds accepted in a transaction body.
const (
	StepCleanTable       = "CleanTable"
	StepDeletePartitions = "DeletePartitions"
	StepDeleteRows       = "DeleteRows"
	StepInsertOrReplace  = "InsertOrReplace"
)

// TransactionIdleLimit expires transactions with no append or commit.
const TransactionIdleLimit int64 = 60_000_000 // micros

// Step is one staged action. Which fields apply depends on Type.
type Step struct {
	Type          string          `json:"Type"`
	TableName     string          `json:"TableName"`
	PartitionKeys []string        `json:"PartitionKeys,omitempty"`
	PartitionKey  string          `json:"PartitionKey,omitempty"`
	RowKeys       []string        `json:"RowKeys,omitempty"`
	Rows          json.RawMessage `json:"Rows,omitempty"`
}

// ParseSteps decodes a transaction actions body.
func ParseSteps(body []byte) ([]Step, error) {
	var steps []Step
	if err := json.Unmarshal(body, &steps); err != nil {
		return nil, errors.Wrap(err, "failed to parse transaction steps")
	}
	for i, step := range steps {
		switch step.Type {
		case StepCleanTable, StepDeletePartitions, StepDeleteRows, StepInsertOrReplace:
		default:
			return nil, errors.Errorf("step %d has unknown type %q", i, step.Type)
		}
		if step.TableName == "" {
			return nil, errors.Errorf("step %d is missing a table name", i)
		}
	}
	return steps, nil
}

type transaction struct {
	id         string
	created    int64
	lastAccess int64
	steps      []Step
}

// Transactions stages multi-table writes until commit.
type Transactions struct {
	core *Core

	mu    sync.Mutex
	items map[string]*transaction
}

// NewTransactions creates the staging area.
func NewTransactions(core *Core) *Transactions {
	return &Transactions{core: core, items: make(map[string]*transaction)}
}

// Start opens a transaction and returns its id.
func (t *Transactions) Start(now int64) string {
	id := uuid.Must(uuid.NewV4()).String()
	t.mu.Lock()
	t.items[id] = &transaction{id: id, created: now, lastAccess: now}
	t.mu.Unlock()
	return id
}

// Append stages steps on an open transaction.
func (t *Transactions) Append(id string, steps []Step, now int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.items[id]
	if !ok {
		return db.ErrTransactionNotFound
	}
	tx.steps = append(tx.steps, steps...)
	tx.lastAccess = now
	return nil
}

// Cancel discards a transaction.
func (t *Transactions) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return db.ErrTransactionNotFound
	}
	delete(t.items, id)
	return nil
}

// Commit executes the staged steps in append order. Failed steps are
// collected; the remainder still runs.
func (t *Transactions) Commit(id string, src events.Source, now int64) error {
	t.mu.Lock()
	tx, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	t.mu.Unlock()
	if !ok {
		return db.ErrTransactionNotFound
	}

	var result *multierror.Error
	for _, step := range tx.steps {
		if err := t.execute(step, src, now); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "step %s on %s", step.Type, step.TableName))
		}
	}
	return result.ErrorOrNil()
}

func (t *Transactions) execute(step Step, src events.Source, now int64) error {
	switch step.Type {
	case StepCleanTable:
		return t.core.CleanTable(step.TableName, src, now)
	case StepDeletePartitions:
		return t.core.DeletePartitions(step.TableName, step.PartitionKeys, src, now)
	case StepDeleteRows:
		return t.core.BulkDelete(step.TableName, map[string][]string{step.PartitionKey: step.RowKeys}, src, now)
	case StepInsertOrReplace:
		return t.core.BulkInsertOrReplace(step.TableName, step.Rows, src, now)
	}
	return errors.Errorf("unknown step type %q", step.Type)
}

// GC expires transactions idle past TransactionIdleLimit and returns
// how many were dropped.
func (t *Transactions) GC(now int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	expired := 0
	for id, tx := range t.items {
		if now-tx.lastAccess > TransactionIdleLimit {
			delete(t.items, id)
			expired++
		}
	}
	return expired
}

// Count returns the number of open transactions.
func (t *Transactions) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
