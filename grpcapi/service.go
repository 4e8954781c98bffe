package grpcapi

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"

	"github.com/MyJetTools/my-no-sql-server-sub000/app"
	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/ops"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// Result codes shared by every response.
const (
	ResultOk            int32 = 0
	ResultTableNotFound int32 = 1
	ResultRowNotFound   int32 = 2
)

// CreateTableRequest creates or updates a table.
type CreateTableRequest struct {
	TableName                 string `json:"tableName"`
	Persist                   bool   `json:"persist"`
	MaxPartitionsAmount       *int   `json:"maxPartitionsAmount,omitempty"`
	MaxRowsPerPartitionAmount *int   `json:"maxRowsPerPartitionAmount,omitempty"`
	SyncPeriod                string `json:"syncPeriod,omitempty"`
}

// OperationResponse carries a bare result code.
type OperationResponse struct {
	Result int32 `json:"result"`
}

// GetRowRequest selects a single row.
type GetRowRequest struct {
	TableName    string `json:"tableName"`
	PartitionKey string `json:"partitionKey"`
	RowKey       string `json:"rowKey"`
}

// GetRowResponse returns a single row, raw.
type GetRowResponse struct {
	Result int32           `json:"result"`
	Row    json.RawMessage `json:"row,omitempty"`
}

// GetRowsRequest selects rows by any key subset; the stream yields one
// RowChunk per row.
type GetRowsRequest struct {
	TableName    string  `json:"tableName"`
	PartitionKey *string `json:"partitionKey,omitempty"`
	RowKey       *string `json:"rowKey,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	Skip         int     `json:"skip,omitempty"`
}

// RowChunk is one streamed row.
type RowChunk struct {
	Row json.RawMessage `json:"row"`
}

// TransactionActionsRequest appends steps to a transaction, opening
// one when no id is given, and commits when asked to.
type TransactionActionsRequest struct {
	TransactionID string          `json:"transactionId,omitempty"`
	Steps         json.RawMessage `json:"steps,omitempty"`
	Commit        bool            `json:"commit"`
	SyncPeriod    string          `json:"syncPeriod,omitempty"`
}

// TransactionActionsResponse echoes the transaction id while it stays
// open.
type TransactionActionsResponse struct {
	Result        int32  `json:"result"`
	TransactionID string `json:"transactionId,omitempty"`
}

// CancelTransactionRequest discards a transaction.
type CancelTransactionRequest struct {
	TransactionID string `json:"transactionId"`
}

// Service implements the writer surface.
type Service struct {
	App *app.App
}

func codeOf(err error) (int32, bool) {
	switch {
	case err == nil:
		return ResultOk, true
	case errors.Is(err, db.ErrTableNotFound):
		return ResultTableNotFound, true
	case errors.Is(err, db.ErrRecordNotFound):
		return ResultRowNotFound, true
	}
	return 0, false
}

func source(period string) events.Source {
	return events.ClientSource(events.ParseSyncPeriod(period))
}

// CreateTableIfNotExists creates the table when missing.
func (s *Service) CreateTableIfNotExists(ctx context.Context, req *CreateTableRequest) (*OperationResponse, error) {
	if err := db.ValidateTableName(req.TableName); err != nil {
		return nil, err
	}
	now := timeutils.NowMicros()
	attrs := db.TableAttributes{
		Persist:                   req.Persist,
		MaxPartitionsAmount:       req.MaxPartitionsAmount,
		MaxRowsPerPartitionAmount: req.MaxRowsPerPartitionAmount,
		Created:                   now,
	}
	if err := s.App.Core.CreateTableIfMissing(req.TableName, attrs, source(req.SyncPeriod), now); err != nil {
		return nil, err
	}
	return &OperationResponse{Result: ResultOk}, nil
}

// SetTableAttributes rewrites the attributes of an existing table.
func (s *Service) SetTableAttributes(ctx context.Context, req *CreateTableRequest) (*OperationResponse, error) {
	table, ok := s.App.DB.GetTable(req.TableName)
	if !ok {
		return &OperationResponse{Result: ResultTableNotFound}, nil
	}
	now := timeutils.NowMicros()
	attrs := db.TableAttributes{
		Persist:                   req.Persist,
		MaxPartitionsAmount:       req.MaxPartitionsAmount,
		MaxRowsPerPartitionAmount: req.MaxRowsPerPartitionAmount,
		Created:                   table.Attributes().Created,
	}
	if err := s.App.Core.SetTableAttributes(req.TableName, attrs, source(req.SyncPeriod), now); err != nil {
		if code, ok := codeOf(err); ok {
			return &OperationResponse{Result: code}, nil
		}
		return nil, err
	}
	return &OperationResponse{Result: ResultOk}, nil
}

// GetRow fetches one row.
func (s *Service) GetRow(ctx context.Context, req *GetRowRequest) (*GetRowResponse, error) {
	row, err := s.App.Core.GetRow(req.TableName, req.PartitionKey, req.RowKey, nil, timeutils.NowMicros())
	if err != nil {
		if code, ok := codeOf(err); ok {
			return &GetRowResponse{Result: code}, nil
		}
		return nil, err
	}
	return &GetRowResponse{Result: ResultOk, Row: json.RawMessage(row.Data)}, nil
}

// GetRows streams every selected row.
func (s *Service) GetRows(req *GetRowsRequest, stream grpc.ServerStream) error {
	now := timeutils.NowMicros()
	var rows []*db.Row
	var err error
	switch {
	case req.PartitionKey != nil && req.RowKey != nil:
		var row *db.Row
		row, err = s.App.Core.GetRow(req.TableName, *req.PartitionKey, *req.RowKey, nil, now)
		if row != nil {
			rows = []*db.Row{row}
		}
	case req.PartitionKey != nil:
		rows, err = s.App.Core.GetPartitionRows(req.TableName, *req.PartitionKey, req.Limit, req.Skip, nil, now)
	case req.RowKey != nil:
		rows, err = s.App.Core.GetRowsByRowKey(req.TableName, *req.RowKey, req.Limit, req.Skip, nil, now)
	default:
		rows, err = s.App.Core.GetAllRows(req.TableName, req.Limit, req.Skip, nil, now)
	}
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	for _, row := range rows {
		if err := stream.SendMsg(&RowChunk{Row: json.RawMessage(row.Data)}); err != nil {
			return err
		}
	}
	return nil
}

// PostTransactionActions stages steps and optionally commits. An empty
// transaction id opens a new transaction.
func (s *Service) PostTransactionActions(ctx context.Context, req *TransactionActionsRequest) (*TransactionActionsResponse, error) {
	now := timeutils.NowMicros()
	id := req.TransactionID
	if id == "" {
		id = s.App.Transactions.Start(now)
	}
	if len(req.Steps) > 0 {
		steps, err := ops.ParseSteps(req.Steps)
		if err != nil {
			return nil, err
		}
		if err := s.App.Transactions.Append(id, steps, now); err != nil {
			return nil, err
		}
	}
	if req.Commit {
		if err := s.App.Transactions.Commit(id, source(req.SyncPeriod), now); err != nil {
			if code, ok := codeOf(err); ok {
				return &TransactionActionsResponse{Result: code}, nil
			}
			return nil, err
		}
		return &TransactionActionsResponse{Result: ResultOk}, nil
	}
	return &TransactionActionsResponse{Result: ResultOk, TransactionID: id}, nil
}

// CancelTransaction discards a transaction without executing it.
func (s *Service) CancelTransaction(ctx context.Context, req *CancelTransactionRequest) (*OperationResponse, error) {
	if err := s.App.Transactions.Cancel(req.TransactionID); err != nil {
		return nil, err
	}
	return &OperationResponse{Result: ResultOk}, nil
}
