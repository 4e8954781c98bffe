package grpcapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/MyJetTools/my-no-sql-server-sub000/app"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/memory"
	"github.com/MyJetTools/my-no-sql-server-sub000/settings"
)

func dialTestServer(t *testing.T) (*app.App, *grpc.ClientConn) {
	t.Helper()
	a := app.New(settings.Settings{}, memory.New())
	a.Core.Initialized.Set()

	listener := bufconn.Listen(1 << 20)
	server := NewServer(a, "")
	go func() { _ = server.ServeListener(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return a, conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req, resp interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp))
}

func TestCreateTableAndGetRow(t *testing.T) {
	a, conn := dialTestServer(t)

	var created OperationResponse
	invoke(t, conn, "CreateTableIfNotExists",
		&CreateTableRequest{TableName: "t-prices", Persist: true}, &created)
	require.Equal(t, ResultOk, created.Result)

	body := []byte(`{"PartitionKey":"p1","RowKey":"r1","bid":42}`)
	require.NoError(t, a.Core.InsertRow("t-prices", body, events.ClientSource(events.Immediately), 1))

	var row GetRowResponse
	invoke(t, conn, "GetRow",
		&GetRowRequest{TableName: "t-prices", PartitionKey: "p1", RowKey: "r1"}, &row)
	require.Equal(t, ResultOk, row.Result)
	assert.Equal(t, int64(42), gjson.GetBytes(row.Row, "bid").Int())
}

func TestGetRowResultCodes(t *testing.T) {
	a, conn := dialTestServer(t)

	var resp GetRowResponse
	invoke(t, conn, "GetRow",
		&GetRowRequest{TableName: "t-missing", PartitionKey: "p", RowKey: "r"}, &resp)
	assert.Equal(t, ResultTableNotFound, resp.Result)

	var created OperationResponse
	invoke(t, conn, "CreateTableIfNotExists",
		&CreateTableRequest{TableName: "t-prices"}, &created)
	require.NoError(t, a.Core.InsertRow("t-prices",
		[]byte(`{"PartitionKey":"p1","RowKey":"r1"}`), events.ClientSource(events.Immediately), 1))

	invoke(t, conn, "GetRow",
		&GetRowRequest{TableName: "t-prices", PartitionKey: "p1", RowKey: "nope"}, &resp)
	assert.Equal(t, ResultRowNotFound, resp.Result)
}

func TestGetRowsStreamsPartition(t *testing.T) {
	a, conn := dialTestServer(t)

	var created OperationResponse
	invoke(t, conn, "CreateTableIfNotExists",
		&CreateTableRequest{TableName: "t-prices"}, &created)
	for _, rk := range []string{"r1", "r2", "r3"} {
		body := []byte(`{"PartitionKey":"p1","RowKey":"` + rk + `"}`)
		require.NoError(t, a.Core.InsertRow("t-prices", body, events.ClientSource(events.Immediately), 1))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pk := "p1"
	stream, err := conn.NewStream(ctx,
		&grpc.StreamDesc{StreamName: "GetRows", ServerStreams: true},
		"/"+ServiceName+"/GetRows")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&GetRowsRequest{TableName: "t-prices", PartitionKey: &pk}))
	require.NoError(t, stream.CloseSend())

	var rowKeys []string
	for {
		var chunk RowChunk
		err := stream.RecvMsg(&chunk)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rowKeys = append(rowKeys, gjson.GetBytes(chunk.Row, "RowKey").String())
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, rowKeys)
}

func TestTransactionOverGrpc(t *testing.T) {
	a, conn := dialTestServer(t)

	var created OperationResponse
	invoke(t, conn, "CreateTableIfNotExists",
		&CreateTableRequest{TableName: "t-prices"}, &created)

	steps, err := json.Marshal([]map[string]interface{}{{
		"Type":      "InsertOrReplace",
		"TableName": "t-prices",
		"Rows":      []map[string]string{{"PartitionKey": "p1", "RowKey": "r1"}},
	}})
	require.NoError(t, err)

	var opened TransactionActionsResponse
	invoke(t, conn, "PostTransactionActions",
		&TransactionActionsRequest{Steps: steps}, &opened)
	require.Equal(t, ResultOk, opened.Result)
	require.NotEmpty(t, opened.TransactionID)
	require.Equal(t, 1, a.Transactions.Count())

	var committed TransactionActionsResponse
	invoke(t, conn, "PostTransactionActions",
		&TransactionActionsRequest{TransactionID: opened.TransactionID, Commit: true}, &committed)
	require.Equal(t, ResultOk, committed.Result)
	assert.Equal(t, 0, a.Transactions.Count())

	_, err = a.Core.GetRow("t-prices", "p1", "r1", nil, 2)
	assert.NoError(t, err)
}

func TestCancelTransaction(t *testing.T) {
	a, conn := dialTestServer(t)

	var opened TransactionActionsResponse
	invoke(t, conn, "PostTransactionActions", &TransactionActionsRequest{}, &opened)
	require.NotEmpty(t, opened.TransactionID)

	var canceled OperationResponse
	invoke(t, conn, "CancelTransaction",
		&CancelTransactionRequest{TransactionID: opened.TransactionID}, &canceled)
	require.Equal(t, ResultOk, canceled.Result)
	assert.Equal(t, 0, a.Transactions.Count())
}
