package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeText(w, http.StatusBadRequest, "cannot read request body")
		return nil, false
	}
	return body, true
}

// RowGet serves reads for any combination of partition key and row key:
// both select a single row, pk alone a partition, rk alone an index
// scan, neither the whole table.
func (h *Handlers) RowGet(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	pk, hasPK := q.Get("partitionKey"), q.Has("partitionKey")
	rk, hasRK := q.Get("rowKey"), q.Has("rowKey")
	limit := queryInt(r, "limit", 0)
	skip := queryInt(r, "skip", 0)
	opts := queryStatistics(r)
	now := timeutils.NowMicros()

	switch {
	case hasPK && hasRK:
		row, err := h.App.Core.GetRow(name, pk, rk, opts, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, row.Data)
	case hasPK:
		rows, err := h.App.Core.GetPartitionRows(name, pk, limit, skip, opts, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, events.RowsToJSONArray(rows))
	case hasRK:
		rows, err := h.App.Core.GetRowsByRowKey(name, rk, limit, skip, opts, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, events.RowsToJSONArray(rows))
	default:
		rows, err := h.App.Core.GetAllRows(name, limit, skip, opts, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, events.RowsToJSONArray(rows))
	}
}

// RowInsert writes a new row, rejecting an existing key pair.
func (h *Handlers) RowInsert(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := h.App.Core.InsertRow(name, body, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// RowInsertOrReplace writes a row unconditionally.
func (h *Handlers) RowInsertOrReplace(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	row, err := h.App.Core.InsertOrReplaceRow(name, body, querySource(r), timeutils.NowMicros())
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, row.Data)
}

// RowReplace overwrites a row only when the body's TimeStamp matches
// the stored one.
func (h *Handlers) RowReplace(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := h.App.Core.ReplaceRow(name, body, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// RowDelete removes a single row.
func (h *Handlers) RowDelete(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	pk, rk := q.Get("partitionKey"), q.Get("rowKey")
	if pk == "" || rk == "" {
		writeText(w, http.StatusBadRequest, "partitionKey and rowKey are required")
		return
	}
	row, err := h.App.Core.DeleteRow(name, pk, rk, querySource(r), timeutils.NowMicros())
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, row.Data)
}

// SinglePartitionMultipleRows resolves a list of row keys in one
// partition, skipping misses. The body is a JSON array of row keys.
func (h *Handlers) SinglePartitionMultipleRows(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pk := r.URL.Query().Get("partitionKey")
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var rowKeys []string
	if err := json.Unmarshal(body, &rowKeys); err != nil {
		writeText(w, http.StatusBadRequest, "body must be a JSON array of row keys")
		return
	}
	rows, err := h.App.Core.GetRowsMulti(name, pk, rowKeys, queryStatistics(r), timeutils.NowMicros())
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, events.RowsToJSONArray(rows))
}

// HighestRowAndBelow returns up to maxAmount rows with row keys less
// than or equal to the given one, descending.
func (h *Handlers) HighestRowAndBelow(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	pk, rk := q.Get("partitionKey"), q.Get("rowKey")
	if pk == "" || rk == "" {
		writeText(w, http.StatusBadRequest, "partitionKey and rowKey are required")
		return
	}
	rows, err := h.App.Core.HighestRowAndBelow(name, pk, rk, queryInt(r, "maxAmount", 0), queryStatistics(r), timeutils.NowMicros())
	if err != nil {
		writeError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, events.RowsToJSONArray(rows))
}
