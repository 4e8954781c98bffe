package api

import (
	"encoding/json"
	"net/http"

	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// BulkInsertOrReplace writes a JSON array of rows in one shot.
func (h *Handlers) BulkInsertOrReplace(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := h.App.Core.BulkInsertOrReplace(name, body, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// CleanAndBulkInsert clears the target partition, or the whole table
// when no partitionKey is given, then inserts the body.
func (h *Handlers) CleanAndBulkInsert(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	pk := r.URL.Query().Get("partitionKey")
	if err := h.App.Core.CleanAndBulkInsert(name, body, pk, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// BulkDelete removes the rows named in the body, a JSON object mapping
// partition key to a list of row keys.
func (h *Handlers) BulkDelete(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var keys map[string][]string
	if err := json.Unmarshal(body, &keys); err != nil {
		writeText(w, http.StatusBadRequest, "body must be a JSON object of partition key to row keys")
		return
	}
	if err := h.App.Core.BulkDelete(name, keys, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}
