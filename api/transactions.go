package api

import (
	"net/http"

	"github.com/MyJetTools/my-no-sql-server-sub000/ops"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// TransactionStart opens a transaction and hands back its id.
func (h *Handlers) TransactionStart(w http.ResponseWriter, r *http.Request) {
	id := h.App.Transactions.Start(timeutils.NowMicros())
	writeJSON(w, http.StatusOK, map[string]string{"transactionId": id})
}

// TransactionAppend adds steps to an open transaction. The body is a
// JSON array of steps.
func (h *Handlers) TransactionAppend(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("transactionId")
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	steps, err := ops.ParseSteps(body)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.App.Transactions.Append(id, steps, timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// TransactionCommit executes and removes a transaction.
func (h *Handlers) TransactionCommit(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("transactionId")
	if err := h.App.Transactions.Commit(id, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// TransactionCancel discards a transaction without executing it.
func (h *Handlers) TransactionCancel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("transactionId")
	if err := h.App.Transactions.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}
