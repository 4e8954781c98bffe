package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/entity"
)

// EnrichedResponseWriter remembers the status code for request
// logging.
type EnrichedResponseWriter struct {
	http.ResponseWriter
	Status int
}

// NewEnrichedResponseWriter wraps a response writer.
func NewEnrichedResponseWriter(w http.ResponseWriter) *EnrichedResponseWriter {
	return &EnrichedResponseWriter{ResponseWriter: w}
}

// WriteHeader wraps the original WriteHeader function.
func (ew *EnrichedResponseWriter) WriteHeader(code int) {
	ew.Status = code
	ew.ResponseWriter.WriteHeader(code)
}

// Write wraps the original Write function.
func (ew *EnrichedResponseWriter) Write(b []byte) (int, error) {
	if ew.Status == 0 {
		ew.Status = http.StatusOK
	}
	return ew.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// writeError maps a core error to its HTTP status and short name.
func writeError(w http.ResponseWriter, err error) {
	var parseErr *entity.ParseError
	switch {
	case err == db.ErrTableNotFound:
		writeText(w, http.StatusNotFound, "TableNotFound")
	case err == db.ErrTableAlreadyExists:
		writeText(w, http.StatusBadRequest, "TableAlreadyExists")
	case err == db.ErrRecordAlreadyExists:
		writeText(w, http.StatusConflict, "RecordAlreadyExists")
	case err == db.ErrRecordNotFound:
		writeText(w, http.StatusNotFound, "RecordNotFound")
	case err == db.ErrOptimisticConcurrencyFailed:
		writeText(w, http.StatusConflict, "OptimisticConcurrencyFailed")
	case err == db.ErrTimestampFieldRequired:
		writeText(w, http.StatusBadRequest, "TimestampFieldRequired")
	case err == db.ErrTableNameValidation:
		writeText(w, http.StatusBadRequest, "TableNameValidationError")
	case err == db.ErrNotInitialized:
		writeText(w, http.StatusServiceUnavailable, "ApplicationNotInitialized")
	case err == db.ErrTransactionNotFound:
		writeText(w, http.StatusNotFound, "TransactionNotFound")
	case errors.As(err, &parseErr):
		writeText(w, http.StatusBadRequest, parseErr.Name())
	default:
		writeText(w, http.StatusInternalServerError, err.Error())
	}
}
