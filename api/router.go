// Package api serves the HTTP REST surface: table management, row
// reads and writes, transactions, the long-poll reader channel,
// monitoring and backups.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/MyJetTools/my-no-sql-server-sub000/app"
)

// Handlers binds the HTTP surface to the application context.
type Handlers struct {
	App *app.App
}

// RequestLogger is a logging middleware.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ew := NewEnrichedResponseWriter(w)
		started := time.Now()
		next.ServeHTTP(ew, r)
		log.WithFields(log.Fields{
			"remote":   r.RemoteAddr,
			"status":   ew.Status,
			"duration": time.Since(started),
		}).Infof("api request: %s %s", r.Method, r.RequestURI)
	})
}

// NewRouter builds the REST router.
func NewRouter(a *app.App) *mux.Router {
	h := &Handlers{App: a}
	router := mux.NewRouter()

	router.HandleFunc("/api/IsAlive", h.IsAlive).Methods(http.MethodGet)
	router.HandleFunc("/api/Status", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.Metrics).Methods(http.MethodGet)

	router.HandleFunc("/Tables/List", h.TablesList).Methods(http.MethodGet)
	router.HandleFunc("/Tables/Create", h.TablesCreate).Methods(http.MethodPost)
	router.HandleFunc("/Tables/CreateIfNotExists", h.TablesCreate).Methods(http.MethodPost)
	router.HandleFunc("/Tables/Clean", h.TablesClean).Methods(http.MethodPut)
	router.HandleFunc("/Tables/Delete", h.TablesDelete).Methods(http.MethodDelete)
	router.HandleFunc("/Tables/UpdatePersist", h.TablesUpdatePersist).Methods(http.MethodPost)

	router.HandleFunc("/Row", h.RowGet).Methods(http.MethodGet)
	router.HandleFunc("/Row", h.RowDelete).Methods(http.MethodDelete)
	router.HandleFunc("/Row/Insert", h.RowInsert).Methods(http.MethodPost)
	router.HandleFunc("/Row/InsertOrReplace", h.RowInsertOrReplace).Methods(http.MethodPost)
	router.HandleFunc("/Row/Replace", h.RowReplace).Methods(http.MethodPut)

	router.HandleFunc("/Bulk/InsertOrReplace", h.BulkInsertOrReplace).Methods(http.MethodPost)
	router.HandleFunc("/Bulk/CleanAndBulkInsert", h.CleanAndBulkInsert).Methods(http.MethodPost)
	router.HandleFunc("/Bulk/Delete", h.BulkDelete).Methods(http.MethodPost)

	router.HandleFunc("/Rows/HighestRowAndBelow", h.HighestRowAndBelow).Methods(http.MethodGet)
	router.HandleFunc("/Rows/SinglePartitionMultipleRows", h.SinglePartitionMultipleRows).Methods(http.MethodPost)

	router.HandleFunc("/Transactions/Start", h.TransactionStart).Methods(http.MethodPost)
	router.HandleFunc("/Transactions/Append", h.TransactionAppend).Methods(http.MethodPost)
	router.HandleFunc("/Transactions/Commit", h.TransactionCommit).Methods(http.MethodPost)
	router.HandleFunc("/Transactions/Cancel", h.TransactionCancel).Methods(http.MethodPost)

	router.HandleFunc("/DataReader/Greeting", h.ReaderGreeting).Methods(http.MethodPost)
	router.HandleFunc("/DataReader/Subscribe", h.ReaderSubscribe).Methods(http.MethodPost)
	router.HandleFunc("/DataReader/GetChanges", h.ReaderGetChanges).Methods(http.MethodPost)
	router.HandleFunc("/DataReader/Ping", h.ReaderPing).Methods(http.MethodPost)

	router.HandleFunc("/api/Backup/Download", h.BackupDownload).Methods(http.MethodGet)
	router.HandleFunc("/api/Backup/RestoreFromBackup", h.BackupRestoreNamed).Methods(http.MethodPost)
	router.HandleFunc("/api/Backup/RestoreFromZip", h.BackupRestoreZip).Methods(http.MethodPost)

	router.Use(RequestLogger)
	return router
}

// Server wraps the REST listener.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the HTTP server on addr.
func NewServer(a *app.App, addr string) *Server {
	return &Server{httpServer: &http.Server{
		Addr:    addr,
		Handler: NewRouter(a),
	}}
}

// Serve blocks until Stop or a listener failure.
func (s *Server) Serve() error {
	log.WithField("addr", s.httpServer.Addr).Info("http server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Wrap(err, "http server failed")
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
