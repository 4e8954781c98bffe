package api

import (
	"net/http"
	"runtime"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// ServerName and ServerVersion identify the process in IsAlive.
const (
	ServerName    = "my-no-sql-server"
	ServerVersion = "1.0.0"
)

// IsAlive is the liveness probe.
func (h *Handlers) IsAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    ServerName,
		"version": ServerVersion,
		"envInfo": runtime.GOOS + "/" + runtime.GOARCH,
		"time":    timeutils.MicrosToISO(timeutils.NowMicros()),
	})
}

// Status reports the full monitoring snapshot.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.App.Status())
}

// Metrics exposes the Prometheus scrape endpoint.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	vm.WritePrometheus(w, true)
}
