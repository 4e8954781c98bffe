package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/MyJetTools/my-no-sql-server-sub000/backup"
)

// BackupDownload streams a freshly built zip of the persisted state.
func (h *Handlers) BackupDownload(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := backup.WriteArchive(r.Context(), h.App.Backend, &buf); err != nil {
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="backup-`+time.Now().UTC().Format("20060102-150405")+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// BackupRestoreNamed restores a backup from the configured folder by
// its file name.
func (h *Handlers) BackupRestoreNamed(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("fileName")
	if name == "" {
		writeText(w, http.StatusBadRequest, "fileName is required")
		return
	}
	if err := h.App.Backups.Restore(r.Context(), name); err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// BackupRestoreZip restores the persisted state from a zip uploaded in
// the request body. The in-memory state is not reloaded; a restart
// picks the restored data up.
func (h *Handlers) BackupRestoreZip(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(body) == 0 {
		writeText(w, http.StatusBadRequest, "request body must be a zip archive")
		return
	}
	if err := backup.RestoreArchive(r.Context(), h.App.Backend, bytes.NewReader(body), int64(len(body))); err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	writeText(w, http.StatusOK, "OK")
}
