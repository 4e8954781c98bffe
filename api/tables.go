package api

import (
	"net/http"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// TableModel is the JSON shape of a table in listings.
type TableModel struct {
	Name                      string `json:"name"`
	Persist                   bool   `json:"persist"`
	MaxPartitionsAmount       *int   `json:"maxPartitionsAmount"`
	MaxRowsPerPartitionAmount *int   `json:"maxRowsPerPartitionAmount"`
}

// TablesList returns every table with its attributes.
func (h *Handlers) TablesList(w http.ResponseWriter, r *http.Request) {
	tables := h.App.DB.Tables()
	models := make([]TableModel, 0, len(tables))
	for _, table := range tables {
		attrs := table.Attributes()
		models = append(models, TableModel{
			Name:                      table.Name,
			Persist:                   attrs.Persist,
			MaxPartitionsAmount:       attrs.MaxPartitionsAmount,
			MaxRowsPerPartitionAmount: attrs.MaxRowsPerPartitionAmount,
		})
	}
	writeJSON(w, http.StatusOK, models)
}

func attributesFromQuery(r *http.Request, now int64) db.TableAttributes {
	return db.TableAttributes{
		Persist:                   queryBool(r, "persist", true),
		MaxPartitionsAmount:       queryOptionalInt(r, "maxPartitionsAmount"),
		MaxRowsPerPartitionAmount: queryOptionalInt(r, "maxRowsPerPartitionAmount"),
		Created:                   now,
	}
}

// TablesCreate serves both Create and CreateIfNotExists; creating a
// table is idempotent with respect to attributes.
func (h *Handlers) TablesCreate(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	now := timeutils.NowMicros()
	if err := h.App.Core.CreateTableIfMissing(name, attributesFromQuery(r, now), querySource(r), now); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// TablesClean removes every row of a table.
func (h *Handlers) TablesClean(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.App.Core.CleanTable(name, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusAccepted, "Accepted")
}

// TablesDelete drops a table entirely. When a table api key is
// configured the request must carry it in the `apikey` header.
func (h *Handlers) TablesDelete(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if key := h.App.Settings.TableApiKey; key != "" && r.Header.Get("apikey") != key {
		writeText(w, http.StatusForbidden, "invalid api key")
		return
	}
	if err := h.App.Core.DeleteTable(name, querySource(r), timeutils.NowMicros()); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusAccepted, "Accepted")
}

// TablesUpdatePersist rewrites a table's attributes.
func (h *Handlers) TablesUpdatePersist(w http.ResponseWriter, r *http.Request) {
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	table, ok := h.App.DB.GetTable(name)
	if !ok {
		writeError(w, db.ErrTableNotFound)
		return
	}
	now := timeutils.NowMicros()
	attrs := attributesFromQuery(r, now)
	attrs.Created = table.Attributes().Created
	if err := h.App.Core.SetTableAttributes(name, attrs, querySource(r), now); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}
