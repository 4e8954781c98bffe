package api

import (
	"net/http"
	"strconv"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

func queryTableName(r *http.Request) (string, error) {
	name := r.URL.Query().Get("tableName")
	if err := db.ValidateTableName(name); err != nil {
		return "", err
	}
	return name, nil
}

func queryBool(r *http.Request, key string, fallback bool) bool {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func queryOptionalInt(r *http.Request, key string) *int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return nil
	}
	return &parsed
}

func querySource(r *http.Request) events.Source {
	return events.ClientSource(events.ParseSyncPeriod(r.URL.Query().Get("syncPeriod")))
}

// queryStatistics assembles the read-statistics side effects requested
// alongside a read. Expiration values accept an ISO date-time or the
// empty string to clear.
func queryStatistics(r *http.Request) *db.UpdateStatistics {
	q := r.URL.Query()
	opts := &db.UpdateStatistics{
		UpdatePartitionLastReadTime: queryBool(r, "updatePartitionLastReadTime", false),
		UpdateRowsLastReadTime:      queryBool(r, "updateRowsLastReadTime", false),
	}
	if _, ok := q["setPartitionExpirationTime"]; ok {
		opts.SetPartitionExpirationTime = true
		if at, has := timeutils.ParseISO(q.Get("setPartitionExpirationTime")); has {
			opts.PartitionExpirationTime = at
			opts.PartitionHasExpiration = true
		}
	}
	if _, ok := q["setRowsExpirationTime"]; ok {
		opts.SetRowsExpirationTime = true
		if at, has := timeutils.ParseISO(q.Get("setRowsExpirationTime")); has {
			opts.RowsExpirationTime = at
			opts.RowsHasExpiration = true
		}
	}
	if !opts.UpdatePartitionLastReadTime && !opts.UpdateRowsLastReadTime &&
		!opts.SetPartitionExpirationTime && !opts.SetRowsExpirationTime {
		return nil
	}
	return opts
}
