package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRetryBackoff is the fixed delay between retries of a backend
// operation that hit a transient error.
const DefaultRetryBackoff = 3 * time.Second

const defaultRetryAttempts = 3

// WithRetry wraps a backend so every operation retries transient
// errors with a fixed backoff. Not-found results and context
// cancellation are terminal. Operations still failing after the last
// attempt return their error to the caller; the persistence planner
// re-issues the work on its next tick.
func WithRetry(backend Backend, backoff time.Duration, attempts int) Backend {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	return &retryBackend{backend: backend, backoff: backoff, attempts: attempts}
}

type retryBackend struct {
	backend  Backend
	backoff  time.Duration
	attempts int
}

func (r *retryBackend) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return err
		}
		if attempt >= r.attempts {
			return err
		}
		log.WithFields(log.Fields{"op": op, "attempt": attempt, "err": err}).
			Warning("storage operation failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff):
		}
	}
}

func (r *retryBackend) ListTables(ctx context.Context) (tables []string, err error) {
	err = r.retry(ctx, "list-tables", func() error {
		tables, err = r.backend.ListTables(ctx)
		return err
	})
	return tables, err
}

func (r *retryBackend) CreateTableFolder(ctx context.Context, table string) error {
	return r.retry(ctx, "create-table-folder", func() error {
		return r.backend.CreateTableFolder(ctx, table)
	})
}

func (r *retryBackend) DeleteTableFolder(ctx context.Context, table string) error {
	return r.retry(ctx, "delete-table-folder", func() error {
		return r.backend.DeleteTableFolder(ctx, table)
	})
}

func (r *retryBackend) SaveFile(ctx context.Context, table, fileName string, content []byte) error {
	return r.retry(ctx, "save-file", func() error {
		return r.backend.SaveFile(ctx, table, fileName, content)
	})
}

func (r *retryBackend) DeleteFile(ctx context.Context, table, fileName string) error {
	return r.retry(ctx, "delete-file", func() error {
		return r.backend.DeleteFile(ctx, table, fileName)
	})
}

func (r *retryBackend) LoadFile(ctx context.Context, table, fileName string) (content []byte, err error) {
	err = r.retry(ctx, "load-file", func() error {
		content, err = r.backend.LoadFile(ctx, table, fileName)
		return err
	})
	return content, err
}

func (r *retryBackend) ListFiles(ctx context.Context, table string) (files []string, err error) {
	err = r.retry(ctx, "list-files", func() error {
		files, err = r.backend.ListFiles(ctx, table)
		return err
	})
	return files, err
}
