// Package csql encapsulates the worker's single postgres connection:
// lazy open with bounded reconnect, classification of administrator
// cancellations, and the backoff shared by every retry loop.
package csql

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"math/rand"
	"time"

	"github.com/lib/pq"

	"github.com/neadwerx/eventmanager/core/logger"
)

// MaxConnRetries bounds both connection attempts and transient-error
// retries of a handler cycle.
const MaxConnRetries = 3

const (
	sqlStateAdminTerminated = "57P01"
	sqlStateAdminCancelled  = "57014"
)

// DB encapsulates a standard sql.DB plus the schema the event_manager
// extension is installed in. The pool is pinned to one connection: the
// worker serialises its own pipeline and parallelism comes from running
// more workers, not more connections.
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a row.
var ErrNoRows = sql.ErrNoRows

// Open connects to postgres with the given conninfo. The initial ping is
// retried up to MaxConnRetries with backoff before giving up.
func Open(conninfo string) (*DB, error) {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for attempt := 0; ; attempt++ {
		err = db.Ping()
		if err == nil {
			break
		}
		if attempt+1 >= MaxConnRetries {
			db.Close()
			return nil, err
		}
		logger.Default().Warnf("failed to connect to DB server (%s), retrying", err)
		time.Sleep(Backoff(attempt))
	}
	return &DB{DB: db}, nil
}

// WithSchema returns a copy of the handle bound to the given schema.
func (db *DB) WithSchema(schema string) *DB {
	return &DB{DB: db.DB, Schema: schema}
}

// IsTransient reports whether err is one of the administrator-initiated
// cancellations the worker is allowed to retry, or a dropped connection.
// Callers must not retry inside an open transaction.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		code := string(pqerr.Code)
		return code == sqlStateAdminTerminated || code == sqlStateAdminCancelled
	}
	return errors.Is(err, driver.ErrBadConn)
}

// Backoff returns the sleep before retry number attempt (zero-based):
// exponential with jitter, capped at ten seconds.
func Backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

// NullString builds the parameter representation for an optional value:
// a nil pointer becomes a database NULL, anything else is passed through
// verbatim, including the empty string.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
