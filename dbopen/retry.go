package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyAttempts bounds how often a write is re-tried when another
// connection holds the SQLite write lock. Backoff is linear:
// 100ms, then 200ms between attempts.
const (
	busyAttempts = 3
	busyBaseWait = 100 * time.Millisecond
)

// IsBusy reports whether err is an SQLite lock-contention error that is
// worth retrying. The driver surfaces these as plain strings, so the
// check is textual.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	for _, marker := range []string{
		"SQLITE_BUSY",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(err.Error(), marker) {
			return true
		}
	}
	return false
}

// withBusyRetry runs op, repeating it on BUSY errors until the attempt
// budget runs out. Non-BUSY errors abort immediately.
func withBusyRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !IsBusy(err) || attempt == busyAttempts {
			return err
		}
		wait := time.Duration(attempt) * busyBaseWait
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("dbopen: context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// RunTx wraps fn in a transaction, committing on nil and rolling back on
// error. BUSY failures anywhere in the attempt retry the whole
// transaction from BeginTx.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec is ExecContext with BUSY retry, for single-statement writes that
// don't need a transaction.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := withBusyRetry(ctx, func() error {
		var execErr error
		result, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
