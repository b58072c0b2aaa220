package database

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	maxRetries = 50
	baseDelay  = 10 * time.Millisecond
	maxDelay   = 250 * time.Millisecond
)

// isRetryableError checks if the error is a lock conflict worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}

// backoff sleeps before the next attempt: linear growth capped at
// maxDelay plus up to 50% jitter. It returns early when ctx is done.
func backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt+1) * baseDelay
	if delay > maxDelay {
		delay = maxDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay) / 2))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryableExec executes a statement with retry logic for lock conflicts
func (d *Database) retryableExec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err = d.db.ExecContext(ctx, query, args...)
		if !isRetryableError(err) {
			return res, err
		}
		d.logger.Warn("sqlite retry", zap.Int("attempt", attempt+1), zap.String("query", truncate(query, 50)), zap.Error(err))
		if berr := backoff(ctx, attempt); berr != nil {
			return nil, berr
		}
	}
	return res, err
}

// retryableQueryRowScan executes a QueryRow and Scan with retry logic
func (d *Database) retryableQueryRowScan(ctx context.Context, query string, args []any, dest ...any) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = d.db.QueryRowContext(ctx, query, args...).Scan(dest...)
		if !isRetryableError(err) {
			return err
		}
		d.logger.Warn("sqlite retry", zap.Int("attempt", attempt+1), zap.String("query", truncate(query, 50)), zap.Error(err))
		if berr := backoff(ctx, attempt); berr != nil {
			return berr
		}
	}
	return err
}

// retryableQuery executes a query that returns multiple rows with retry logic
func (d *Database) retryableQuery(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		rows, err = d.db.QueryContext(ctx, query, args...)
		if !isRetryableError(err) {
			return rows, err
		}
		d.logger.Warn("sqlite retry", zap.Int("attempt", attempt+1), zap.String("query", truncate(query, 50)), zap.Error(err))
		if berr := backoff(ctx, attempt); berr != nil {
			return nil, berr
		}
	}
	return rows, err
}

// retryableTransaction runs txFunc in a transaction, starting over when
// the begin, the body or the commit hits a lock conflict.
func (d *Database) retryableTransaction(ctx context.Context, txFunc func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = d.runTx(ctx, txFunc)
		if !isRetryableError(err) {
			return err
		}
		d.logger.Warn("sqlite transaction retry", zap.Int("attempt", attempt+1), zap.Error(err))
		if berr := backoff(ctx, attempt); berr != nil {
			return berr
		}
	}
	return err
}

func (d *Database) runTx(ctx context.Context, txFunc func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := txFunc(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
