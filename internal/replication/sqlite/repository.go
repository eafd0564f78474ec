// Package sqlite provides the SQLite implementation of the replication store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/shelfsync/internal/replication"
)

// Executor runs a statement on a database handle or an open transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository implements replication.Store using SQLite.
type Repository struct {
	db *sql.DB
}

var _ replication.Store = (*Repository)(nil)

// NewRepository creates a new SQLite repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue appends entry to the queue and sets its ID.
func (r *Repository) Enqueue(ctx context.Context, entry *replication.Entry) error {
	return Enqueue(ctx, r.db, entry)
}

// Enqueue appends entry through exec. Passing a transaction commits the entry
// together with the caller's own writes.
func Enqueue(ctx context.Context, exec Executor, entry *replication.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_queue (created_at, operation_type, endpoint, method, payload, principal, idempotency_key, retries)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`
	res, err := exec.ExecContext(ctx, query,
		entry.CreatedAt,
		entry.OperationType,
		entry.Endpoint,
		entry.Method,
		entry.Payload,
		entry.Principal,
		entry.IdempotencyKey,
	)
	if err != nil {
		return fmt.Errorf("enqueue sync entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read sync entry id: %w", err)
	}
	entry.ID = id
	entry.Retries = 0
	return nil
}

const entryColumns = `id, created_at, operation_type, endpoint, method, payload, principal, idempotency_key,
	retries, last_attempt_at, error_message`

// ListPending returns all pending entries in queue order.
func (r *Repository) ListPending(ctx context.Context) ([]replication.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM sync_queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]replication.Entry, 0)
	for rows.Next() {
		var (
			e             replication.Entry
			lastAttemptAt sql.NullTime
			lastError     sql.NullString
		)
		err := rows.Scan(
			&e.ID,
			&e.CreatedAt,
			&e.OperationType,
			&e.Endpoint,
			&e.Method,
			&e.Payload,
			&e.Principal,
			&e.IdempotencyKey,
			&e.Retries,
			&lastAttemptAt,
			&lastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if lastAttemptAt.Valid {
			e.LastAttemptAt = &lastAttemptAt.Time
		}
		e.LastError = lastError.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}

// Delete removes a confirmed entry.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return expectOneRow(res, replication.ErrEntryNotFound)
}

// RecordAttempt stores the outcome of a failed attempt.
func (r *Repository) RecordAttempt(ctx context.Context, id int64, retries int, at time.Time, errMsg string) error {
	query := `UPDATE sync_queue SET retries = ?, last_attempt_at = ?, error_message = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, retries, at, errMsg, id)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return expectOneRow(res, replication.ErrEntryNotFound)
}

// CountPending returns the number of pending entries.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

// DeadLetter moves entry from the queue into the dead letters.
func (r *Repository) DeadLetter(ctx context.Context, entry replication.Entry, failure replication.Failure) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, entry.ID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if err := expectOneRow(res, replication.ErrEntryNotFound); err != nil {
		return err
	}

	query := `
		INSERT INTO sync_dead_letters (entry_id, enqueued_at, failed_at, operation_type, endpoint, method,
			payload, principal, idempotency_key, attempts, reason, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		entry.ID,
		entry.CreatedAt,
		failure.At,
		entry.OperationType,
		entry.Endpoint,
		entry.Method,
		entry.Payload,
		entry.Principal,
		entry.IdempotencyKey,
		failure.Attempts,
		failure.Reason,
		failure.Error,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const deadLetterColumns = `id, entry_id, enqueued_at, failed_at, operation_type, endpoint, method, payload,
	principal, idempotency_key, attempts, reason, error_message, resubmitted_at, resubmitted_as`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(row rowScanner) (*replication.DeadLetter, error) {
	var (
		d             replication.DeadLetter
		resubmittedAt sql.NullTime
		resubmittedAs sql.NullInt64
	)
	err := row.Scan(
		&d.ID,
		&d.EntryID,
		&d.EnqueuedAt,
		&d.FailedAt,
		&d.OperationType,
		&d.Endpoint,
		&d.Method,
		&d.Payload,
		&d.Principal,
		&d.IdempotencyKey,
		&d.Attempts,
		&d.Reason,
		&d.Error,
		&resubmittedAt,
		&resubmittedAs,
	)
	if err != nil {
		return nil, err
	}
	if resubmittedAt.Valid {
		d.ResubmittedAt = &resubmittedAt.Time
	}
	if resubmittedAs.Valid {
		d.ResubmittedAs = &resubmittedAs.Int64
	}
	return &d, nil
}

// ListDeadLetters returns unresolved dead letters, oldest first.
func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]replication.DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM sync_dead_letters
		WHERE resubmitted_at IS NULL ORDER BY id ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	letters := make([]replication.DeadLetter, 0)
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}

	return letters, nil
}

// CountDeadLetters returns the number of unresolved dead letters.
func (r *Repository) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_dead_letters WHERE resubmitted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Resubmit re-enqueues a dead letter at the queue tail and marks it resolved.
func (r *Repository) Resubmit(ctx context.Context, id int64, at time.Time) (*replication.Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+deadLetterColumns+` FROM sync_dead_letters WHERE id = ?`, id)
	dl, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, replication.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	if dl.ResubmittedAt != nil {
		return nil, replication.ErrAlreadyResubmitted
	}

	entry := dl.Requeue()
	entry.CreatedAt = at
	if err := Enqueue(ctx, tx, entry); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sync_dead_letters SET resubmitted_at = ?, resubmitted_as = ? WHERE id = ?`,
		at, entry.ID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("mark dead letter resubmitted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return entry, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
