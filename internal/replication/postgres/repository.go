// Package postgres provides the PostgreSQL implementation of the replication store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/shelfsync/internal/replication"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier runs a statement returning one row on a pool or an open transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements replication.Store using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

var _ replication.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue appends entry to the queue and sets its ID.
func (r *Repository) Enqueue(ctx context.Context, entry *replication.Entry) error {
	return Enqueue(ctx, r.db, entry)
}

// Enqueue appends entry through q. Passing a transaction commits the entry
// together with the caller's own writes.
func Enqueue(ctx context.Context, q Querier, entry *replication.Entry) error {
	query := `
		INSERT INTO sync_queue (created_at, operation_type, endpoint, method, payload, principal, idempotency_key)
		VALUES (COALESCE($1, NOW()), $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	var createdAt *time.Time
	if !entry.CreatedAt.IsZero() {
		createdAt = &entry.CreatedAt
	}

	err := q.QueryRow(ctx, query,
		createdAt,
		string(entry.OperationType),
		entry.Endpoint,
		entry.Method,
		entry.Payload,
		entry.Principal,
		entry.IdempotencyKey,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue sync entry: %w", err)
	}
	entry.Retries = 0
	return nil
}

// ListPending returns all pending entries in queue order.
func (r *Repository) ListPending(ctx context.Context) ([]replication.Entry, error) {
	query := `
		SELECT id, created_at, operation_type, endpoint, method, payload, principal, idempotency_key,
			retries, last_attempt_at, COALESCE(error_message, '')
		FROM sync_queue
		ORDER BY id ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()

	entries := make([]replication.Entry, 0)
	for rows.Next() {
		var (
			e    replication.Entry
			kind string
		)
		err := rows.Scan(
			&e.ID,
			&e.CreatedAt,
			&kind,
			&e.Endpoint,
			&e.Method,
			&e.Payload,
			&e.Principal,
			&e.IdempotencyKey,
			&e.Retries,
			&e.LastAttemptAt,
			&e.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.OperationType = replication.OperationKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}

// Delete removes a confirmed entry.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return replication.ErrEntryNotFound
	}
	return nil
}

// RecordAttempt stores the outcome of a failed attempt.
func (r *Repository) RecordAttempt(ctx context.Context, id int64, retries int, at time.Time, errMsg string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sync_queue SET retries = $2, last_attempt_at = $3, error_message = $4 WHERE id = $1`,
		id, retries, at, errMsg,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return replication.ErrEntryNotFound
	}
	return nil
}

// CountPending returns the number of pending entries.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

// DeadLetter moves entry from the queue into the dead letters.
func (r *Repository) DeadLetter(ctx context.Context, entry replication.Entry, failure replication.Failure) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, entry.ID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return replication.ErrEntryNotFound
	}

	query := `
		INSERT INTO sync_dead_letters (entry_id, enqueued_at, failed_at, operation_type, endpoint, method,
			payload, principal, idempotency_key, attempts, reason, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.Exec(ctx, query,
		entry.ID,
		entry.CreatedAt,
		failure.At,
		string(entry.OperationType),
		entry.Endpoint,
		entry.Method,
		entry.Payload,
		entry.Principal,
		entry.IdempotencyKey,
		failure.Attempts,
		string(failure.Reason),
		failure.Error,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const deadLetterColumns = `id, entry_id, enqueued_at, failed_at, operation_type, endpoint, method, payload,
	principal, idempotency_key, attempts, reason, error_message, resubmitted_at, resubmitted_as`

func scanDeadLetter(row pgx.Row) (*replication.DeadLetter, error) {
	var (
		d      replication.DeadLetter
		kind   string
		reason string
	)
	err := row.Scan(
		&d.ID,
		&d.EntryID,
		&d.EnqueuedAt,
		&d.FailedAt,
		&kind,
		&d.Endpoint,
		&d.Method,
		&d.Payload,
		&d.Principal,
		&d.IdempotencyKey,
		&d.Attempts,
		&reason,
		&d.Error,
		&d.ResubmittedAt,
		&d.ResubmittedAs,
	)
	if err != nil {
		return nil, err
	}
	d.OperationType = replication.OperationKind(kind)
	d.Reason = replication.FailureReason(reason)
	return &d, nil
}

// ListDeadLetters returns unresolved dead letters, oldest first.
func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]replication.DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM sync_dead_letters
		WHERE resubmitted_at IS NULL ORDER BY id ASC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

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
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sync_dead_letters WHERE resubmitted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Resubmit re-enqueues a dead letter at the queue tail and marks it resolved.
func (r *Repository) Resubmit(ctx context.Context, id int64, at time.Time) (*replication.Entry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+deadLetterColumns+` FROM sync_dead_letters WHERE id = $1 FOR UPDATE`, id)
	dl, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

	_, err = tx.Exec(ctx,
		`UPDATE sync_dead_letters SET resubmitted_at = $2, resubmitted_as = $3 WHERE id = $1`,
		id, at, entry.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark dead letter resubmitted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return entry, nil
}
