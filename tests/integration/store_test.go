//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/shelfsync/internal/replication"
	replicationpostgres "github.com/bissquit/shelfsync/internal/replication/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueueEntry(t *testing.T, name string) *replication.Entry {
	t.Helper()
	entry, err := replication.NewEntry(replication.ProductCreate{
		ClientRef:     "ref-" + name,
		ProductFields: replication.ProductFields{Name: name, SKU: name},
	}, "user-1")
	require.NoError(t, err)
	return entry
}

func TestPostgresStore_QueueLifecycle(t *testing.T) {
	resetSync(t)
	ctx := context.Background()
	repo := replicationpostgres.NewRepository(testDB)

	first := newQueueEntry(t, "first")
	second := newQueueEntry(t, "second")
	require.NoError(t, repo.Enqueue(ctx, first))
	require.NoError(t, repo.Enqueue(ctx, second))
	assert.Greater(t, second.ID, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, first.IdempotencyKey, pending[0].IdempotencyKey)
	assert.JSONEq(t, first.Payload, pending[0].Payload)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.RecordAttempt(ctx, first.ID, 1, at, "backend returned 503"))

	pending, err = repo.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending[0].Retries)
	assert.Equal(t, "backend returned 503", pending[0].LastError)
	require.NotNil(t, pending[0].LastAttemptAt)
	assert.WithinDuration(t, at, *pending[0].LastAttemptAt, time.Millisecond)

	require.NoError(t, repo.Delete(ctx, first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), replication.ErrEntryNotFound)
	assert.ErrorIs(t, repo.RecordAttempt(ctx, first.ID, 2, at, "x"), replication.ErrEntryNotFound)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresStore_DeadLetterAndResubmit(t *testing.T) {
	resetSync(t)
	ctx := context.Background()
	repo := replicationpostgres.NewRepository(testDB)

	entry := newQueueEntry(t, "doomed")
	require.NoError(t, repo.Enqueue(ctx, entry))

	failedAt := time.Now().UTC()
	require.NoError(t, repo.DeadLetter(ctx, *entry, replication.Failure{
		Reason:   replication.ReasonRejected,
		Attempts: 1,
		Error:    "backend returned 400",
		At:       failedAt,
	}))

	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	letters, err := repo.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	letter := letters[0]
	assert.Equal(t, entry.ID, letter.EntryID)
	assert.Equal(t, replication.ReasonRejected, letter.Reason)
	assert.Equal(t, entry.Payload, letter.Payload)
	assert.Nil(t, letter.ResubmittedAt)

	later := newQueueEntry(t, "later")
	require.NoError(t, repo.Enqueue(ctx, later))

	requeued, err := repo.Resubmit(ctx, letter.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Greater(t, requeued.ID, later.ID, "resubmitted entries go to the tail")
	assert.Equal(t, 0, requeued.Retries)
	assert.NotEqual(t, entry.IdempotencyKey, requeued.IdempotencyKey)

	_, err = repo.Resubmit(ctx, letter.ID, time.Now().UTC())
	assert.ErrorIs(t, err, replication.ErrAlreadyResubmitted)
	_, err = repo.Resubmit(ctx, letter.ID+1000, time.Now().UTC())
	assert.ErrorIs(t, err, replication.ErrDeadLetterNotFound)

	dead, err := repo.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dead)

	var resubmittedAs int64
	require.NoError(t, testDB.QueryRow(ctx,
		`SELECT resubmitted_as FROM sync_dead_letters WHERE id = $1`, letter.ID).Scan(&resubmittedAs))
	assert.Equal(t, requeued.ID, resubmittedAs)
}

func TestPostgresStore_EnqueueJoinsTransaction(t *testing.T) {
	resetSync(t)
	ctx := context.Background()

	entry := newQueueEntry(t, "rolled-back")
	err := pgx.BeginFunc(ctx, testDB, func(tx pgx.Tx) error {
		if err := replicationpostgres.Enqueue(ctx, tx, entry); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	count, err := replicationpostgres.NewRepository(testDB).CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
