package replication

import (
	"context"
	"time"
)

// Store is the durable queue of pending entries together with the dead letters
// of entries that failed permanently.
//
// Each call is atomic on its own; implementations never hold a lock across calls,
// so enqueues from command handlers interleave freely with a drain.
type Store interface {
	Enqueue(ctx context.Context, entry *Entry) error
	// ListPending returns all pending entries ordered by ascending ID.
	ListPending(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, id int64) error
	RecordAttempt(ctx context.Context, id int64, retries int, at time.Time, errMsg string) error
	CountPending(ctx context.Context) (int, error)

	// DeadLetter records the failure and removes the entry from the queue in one step.
	DeadLetter(ctx context.Context, entry Entry, failure Failure) error
	// ListDeadLetters returns unresolved dead letters, oldest first.
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	CountDeadLetters(ctx context.Context) (int, error)
	// Resubmit appends the dead letter to the queue tail as a new entry and marks it resolved.
	Resubmit(ctx context.Context, id int64, at time.Time) (*Entry, error)
}
