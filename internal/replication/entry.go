// Package replication keeps local mutations in a durable queue and replays
// them against the remote backend once it is reachable.
package replication

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one pending mutation awaiting remote confirmation.
// Only Retries, LastAttemptAt and LastError change after the entry is stored.
type Entry struct {
	ID             int64         `json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	OperationType  OperationKind `json:"operation_type"`
	Endpoint       string        `json:"endpoint"`
	Method         string        `json:"method"`
	Payload        string        `json:"-"`
	Principal      string        `json:"principal"`
	IdempotencyKey string        `json:"idempotency_key"`
	Retries        int           `json:"retries"`
	LastAttemptAt  *time.Time    `json:"last_attempt_at,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

// NewEntry serializes op into a queue entry attributed to principal.
func NewEntry(op Operation, principal string) (*Entry, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op.Kind(), err)
	}

	return &Entry{
		OperationType:  op.Kind(),
		Endpoint:       op.Endpoint(),
		Method:         op.Method(),
		Payload:        string(payload),
		Principal:      principal,
		IdempotencyKey: uuid.NewString(),
	}, nil
}

// FailureReason tells why an entry left the queue without being confirmed.
type FailureReason string

// Failure reasons.
const (
	ReasonMalformed FailureReason = "malformed"
	ReasonRejected  FailureReason = "rejected"
	ReasonExhausted FailureReason = "exhausted"
)

// Failure describes a permanent failure of an entry.
type Failure struct {
	Reason   FailureReason
	Attempts int
	Error    string
	At       time.Time
}

// DeadLetter is the durable trace of an entry that permanently failed.
type DeadLetter struct {
	ID             int64         `json:"id"`
	EntryID        int64         `json:"entry_id"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
	FailedAt       time.Time     `json:"failed_at"`
	OperationType  OperationKind `json:"operation_type"`
	Endpoint       string        `json:"endpoint"`
	Method         string        `json:"method"`
	Payload        string        `json:"payload"`
	Principal      string        `json:"principal"`
	IdempotencyKey string        `json:"idempotency_key"`
	Attempts       int           `json:"attempts"`
	Reason         FailureReason `json:"reason"`
	Error          string        `json:"error"`
	ResubmittedAt  *time.Time    `json:"resubmitted_at,omitempty"`
	ResubmittedAs  *int64        `json:"resubmitted_as,omitempty"`
}

// Requeue builds a fresh entry from the dead letter. The new entry gets its own
// idempotency key and starts with no recorded attempts.
func (d *DeadLetter) Requeue() *Entry {
	return &Entry{
		OperationType:  d.OperationType,
		Endpoint:       d.Endpoint,
		Method:         d.Method,
		Payload:        d.Payload,
		Principal:      d.Principal,
		IdempotencyKey: uuid.NewString(),
	}
}

// Status is a read-only snapshot of the replication state.
type Status struct {
	QueuedCount int    `json:"queued_count"`
	FailedCount int    `json:"failed_count"`
	IsOnline    bool   `json:"is_online"`
	State       string `json:"state"`
}
