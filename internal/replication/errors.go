package replication

import "errors"

// Store errors.
var (
	ErrEntryNotFound      = errors.New("queue entry not found")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	ErrAlreadyResubmitted = errors.New("dead letter already resubmitted")
)

// ErrMalformedPayload marks an entry whose stored payload can never be replayed.
var ErrMalformedPayload = errors.New("malformed queue payload")

// isRetryable checks if a replay error may succeed on a later attempt.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}
