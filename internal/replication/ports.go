package replication

import "context"

// Request is one replayed call to the remote backend.
type Request struct {
	Method         string
	Endpoint       string
	Bearer         string
	Body           []byte
	IdempotencyKey string
}

// Response is a successful (2xx) reply of the remote backend.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport sends a single request without retrying. Failures should implement
// IsRetryable() bool; errors that don't are treated as retryable.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Prober reports whether the remote backend is reachable right now.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Reconciler merges a confirmed server response into local state.
type Reconciler interface {
	Reconcile(ctx context.Context, op Operation, body []byte) error
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context, op Operation, body []byte) error

// Reconcile calls f.
func (f ReconcilerFunc) Reconcile(ctx context.Context, op Operation, body []byte) error {
	return f(ctx, op, body)
}

// CredentialSource issues the bearer token used to replay entries of a principal.
type CredentialSource interface {
	Token(ctx context.Context, principal string) (string, error)
}
