package replication

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// memStore implements Store in memory.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	nextDLID int64
	entries  []Entry
	dead     []DeadLetter
}

func newMemStore() *memStore {
	return &memStore{}
}

func (s *memStore) Enqueue(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memStore) ListPending(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(id)
}

func (s *memStore) removeLocked(id int64) error {
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return ErrEntryNotFound
}

func (s *memStore) RecordAttempt(_ context.Context, id int64, retries int, at time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Retries = retries
			s.entries[i].LastAttemptAt = &at
			s.entries[i].LastError = errMsg
			return nil
		}
	}
	return ErrEntryNotFound
}

func (s *memStore) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries), nil
}

func (s *memStore) DeadLetter(_ context.Context, entry Entry, failure Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removeLocked(entry.ID); err != nil {
		return err
	}
	s.nextDLID++
	s.dead = append(s.dead, DeadLetter{
		ID:             s.nextDLID,
		EntryID:        entry.ID,
		EnqueuedAt:     entry.CreatedAt,
		FailedAt:       failure.At,
		OperationType:  entry.OperationType,
		Endpoint:       entry.Endpoint,
		Method:         entry.Method,
		Payload:        entry.Payload,
		Principal:      entry.Principal,
		IdempotencyKey: entry.IdempotencyKey,
		Attempts:       failure.Attempts,
		Reason:         failure.Reason,
		Error:          failure.Error,
	})
	return nil
}

func (s *memStore) ListDeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeadLetter, 0)
	for _, d := range s.dead {
		if d.ResubmittedAt == nil && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) CountDeadLetters(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, d := range s.dead {
		if d.ResubmittedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Resubmit(_ context.Context, id int64, at time.Time) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.dead {
		if s.dead[i].ID != id {
			continue
		}
		if s.dead[i].ResubmittedAt != nil {
			return nil, ErrAlreadyResubmitted
		}
		entry := s.dead[i].Requeue()
		s.nextID++
		entry.ID = s.nextID
		entry.CreatedAt = at
		s.entries = append(s.entries, *entry)
		s.dead[i].ResubmittedAt = &at
		s.dead[i].ResubmittedAs = &entry.ID
		return entry, nil
	}
	return nil, ErrDeadLetterNotFound
}

func (s *memStore) pending() []Entry {
	out, _ := s.ListPending(context.Background())
	return out
}

func (s *memStore) deadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeadLetter, len(s.dead))
	copy(out, s.dead)
	return out
}

// fakeProber reports a fixed reachability.
type fakeProber struct {
	online atomic.Bool
	calls  atomic.Int32
}

func newFakeProber(online bool) *fakeProber {
	p := &fakeProber{}
	p.online.Store(online)
	return p
}

func (p *fakeProber) Probe(_ context.Context) bool {
	p.calls.Add(1)
	return p.online.Load()
}

// fakeTransport records requests and answers through respond.
type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	respond  func(req Request, call int) (*Response, error)
}

func (t *fakeTransport) Send(_ context.Context, req Request) (*Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	call := len(t.requests)
	respond := t.respond
	t.mu.Unlock()

	if respond == nil {
		return &Response{StatusCode: 200, Body: []byte(`{}`)}, nil
	}
	return respond(req, call)
}

func (t *fakeTransport) sent() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Request, len(t.requests))
	copy(out, t.requests)
	return out
}

// reconcileCall is one recorded Reconcile invocation.
type reconcileCall struct {
	kind OperationKind
	op   Operation
	body string
}

type recordingReconciler struct {
	mu    sync.Mutex
	calls []reconcileCall
	err   error
}

func (r *recordingReconciler) Reconcile(_ context.Context, op Operation, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, reconcileCall{kind: op.Kind(), op: op, body: string(body)})
	return r.err
}

func (r *recordingReconciler) recorded() []reconcileCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]reconcileCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// classifiedError carries an explicit retry class.
type classifiedError struct {
	msg       string
	retryable bool
}

func (e *classifiedError) Error() string     { return e.msg }
func (e *classifiedError) IsRetryable() bool { return e.retryable }

var errConnectionRefused = errors.New("dial tcp: connection refused")

type credentialsFunc func(ctx context.Context, principal string) (string, error)

func (f credentialsFunc) Token(ctx context.Context, principal string) (string, error) {
	return f(ctx, principal)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
