package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/shelfsync/internal/pkg/ctxlog"
	"golang.org/x/time/rate"
)

// Config contains dispatcher configuration.
type Config struct {
	Interval       time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
	// RateLimit caps replayed requests per second. Zero disables pacing.
	RateLimit float64
	Burst     int
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		MaxRetries:     5,
		RequestTimeout: 15 * time.Second,
	}
}

// State is the lifecycle state of the dispatcher.
type State int32

// Dispatcher states.
const (
	StateStopped State = iota
	StateIdle
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Clock supplies the time recorded on attempts and dead letters.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCredentials attaches a bearer token for the enqueuing principal to every replay.
func WithCredentials(source CredentialSource) Option {
	return func(d *Dispatcher) { d.credentials = source }
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// Dispatcher drains the queue against the remote backend.
// Exactly one loop runs per dispatcher and entries are replayed one at a time
// in queue order.
type Dispatcher struct {
	config      Config
	store       Store
	transport   Transport
	prober      Prober
	reconciler  Reconciler
	credentials CredentialSource
	clock       Clock
	limiter     *rate.Limiter

	state   atomic.Int32
	drainMu sync.Mutex

	// mu guards cancel and done and serializes Start/Stop.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a new dispatcher. It does nothing until Start.
func NewDispatcher(config Config, store Store, transport Transport, prober Prober, reconciler Reconciler, opts ...Option) *Dispatcher {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}

	d := &Dispatcher{
		config:     config,
		store:      store,
		transport:  transport,
		prober:     prober,
		reconciler: reconciler,
		clock:      systemClock{},
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Start launches the dispatch loop. Calling Start on a running dispatcher is a no-op.
// The loop also stops when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done != nil {
		select {
		case <-d.done:
			// loop exited on its own after ctx was cancelled
			d.cancel()
		default:
			return
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.state.Store(int32(StateIdle))

	slog.Info("starting sync dispatcher",
		"interval", d.config.Interval,
		"max_retries", d.config.MaxRetries,
		"request_timeout", d.config.RequestTimeout,
	)

	go d.run(loopCtx, d.done)
}

// Stop cancels the loop and waits for it to exit. An entry already being
// replayed is finished first.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done == nil {
		return
	}

	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
	d.state.Store(int32(StateStopped))

	slog.Info("sync dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.state.Store(int32(StateStopped))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		d.Tick(ctx)
		timer.Reset(d.config.Interval)
	}
}

// Tick probes the backend and, when it is reachable, drains the queue once.
// Cancelling ctx stops the drain before the next entry.
func (d *Dispatcher) Tick(ctx context.Context) {
	online := d.probe(ctx)
	if !online {
		slog.Debug("sync backend unreachable, skipping drain")
		return
	}
	d.drain(ctx)
}

func (d *Dispatcher) probe(ctx context.Context) bool {
	online := d.prober.Probe(ctx)
	recordOnline(online)
	return online
}

func (d *Dispatcher) drain(ctx context.Context) {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	if d.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		defer d.state.CompareAndSwap(int32(StateDraining), int32(StateIdle))
	}

	start := time.Now()
	entries, err := d.store.ListPending(ctx)
	if err != nil {
		slog.Error("failed to list pending sync entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	slog.Debug("draining sync queue", "count", len(entries))

	// In-flight entries are never aborted by cancellation.
	work := context.WithoutCancel(ctx)
	// Resources of entries left pending by this drain. Later entries that
	// touch one of them wait for the next drain.
	blocked := make(map[string]struct{})
	for i := range entries {
		if ctx.Err() != nil {
			slog.Info("sync drain interrupted", "remaining", len(entries)-i)
			return
		}
		entryLog := slog.Default().With("entry_id", entries[i].ID, "operation", entries[i].OperationType)
		d.processEntry(ctxlog.WithLogger(work, entryLog), entries[i], blocked)
	}

	recordDrain(time.Since(start))
}

// processEntry replays one entry. ctx carries a logger scoped to the entry.
// When the entry stays pending its resources are added to blocked.
func (d *Dispatcher) processEntry(ctx context.Context, entry Entry, blocked map[string]struct{}) {
	log := ctxlog.FromContext(ctx)

	op, err := DecodeOperation(entry)
	if err != nil {
		d.deadLetter(ctx, entry, ReasonMalformed, entry.Retries, err)
		return
	}

	keys := resources(op)
	if waiting(blocked, keys) {
		log.Debug("sync entry waits for an earlier entry of the same record")
		recordAttempt(entry.OperationType, outcomeDeferred)
		block(blocked, keys)
		return
	}

	body, err := requestBody(op, entry.Method)
	if err != nil {
		d.deadLetter(ctx, entry, ReasonMalformed, entry.Retries, err)
		return
	}

	bearer, err := d.bearer(ctx, entry.Principal)
	if err != nil {
		if d.handleFailure(ctx, entry, fmt.Errorf("resolve credentials: %w", err)) {
			block(blocked, keys)
		}
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			if d.handleFailure(ctx, entry, fmt.Errorf("wait for rate limiter: %w", err)) {
				block(blocked, keys)
			}
			return
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
	start := time.Now()
	resp, err := d.transport.Send(reqCtx, Request{
		Method:         entry.Method,
		Endpoint:       entry.Endpoint,
		Bearer:         bearer,
		Body:           body,
		IdempotencyKey: entry.IdempotencyKey,
	})
	cancel()
	recordRequestDuration(entry.OperationType, time.Since(start))

	if err != nil {
		if d.handleFailure(ctx, entry, err) {
			block(blocked, keys)
		}
		return
	}

	if err := d.reconciler.Reconcile(ctx, op, resp.Body); err != nil {
		log.Error("failed to reconcile sync response", "error", err)
		recordAttempt(entry.OperationType, outcomeReconcileError)
	}

	if err := d.store.Delete(ctx, entry.ID); err != nil {
		log.Error("failed to delete synced entry", "error", err)
		return
	}

	recordAttempt(entry.OperationType, outcomeSuccess)
	log.Debug("sync entry replayed", "status", resp.StatusCode)
}

func waiting(blocked map[string]struct{}, keys []string) bool {
	for _, key := range keys {
		if _, ok := blocked[key]; ok {
			return true
		}
	}
	return false
}

func block(blocked map[string]struct{}, keys []string) {
	for _, key := range keys {
		blocked[key] = struct{}{}
	}
}

func (d *Dispatcher) bearer(ctx context.Context, principal string) (string, error) {
	if d.credentials == nil || principal == "" {
		return "", nil
	}
	return d.credentials.Token(ctx, principal)
}

// handleFailure charges a failed attempt to entry and reports whether the
// entry is still pending afterwards.
func (d *Dispatcher) handleFailure(ctx context.Context, entry Entry, err error) bool {
	log := ctxlog.FromContext(ctx)
	attempt := entry.Retries + 1

	log.Warn("sync attempt failed",
		"attempt", attempt,
		"max_retries", d.config.MaxRetries,
		"error", err,
	)

	if !isRetryable(err) {
		d.deadLetter(ctx, entry, ReasonRejected, attempt, err)
		return false
	}

	if attempt >= d.config.MaxRetries {
		d.deadLetter(ctx, entry, ReasonExhausted, attempt, fmt.Errorf("max retries exceeded: %w", err))
		return false
	}

	if recErr := d.store.RecordAttempt(ctx, entry.ID, attempt, d.clock.Now(), err.Error()); recErr != nil {
		log.Error("failed to record sync attempt", "error", recErr)
	}
	recordAttempt(entry.OperationType, outcomeRetry)
	return true
}

func (d *Dispatcher) deadLetter(ctx context.Context, entry Entry, reason FailureReason, attempts int, cause error) {
	log := ctxlog.FromContext(ctx)
	log.Error("sync entry failed permanently",
		"reason", reason,
		"attempts", attempts,
		"error", cause,
	)

	err := d.store.DeadLetter(ctx, entry, Failure{
		Reason:   reason,
		Attempts: attempts,
		Error:    cause.Error(),
		At:       d.clock.Now(),
	})
	if err != nil {
		log.Error("failed to dead-letter sync entry", "error", err)
		return
	}

	switch reason {
	case ReasonMalformed:
		recordAttempt(entry.OperationType, outcomeMalformed)
	case ReasonRejected:
		recordAttempt(entry.OperationType, outcomeRejected)
	default:
		recordAttempt(entry.OperationType, outcomeExhausted)
	}
}

// Status returns a snapshot of the queue. IsOnline comes from a fresh probe.
func (d *Dispatcher) Status(ctx context.Context) (*Status, error) {
	queued, err := d.store.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending entries: %w", err)
	}

	failed, err := d.store.CountDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}

	return &Status{
		QueuedCount: queued,
		FailedCount: failed,
		IsOnline:    d.probe(ctx),
		State:       d.State().String(),
	}, nil
}

// DeadLetters lists unresolved dead letters.
func (d *Dispatcher) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	return d.store.ListDeadLetters(ctx, limit)
}

// Resubmit puts a dead letter back at the end of the queue.
func (d *Dispatcher) Resubmit(ctx context.Context, id int64) (*Entry, error) {
	entry, err := d.store.Resubmit(ctx, id, d.clock.Now())
	if err != nil {
		if errors.Is(err, ErrDeadLetterNotFound) || errors.Is(err, ErrAlreadyResubmitted) {
			return nil, err
		}
		return nil, fmt.Errorf("resubmit dead letter: %w", err)
	}

	slog.Info("dead letter resubmitted", "dead_letter_id", id, "entry_id", entry.ID)
	return entry, nil
}
