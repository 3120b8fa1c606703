package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the position of a breaker's circuit.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen rejects every call until the open duration elapses.
	StateOpen
	// StateHalfOpen admits probe calls whose outcome decides the next state.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StateChange describes one state transition, delivered to observers
// registered with OnStateChange.
type StateChange struct {
	Name        string
	From        State
	To          State
	Failures    int
	LastFailure time.Time
}

// OpenError is returned by Do when the circuit is open and the call was
// rejected without invoking the operation.
type OpenError struct {
	// Name identifies the breaker that rejected the call.
	Name string
	// Remaining is how long until the breaker will admit a probe.
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.Remaining)
}

// IsOpen reports whether err is a circuit-open rejection.
func IsOpen(err error) bool {
	var oErr *OpenError
	return errors.As(err, &oErr)
}

// Option is a function that configures a breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
// Values below one are ignored.
func WithFailureThreshold(threshold int) Option {
	return func(b *Breaker) {
		if threshold > 0 {
			b.threshold = threshold
		}
	}
}

// WithOpenDuration sets how long the circuit stays open before admitting a
// probe. Non-positive values are ignored.
func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openFor = d
		}
	}
}

// WithLogger sets the logger used to report observer panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

const (
	defaultFailureThreshold = 5
	defaultOpenDuration     = 30 * time.Second
)

// Breaker is a circuit breaker. It is safe for concurrent use; the state,
// failure count, and last failure timestamp always change together under one
// lock.
type Breaker struct {
	name      string
	threshold int
	openFor   time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	observers   []func(StateChange)
}

// New creates a closed breaker. The name appears in rejections and state
// change notifications; it does not have to be unique.
func New(name string, options ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: defaultFailureThreshold,
		openFor:   defaultOpenDuration,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// OnStateChange registers fn to be called synchronously on every state
// transition. A panicking observer is recovered and logged; it never aborts
// the call that triggered the transition, and the remaining observers still
// run. Registration may happen concurrently with calls to Do; an observer
// added mid-transition is only guaranteed to see transitions that start
// after it was registered.
func (b *Breaker) OnStateChange(fn func(StateChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// State returns the breaker's current state. The answer may be stale by the
// time the caller acts on it; Do is the authoritative gate.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do runs fn through the breaker. When the circuit is open and the open
// duration has not elapsed, fn is not invoked and Do returns an *OpenError
// carrying the time remaining. Otherwise fn runs and its outcome drives the
// breaker's bookkeeping.
//
// An fn error matching context.Canceled is passed through without counting as
// success or failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	}

	if err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, transitioning an expired open
// circuit to half-open.
func (b *Breaker) allow() error {
	b.mu.Lock()

	if b.state != StateOpen {
		b.mu.Unlock()
		return nil
	}

	elapsed := time.Since(b.lastFailure)
	if elapsed < b.openFor {
		remaining := b.openFor - elapsed
		b.mu.Unlock()
		return &OpenError{Name: b.name, Remaining: remaining}
	}

	change := b.transition(StateHalfOpen)
	b.mu.Unlock()

	b.notify(change)
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()

	b.failures++
	b.lastFailure = time.Now()

	var change *StateChange
	switch b.state {
	case StateHalfOpen:
		change = b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			change = b.transition(StateOpen)
		}
	}
	b.mu.Unlock()

	b.notify(change)
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()

	var change *StateChange
	if b.state == StateHalfOpen {
		b.failures = 0
		change = b.transition(StateClosed)
	} else if b.failures > 0 {
		// A success in the closed state clears the streak silently.
		b.failures = 0
	}
	b.mu.Unlock()

	b.notify(change)
}

// Reset forces the breaker back to closed and clears its counters. Resetting
// an already closed breaker is a no-op and notifies nothing.
func (b *Breaker) Reset() {
	b.mu.Lock()

	var change *StateChange
	if b.state != StateClosed {
		b.failures = 0
		b.lastFailure = time.Time{}
		change = b.transition(StateClosed)
	} else {
		b.failures = 0
		b.lastFailure = time.Time{}
	}
	b.mu.Unlock()

	b.notify(change)
}

// transition must run under b.mu. It updates the state and returns the
// corresponding change record for notification after the lock is released.
func (b *Breaker) transition(to State) *StateChange {
	change := &StateChange{
		Name:        b.name,
		From:        b.state,
		To:          to,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
	b.state = to
	return change
}

// notify invokes observers outside the lock so they may query the breaker.
func (b *Breaker) notify(change *StateChange) {
	if change == nil {
		return
	}

	b.mu.Lock()
	observers := make([]func(StateChange), len(b.observers))
	copy(observers, b.observers)
	b.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("state change observer panicked",
						"breaker", b.name, "from", change.From, "to", change.To, "panic", r)
				}
			}()
			fn(*change)
		}()
	}
}

// Run executes fn through the breaker and carries its result value through.
// Rejections and breaker bookkeeping behave exactly as in Do; on rejection or
// failure the zero value of T is returned alongside the error.
func Run[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Do(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
