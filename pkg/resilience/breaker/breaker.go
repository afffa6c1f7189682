// Package breaker provides a circuit breaker that fails fast once an
// executor class has accumulated enough consecutive failures.
//
// A breaker moves Closed → Open when consecutive failures reach the
// threshold, Open → HalfOpen when the reset timeout elapses, and
// HalfOpen → Closed on a successful probe or back to Open on a failed
// one. While Open, Allow returns ErrCircuitOpen without the protected
// call being made. While HalfOpen, at most HalfOpenMaxCalls probes run
// concurrently.
package breaker

import (
	"sync"
	"time"

	"github.com/vnykmshr/taskflow/pkg/common/errors"
)

// State identifies the breaker's position in its state machine.
type State int

const (
	// Closed lets all calls through and counts consecutive failures.
	Closed State = iota

	// Open fails all calls fast until the reset timeout elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through.
	HalfOpen
)

// String returns the state name for logs and metrics labels.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker. Must be positive.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays Open before allowing
	// half-open probes.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probes while HalfOpen.
	// Defaults to 1.
	HalfOpenMaxCalls int

	// OnStateChange, when set, is called after every state transition.
	// It runs outside the breaker's lock.
	OnStateChange func(from, to State)
}

// DefaultConfig returns a breaker configuration with a threshold of 5
// consecutive failures and a 30 second reset timeout.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is a circuit breaker for one executor class. The zero value is
// not usable; construct with New.
type Breaker struct {
	config Config

	mu          sync.Mutex
	state       State
	failures    int       // consecutive failures while Closed
	openedAt    time.Time // when the breaker last tripped
	probes      int       // in-flight probes while HalfOpen
	probeFailed bool      // a probe already reopened the circuit this cycle
}

// New creates a circuit breaker. Panics if the failure threshold is not
// positive.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		panic("breaker: failure threshold must be positive")
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	return &Breaker{config: config}
}

// Allow reports whether a call may proceed. A nil return means the call
// is admitted and the caller must report the outcome with Success or
// Failure exactly once. ErrCircuitOpen means the call must fail fast
// without executing.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	var transition func()
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return nil

	case Open:
		if time.Since(b.openedAt) < b.config.ResetTimeout {
			b.mu.Unlock()
			return errors.ErrCircuitOpen
		}
		// Reset timeout elapsed: this call becomes the first half-open
		// probe.
		transition = b.setStateLocked(HalfOpen)
		b.probes = 1
		b.probeFailed = false
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
		return nil

	case HalfOpen:
		if b.probes >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return errors.ErrCircuitOpen
		}
		b.probes++
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

// Success records a successful call admitted by Allow.
func (b *Breaker) Success() {
	b.mu.Lock()
	var transition func()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.probes--
		// One successful probe closes the circuit, unless a concurrent
		// probe already reopened it.
		if !b.probeFailed {
			transition = b.setStateLocked(Closed)
			b.failures = 0
			b.probes = 0
		}
	}

	b.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// Failure records a failed call admitted by Allow.
func (b *Breaker) Failure() {
	b.mu.Lock()
	var transition func()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			transition = b.tripLocked()
		}
	case HalfOpen:
		b.probes--
		// A single failed probe reopens the circuit.
		b.probeFailed = true
		transition = b.tripLocked()
	case Open:
		// A late failure from a call admitted before the trip; the
		// circuit is already open.
	}

	b.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// State returns the breaker's current state, accounting for an elapsed
// reset timeout. Reading the state does not admit a probe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.config.ResetTimeout {
		// The next Allow will transition to HalfOpen; report that.
		return HalfOpen
	}
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// tripLocked moves the breaker to Open and records the trip time.
// Must be called with b.mu held; returns the state-change callback.
func (b *Breaker) tripLocked() func() {
	b.openedAt = time.Now()
	b.probes = 0
	return b.setStateLocked(Open)
}

// setStateLocked transitions state and returns the OnStateChange callback
// to invoke after the lock is released, or nil.
func (b *Breaker) setStateLocked(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	if b.config.OnStateChange == nil {
		return nil
	}
	cb := b.config.OnStateChange
	return func() { cb(from, to) }
}
