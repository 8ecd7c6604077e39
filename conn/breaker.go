package conn

import (
	"sync"
	"time"
)

// BreakerState is the lifecycle position of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed admits all calls.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen admits a bounded number of trial calls.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards one named operation. Failures inside the rolling
// window trip it open; after the cool-down it admits trial calls, and
// a successful trial run closes it again.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      []time.Time
	openedAt      time.Time
	trialInFlight int
	trialOK       int

	now func() time.Time
}

func newBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the operation name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, advancing open to half-open when
// the cool-down has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.now())
	return b.state
}

// Allow reports whether a call may proceed. When it returns a non-nil
// error the call was rejected and must not reach the backend.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.advance(now)
	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight >= b.cfg.HalfOpenMax {
			return &CircuitOpenError{Name: b.name, RetryAfter: b.retryAfter(now)}
		}
		b.trialInFlight++
		return nil
	default:
		return &CircuitOpenError{Name: b.name, RetryAfter: b.retryAfter(now)}
	}
}

// Record registers the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.state == BreakerHalfOpen {
		b.trialInFlight--
		if err != nil {
			b.trip(now)
			return
		}
		b.trialOK++
		if b.trialOK >= b.cfg.HalfOpenMax {
			b.reset()
		}
		return
	}
	if err == nil {
		return
	}
	b.failures = append(b.failures, now)
	b.prune(now)
	if len(b.failures) >= b.cfg.FailureThreshold {
		b.trip(now)
	}
}

// advance moves open to half-open once the cool-down has elapsed.
// Callers hold b.mu.
func (b *Breaker) advance(now time.Time) {
	if b.state == BreakerOpen && now.Sub(b.openedAt) >= b.cfg.CoolDown.Std() {
		b.state = BreakerHalfOpen
		b.trialInFlight = 0
		b.trialOK = 0
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.failures = b.failures[:0]
	b.trialInFlight = 0
	b.trialOK = 0
}

func (b *Breaker) reset() {
	b.state = BreakerClosed
	b.failures = b.failures[:0]
	b.trialInFlight = 0
	b.trialOK = 0
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window.Std())
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *Breaker) retryAfter(now time.Time) time.Duration {
	if b.state != BreakerOpen {
		return 0
	}
	d := b.cfg.CoolDown.Std() - now.Sub(b.openedAt)
	if d < 0 {
		return 0
	}
	return d
}

// BreakerGroup holds named breakers sharing one policy. Connections
// created with the same group share breaker state; sharing is always
// explicit, there is no process-wide registry.
type BreakerGroup struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup returns a group whose breakers follow cfg.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (g *BreakerGroup) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		b = newBreaker(name, g.cfg)
		g.breakers[name] = b
	}
	return b
}

// Reset closes every breaker in the group.
func (g *BreakerGroup) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.breakers {
		b.mu.Lock()
		b.reset()
		b.mu.Unlock()
	}
}
