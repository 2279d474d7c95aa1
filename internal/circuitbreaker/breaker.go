// Package circuitbreaker stops calling an upstream API that keeps failing and
// tries it again after a cool-down.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrCircuitOpen is returned while an API is cooling down
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open trial slots are taken
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the current state of a breaker
type State int

const (
	// StateClosed allows all calls through
	StateClosed State = iota

	// StateOpen rejects all calls
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through
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
		return "unknown"
	}
}

// Config holds configuration for a breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	// Zero disables the breaker.
	MaxFailures int

	// Cooldown is how long the circuit stays open before probing
	Cooldown time.Duration

	// HalfOpenMaxRequests is the number of concurrent trial calls allowed
	HalfOpenMaxRequests int

	// IsFailure decides whether a call result counts against the circuit.
	// Nil means any non-nil error.
	IsFailure func(err error) bool

	// OnStateChange is called with the breaker name on every transition
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the upstream breaker defaults
func DefaultConfig() Config {
	return Config{
		MaxFailures:         5,
		Cooldown:            time.Minute,
		HalfOpenMaxRequests: 1,
	}
}

// Breaker guards one upstream API
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	halfOpenInFlight int
	openedAt         time.Time
	lastStateChange  time.Time
}

// New creates a closed breaker
func New(name string, config Config) *Breaker {
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{
		name:            name,
		config:          config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Record.
func (b *Breaker) Allow() error {
	if b.config.MaxFailures <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.halfOpenInFlight = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.HalfOpenMaxRequests {
			return ErrTooManyRequests
		}
		b.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

// Record reports the result of an allowed call
func (b *Breaker) Record(err error) {
	if b.config.MaxFailures <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.config.IsFailure(err)
	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.MaxFailures {
			b.open()
		}
	case StateHalfOpen:
		b.halfOpenInFlight--
		if failed {
			b.open()
			return
		}
		b.failures = 0
		b.halfOpenInFlight = 0
		b.setState(StateClosed)
	}
}

// Do runs fn when the circuit allows it and records its result
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.halfOpenInFlight = 0
	b.setState(StateOpen)
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastStateChange = b.now()

	entry := log.WithFields(log.Fields{"api_name": b.name, "from": from.String(), "to": to.String()})
	if to == StateOpen {
		entry.WithField("cooldown", b.config.Cooldown.String()).Warn("Upstream circuit opened")
	} else {
		entry.Info("Upstream circuit state changed")
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenInFlight = 0
	b.setState(StateClosed)
}

// Stats is a snapshot of a breaker
type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastStateChange     time.Time `json:"last_state_change"`
}

// Stats returns a snapshot of the breaker
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		LastStateChange:     b.lastStateChange,
	}
}

// Group hands out one breaker per upstream API name, so a failing endpoint
// does not block the others.
type Group struct {
	config   Config
	mu       sync.Mutex
	breakers map[string]*Breaker
	now      func() time.Time
}

// NewGroup creates a group whose breakers share config
func NewGroup(config Config) *Group {
	return &Group{config: config, breakers: make(map[string]*Breaker), now: time.Now}
}

// For returns the breaker of name, creating it on first use
func (g *Group) For(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[name]
	if !ok {
		b = New(name, g.config)
		b.now = g.now
		g.breakers[name] = b
	}
	return b
}

// Stats returns a snapshot of every breaker created so far
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}
