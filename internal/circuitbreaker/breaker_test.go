package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)}
	b := New("daily", cfg)
	b.now = clock.now
	return b, clock
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Do(fail), errUpstream)
	}
	assert.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State(), "a success resets the count")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(fail), errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{"success closes", succeed, StateClosed},
		{"failure reopens", fail, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newTestBreaker(Config{MaxFailures: 1, Cooldown: time.Minute})
			_ = b.Do(fail)
			require.Equal(t, StateOpen, b.State())

			clock.advance(30 * time.Second)
			assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

			clock.advance(30 * time.Second)
			require.NoError(t, b.Allow())
			assert.Equal(t, StateHalfOpen, b.State())
			assert.ErrorIs(t, b.Allow(), ErrTooManyRequests, "one trial call at a time")

			b.Record(tt.trial())
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreaker_IsFailureAndDisabled(t *testing.T) {
	errAuth := errors.New("unauthorized")
	b, _ := newTestBreaker(Config{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errAuth) },
	})
	_ = b.Do(func() error { return errAuth })
	assert.Equal(t, StateClosed, b.State())

	disabled, _ := newTestBreaker(Config{})
	for i := 0; i < 10; i++ {
		_ = disabled.Do(fail)
	}
	assert.Equal(t, StateClosed, disabled.State())
	assert.NoError(t, disabled.Allow())
}

func TestBreaker_StateChangeCallbackAndReset(t *testing.T) {
	var transitions []string
	b, _ := newTestBreaker(Config{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Do(fail)
	b.Reset()

	assert.Equal(t, []string{"daily:closed->open", "daily:open->closed"}, transitions)
	stats := b.Stats()
	assert.Equal(t, "closed", stats.State)
	assert.Zero(t, stats.ConsecutiveFailures)
}

func TestGroup_IsolatesAPIs(t *testing.T) {
	g := NewGroup(Config{MaxFailures: 1, Cooldown: time.Minute})

	_ = g.For("daily").Do(fail)
	assert.Same(t, g.For("daily"), g.For("daily"))
	assert.Equal(t, StateOpen, g.For("daily").State())
	assert.Equal(t, StateClosed, g.For("adj_factor").State())
	assert.Len(t, g.Stats(), 2)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
