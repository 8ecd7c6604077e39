package conn

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Window:           Duration(time.Minute),
		CoolDown:         Duration(30 * time.Second),
		HalfOpenMax:      1,
	}
}

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Now()
	b := newBreaker("execute", testBreakerConfig())
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(boom)
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "execute", open.Name)
	assert.Greater(t, open.RetryAfter, time.Duration(0))
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t)
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(boom)
	}
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// One trial admitted, a second concurrent call is rejected.
	require.NoError(t, b.Allow())
	assert.Error(t, b.Allow())

	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(boom)
	}
	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, BreakerOpen, b.State())
	assert.Error(t, b.Allow())
}

func TestBreakerWindowExpiry(t *testing.T) {
	b, now := newTestBreaker(t)
	boom := errors.New("boom")

	require.NoError(t, b.Allow())
	b.Record(boom)
	require.NoError(t, b.Allow())
	b.Record(boom)

	// Old failures age out of the window before the third arrives.
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerGroupSharing(t *testing.T) {
	g := NewBreakerGroup(testBreakerConfig())
	a := g.Get("execute")
	b := g.Get("execute")
	assert.Same(t, a, b)
	assert.NotSame(t, a, g.Get("executemany"))

	other := NewBreakerGroup(testBreakerConfig())
	assert.NotSame(t, a, other.Get("execute"))
}

func TestBreakerGroupReset(t *testing.T) {
	g := NewBreakerGroup(testBreakerConfig())
	b := g.Get("execute")
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(boom)
	}
	require.Equal(t, BreakerOpen, b.State())
	g.Reset()
	assert.Equal(t, BreakerClosed, b.State())
}
