package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	l := New(limit, window)
	clock := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestAllowRefillsOverWindow(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("IA/iowa"))
	assert.True(t, l.Allow("IA/iowa"))
	assert.False(t, l.Allow("IA/iowa"))
	assert.True(t, l.Allow("OH/ohio"), "keys are independent")
	assert.Equal(t, 30*time.Second, l.RetryAfter("IA/iowa"))

	*clock = clock.Add(30 * time.Second)
	assert.True(t, l.Allow("IA/iowa"))
	assert.False(t, l.Allow("IA/iowa"))
}

func TestResetAndSweep(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
	l.Reset("k")
	assert.True(t, l.Allow("k"))

	*clock = clock.Add(3 * time.Minute)
	l.sweep()
	assert.Empty(t, l.entries)
}

func TestZeroLimitDeniesEverything(t *testing.T) {
	l, _ := newTestLimiter(0, time.Minute)
	defer l.Close()
	assert.False(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}
