package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := NewLimiter(100, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))

	// Other clients have their own bucket
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestLimiter_Refills(t *testing.T) {
	l := NewLimiter(3600, 1) // one token per second
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 50; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.False(t, l.Enabled())
}

func TestLimiter_PrunesIdleClients(t *testing.T) {
	l := NewLimiter(100, 10)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < pruneThreshold; i++ {
		l.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	assert.Equal(t, pruneThreshold, l.tracked())

	now = now.Add(2 * time.Hour)
	l.Allow("fresh")
	assert.Equal(t, 1, l.tracked())
}
