package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBruteForceLocksAfterMax(t *testing.T) {
	g := newBruteForceGuard(3, time.Minute)
	defer g.close()

	for i := 0; i < 2; i++ {
		g.recordFailure("10.0.0.1")
		blocked, _ := g.check("10.0.0.1")
		assert.False(t, blocked, "attempt %d should not lock", i+1)
	}

	g.recordFailure("10.0.0.1")
	blocked, retryAfter := g.check("10.0.0.1")
	require.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestBruteForceIsolatesIPs(t *testing.T) {
	g := newBruteForceGuard(1, time.Minute)
	defer g.close()

	g.recordFailure("10.0.0.1")
	blocked, _ := g.check("10.0.0.1")
	require.True(t, blocked)

	blocked, _ = g.check("10.0.0.2")
	assert.False(t, blocked)
}

func TestBruteForceSuccessClears(t *testing.T) {
	g := newBruteForceGuard(3, time.Minute)
	defer g.close()

	g.recordFailure("10.0.0.1")
	g.recordFailure("10.0.0.1")
	g.recordSuccess("10.0.0.1")
	g.recordFailure("10.0.0.1")

	blocked, _ := g.check("10.0.0.1")
	assert.False(t, blocked)
}

func TestBruteForceLockExpires(t *testing.T) {
	g := newBruteForceGuard(1, 10*time.Millisecond)
	defer g.close()

	g.recordFailure("10.0.0.1")
	blocked, _ := g.check("10.0.0.1")
	require.True(t, blocked)

	time.Sleep(20 * time.Millisecond)
	blocked, _ = g.check("10.0.0.1")
	assert.False(t, blocked)
}

func TestBruteForceSweepDropsStaleRecords(t *testing.T) {
	g := newBruteForceGuard(5, 10*time.Millisecond)
	defer g.close()

	g.recordFailure("10.0.0.1")
	time.Sleep(20 * time.Millisecond)
	g.sweep()

	g.mu.Lock()
	_, ok := g.attempts["10.0.0.1"]
	g.mu.Unlock()
	assert.False(t, ok)
}

func TestClientIPStripsPort(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.168.1.5:54321"
	assert.Equal(t, "192.168.1.5", clientIP(r))

	r.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(r))
}
