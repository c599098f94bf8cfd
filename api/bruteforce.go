package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// bruteForceGuard tracks failed login attempts per source IP. Once the
// failure count reaches the threshold the IP is locked out for the
// configured window; any further failures inside the window slide it
// forward.
type bruteForceGuard struct {
	mu       sync.Mutex
	max      int
	ttl      time.Duration
	attempts map[string]*attemptRecord
	stopOnce sync.Once
	stopCh   chan struct{}
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newBruteForceGuard(max int, ttl time.Duration) *bruteForceGuard {
	g := &bruteForceGuard{
		max:      max,
		ttl:      ttl,
		attempts: make(map[string]*attemptRecord),
		stopCh:   make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

// check reports whether the IP is currently locked out and for how much
// longer. A zero duration means the request may proceed.
func (g *bruteForceGuard) check(ip string) (blocked bool, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.attempts[ip]
	if !ok {
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

// recordFailure counts one failed attempt; reaching the threshold locks
// the IP out.
func (g *bruteForceGuard) recordFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		g.attempts[ip] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()
	if rec.failures >= g.max {
		rec.lockedUntil = time.Now().Add(g.ttl)
	}
}

// recordSuccess clears the slate for the IP.
func (g *bruteForceGuard) recordSuccess(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, ip)
}

func (g *bruteForceGuard) close() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

func (g *bruteForceGuard) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *bruteForceGuard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for ip, rec := range g.attempts {
		if now.After(rec.lockedUntil) && now.Sub(rec.lastFailure) > g.ttl {
			delete(g.attempts, ip)
		}
	}
}

// clientIP returns the peer address without the port. Proxy headers are
// not consulted; this server is meant to sit on localhost or behind
// nothing at all.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
