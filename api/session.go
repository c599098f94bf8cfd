package api

import (
	"sync"
	"time"
)

// Credential is one remembered connection inside a session. The password
// is present only as an AES-GCM blob sealed under the per-browser key;
// the server cannot read it without the browser's cookie.
type Credential struct {
	Driver            string `json:"driver"`
	Server            string `json:"server"`
	Username          string `json:"username"`
	EncryptedPassword string `json:"encryptedPassword"`
	DB                string `json:"db"`
}

// Session is the server-side per-browser state. Token is the CSRF seed;
// it rotates on every successful login.
type Session struct {
	Connections map[string]Credential `json:"connections"`
	CurrentConn string                `json:"currentConn"`
	Token       int64                 `json:"token"`
}

func newSession(token int64) *Session {
	return &Session{Connections: map[string]Credential{}, Token: token}
}

// Current returns the credential the session is pointing at, if any.
func (s *Session) Current() (Credential, bool) {
	c, ok := s.Connections[s.CurrentConn]
	return c, ok
}

// clone returns an independent copy of the session so callers can
// mutate it without sharing state with the store.
func (s *Session) clone() *Session {
	conns := make(map[string]Credential, len(s.Connections))
	for k, v := range s.Connections {
		conns[k] = v
	}
	return &Session{Connections: conns, CurrentConn: s.CurrentConn, Token: s.Token}
}

// connKey identifies one credential slot within a session.
func connKey(driver, server, username string) string {
	return driver + ":" + server + ":" + username
}

// SessionStore abstracts session CRUD so sessions can live in memory
// (default) or in a bbolt file that survives restarts. Put slides the
// expiry forward.
type SessionStore interface {
	Get(id string) (*Session, bool)
	Put(id string, s *Session)
	Delete(id string)
	Close() error
}

const sweepInterval = 10 * time.Minute

type memoryEntry struct {
	session *Session
	expires time.Time
}

// memorySessionStore is the default store: a mutex-guarded map with a
// background sweeper.
type memorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	data     map[string]memoryEntry
	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ SessionStore = (*memorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store with the
// given sliding TTL.
func NewMemorySessionStore(ttl time.Duration) SessionStore {
	s := &memorySessionStore{
		ttl:    ttl,
		data:   make(map[string]memoryEntry),
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *memorySessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[id]
	if !ok || time.Now().After(entry.expires) {
		delete(s.data, id)
		return nil, false
	}
	return entry.session.clone(), true
}

func (s *memorySessionStore) Put(id string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = memoryEntry{session: sess.clone(), expires: time.Now().Add(s.ttl)}
}

func (s *memorySessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}

func (s *memorySessionStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *memorySessionStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *memorySessionStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, entry := range s.data {
		if now.After(entry.expires) {
			delete(s.data, id)
		}
	}
}
