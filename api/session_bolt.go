package api

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jmcleod/dbadmin/internal/util"
)

var (
	sessionBucket = []byte("sessions")
	metaBucket    = []byte("meta")
	secretKey     = []byte("signing_secret")
)

type boltEntry struct {
	Session *Session  `json:"session"`
	Expires time.Time `json:"expires"`
}

// boltSessionStore persists sessions in a bbolt file so they survive
// restarts. Credential blobs are already sealed under per-browser keys,
// so records are stored as plain JSON; whoever can read this file can
// also read process memory.
type boltSessionStore struct {
	db       *bolt.DB
	ttl      time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ SessionStore = (*boltSessionStore)(nil)

// NewBoltSessionStore opens (or creates) a bbolt-backed session store at
// path. The returned secret is the cookie-signing secret persisted in
// the same file, so cookies stay valid across restarts.
func NewBoltSessionStore(path string, ttl time.Duration) (SessionStore, []byte, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("opening session db: %w", err)
	}

	var secret []byte
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if existing := meta.Get(secretKey); len(existing) == 32 {
			secret = append([]byte(nil), existing...)
			return nil
		}
		fresh, err := util.RandomBytes(32)
		if err != nil {
			return err
		}
		secret = fresh
		return meta.Put(secretKey, fresh)
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing session db: %w", err)
	}

	s := &boltSessionStore{db: db, ttl: ttl, stopCh: make(chan struct{})}
	go s.sweepLoop()
	return s, secret, nil
}

func (s *boltSessionStore) Get(id string) (*Session, bool) {
	var entry boltEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(sessionBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("not found")
		}
		return json.Unmarshal(raw, &entry)
	})
	if err != nil || entry.Session == nil {
		return nil, false
	}
	if time.Now().After(entry.Expires) {
		s.Delete(id)
		return nil, false
	}
	return entry.Session, true
}

func (s *boltSessionStore) Put(id string, sess *Session) {
	raw, err := json.Marshal(boltEntry{Session: sess, Expires: time.Now().Add(s.ttl)})
	if err != nil {
		return
	}
	_ = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(id), raw)
	})
}

func (s *boltSessionStore) Delete(id string) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(id))
	})
}

func (s *boltSessionStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return s.db.Close()
}

func (s *boltSessionStore) sweepLoop() {
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

func (s *boltSessionStore) sweep() {
	now := time.Now()
	_ = s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(sessionBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil || now.After(entry.Expires) {
				_ = c.Delete()
			}
		}
		return nil
	})
}
