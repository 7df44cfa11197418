package session

import (
	"time"

	"equipviz/internal/cache"
	"equipviz/internal/log"
	"equipviz/internal/metrics"
)

// Store keeps open sessions in an LRU with an idle timeout. A session that
// leaves the store for any reason is closed.
type Store struct {
	sessions *cache.LRUCache[*Session]
	logger   *log.Logger
}

// NewStore returns a store holding at most maxSessions sessions, each expiring
// after ttl without use.
func NewStore(maxSessions int, ttl time.Duration, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	st := &Store{logger: logger.WithComponent(log.ComponentSession)}
	st.sessions = cache.NewLRUCache[*Session](maxSessions, ttl,
		cache.WithSlidingTTL[*Session](),
		cache.WithEvictFunc[*Session](st.onEvict),
	)
	return st
}

func (st *Store) onEvict(id string, s *Session, reason cache.EvictReason) {
	if reason != cache.EvictReplaced && s.close() {
		if reason != cache.EvictDeleted {
			st.logger.Info("Session closed", log.FieldSessionID, id, log.FieldUsername, s.Username(), "reason", reason.String())
		}
	}
	metrics.ActiveSessions.Set(float64(st.sessions.Size()))
}

// Add stores a new session.
func (st *Store) Add(s *Session) {
	st.sessions.Set(s.ID(), s)
	metrics.ActiveSessions.Set(float64(st.sessions.Size()))
}

// Get returns an open session and extends its lifetime.
func (st *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	s, ok := st.sessions.Get(id)
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Remove closes and forgets a session.
func (st *Store) Remove(id string) bool {
	return st.sessions.Delete(id)
}

// CleanExpired closes idle sessions; it lets a cache.Manager drive the store.
func (st *Store) CleanExpired() int {
	return st.sessions.CleanExpired()
}

func (st *Store) Len() int {
	return st.sessions.Size()
}

// Close closes every session, for shutdown.
func (st *Store) Close() int {
	return st.sessions.Purge()
}
