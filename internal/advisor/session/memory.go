package session

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/golang/groupcache/lru"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/metrics"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

type entry struct {
	mu      sync.Mutex
	session model.Session
	// evicted is set under mu once the entry leaves the index.
	evicted bool
}

// MemoryStore holds sessions in process. Each session has its own lock; the
// index lock only guards lookup and eviction.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.Cache

	cap     int
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Collector
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(cfg model.SessionConfig, m *metrics.Collector) *MemoryStore {
	s := &MemoryStore{
		entries: lru.New(cfg.MaxEntries),
		cap:     historyCap(cfg),
		ttl:     cfg.TTL,
		now:     time.Now,
		metrics: m,
	}
	s.entries.OnEvicted = func(key lru.Key, v any) {
		e := v.(*entry)
		e.mu.Lock()
		e.evicted = true
		e.mu.Unlock()
		logx.Debug().Str("session_id", key.(string)).Msg("Session evicted")
		s.metrics.SetSessions(s.entries.Len())
	}
	return s
}

// lookup returns the live entry for id, creating it when absent or expired.
func (s *MemoryStore) lookup(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if v, ok := s.entries.Get(id); ok {
		e := v.(*entry)
		e.mu.Lock()
		expired := s.ttl > 0 && now.Sub(e.session.UpdatedAt) > s.ttl
		e.mu.Unlock()
		if !expired {
			return e
		}
		s.entries.Remove(id)
	}

	e := &entry{session: model.Session{ID: id, UpdatedAt: now}}
	s.entries.Add(id, e)
	s.metrics.SetSessions(s.entries.Len())
	return e
}

func (s *MemoryStore) update(id string, fn func(*model.Session)) {
	s.apply(id, s.lookup(id), fn)
}

// apply runs fn on e. When e was evicted between lookup and locking, the
// write goes to a fresh entry for id instead of the orphan.
func (s *MemoryStore) apply(id string, e *entry, fn func(*model.Session)) {
	for {
		e.mu.Lock()
		if !e.evicted {
			fn(&e.session)
			e.session.UpdatedAt = s.now()
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		e = s.lookup(id)
	}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, sessionID string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := s.lookup(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.session
	snap.History = append([]*schema.Message(nil), e.session.History...)
	if e.session.LastMatch != nil {
		m := *e.session.LastMatch
		snap.LastMatch = &m
	}
	return &snap, nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, sessionID string, messages ...*schema.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.update(sessionID, func(sess *model.Session) {
		sess.History = trimTail(append(sess.History, messages...), s.cap)
	})
	return nil
}

func (s *MemoryStore) SetMatch(ctx context.Context, sessionID string, match *model.TopicPath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.update(sessionID, func(sess *model.Session) {
		if match == nil {
			sess.LastMatch = nil
			return
		}
		m := *match
		sess.LastMatch = &m
	})
	return nil
}

func (s *MemoryStore) SetProfile(ctx context.Context, sessionID string, profile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.update(sessionID, func(sess *model.Session) { sess.Profile = profile })
	return nil
}

func (s *MemoryStore) SetLocale(ctx context.Context, sessionID string, locale string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.update(sessionID, func(sess *model.Session) { sess.Locale = locale })
	return nil
}

// Len reports how many sessions are held, expired ones included until touched.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
