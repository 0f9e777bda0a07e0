// Package session keeps per-conversation state: bounded history, the last
// routing outcome and the cached birth chart text.
package session

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/metrics"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	defaultHistoryCap = 20
)

// Store is a model.SessionRepository that can also report backend health.
type Store interface {
	model.SessionRepository
	Ping(ctx context.Context) error
}

// New picks the backend named by cfg. rdb is only used for the redis backend.
func New(cfg model.SessionConfig, rdb redis.UniversalClient, m *metrics.Collector) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(cfg, m), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("session backend redis needs a redis client")
		}
		return NewRedisStore(rdb, cfg), nil
	}
	return nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.Backend)
}

// trimTail keeps the newest limit messages.
func trimTail(msgs []*schema.Message, limit int) []*schema.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

func historyCap(cfg model.SessionConfig) int {
	if cfg.HistoryCap <= 0 {
		return defaultHistoryCap
	}
	return cfg.HistoryCap
}
