package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	errx "github.com/wuxing-advisor/server/internal/core/error"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const (
	fieldMatch   = "match"
	fieldProfile = "profile"
	fieldLocale  = "locale"
	fieldUpdated = "updated_at"
)

// RedisStore keeps history in a capped list and the remaining fields in a hash.
// Every write runs in MULTI/EXEC and refreshes the TTL of both keys.
type RedisStore struct {
	rdb redis.UniversalClient
	cap int
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient, cfg model.SessionConfig) *RedisStore {
	return &RedisStore{rdb: rdb, cap: historyCap(cfg), ttl: cfg.TTL, now: time.Now}
}

func (r *RedisStore) messagesKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

func (r *RedisStore) metaKey(sessionID string) string {
	return fmt.Sprintf("session:%s:meta", sessionID)
}

// touch refreshes both keys' TTL inside pipe.
func (r *RedisStore) touch(ctx context.Context, pipe redis.Pipeliner, sessionID string) {
	pipe.HSet(ctx, r.metaKey(sessionID), fieldUpdated, r.now().UTC().Format(time.RFC3339Nano))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.messagesKey(sessionID), r.ttl)
		pipe.Expire(ctx, r.metaKey(sessionID), r.ttl)
	}
}

func (r *RedisStore) GetOrCreate(ctx context.Context, sessionID string) (*model.Session, error) {
	var (
		rows *redis.StringSliceCmd
		meta *redis.MapStringStringCmd
	)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rows = pipe.LRange(ctx, r.messagesKey(sessionID), 0, -1)
		meta = pipe.HGetAll(ctx, r.metaKey(sessionID))
		r.touch(ctx, pipe, sessionID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load session from redis")
		return nil, errx.WrapRedis(err)
	}

	sess := &model.Session{ID: sessionID, UpdatedAt: r.now()}
	for i, row := range rows.Val() {
		var m schema.Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Int("index", i).Msg("Failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		sess.History = append(sess.History, &m)
	}

	fields := meta.Val()
	sess.Profile = fields[fieldProfile]
	sess.Locale = fields[fieldLocale]
	if raw := fields[fieldMatch]; raw != "" {
		var path model.TopicPath
		if err := json.Unmarshal([]byte(raw), &path); err != nil {
			logx.Warn().Err(err).Str("session_id", sessionID).Msg("Dropping unreadable last match")
		} else {
			sess.LastMatch = &path
		}
	}
	return sess, nil
}

func (r *RedisStore) AppendHistory(ctx context.Context, sessionID string, messages ...*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]any, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to marshal message")
			return fmt.Errorf("marshal message: %w", err)
		}
		rows = append(rows, b)
	}

	key := r.messagesKey(sessionID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, rows...)
		pipe.LTrim(ctx, key, int64(-r.cap), -1)
		r.touch(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("Failed to append session history")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisStore) setField(ctx context.Context, sessionID, field, value string) error {
	key := r.metaKey(sessionID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if value == "" {
			pipe.HDel(ctx, key, field)
		} else {
			pipe.HSet(ctx, key, field, value)
		}
		r.touch(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Str("field", field).Msg("Failed to update session")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisStore) SetMatch(ctx context.Context, sessionID string, match *model.TopicPath) error {
	if match == nil {
		return r.setField(ctx, sessionID, fieldMatch, "")
	}
	b, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	return r.setField(ctx, sessionID, fieldMatch, string(b))
}

func (r *RedisStore) SetProfile(ctx context.Context, sessionID string, profile string) error {
	return r.setField(ctx, sessionID, fieldProfile, profile)
}

func (r *RedisStore) SetLocale(ctx context.Context, sessionID string, locale string) error {
	return r.setField(ctx, sessionID, fieldLocale, locale)
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}
