package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/redis/go-redis/v9"

	"github.com/wuxing-advisor/server/internal/advisor/llm"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/session"
	"github.com/wuxing-advisor/server/internal/advisor/taxonomy"
	"github.com/wuxing-advisor/server/internal/metrics"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

const metricsNamespace = "wuxing"

// openTaxonomy opens the configured database and wraps it in a store.
func openTaxonomy(ctx context.Context, cfg *AppConfig) (*taxonomy.Store, *sql.DB, error) {
	db, dialect, err := cfg.Database.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	logx.Info().Str("dialect", string(dialect)).Msg("Taxonomy database connected")
	return taxonomy.NewStore(db, dialect), db, nil
}

func newGateway(ctx context.Context, cfg *AppConfig, m *metrics.Collector, handlers ...callbacks.Handler) (*llm.ChatGateway, error) {
	gw, err := llm.New(ctx, cfg.LLM, m, handlers...)
	if err != nil {
		return nil, fmt.Errorf("build llm gateway: %w", err)
	}
	return gw, nil
}

// openSessions returns the session store and, for the redis backend, the client to close.
func openSessions(ctx context.Context, cfg *AppConfig, m *metrics.Collector) (session.Store, *redis.Client, error) {
	var rdb *redis.Client
	if cfg.Session.Backend == session.BackendRedis {
		var err error
		rdb, err = cfg.Redis.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logx.Info().Msg("Connected to Redis successfully")
	}
	store, err := session.New(cfg.Session, rdb, m)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, nil, err
	}
	return store, rdb, nil
}

// resolveRoot turns a --root value (id or name fragment) into exactly one Domain id.
func resolveRoot(ctx context.Context, repo model.TaxonomyRepository, term string) (*int64, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	roots, err := repo.FindRoots(ctx, term)
	if err != nil {
		return nil, err
	}
	switch len(roots) {
	case 0:
		return nil, fmt.Errorf("no domain matches %q", term)
	case 1:
		id := roots[0].ID
		logx.Info().Int64("node_id", id).Str("name", roots[0].Name).Msg("Scoped to domain")
		return &id, nil
	}
	names := make([]string, len(roots))
	for i, r := range roots {
		names[i] = fmt.Sprintf("%d %s", r.ID, r.Name)
	}
	return nil, errors.New("ambiguous domain, candidates: " + strings.Join(names, ", "))
}
