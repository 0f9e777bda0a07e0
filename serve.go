package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wuxing-advisor/server/internal/advisor/bazi"
	"github.com/wuxing-advisor/server/internal/advisor/graph"
	"github.com/wuxing-advisor/server/internal/advisor/graph/observers"
	"github.com/wuxing-advisor/server/internal/advisor/graph/prompts"
	"github.com/wuxing-advisor/server/internal/advisor/router"
	"github.com/wuxing-advisor/server/internal/imbridge"
	"github.com/wuxing-advisor/server/internal/metrics"
	"github.com/wuxing-advisor/server/internal/server"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

func serveCMD(envFile *string) *cobra.Command {
	var addr string
	var noCharts bool

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the advisor HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			return runServer(cmd.Context(), cfg, !noCharts)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	serve.Flags().BoolVar(&noCharts, "no-charts", false, "ignore birth data instead of calling the chart calculator")
	return serve
}

func runServer(ctx context.Context, cfg *AppConfig, charts bool) error {
	m := metrics.NewCollector(metricsNamespace)

	store, db, err := openTaxonomy(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, rdb, err := openSessions(ctx, cfg, m)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	gw, err := newGateway(ctx, cfg, m, observers.NewAllCallbacks())
	if err != nil {
		return err
	}

	locales, err := prompts.LoadLocales(cfg.Response.LocalesFile)
	if err != nil {
		return fmt.Errorf("load locales: %w", err)
	}

	gcfg := graph.Config{
		Gateway:   gw,
		Router:    router.New(store, gw, cfg.Selection, m),
		Topics:    store,
		Sessions:  sessions,
		Locales:   locales,
		Response:  cfg.Response,
		DefaultTZ: cfg.Bazi.DefaultTZ,
	}
	var oracle *bazi.Oracle
	if charts {
		oracle = bazi.NewOracle(&bazi.ExecRunner{Command: cfg.Bazi.Command}, cfg.Bazi, m)
		gcfg.Charts = oracle
	}

	advisor, err := graph.New(ctx, gcfg)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	deps := server.Deps{
		Advisor: advisor,
		Gateway: gw,
		Metrics: m,
		Checks: map[string]server.Pinger{
			"taxonomy": store,
			"sessions": sessions,
		},
	}
	if oracle != nil {
		deps.Charts = oracle
	}
	if cfg.NIM.Enabled() {
		bridge := imbridge.NewHandler(imbridge.NewClient(cfg.NIM, nil), advisor, cfg.NIM.BotAccID)
		deps.Mount = bridge.Mount
		logx.Info().Str("bot_accid", cfg.NIM.BotAccID).Msg("IM bridge enabled")
	}

	srv := server.New(cfg.HTTP, server.NewRouter(cfg.HTTP, deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logx.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logx.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
