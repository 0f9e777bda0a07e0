package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/core"
	"github.com/wuxing-advisor/server/pkg/database"
	logx "github.com/wuxing-advisor/server/pkg/logger"
	pkgredis "github.com/wuxing-advisor/server/pkg/redis"
)

// AppConfig defines every configurable parameter, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Database database.Config
	Redis    pkgredis.Config

	// Models
	LLM       model.LLMConfig
	Selection model.SelectionModelConfig
	Response  model.ResponseModelConfig

	Generation model.GenerationConfig
	Session    model.SessionConfig
	Bazi       model.BaziConfig

	// Surfaces
	HTTP model.HTTPConfig
	NIM  model.NIMConfig
}

// loadConfig reads envFile (a missing file only warns), binds the environment
// and initialises logging.
func loadConfig(envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			logx.Warn().Err(err).Str("file", envFile).Msg("Could not load env file")
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
	return &cfg, nil
}
