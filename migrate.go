package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wuxing-advisor/server/internal/advisor/taxonomy"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

func migrateCMD(envFile *string) *cobra.Command {
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded taxonomy schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if direction != "up" && direction != "down" {
				return fmt.Errorf("direction must be up or down, got %q", direction)
			}
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			db, dialect, err := cfg.Database.Open(cmd.Context())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := taxonomy.Migrate(db, dialect, direction, steps); err != nil {
				return err
			}
			logx.Info().Str("dialect", string(dialect)).Str("direction", direction).Int("steps", steps).Msg("Migrations applied")
			return nil
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
