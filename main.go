package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	logx "github.com/wuxing-advisor/server/pkg/logger"
)

func main() {
	var envFile string
	root := &cobra.Command{
		Use:           "wuxing",
		Short:         "Five Elements life advisor: taxonomy tooling and answer server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		serveCMD(&envFile),
		migrateCMD(&envFile),
		generateCMD(&envFile),
		baziCMD(&envFile),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		logx.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
