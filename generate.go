package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wuxing-advisor/server/internal/advisor/generator"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/advisor/taxonomy"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

type generateEnv struct {
	cfg   *AppConfig
	store *taxonomy.Store
	gen   *generator.Generator
	close func()
}

func openGenerateEnv(ctx context.Context, envFile string) (*generateEnv, error) {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}
	store, db, err := openTaxonomy(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw, err := newGateway(ctx, cfg, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &generateEnv{
		cfg:   cfg,
		store: store,
		gen:   generator.New(store, gw, cfg.Generation, nil),
		close: func() { db.Close() },
	}, nil
}

func logReport(pass string, r generator.Report) {
	logx.Info().
		Str("pass", pass).
		Int("parents", r.Parents).
		Int("skipped", r.Skipped).
		Int("failed", r.Failed).
		Int("undescribed", r.Undescribed).
		Int("duplicates", r.Duplicates).
		Int("inserted", r.Inserted).
		Msg("Generation pass finished")
}

func generateCMD(envFile *string) *cobra.Command {
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Grow the topic taxonomy with the language model",
	}
	generate.AddCommand(
		generateDomainsCMD(envFile),
		generateLevelCMD(envFile),
		generateTreeCMD(envFile),
		generateContentCMD(envFile),
		generateStatsCMD(envFile),
	)
	return generate
}

func generateDomainsCMD(envFile *string) *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Generate the top-level life domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openGenerateEnv(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer env.close()
			if max <= 0 {
				max = env.cfg.Generation.L1Max
			}
			r, err := env.gen.GenerateDomains(cmd.Context(), max)
			logReport("domains", r)
			return err
		},
	}
	cmd.Flags().IntVar(&max, "max", 0, "maximum number of domains (0 = L1_MAX)")
	return cmd
}

func generateLevelCMD(envFile *string) *cobra.Command {
	var level, max int
	var root string
	var stopOnError bool
	cmd := &cobra.Command{
		Use:   "level",
		Short: "Fill one child level (2-4) under every parent",
		RunE: func(cmd *cobra.Command, args []string) error {
			childLevel := model.Level(level)
			if childLevel < model.LevelScenario || childLevel > model.LevelIntention {
				return fmt.Errorf("--level must be 2, 3 or 4")
			}
			env, err := openGenerateEnv(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer env.close()

			rootID, err := resolveRoot(cmd.Context(), env.store, root)
			if err != nil {
				return err
			}
			r, err := env.gen.GenerateLevel(cmd.Context(), generator.LevelRequest{
				ChildLevel:   childLevel,
				MaxPerParent: max,
				RootID:       rootID,
				StopOnError:  stopOnError || env.cfg.Generation.StopOnError,
			})
			logReport(childLevel.String(), r)
			return err
		},
	}
	cmd.Flags().IntVar(&level, "level", 2, "child level to generate (2, 3 or 4)")
	cmd.Flags().IntVar(&max, "max", 0, "target children per parent (0 = configured default)")
	cmd.Flags().StringVar(&root, "root", "", "limit to one domain, by id or name")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "abort the pass on the first failed parent")
	return cmd
}

func generateTreeCMD(envFile *string) *cobra.Command {
	var req generator.TreeRequest
	var root string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Fill levels 2, 3 and 4 in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openGenerateEnv(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer env.close()

			if req.RootID, err = resolveRoot(cmd.Context(), env.store, root); err != nil {
				return err
			}
			req.StopOnError = req.StopOnError || env.cfg.Generation.StopOnError
			r, err := env.gen.GenerateTree(cmd.Context(), req)
			logReport("tree", r)
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "limit to one domain, by id or name")
	cmd.Flags().IntVar(&req.MaxScenarios, "max-l2", 0, "scenarios per domain (0 = L2_MAX_PER_PARENT)")
	cmd.Flags().IntVar(&req.MaxSubScenarios, "max-l3", 0, "sub-scenarios per scenario (0 = L3_MAX_PER_PARENT)")
	cmd.Flags().IntVar(&req.MaxIntentions, "max-l4", 0, "intentions per sub-scenario (0 = L4_MAX_PER_PARENT)")
	cmd.Flags().BoolVar(&req.SkipScenarios, "skip-l2", false, "skip the scenario pass")
	cmd.Flags().BoolVar(&req.SkipSubScenarios, "skip-l3", false, "skip the sub-scenario pass")
	cmd.Flags().BoolVar(&req.SkipIntentions, "skip-l4", false, "skip the intention pass")
	cmd.Flags().BoolVar(&req.StopOnError, "stop-on-error", false, "abort a pass on the first failed parent")
	return cmd
}

func generateContentCMD(envFile *string) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Write guidance sections for intentions that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openGenerateEnv(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer env.close()

			rootID, err := resolveRoot(cmd.Context(), env.store, root)
			if err != nil {
				return err
			}
			r, err := env.gen.GenerateLeafContent(cmd.Context(), rootID)
			logReport("content", r)
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "limit to one domain, by id or name")
	return cmd
}

func generateStatsCMD(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print node counts per level and intentions still lacking content",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			store, db, err := openTaxonomy(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			counts, err := store.LevelCounts(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := store.LeavesWithoutContent(cmd.Context(), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range counts {
				fmt.Fprintf(out, "L%d %-13s %d\n", int(c.Level), c.Level, c.Count)
			}
			fmt.Fprintf(out, "Intentions without content: %d\n", len(pending))
			return nil
		},
	}
}
