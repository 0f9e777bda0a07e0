package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wuxing-advisor/server/internal/advisor/bazi"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

func baziCMD(envFile *string) *cobra.Command {
	var date, clock, tz, jsonOut string
	var gender int
	var lunar, interpret bool

	cmd := &cobra.Command{
		Use:   "bazi",
		Short: "Compute a birth chart and print the report",
		Example: "  wuxing bazi --date 1998-07-31 --time 14:10 --gender 1\n" +
			"  wuxing bazi --date 1998-06-09 --time 14:10 --lunar --json chart.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" || clock == "" {
				return fmt.Errorf("--date and --time are required")
			}
			if gender != 0 && gender != 1 {
				return fmt.Errorf("--gender must be 0 (female) or 1 (male)")
			}
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if tz == "" {
				tz = cfg.Bazi.DefaultTZ
			}

			req := bazi.Request{Gender: gender}
			datetime := bazi.ISODatetime(date, clock, tz)
			if lunar {
				req.LunarDatetime = datetime
			} else {
				req.SolarDatetime = datetime
			}

			oracle := bazi.NewOracle(&bazi.ExecRunner{Command: cfg.Bazi.Command}, cfg.Bazi, nil)
			raw, err := oracle.Raw(cmd.Context(), req)
			if err != nil {
				return err
			}
			chart, err := bazi.ParseChart(raw)
			if err != nil {
				return fmt.Errorf("decode chart: %w", err)
			}

			if jsonOut != "" {
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, raw, "", "  "); err != nil {
					return err
				}
				if err := os.WriteFile(jsonOut, pretty.Bytes(), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", jsonOut, err)
				}
				logx.Info().Str("file", jsonOut).Msg("Raw chart saved")
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, bazi.Report(chart, time.Now()))

			if interpret {
				gw, err := newGateway(cmd.Context(), cfg, nil)
				if err != nil {
					return err
				}
				reading, err := bazi.Interpret(cmd.Context(), gw, chart)
				if err != nil {
					return fmt.Errorf("interpret chart: %w", err)
				}
				fmt.Fprintf(out, "\n%s\n", reading)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "birth date, YYYY-MM-DD")
	cmd.Flags().StringVar(&clock, "time", "", "birth time, HH:MM")
	cmd.Flags().StringVar(&tz, "tz", "", "UTC offset such as -05:00 (default BAZI_DEFAULT_TZ)")
	cmd.Flags().IntVar(&gender, "gender", 1, "0 female, 1 male")
	cmd.Flags().BoolVar(&lunar, "lunar", false, "treat --date as a lunar calendar date")
	cmd.Flags().StringVar(&jsonOut, "json", "", "also write the raw chart JSON to this file")
	cmd.Flags().BoolVar(&interpret, "interpret", false, "append a language model reading")
	return cmd
}
