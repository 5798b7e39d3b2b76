package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/echelon-engine/advancement"
	"github.com/warp/echelon-engine/store/sqlite"
)

func detectCommand() *cobra.Command {
	var now string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection pass over the stored employees",
		Long: `Evaluates every stored employee at the given date, replaces the
advancement records and prints the run summary. Exits non-zero when the
records could not be written, after printing the summary of what was
evaluated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if now != "" {
				parsed, err := time.Parse(time.DateOnly, now)
				if err != nil {
					return fmt.Errorf("invalid --now %q: %w", now, err)
				}
				at = parsed
			}
			y, m, d := at.Date()

			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer store.Close()

			engine := advancement.NewEngine(store, advancement.WithLogger(logger))
			report, err := engine.DetectFrom(cmd.Context(), store, advancement.Date(y, m, d))
			if err != nil {
				if report != nil {
					fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			return nil
		},
	}

	cmd.Flags().StringVar(&now, "now", "", "evaluation date (YYYY-MM-DD), defaults to today")
	return cmd
}
