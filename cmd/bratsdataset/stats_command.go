package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bratsdataset/pkg/stats"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var source string
	var workers int
	var perPatient bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Compute intensity statistics for every patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger(cmd)
			if err != nil {
				return err
			}
			cat, err := ctx.buildCatalog(cmd, source)
			if err != nil {
				return err
			}
			ds, err := ctx.buildDataset(cmd, cat)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("workers") {
				workers = cfg.Stats.Workers
			}
			results, err := stats.Compute(cmd.Context(), ds, workers, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No patients to scan")
				return nil
			}

			if perPatient {
				rows := make([][]string, 0, len(results))
				for _, ps := range results {
					for _, ms := range ps.Modalities {
						rows = append(rows, []string{ps.ID, ms.Modality,
							formatFloat(ms.Mean), formatFloat(ms.Std),
							formatFloat(ms.Min), formatFloat(ms.Max),
							formatPercent(ms.NonZero)})
					}
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Patient", "Modality", "Mean", "Std", "Min", "Max", "Non-zero"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
				))
			}

			summary := stats.Summarize(results)
			rows := make([][]string, 0, len(summary))
			for _, s := range summary {
				rows = append(rows, []string{s.Modality, strconv.Itoa(s.Patients),
					formatFloat(s.Mean), formatFloat(s.Std), formatFloat(s.Min), formatFloat(s.Max)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Modality", "Patients", "Mean", "Std", "Min", "Max"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))

			if ds.Modalities().HasLabel() {
				var sum float64
				for _, ps := range results {
					sum += ps.TumorFraction
				}
				fmt.Fprintf(out, "Mean tumour fraction: %s\n", formatPercent(sum/float64(len(results))))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Override the configured dataset source")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Patients scanned in parallel (default from config)")
	cmd.Flags().BoolVar(&perPatient, "patients", false, "Also print one row per patient and modality")
	return cmd
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(100*v, 'f', 2, 64) + "%"
}
