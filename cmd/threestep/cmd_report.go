package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/report"
	"github.com/nvandessel/threestep/internal/trialfile"
	"github.com/nvandessel/threestep/internal/trials"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [trials-file]",
		Short: "Print summary tables for generated trials",
		Long: `Print stay-time, reward stimulus and transition tables for a trial file or
a recorded generation.

Examples:
  threestep report
  threestep report data/session1.json --group practice
  threestep report --generation 3f2a --format markdown
  threestep report --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			group, _ := cmd.Flags().GetString("group")
			generation, _ := cmd.Flags().GetString("generation")

			root, err := projectRoot(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			format := cfg.Report.Format
			if cmd.Flags().Changed("format") {
				format, _ = cmd.Flags().GetString("format")
			}
			mode, err := report.ParseMode(format)
			if err != nil {
				return err
			}

			cols, err := loadCollections(cmd.Context(), cfg, root, args, generation)
			if err != nil {
				return err
			}
			if group != "" {
				c, err := findCollection(cols, group)
				if err != nil {
					return err
				}
				cols = []*trials.Collection{c}
			}

			summaries := make([]report.Summary, len(cols))
			for i, c := range cols {
				summaries[i] = report.Summarize(c)
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.OverviewTable(summaries, mode))
			for _, c := range cols {
				fmt.Fprintf(out, "\n%s\n\n", c.Name)
				if err := report.Write(out, c, mode); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().String("group", "", "Only report this trial type")
	cmd.Flags().String("generation", "", "Report a recorded generation (ID or unique prefix) instead of a file")
	cmd.Flags().String("format", "", "Table format: ascii or markdown (default from config)")

	return cmd
}

// loadCollections reads the trial types of a recorded generation when
// generation is set, and of a trial file otherwise.
func loadCollections(ctx context.Context, cfg *config.Config, root string, args []string, generation string) ([]*trials.Collection, error) {
	if generation != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--generation cannot be combined with a trial file")
		}
		history, err := requireHistory(root, cfg)
		if err != nil {
			return nil, err
		}
		defer history.Close()

		gen, err := history.GetGeneration(ctx, generation)
		if err != nil {
			return nil, err
		}
		return gen.Collections(), nil
	}

	path, _ := trialFilePaths(cfg, root, args, "")
	f, err := trialfile.Read(path)
	if err != nil {
		return nil, err
	}
	return f.Collections(), nil
}

func findCollection(cols []*trials.Collection, name string) (*trials.Collection, error) {
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("trial type %q not found", name)
}
