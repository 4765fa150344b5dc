package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/store"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded generations",
		Long: `Every successful generate run is recorded in .threestep/threestep.db with its
seed, options and trials, so an earlier batch can be reported on or exported
even after the trial file was overwritten.

Generation IDs may be abbreviated to any unique prefix.

Examples:
  threestep history list
  threestep history show 3f2a
  threestep history delete 3f2a`,
	}

	cmd.AddCommand(
		newHistoryListCmd(),
		newHistoryShowCmd(),
		newHistoryDeleteCmd(),
		newHistoryCheckCmd(),
		newHistoryClearCmd(),
	)

	return cmd
}

func newHistoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			history, err := openCommandHistory(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			summaries, err := history.ListGenerations(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list generations: %w", err)
			}

			if jsonOut {
				if summaries == nil {
					summaries = []store.Summary{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"generations": summaries,
					"count":       len(summaries),
				})
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No generations recorded.")
				return nil
			}
			for _, s := range summaries {
				fmt.Fprintf(out, "%s  %s  seed %-20d %2d types  %5d trials",
					s.ID[:8], s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.Seed, s.Groups, s.Trials)
				if s.Failed > 0 {
					fmt.Fprintf(out, "  (%d failed)", s.Failed)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum generations to list (0 = all)")

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			history, err := openCommandHistory(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			gen, err := history.GetGeneration(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), gen)
			}
			printGeneration(cmd.OutOrStdout(), gen)
			return nil
		},
	}
}

func printGeneration(w io.Writer, gen *store.Generation) {
	fmt.Fprintf(w, "Generation %s\n", gen.ID)
	fmt.Fprintf(w, "  created:            %s\n", gen.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  seed:               %d\n", gen.Seed)
	fmt.Fprintf(w, "  common probability: %g\n", gen.Options.CommonProbability)
	fmt.Fprintf(w, "  stay time:          mean %g, std %g\n", gen.Options.StayTime.Mean, gen.Options.StayTime.StdDev)
	if gen.Options.StayTime.UseRefinement {
		fmt.Fprintf(w, "  refinement:         tolerance %g, max %d attempts\n",
			gen.Options.StayTime.Tolerance, gen.Options.StayTime.MaxAttempts)
	}
	if gen.TrialsPath != "" {
		fmt.Fprintf(w, "  trial file:         %s\n", gen.TrialsPath)
		fmt.Fprintf(w, "  sha256:             %s\n", gen.Checksum)
	}
	fmt.Fprintln(w)
	for _, g := range gen.Groups {
		if g.Error != "" {
			fmt.Fprintf(w, "  ✗ %-20s %4d requested: %s\n", g.Name, g.Number, g.Error)
			continue
		}
		fmt.Fprintf(w, "  ✓ %-20s %4d trials, %3d segments, %d attempts\n", g.Name, len(g.Trials), g.Segments, g.Attempts)
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a generation and its trials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			history, err := openCommandHistory(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			gen, err := history.GetGeneration(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := history.DeleteGeneration(cmd.Context(), gen.ID); err != nil {
				return fmt.Errorf("failed to delete generation: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": gen.ID})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted generation %s\n", gen.ID)
			return nil
		},
	}
}

func newHistoryCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run SQLite integrity checks on the history database",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			history, err := openCommandHistory(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			checkErr := history.ValidateIntegrity(cmd.Context())
			if jsonOut {
				result := map[string]any{"path": history.Path(), "ok": checkErr == nil}
				if checkErr != nil {
					result["error"] = checkErr.Error()
				}
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				return checkErr
			}
			if checkErr != nil {
				return checkErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s passed integrity_check and foreign_key_check\n", history.Path())
			return nil
		},
	}
}

func newHistoryClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded generation",
		Long: `Drop all recorded generations and recreate an empty history database.
Trial files on disk are not touched.

Example:
  threestep history clear --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}

			history, err := openCommandHistory(cmd)
			if err != nil {
				return err
			}
			defer history.Close()

			summaries, err := history.ListGenerations(cmd.Context(), 0)
			if err != nil {
				return fmt.Errorf("failed to list generations: %w", err)
			}
			if err := history.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": len(summaries)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d generations\n", len(summaries))
			return nil
		},
	}

	cmd.Flags().Bool("yes", false, "Confirm deleting all generations")

	return cmd
}

// openCommandHistory opens the history database for the --root project.
func openCommandHistory(cmd *cobra.Command) (*store.SQLiteStore, error) {
	root, err := projectRoot(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return requireHistory(root, cfg)
}
