package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/export"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [trials-file]",
		Short: "Export trials to an Arrow IPC file",
		Long: `Flatten every trial into one row of an Apache Arrow IPC file for analysis in
pandas, polars or R. The source is a trial file or a recorded generation.

Examples:
  threestep export --out trials.arrow
  threestep export data/session1.json --out session1.arrow
  threestep export --generation 3f2a --out rerun.arrow`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out, _ := cmd.Flags().GetString("out")
			generation, _ := cmd.Flags().GetString("generation")

			root, err := projectRoot(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cols, err := loadCollections(cmd.Context(), cfg, root, args, generation)
			if err != nil {
				return err
			}
			if err := export.WriteFile(out, cols); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			rows := 0
			for _, c := range cols {
				rows += c.Len()
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":        out,
					"trial_types": len(cols),
					"rows":        rows,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d trials from %d trial types to %s\n", rows, len(cols), out)
			return nil
		},
	}

	cmd.Flags().StringP("out", "o", "", "Arrow file to write (required)")
	cmd.MarkFlagRequired("out")
	cmd.Flags().String("generation", "", "Export a recorded generation (ID or unique prefix) instead of a file")

	return cmd
}
