package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/simulation"
	"github.com/nvandessel/threestep/internal/trialfile"
	"github.com/nvandessel/threestep/internal/trials"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate [trials-file]",
		Short: "Replay generated trials with a choice policy",
		Long: `Walk an agent through every trial of one trial type and report the fraction
of trials that ended on the rewarded stimulus.

Policies:
  random  chooses uniformly at each stage (expected rate 0.25)
  goal    always heads for the high rewarding stimulus
  oracle  always heads for the rewarded stimulus (rate 1.0)

Runs are replayed concurrently, each from a seed derived from --seed.

Examples:
  threestep simulate
  threestep simulate data/session1.json --group practice --policy goal
  threestep simulate --runs 1000 --seed 7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			group, _ := cmd.Flags().GetString("group")
			policyName, _ := cmd.Flags().GetString("policy")
			runs, _ := cmd.Flags().GetInt("runs")
			seed, _ := cmd.Flags().GetUint64("seed")

			root, err := projectRoot(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			policy, err := simulation.PolicyByName(policyName)
			if err != nil {
				return err
			}

			path, _ := trialFilePaths(cfg, root, args, "")
			f, err := trialfile.Read(path)
			if err != nil {
				return err
			}
			c, err := collectionByName(f, group)
			if err != nil {
				return err
			}

			if seed == 0 {
				seed = trials.RandomSeed()
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			summary, err := simulation.RunMany(ctx, c, policy, seed, runs, cfg.Generation.Parallelism)
			if err != nil {
				return err
			}
			if summary.Runs > 1 {
				summary.Rates = nil
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"seed":    seed,
					"summary": summary,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s policy on %q (%d trials, seed %d)\n", summary.Policy, summary.Group, summary.Trials, seed)
			if summary.Runs == 1 {
				fmt.Fprintf(out, "  reward rate: %.3f\n", summary.MeanRate)
				return nil
			}
			fmt.Fprintf(out, "  runs:        %d\n", summary.Runs)
			fmt.Fprintf(out, "  mean rate:   %.3f\n", summary.MeanRate)
			fmt.Fprintf(out, "  std dev:     %.3f\n", summary.StdDev)
			fmt.Fprintf(out, "  range:       %.3f - %.3f\n", summary.MinRate, summary.MaxRate)
			return nil
		},
	}

	cmd.Flags().String("group", "", "Trial type to replay (default: the first in the file)")
	cmd.Flags().String("policy", simulation.RandomPolicy{}.Name(), "Choice policy: random, goal or oracle")
	cmd.Flags().Int("runs", 1, "Number of replays")
	cmd.Flags().Uint64("seed", 0, "Replay seed (0 = random)")

	return cmd
}

// collectionByName returns the named trial type from f, or the first one
// when name is empty.
func collectionByName(f *trialfile.File, name string) (*trials.Collection, error) {
	cols := f.Collections()
	if len(cols) == 0 {
		return nil, fmt.Errorf("trial file has no trial types")
	}
	if name == "" {
		return cols[0], nil
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
		names = append(names, c.Name)
	}
	return nil, fmt.Errorf("trial type %q not found (have: %s)", name, strings.Join(names, ", "))
}
