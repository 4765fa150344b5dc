package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/batch"
	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/logging"
	"github.com/nvandessel/threestep/internal/pipeline"
	"github.com/nvandessel/threestep/internal/store"
	"github.com/nvandessel/threestep/internal/trials"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <params-file>",
		Short: "Generate trials for every trial type in a parameters file",
		Long: `Generate trials for the trial types listed in a parameters file.

The parameters file is JSON or YAML:

  {"trials": [{"name": "main_three", "number": 150},
              {"name": "practice", "number": 20}]}

Trial types are generated concurrently, each from its own seed derived from
the batch seed, so the output does not depend on scheduling. A trial type
whose stay-time sampling exhausts its attempt budget is reported and left
out of the file; the command then exits non-zero.

Examples:
  threestep generate params.json
  threestep generate params.yaml --seed 85447 --plots
  threestep generate params.json --seed 0          # random seed
  threestep generate params.json --refine --tolerance 0.05
  threestep generate params.json --arrow trials.arrow --compress`,
		Args: cobra.ExactArgs(1),
		RunE: runGenerate,
	}

	cmd.Flags().Uint64("seed", trials.DefaultSeed, "Batch seed (0 = random; default from config)")
	cmd.Flags().Float64("common-probability", 0, "Probability of a common transition per stage (default from config)")
	cmd.Flags().Bool("refine", false, "Require stay-time mean and std within tolerance of target")
	cmd.Flags().Float64("tolerance", 0, "Relative tolerance for --refine (default from config)")
	cmd.Flags().Int("max-attempts", 0, "Stay-time sampling attempt budget (default from config)")
	cmd.Flags().Int("parallelism", 0, "Trial types generated concurrently (default from config)")
	cmd.Flags().Bool("plots", false, "Print stay-time, reward and transition tables")
	cmd.Flags().Bool("debug", false, "Log attempts and elapsed time per trial type")
	cmd.Flags().StringP("output", "o", "", "Trial file path (default from config)")
	cmd.Flags().String("checksum", "", "Checksum file path (default from config)")
	cmd.Flags().String("arrow", "", "Also export trials to this Arrow IPC file")
	cmd.Flags().Bool("compress", false, "Write the trial file as a gzip container")
	cmd.Flags().Bool("no-history", false, "Do not record this generation in the history database")

	return cmd
}

// applyGenerateFlags overrides cfg with the flags the user set.
func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Generation.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("common-probability") {
		cfg.Generation.CommonProbability, _ = flags.GetFloat64("common-probability")
	}
	if flags.Changed("refine") {
		cfg.Generation.UseRefinement, _ = flags.GetBool("refine")
	}
	if flags.Changed("tolerance") {
		cfg.Generation.Tolerance, _ = flags.GetFloat64("tolerance")
	}
	if flags.Changed("max-attempts") {
		cfg.Generation.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("parallelism") {
		cfg.Generation.Parallelism, _ = flags.GetInt("parallelism")
	}
	if flags.Changed("plots") {
		cfg.Report.EnablePlots, _ = flags.GetBool("plots")
	}
	if debug, _ := flags.GetBool("debug"); debug && logging.ParseLevel(cfg.Logging.Level) > logging.ParseLevel(logging.LevelNameDebug) {
		cfg.Logging.Level = logging.LevelNameDebug
	}
	if flags.Changed("compress") {
		cfg.Output.Compress, _ = flags.GetBool("compress")
	}
	if noHistory, _ := flags.GetBool("no-history"); noHistory {
		cfg.Store.Enabled = false
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyGenerateFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	params, err := batch.LoadParameters(args[0])
	if err != nil {
		return err
	}

	history, err := openHistory(root, cfg)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	runner := &pipeline.Runner{
		Logger: newLogger(cmd, cfg),
		Events: logging.NewEventLogger(store.StateDir(root), cfg.Logging.Level),
	}
	defer runner.Events.Close()
	if history != nil {
		defer history.Close()
		runner.Store = history
	}
	if !jsonOut {
		runner.Plots = cmd.OutOrStdout()
	}

	output, _ := cmd.Flags().GetString("output")
	checksum, _ := cmd.Flags().GetString("checksum")
	arrow, _ := cmd.Flags().GetString("arrow")
	if output != "" && checksum == "" {
		checksum = cfg.Output.SidecarFor(output)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out, err := runner.Generate(ctx, pipeline.Request{
		Root:         root,
		Config:       cfg,
		Params:       params,
		TrialsPath:   output,
		ChecksumPath: checksum,
		ArrowPath:    arrow,
	})
	if out == nil {
		return err
	}

	if jsonOut {
		if werr := writeJSON(cmd.OutOrStdout(), generateResult(out)); werr != nil {
			return werr
		}
	} else {
		printGenerateResult(cmd.OutOrStdout(), out)
	}

	if errors.Is(err, pipeline.ErrGroupsFailed) {
		return fmt.Errorf("%d of %d trial types failed", len(out.Result.Failed()), len(out.Result.Groups))
	}
	return err
}

type groupJSON struct {
	Name     string  `json:"name"`
	Seed     uint64  `json:"seed"`
	Trials   int     `json:"trials"`
	Segments int     `json:"segments"`
	Attempts int     `json:"attempts"`
	Elapsed  float64 `json:"elapsed_seconds"`
	Error    string  `json:"error,omitempty"`
}

type generateJSON struct {
	*pipeline.Outcome
	Groups []groupJSON `json:"groups"`
}

func generateResult(out *pipeline.Outcome) generateJSON {
	res := generateJSON{Outcome: out}
	for _, g := range out.Result.Groups {
		gj := groupJSON{Name: g.Name, Seed: g.Seed, Elapsed: g.Elapsed.Seconds()}
		if g.Err != nil {
			gj.Error = g.Err.Error()
		}
		if c := g.Collection; c != nil {
			gj.Trials = c.Len()
			gj.Segments = len(c.Segments)
			gj.Attempts = c.Attempts
		}
		res.Groups = append(res.Groups, gj)
	}
	return res
}

func printGenerateResult(w io.Writer, out *pipeline.Outcome) {
	fmt.Fprintf(w, "Seed: %d\n", out.Seed)
	for _, g := range out.Result.Groups {
		if g.Err != nil {
			fmt.Fprintf(w, "  ✗ %-20s %v\n", g.Name, g.Err)
			continue
		}
		fmt.Fprintf(w, "  ✓ %-20s %4d trials, %3d segments, %d attempts, %s\n",
			g.Name, g.Collection.Len(), len(g.Collection.Segments), g.Collection.Attempts, g.Elapsed.Round(time.Millisecond))
	}
	if out.TrialsPath == "" {
		fmt.Fprintln(w, "No trial file written.")
		return
	}
	fmt.Fprintf(w, "\nTrials written to %s\n", out.TrialsPath)
	fmt.Fprintf(w, "Checksum %s written to %s\n", out.Checksum, out.ChecksumPath)
	if out.ArchivedTo != "" {
		fmt.Fprintf(w, "Previous trial file archived to %s\n", out.ArchivedTo)
	}
	if out.ArrowPath != "" {
		fmt.Fprintf(w, "Arrow export written to %s\n", out.ArrowPath)
	}
	if out.GenerationID != "" {
		fmt.Fprintf(w, "Recorded as generation %s\n", out.GenerationID)
	}
}
