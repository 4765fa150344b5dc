package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/threestep/internal/logging"
	"github.com/nvandessel/threestep/internal/report"
	"github.com/nvandessel/threestep/internal/trials"
)

// Options configures a batch run.
type Options struct {
	Trials trials.Options

	// Seed is the batch seed. Zero draws a random one.
	Seed uint64

	// Parallelism bounds concurrently generated groups. Zero or less means
	// GOMAXPROCS.
	Parallelism int

	// EnablePlots renders summary tables for every finished group to
	// Driver.Plots.
	EnablePlots bool

	// PlotMode selects ASCII or Markdown tables.
	PlotMode report.Mode

	// DebugLogging logs per-group attempts and elapsed time at debug level
	// and every trial at trace level.
	DebugLogging bool
}

// DefaultOptions returns the default trial options, the default seed and
// GOMAXPROCS parallelism.
func DefaultOptions() Options {
	return Options{
		Trials: trials.DefaultOptions(),
		Seed:   trials.DefaultSeed,
	}
}

// GroupResult is the outcome of one trial type. Exactly one of Collection
// and Err is set.
type GroupResult struct {
	Name       string
	Seed       uint64
	Collection *trials.Collection
	Err        error
	Elapsed    time.Duration
}

// Result holds every group in parameter file order.
type Result struct {
	Seed      uint64
	Groups    []GroupResult
	CreatedAt time.Time
}

// Collections returns the successful collections in order.
func (r *Result) Collections() []*trials.Collection {
	out := make([]*trials.Collection, 0, len(r.Groups))
	for _, g := range r.Groups {
		if g.Collection != nil {
			out = append(out, g.Collection)
		}
	}
	return out
}

// Failed returns the groups that produced no collection.
func (r *Result) Failed() []GroupResult {
	var out []GroupResult
	for _, g := range r.Groups {
		if g.Err != nil {
			out = append(out, g)
		}
	}
	return out
}

// Err joins the errors of all failed groups, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, g := range r.Failed() {
		errs = append(errs, fmt.Errorf("trial type %q: %w", g.Name, g.Err))
	}
	return errors.Join(errs...)
}

// Driver runs batches.
type Driver struct {
	opts   Options
	logger *slog.Logger
	events *logging.EventLogger

	// Plots receives summary tables when EnablePlots is set. Nil discards.
	Plots io.Writer

	now func() time.Time
}

// NewDriver creates a Driver. A nil logger discards output and a nil
// events logger records nothing.
func NewDriver(opts Options, logger *slog.Logger, events *logging.EventLogger) *Driver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Driver{opts: opts, logger: logger, events: events, now: time.Now}
}

// Run generates every group in params. A failing group is recorded on its
// GroupResult and does not stop the others; the returned error is reserved
// for invalid input and cancellation.
func (d *Driver) Run(ctx context.Context, params *Parameters) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := d.opts.Trials.Validate(); err != nil {
		return nil, err
	}

	seed := d.opts.Seed
	if seed == 0 {
		seed = trials.RandomSeed()
	}
	limit := d.opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	res := &Result{
		Seed:      seed,
		Groups:    make([]GroupResult, len(params.Trials)),
		CreatedAt: d.now().UTC(),
	}
	d.logger.Info("generating trials", "groups", len(params.Trials), "trials", params.Total(), "seed", seed)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, tt := range params.Trials {
		g.Go(func() error {
			res.Groups[i] = d.runGroup(gctx, tt, trials.DeriveSeed(seed, i))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("batch cancelled: %w", err)
	}

	if d.opts.EnablePlots && d.Plots != nil {
		if err := d.writePlots(res); err != nil {
			d.logger.Warn("rendering plots failed", "error", err)
		}
	}
	return res, nil
}

func (d *Driver) runGroup(ctx context.Context, tt TrialType, seed uint64) GroupResult {
	gr := GroupResult{Name: tt.Name, Seed: seed}
	d.events.Log(logging.Event{Kind: logging.EventGroupStarted, Group: tt.Name, Seed: seed, Trials: tt.Number})

	start := d.now()
	asm := trials.NewAssembler(trials.NewRand(seed), d.opts.Trials)
	c, err := asm.Assemble(ctx, tt.Name, tt.Number)
	gr.Elapsed = d.now().Sub(start)

	if err != nil {
		gr.Err = err
		d.logger.Error("trial generation failed", "group", tt.Name, "error", err)
		d.events.Log(logging.Event{Kind: logging.EventGroupFailed, Group: tt.Name, Seed: seed,
			Elapsed: gr.Elapsed, Error: err.Error()})
		return gr
	}
	gr.Collection = c

	if d.opts.DebugLogging {
		d.logger.Debug("trial type generated", "group", tt.Name, "trials", c.Len(),
			"segments", len(c.Segments), "attempts", c.Attempts, "elapsed", gr.Elapsed)
		for _, t := range c.Trials {
			d.logger.Log(ctx, logging.LevelTrace, "trial", "group", tt.Name, "trial_count", t.TrialCount,
				"reward_stimulus", int(t.RewardStimulus), "high_rewarding", int(t.HighRewarding),
				"transitions", t.Transitions.String())
		}
	}
	d.events.Log(logging.Event{Kind: logging.EventGroupFinished, Group: tt.Name, Seed: seed,
		Trials: c.Len(), Attempts: c.Attempts, Elapsed: gr.Elapsed})
	return gr
}

func (d *Driver) writePlots(res *Result) error {
	summaries := make([]report.Summary, 0, len(res.Groups))
	for _, c := range res.Collections() {
		if err := report.Write(d.Plots, c, d.opts.PlotMode); err != nil {
			return err
		}
		summaries = append(summaries, report.Summarize(c))
	}
	_, err := fmt.Fprintln(d.Plots, report.OverviewTable(summaries, d.opts.PlotMode))
	return err
}
