package simulation

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/threestep/internal/trials"
)

// Step is the walk of a single trial.
type Step struct {
	TrialCount int                `json:"trial_count"`
	Path       [3]trials.Stimulus `json:"path"`
	Rewarded   bool               `json:"rewarded"`
}

// Result is one replay of a collection.
type Result struct {
	Group    string  `json:"group"`
	Policy   string  `json:"policy"`
	Trials   int     `json:"trials"`
	Rewarded int     `json:"rewarded"`
	Rate     float64 `json:"rate"`
	Steps    []Step  `json:"-"`
}

// Walk follows t's mapping from the start state to a terminal stimulus.
func Walk(t trials.Trial, policy Policy, rng trials.Rand) (Step, error) {
	step := Step{TrialCount: t.TrialCount}
	origin := trials.OriginStart
	for stage := 1; stage <= 3; stage++ {
		options := t.Mappings.Destinations(origin)
		if len(options) == 0 {
			return step, fmt.Errorf("trial %d: no destinations from %q", t.TrialCount, origin)
		}
		choice := 0
		if len(options) > 1 {
			choice = policy.Choose(t, stage, options, rng)
			if choice < 0 || choice >= len(options) {
				return step, fmt.Errorf("policy %s chose %d of %d options", policy.Name(), choice, len(options))
			}
		}
		step.Path[stage-1] = options[choice]
		origin = trials.OriginOf(options[choice])
	}
	step.Rewarded = step.Path[2] == t.RewardStimulus
	return step, nil
}

// Run replays every trial of c once.
func Run(c *trials.Collection, policy Policy, rng trials.Rand) (*Result, error) {
	res := &Result{
		Group:  c.Name,
		Policy: policy.Name(),
		Trials: len(c.Trials),
		Steps:  make([]Step, 0, len(c.Trials)),
	}
	for _, t := range c.Trials {
		step, err := Walk(t, policy, rng)
		if err != nil {
			return nil, fmt.Errorf("simulating %q: %w", c.Name, err)
		}
		if step.Rewarded {
			res.Rewarded++
		}
		res.Steps = append(res.Steps, step)
	}
	if res.Trials > 0 {
		res.Rate = float64(res.Rewarded) / float64(res.Trials)
	}
	return res, nil
}

// Summary aggregates repeated replays.
type Summary struct {
	Group    string    `json:"group"`
	Policy   string    `json:"policy"`
	Runs     int       `json:"runs"`
	Trials   int       `json:"trials"`
	MeanRate float64   `json:"mean_rate"`
	StdDev   float64   `json:"std_dev"`
	MinRate  float64   `json:"min_rate"`
	MaxRate  float64   `json:"max_rate"`
	Rates    []float64 `json:"rates,omitempty"`
}

// RunMany replays c runs times concurrently. Run i draws from a source
// seeded with trials.DeriveSeed(seed, i), so the summary does not depend on
// parallelism.
func RunMany(ctx context.Context, c *trials.Collection, policy Policy, seed uint64, runs, parallelism int) (*Summary, error) {
	if runs <= 0 {
		return nil, fmt.Errorf("%w: runs must be positive, got %d", trials.ErrInvalidParameter, runs)
	}
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	rates := make([]float64, runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range runs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := Run(c, policy, trials.NewRand(trials.DeriveSeed(seed, i)))
			if err != nil {
				return err
			}
			rates[i] = res.Rate
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Summary{
		Group:   c.Name,
		Policy:  policy.Name(),
		Runs:    runs,
		Trials:  len(c.Trials),
		Rates:   rates,
		MinRate: math.Inf(1),
		MaxRate: math.Inf(-1),
	}
	sum := 0.0
	for _, r := range rates {
		sum += r
		s.MinRate = math.Min(s.MinRate, r)
		s.MaxRate = math.Max(s.MaxRate, r)
	}
	s.MeanRate = sum / float64(runs)
	if runs > 1 {
		ss := 0.0
		for _, r := range rates {
			ss += (r - s.MeanRate) * (r - s.MeanRate)
		}
		s.StdDev = math.Sqrt(ss / float64(runs-1))
	}
	return s, nil
}
