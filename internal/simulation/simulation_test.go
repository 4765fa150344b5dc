package simulation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nvandessel/threestep/internal/trials"
)

// fixedRand returns the same IntN choice every time.
type fixedRand struct{ choice int }

func (r fixedRand) Float64() float64     { return 0 }
func (r fixedRand) NormFloat64() float64 { return 0 }
func (r fixedRand) IntN(n int) int       { return r.choice % n }

func commonTrial(reward trials.Stimulus) trials.Trial {
	return trials.Trial{
		TrialCount:     1,
		Mappings:       trials.CommonMapping(),
		RewardStimulus: reward,
		HighRewarding:  reward,
		Transitions:    trials.TransitionPair{trials.Common, trials.Common},
	}
}

func generated(t *testing.T, seed uint64, n int) *trials.Collection {
	t.Helper()
	c, err := trials.NewAssembler(trials.NewRand(seed), trials.DefaultOptions()).
		Assemble(context.Background(), "main_three", n)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestWalk(t *testing.T) {
	// Common mapping: start -> {1,2}, 1 -> {3,4}, 2 -> {5,6}, 3..6 -> 7..10.
	tests := []struct {
		choice int
		want   [3]trials.Stimulus
	}{
		{0, [3]trials.Stimulus{1, 3, 7}},
		{1, [3]trials.Stimulus{2, 6, 10}},
	}
	for _, tt := range tests {
		step, err := Walk(commonTrial(7), RandomPolicy{}, fixedRand{tt.choice})
		if err != nil {
			t.Fatalf("Walk() error = %v", err)
		}
		if step.Path != tt.want {
			t.Errorf("Walk(choice %d) path = %v, want %v", tt.choice, step.Path, tt.want)
		}
		if step.Rewarded != (tt.want[2] == 7) {
			t.Errorf("Walk(choice %d) rewarded = %v", tt.choice, step.Rewarded)
		}
	}
}

func TestWalk_FollowsSwappedMapping(t *testing.T) {
	tr := commonTrial(9)
	tr.Mappings.S1, tr.Mappings.S2 = tr.Mappings.S2, tr.Mappings.S1
	tr.Mappings.S3, tr.Mappings.S5 = tr.Mappings.S5, tr.Mappings.S3

	step, err := Walk(tr, RandomPolicy{}, fixedRand{0})
	if err != nil {
		t.Fatal(err)
	}
	if want := [3]trials.Stimulus{1, 5, 7}; step.Path != want {
		t.Errorf("path = %v, want %v", step.Path, want)
	}
}

type badPolicy struct{}

func (badPolicy) Name() string { return "bad" }
func (badPolicy) Choose(trials.Trial, int, []trials.Stimulus, trials.Rand) int {
	return 5
}

func TestWalk_RejectsOutOfRangeChoice(t *testing.T) {
	if _, err := Walk(commonTrial(7), badPolicy{}, fixedRand{}); err == nil {
		t.Error("Walk() should reject a choice outside the options")
	}
}

func TestOraclePolicy_AlwaysRewarded(t *testing.T) {
	c := generated(t, 3691, 150)
	res, err := Run(c, OraclePolicy{}, trials.NewRand(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Rewarded != 150 || res.Rate != 1 {
		t.Errorf("oracle rewarded %d/%d (rate %v), want all", res.Rewarded, res.Trials, res.Rate)
	}
}

func TestGoalDirectedPolicy_MatchesHighRewarding(t *testing.T) {
	c := generated(t, 85447, 150)
	res, err := Run(c, GoalDirectedPolicy{}, trials.NewRand(1))
	if err != nil {
		t.Fatal(err)
	}

	want := 0
	for _, tr := range c.Trials {
		if tr.HighRewarding == tr.RewardStimulus {
			want++
		}
	}
	if res.Rewarded != want {
		t.Errorf("goal-directed rewarded %d, want %d", res.Rewarded, want)
	}
	for i, step := range res.Steps {
		if step.Path[2] != c.Trials[i].HighRewarding {
			t.Errorf("trial %d ended on %d, want high_rewarding %d", i+1, step.Path[2], c.Trials[i].HighRewarding)
		}
	}
}

func TestRunMany_RandomNearQuarter(t *testing.T) {
	c := generated(t, 30471, 150)
	s, err := RunMany(context.Background(), c, RandomPolicy{}, 12847, 40, 4)
	if err != nil {
		t.Fatalf("RunMany() error = %v", err)
	}
	if s.Runs != 40 || len(s.Rates) != 40 {
		t.Errorf("Runs = %d, len(Rates) = %d, want 40", s.Runs, len(s.Rates))
	}
	if math.Abs(s.MeanRate-0.25) > 0.05 {
		t.Errorf("random mean rate = %v, want about 0.25", s.MeanRate)
	}
	if s.MinRate > s.MeanRate || s.MaxRate < s.MeanRate {
		t.Errorf("min/mean/max out of order: %v %v %v", s.MinRate, s.MeanRate, s.MaxRate)
	}
	if s.StdDev <= 0 {
		t.Errorf("StdDev = %v, want positive", s.StdDev)
	}
}

func TestRunMany_IndependentOfParallelism(t *testing.T) {
	c := generated(t, 1, 60)
	a, err := RunMany(context.Background(), c, RandomPolicy{}, 99, 12, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RunMany(context.Background(), c, RandomPolicy{}, 99, 12, 6)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("summaries differ across parallelism (-1 +6):\n%s", diff)
	}
}

func TestRunMany_Errors(t *testing.T) {
	c := generated(t, 1, 10)
	if _, err := RunMany(context.Background(), c, RandomPolicy{}, 1, 0, 1); !errors.Is(err, trials.ErrInvalidParameter) {
		t.Errorf("RunMany(runs=0) error = %v, want ErrInvalidParameter", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RunMany(ctx, c, RandomPolicy{}, 1, 5, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("RunMany(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"random", "goal", "oracle"} {
		p, err := PolicyByName(name)
		if err != nil || p.Name() != name {
			t.Errorf("PolicyByName(%q) = %v, %v", name, p, err)
		}
	}
	if _, err := PolicyByName("clever"); err == nil {
		t.Error("PolicyByName(clever) should fail")
	}
}

func TestReachable(t *testing.T) {
	m := trials.CommonMapping()
	tests := []struct {
		from trials.Stimulus
		want []trials.Stimulus
	}{
		{1, []trials.Stimulus{7, 8}},
		{2, []trials.Stimulus{9, 10}},
		{5, []trials.Stimulus{9}},
		{10, []trials.Stimulus{10}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, reachable(m, tt.from)); diff != "" {
			t.Errorf("reachable(%d) mismatch (-want +got):\n%s", tt.from, diff)
		}
	}
}
