package simulation

import (
	"fmt"
	"slices"

	"github.com/nvandessel/threestep/internal/trials"
)

// Policy picks one of two options at a choice point.
type Policy interface {
	Name() string

	// Choose returns 0 or 1. stage is 1 for the start choice and 2 for the
	// second-stage choice.
	Choose(t trials.Trial, stage int, options []trials.Stimulus, rng trials.Rand) int
}

// RandomPolicy chooses uniformly at random at both stages.
type RandomPolicy struct{}

func (RandomPolicy) Name() string { return "random" }

func (RandomPolicy) Choose(_ trials.Trial, _ int, options []trials.Stimulus, rng trials.Rand) int {
	return rng.IntN(len(options))
}

// GoalDirectedPolicy steers towards the trial's high_rewarding stimulus,
// the most frequently rewarded terminal so far. It knows the mapping but
// not the current reward.
type GoalDirectedPolicy struct{}

func (GoalDirectedPolicy) Name() string { return "goal" }

func (GoalDirectedPolicy) Choose(t trials.Trial, _ int, options []trials.Stimulus, rng trials.Rand) int {
	return steer(t.Mappings, options, t.HighRewarding, rng)
}

// OraclePolicy steers towards the current reward stimulus and is always
// rewarded. It bounds what any policy can reach.
type OraclePolicy struct{}

func (OraclePolicy) Name() string { return "oracle" }

func (OraclePolicy) Choose(t trials.Trial, _ int, options []trials.Stimulus, rng trials.Rand) int {
	return steer(t.Mappings, options, t.RewardStimulus, rng)
}

// steer picks the option from which target is reachable, falling back to a
// random choice when neither or both reach it.
func steer(m trials.Mapping, options []trials.Stimulus, target trials.Stimulus, rng trials.Rand) int {
	var hits []int
	for i, o := range options {
		if slices.Contains(reachable(m, o), target) {
			hits = append(hits, i)
		}
	}
	if len(hits) == 1 {
		return hits[0]
	}
	return rng.IntN(len(options))
}

// reachable lists the terminal stimuli reachable from s.
func reachable(m trials.Mapping, s trials.Stimulus) []trials.Stimulus {
	if s.IsReward() {
		return []trials.Stimulus{s}
	}
	var out []trials.Stimulus
	for _, next := range m.Destinations(trials.OriginOf(s)) {
		out = append(out, reachable(m, next)...)
	}
	return out
}

// Policies lists the built-in policies by name.
var Policies = map[string]Policy{
	RandomPolicy{}.Name():       RandomPolicy{},
	GoalDirectedPolicy{}.Name(): GoalDirectedPolicy{},
	OraclePolicy{}.Name():       OraclePolicy{},
}

// PolicyByName returns the built-in policy called name.
func PolicyByName(name string) (Policy, error) {
	p, ok := Policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q (valid: random, goal, oracle)", name)
	}
	return p, nil
}
