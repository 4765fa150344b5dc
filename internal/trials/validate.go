package trials

import "fmt"

// Issue describes one invariant violation found in a collection.
type Issue struct {
	TrialCount int    `json:"trial_count"`
	Field      string `json:"field"`
	Problem    string `json:"problem"`
}

// String returns a human-readable description of the issue.
func (i Issue) String() string {
	return fmt.Sprintf("trial %d: %s: %s", i.TrialCount, i.Field, i.Problem)
}

// Check inspects a collection loaded from outside the generator and reports
// every violated invariant. An empty result means the collection is
// consistent.
func (c *Collection) Check() []Issue {
	var issues []Issue
	report := func(trial int, field, format string, args ...any) {
		issues = append(issues, Issue{TrialCount: trial, Field: field, Problem: fmt.Sprintf(format, args...)})
	}

	rewards := make([]Stimulus, 0, len(c.Trials))
	for i, t := range c.Trials {
		if t.TrialCount != i {
			report(t.TrialCount, "trial_count", "expected %d", i)
		}
		if err := t.Mappings.Validate(); err != nil {
			report(t.TrialCount, "mappings", "%v", err)
		} else {
			if got, want := t.Mappings.FirstStageSwapped(), t.Transitions[0] == Rare; got != want {
				report(t.TrialCount, "transitions", "first transition %s disagrees with mapping", t.Transitions[0])
			}
			if got, want := t.Mappings.SecondStageSwapped(), t.Transitions[1] == Rare; got != want {
				report(t.TrialCount, "transitions", "second transition %s disagrees with mapping", t.Transitions[1])
			}
		}
		if !t.RewardStimulus.IsReward() {
			report(t.TrialCount, "reward_stimulus", "%d is not a terminal stimulus", t.RewardStimulus)
			continue
		}
		rewards = append(rewards, t.RewardStimulus)
	}

	// The running mode is only meaningful when every reward was valid.
	if len(rewards) == len(c.Trials) {
		for i, want := range RunningMode(rewards) {
			if got := c.Trials[i].HighRewarding; got != want {
				report(c.Trials[i].TrialCount, "high_rewarding", "got %d, want %d", got, want)
			}
		}
	}

	return issues
}

// SegmentsFromTrials reconstructs the stay-time segments of a trial sequence
// by grouping consecutive trials with the same reward stimulus.
func SegmentsFromTrials(trials []Trial) []Segment {
	var out []Segment
	for _, t := range trials {
		if n := len(out); n > 0 && out[n-1].RewardStimulus == t.RewardStimulus {
			out[n-1].StayTime++
			continue
		}
		out = append(out, Segment{StayTime: 1, RewardStimulus: t.RewardStimulus})
	}
	return out
}
