package trials

import (
	"context"
	"fmt"
)

// Trial is one generated trial record.
type Trial struct {
	TrialCount     int            `json:"trial_count"`
	Mappings       Mapping        `json:"mappings"`
	RewardStimulus Stimulus       `json:"reward_stimulus"`
	HighRewarding  Stimulus       `json:"high_rewarding"`
	Transitions    TransitionPair `json:"transitions"`
}

// Collection is the ordered trial sequence of one named trial type.
type Collection struct {
	Name   string
	Trials []Trial

	// Segments are the stay-time runs the trials were expanded from.
	Segments []Segment

	// Attempts is the number of stay-time sequences drawn before one was accepted.
	Attempts int
}

// Len returns the number of trials.
func (c *Collection) Len() int {
	return len(c.Trials)
}

// Options configures trial assembly.
type Options struct {
	CommonProbability float64         `json:"common_probability" yaml:"common_probability"`
	StayTime          StayTimeOptions `json:"stay_time" yaml:"stay_time"`
}

// DefaultOptions returns the experiment defaults.
func DefaultOptions() Options {
	return Options{
		CommonProbability: DefaultCommonProbability,
		StayTime:          DefaultStayTimeOptions(),
	}
}

// Validate checks both the mapping and stay-time options.
func (o Options) Validate() error {
	if err := checkProbability(o.CommonProbability); err != nil {
		return err
	}
	return o.StayTime.Validate()
}

// Assembler expands stay-time segments into trials. An Assembler is not safe
// for concurrent use; give each goroutine its own with its own Rand.
type Assembler struct {
	rng  Rand
	opts Options
}

// NewAssembler returns an Assembler drawing from rng.
func NewAssembler(rng Rand, opts Options) *Assembler {
	return &Assembler{rng: rng, opts: opts}
}

// Assemble generates a complete collection of total trials named name.
// On error no collection is returned.
func (a *Assembler) Assemble(ctx context.Context, name string, total int) (*Collection, error) {
	if err := a.opts.Validate(); err != nil {
		return nil, err
	}

	segments, attempts, err := GenerateStayTimes(ctx, a.rng, total, a.opts.StayTime)
	if err != nil {
		return nil, fmt.Errorf("generating stay times for %q: %w", name, err)
	}

	c, err := a.AssembleSegments(name, segments)
	if err != nil {
		return nil, err
	}
	c.Attempts = attempts
	return c, nil
}

// AssembleSegments expands the given segments into trials. Segments with a
// zero RewardStimulus get one drawn uniformly from 7..10, never equal to the
// previous segment's; preset reward stimuli are kept but must satisfy the
// same adjacency rule.
func (a *Assembler) AssembleSegments(name string, segments []Segment) (*Collection, error) {
	if err := checkProbability(a.opts.CommonProbability); err != nil {
		return nil, err
	}

	total := 0
	for i, s := range segments {
		if s.StayTime <= 0 {
			return nil, fmt.Errorf("%w: segment %d has stay time %d", ErrInvalidParameter, i, s.StayTime)
		}
		total += s.StayTime
	}

	c := &Collection{
		Name:     name,
		Trials:   make([]Trial, 0, total),
		Segments: make([]Segment, len(segments)),
	}

	var mode modeCounter
	var previous Stimulus
	for i, seg := range segments {
		reward := seg.RewardStimulus
		switch {
		case reward == 0:
			reward = a.drawReward(previous)
		case !reward.IsReward():
			return nil, fmt.Errorf("%w: segment %d rewards non-terminal stimulus %d", ErrInvalidParameter, i, reward)
		case reward == previous:
			return nil, fmt.Errorf("%w: segments %d and %d share reward stimulus %d", ErrInvalidParameter, i-1, i, reward)
		}
		previous = reward
		seg.RewardStimulus = reward
		c.Segments[i] = seg

		for range seg.StayTime {
			m, transitions, err := GenerateMapping(a.rng, a.opts.CommonProbability)
			if err != nil {
				return nil, err
			}
			c.Trials = append(c.Trials, Trial{
				TrialCount:     len(c.Trials),
				Mappings:       m,
				RewardStimulus: reward,
				HighRewarding:  mode.add(reward),
				Transitions:    transitions,
			})
		}
	}

	return c, nil
}

func (a *Assembler) drawReward(previous Stimulus) Stimulus {
	for {
		s := RewardMin + Stimulus(a.rng.IntN(len(RewardStimuli)))
		if s != previous {
			return s
		}
	}
}

// modeCounter tracks the most frequent reward stimulus of a growing
// sequence. Ties go to the stimulus that appeared first.
type modeCounter struct {
	counts    map[Stimulus]int
	firstSeen map[Stimulus]int
	seen      int
	mode      Stimulus
}

// add records s and returns the mode including it.
func (m *modeCounter) add(s Stimulus) Stimulus {
	if m.counts == nil {
		m.counts = make(map[Stimulus]int, len(RewardStimuli))
		m.firstSeen = make(map[Stimulus]int, len(RewardStimuli))
	}
	if _, ok := m.firstSeen[s]; !ok {
		m.firstSeen[s] = m.seen
	}
	m.counts[s]++
	m.seen++

	switch {
	case m.seen == 1:
		m.mode = s
	case m.counts[s] > m.counts[m.mode]:
		m.mode = s
	case m.counts[s] == m.counts[m.mode] && m.firstSeen[s] < m.firstSeen[m.mode]:
		m.mode = s
	}
	return m.mode
}

// RunningMode returns, for every prefix rewards[0..i], the most frequent
// stimulus with ties broken by first appearance.
func RunningMode(rewards []Stimulus) []Stimulus {
	var m modeCounter
	out := make([]Stimulus, len(rewards))
	for i, r := range rewards {
		out[i] = m.add(r)
	}
	return out
}
