package trials

import (
	"context"
	"fmt"
	"math"
)

// Stay-time distribution defaults.
const (
	DefaultStayTimeMean = 5.0
	// DefaultStayTimeStdDev is sqrt(2) rounded to four places.
	DefaultStayTimeStdDev = 1.4142
	DefaultTolerance      = 0.01
	DefaultMaxAttempts    = 100000
)

// Segment is a run of consecutive trials rewarding the same stimulus.
// RewardStimulus is zero until the assembler assigns it.
type Segment struct {
	StayTime       int      `json:"stay_time"`
	RewardStimulus Stimulus `json:"reward_stimulus"`
}

// StayTimeOptions controls stay-time sampling.
type StayTimeOptions struct {
	// Mean and StdDev parameterize the normal distribution stay times are
	// drawn from before rounding.
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"std_dev" yaml:"std_dev"`

	// UseRefinement keeps sampling after an exact-sum sequence is found until
	// the sequence mean and sample deviation are within Tolerance of Mean and
	// StdDev.
	UseRefinement bool    `json:"use_refinement" yaml:"use_refinement"`
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`

	// MaxAttempts bounds the number of candidate sequences drawn.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultStayTimeOptions returns the distribution used by the experiment.
func DefaultStayTimeOptions() StayTimeOptions {
	return StayTimeOptions{
		Mean:        DefaultStayTimeMean,
		StdDev:      DefaultStayTimeStdDev,
		Tolerance:   DefaultTolerance,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Validate checks that the options describe a samplable distribution.
func (o StayTimeOptions) Validate() error {
	// A mean below 1 can make the positive-draw loop arbitrarily long.
	if math.IsNaN(o.Mean) || o.Mean < 1 {
		return fmt.Errorf("%w: stay-time mean must be at least 1, got %v", ErrInvalidParameter, o.Mean)
	}
	if math.IsNaN(o.StdDev) || o.StdDev < 0 {
		return fmt.Errorf("%w: stay-time std dev must be non-negative, got %v", ErrInvalidParameter, o.StdDev)
	}
	if o.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidParameter, o.MaxAttempts)
	}
	if o.UseRefinement {
		if !(o.Tolerance > 0) {
			return fmt.Errorf("%w: tolerance must be positive, got %v", ErrInvalidParameter, o.Tolerance)
		}
		if o.StdDev == 0 {
			return fmt.Errorf("%w: refinement needs a positive std dev", ErrInvalidParameter)
		}
	}
	return nil
}

// StayTimes returns the stay time of every segment in order.
func StayTimes(segments []Segment) []int {
	out := make([]int, len(segments))
	for i, s := range segments {
		out[i] = s.StayTime
	}
	return out
}

// GenerateStayTimes composes total as an ordered sum of positive stay times
// drawn from Normal(opts.Mean, opts.StdDev).
//
// Each attempt appends rounded draws while the running sum stays within
// total; the first draw that would overshoot ends the attempt. An attempt is
// accepted when the sum equals total exactly (and, with UseRefinement, when
// the distribution check passes). It returns the accepted segments and the
// number of attempts used.
func GenerateStayTimes(ctx context.Context, rng Rand, total int, opts StayTimeOptions) ([]Segment, int, error) {
	if total <= 0 {
		return nil, 0, fmt.Errorf("%w: trial count must be positive, got %d", ErrInvalidParameter, total)
	}
	if err := opts.Validate(); err != nil {
		return nil, 0, err
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		segments, sum := drawSequence(rng, total, opts.Mean, opts.StdDev)
		if sum != total {
			continue
		}
		if opts.UseRefinement && !matchesDistribution(segments, opts) {
			continue
		}
		return segments, attempt, nil
	}

	return nil, opts.MaxAttempts, fmt.Errorf("%w: no stay-time sequence for %d trials after %d attempts",
		ErrGenerationTimeout, total, opts.MaxAttempts)
}

// drawSequence performs one rejection-sampling attempt.
func drawSequence(rng Rand, total int, mean, stdDev float64) ([]Segment, int) {
	var segments []Segment
	sum := 0
	for {
		v := drawStayTime(rng, mean, stdDev)
		if sum+v > total {
			return segments, sum
		}
		segments = append(segments, Segment{StayTime: v})
		sum += v
	}
}

// drawStayTime rounds a normal draw half-to-even and redraws until it is at least 1.
func drawStayTime(rng Rand, mean, stdDev float64) int {
	for {
		v := int(math.RoundToEven(rng.NormFloat64()*stdDev + mean))
		if v >= 1 {
			return v
		}
	}
}

func matchesDistribution(segments []Segment, opts StayTimeOptions) bool {
	values := StayTimes(segments)
	return WithinTolerance(Mean(values), opts.Mean, opts.Tolerance) &&
		WithinTolerance(SampleStdDev(values), opts.StdDev, opts.Tolerance)
}
