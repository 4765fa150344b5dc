package trials

import (
	"fmt"
	"math"
)

// DefaultCommonProbability is the probability of a common transition at
// each of the two steps.
const DefaultCommonProbability = 0.7

// GenerateMapping builds the stimulus mapping of a single trial.
//
// The canonical all-common mapping is first counter-balanced with three
// independent coin flips (left/right order of the start pair and of the pairs
// behind stimuli 1 and 2). Two transition types are then drawn with
// P(Common) = commonProbability. A rare first transition swaps the pairs
// behind stimuli 1 and 2; a rare second transition swaps the terminals of
// 3 with 5 and 4 with 6.
func GenerateMapping(rng Rand, commonProbability float64) (Mapping, TransitionPair, error) {
	if err := checkProbability(commonProbability); err != nil {
		return Mapping{}, TransitionPair{}, err
	}

	m := CommonMapping()

	// Counter-balancing only relabels left and right.
	if rng.Float64() < 0.5 {
		m.Start = m.Start.Reversed()
	}
	if rng.Float64() < 0.5 {
		m.S1 = m.S1.Reversed()
	}
	if rng.Float64() < 0.5 {
		m.S2 = m.S2.Reversed()
	}

	transitions := TransitionPair{
		drawTransition(rng, commonProbability),
		drawTransition(rng, commonProbability),
	}

	if transitions[0] == Rare {
		m.S1, m.S2 = m.S2, m.S1
	}
	if transitions[1] == Rare {
		m.S3, m.S5 = m.S5, m.S3
		m.S4, m.S6 = m.S6, m.S4
	}

	return m, transitions, nil
}

func drawTransition(rng Rand, commonProbability float64) Transition {
	if rng.Float64() < commonProbability {
		return Common
	}
	return Rare
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: common probability %v outside [0,1]", ErrInvalidParameter, p)
	}
	return nil
}
