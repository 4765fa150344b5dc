package trials

import "fmt"

// Transition classifies a step between stages as common or rare.
type Transition byte

const (
	Common Transition = 'C'
	Rare   Transition = 'R'
)

// String returns the single-letter code.
func (t Transition) String() string {
	return string(rune(t))
}

// TransitionPair holds the stage-1 -> stage-2 and stage-2 -> stage-3
// transition types of one trial.
type TransitionPair [2]Transition

// String encodes the pair as a two-letter code such as "CR".
func (p TransitionPair) String() string {
	return string([]byte{byte(p[0]), byte(p[1])})
}

// ParseTransitionPair decodes a two-letter code over {C,R}.
func ParseTransitionPair(s string) (TransitionPair, error) {
	if len(s) != 2 {
		return TransitionPair{}, fmt.Errorf("transition code %q must be 2 characters", s)
	}
	var p TransitionPair
	for i := 0; i < 2; i++ {
		switch Transition(s[i]) {
		case Common, Rare:
			p[i] = Transition(s[i])
		default:
			return TransitionPair{}, fmt.Errorf("transition code %q: invalid symbol %q", s, s[i])
		}
	}
	return p, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p TransitionPair) MarshalText() ([]byte, error) {
	if _, err := ParseTransitionPair(p.String()); err != nil {
		return nil, err
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *TransitionPair) UnmarshalText(text []byte) error {
	parsed, err := ParseTransitionPair(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TransitionCodes lists every transition pair code in display order.
var TransitionCodes = []string{"CC", "CR", "RC", "RR"}
