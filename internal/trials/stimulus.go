package trials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Stimulus identifies one of the ten task stimuli.
type Stimulus int

// Stimulus ranges per stage.
const (
	FirstStageMin  Stimulus = 1
	FirstStageMax  Stimulus = 2
	SecondStageMin Stimulus = 3
	SecondStageMax Stimulus = 6
	RewardMin      Stimulus = 7
	RewardMax      Stimulus = 10
)

// RewardStimuli lists the terminal stimuli in ascending order.
var RewardStimuli = []Stimulus{7, 8, 9, 10}

// IsReward reports whether s is a terminal reward stimulus.
func (s Stimulus) IsReward() bool {
	return s >= RewardMin && s <= RewardMax
}

// Pair is an ordered left/right pair of destination stimuli.
type Pair [2]Stimulus

// Reversed returns the pair with left and right exchanged.
func (p Pair) Reversed() Pair {
	return Pair{p[1], p[0]}
}

// Origin names a node of the mapping: "start" or a stimulus 1..6.
type Origin string

// Mapping origins in wire order.
const (
	OriginStart Origin = "start"
	Origin1     Origin = "1"
	Origin2     Origin = "2"
	Origin3     Origin = "3"
	Origin4     Origin = "4"
	Origin5     Origin = "5"
	Origin6     Origin = "6"
)

// Origins lists every mapping origin in the order they are serialized.
var Origins = []Origin{OriginStart, Origin1, Origin2, Origin3, Origin4, Origin5, Origin6}

// OriginOf returns the origin reached by selecting stimulus s.
func OriginOf(s Stimulus) Origin {
	return Origin(strconv.Itoa(int(s)))
}

// Mapping describes where each stimulus leads within one trial.
// Start, S1 and S2 offer two choices; S3..S6 lead to a single terminal stimulus.
type Mapping struct {
	Start Pair
	S1    Pair
	S2    Pair
	S3    Stimulus
	S4    Stimulus
	S5    Stimulus
	S6    Stimulus
}

// CommonMapping returns the canonical mapping in which every transition is common.
func CommonMapping() Mapping {
	return Mapping{
		Start: Pair{1, 2},
		S1:    Pair{3, 4},
		S2:    Pair{5, 6},
		S3:    7,
		S4:    8,
		S5:    9,
		S6:    10,
	}
}

// Destinations returns the stimuli reachable from origin, or nil for an unknown origin.
func (m Mapping) Destinations(origin Origin) []Stimulus {
	switch origin {
	case OriginStart:
		return []Stimulus{m.Start[0], m.Start[1]}
	case Origin1:
		return []Stimulus{m.S1[0], m.S1[1]}
	case Origin2:
		return []Stimulus{m.S2[0], m.S2[1]}
	case Origin3:
		return []Stimulus{m.S3}
	case Origin4:
		return []Stimulus{m.S4}
	case Origin5:
		return []Stimulus{m.S5}
	case Origin6:
		return []Stimulus{m.S6}
	default:
		return nil
	}
}

// setDestinations is the inverse of Destinations.
func (m *Mapping) setDestinations(origin Origin, dest []Stimulus) error {
	wantLen := 1
	if origin == OriginStart || origin == Origin1 || origin == Origin2 {
		wantLen = 2
	}
	if len(dest) != wantLen {
		return fmt.Errorf("origin %s: expected %d destinations, got %d", origin, wantLen, len(dest))
	}

	switch origin {
	case OriginStart:
		m.Start = Pair{dest[0], dest[1]}
	case Origin1:
		m.S1 = Pair{dest[0], dest[1]}
	case Origin2:
		m.S2 = Pair{dest[0], dest[1]}
	case Origin3:
		m.S3 = dest[0]
	case Origin4:
		m.S4 = dest[0]
	case Origin5:
		m.S5 = dest[0]
	case Origin6:
		m.S6 = dest[0]
	default:
		return fmt.Errorf("unknown origin %q", origin)
	}
	return nil
}

// Terminals returns the terminal stimuli of origins 3, 4, 5 and 6 in that order.
func (m Mapping) Terminals() [4]Stimulus {
	return [4]Stimulus{m.S3, m.S4, m.S5, m.S6}
}

// FirstStageSwapped reports whether stage-1 stimulus 1 leads to the {5,6}
// pair, which only happens after a rare first transition.
func (m Mapping) FirstStageSwapped() bool {
	return m.S1[0] >= 5
}

// SecondStageSwapped reports whether stimulus 3 leads to 9 or 10, which only
// happens after a rare second transition.
func (m Mapping) SecondStageSwapped() bool {
	return m.S3 >= 9
}

// Validate checks the structural invariants of a mapping: the start pair is
// {1,2}, origins 1 and 2 hold the two stage-2 pairs, and origins 3..6 lead
// to distinct terminal stimuli covering 7..10.
func (m Mapping) Validate() error {
	if !samePair(m.Start, Pair{1, 2}) {
		return fmt.Errorf("start must offer stimuli 1 and 2, got %v", m.Start)
	}

	low, high := Pair{3, 4}, Pair{5, 6}
	switch {
	case samePair(m.S1, low) && samePair(m.S2, high):
	case samePair(m.S1, high) && samePair(m.S2, low):
	default:
		return fmt.Errorf("origins 1 and 2 must hold pairs {3,4} and {5,6}, got %v and %v", m.S1, m.S2)
	}

	seen := make(map[Stimulus]bool, 4)
	for i, t := range m.Terminals() {
		if !t.IsReward() {
			return fmt.Errorf("origin %d leads to non-terminal stimulus %d", i+3, t)
		}
		if seen[t] {
			return fmt.Errorf("terminal stimulus %d is reachable from more than one origin", t)
		}
		seen[t] = true
	}
	return nil
}

func samePair(a, b Pair) bool {
	return a == b || a == b.Reversed()
}

type wireNode struct {
	Stimuli []Stimulus `json:"stimuli"`
}

// MarshalJSON writes the mapping as an object keyed by origin, preserving
// the start,1..6 key order expected by the experiment runtime.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, origin := range Origins {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(origin))
		buf.Write(key)
		buf.WriteByte(':')
		node, err := json.Marshal(wireNode{Stimuli: m.Destinations(origin)})
		if err != nil {
			return nil, err
		}
		buf.Write(node)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the keyed wire form. All seven origins are required.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw map[string]wireNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding mapping: %w", err)
	}

	var out Mapping
	for _, origin := range Origins {
		node, ok := raw[string(origin)]
		if !ok {
			return fmt.Errorf("decoding mapping: missing origin %q", origin)
		}
		if err := out.setDestinations(origin, node.Stimuli); err != nil {
			return fmt.Errorf("decoding mapping: %w", err)
		}
	}
	if len(raw) != len(Origins) {
		return fmt.Errorf("decoding mapping: expected %d origins, got %d", len(Origins), len(raw))
	}

	*m = out
	return nil
}
