// Package batch turns a trial-type parameter file into generated collections.
// Groups are independent and run concurrently; each draws from its own
// random source derived from the batch seed and its position in the file.
package batch

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/threestep/internal/trials"
)

// TrialType names one group of trials and how many to generate.
type TrialType struct {
	Name   string `json:"name" yaml:"name"`
	Number int    `json:"number" yaml:"number"`
}

// Parameters is the parsed parameter file.
type Parameters struct {
	Trials []TrialType `json:"trials" yaml:"trials"`
}

// LoadParameters reads and validates a parameter file. JSON is accepted
// because it is a subset of YAML.
func LoadParameters(path string) (*Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading parameters %s: %w", path, err)
	}
	p, err := ParseParameters(data)
	if err != nil {
		return nil, fmt.Errorf("parameters %s: %w", path, err)
	}
	return p, nil
}

// ParseParameters decodes and validates parameter file contents.
func ParseParameters(data []byte) (*Parameters, error) {
	var p Parameters
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parsing parameters: %v", trials.ErrInvalidParameter, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate requires at least one group, unique non-empty names and
// positive trial counts.
func (p *Parameters) Validate() error {
	if len(p.Trials) == 0 {
		return fmt.Errorf("%w: no trial types defined", trials.ErrInvalidParameter)
	}
	seen := make(map[string]bool, len(p.Trials))
	for i, tt := range p.Trials {
		name := strings.TrimSpace(tt.Name)
		if name == "" {
			return fmt.Errorf("%w: trial type %d has no name", trials.ErrInvalidParameter, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate trial type %q", trials.ErrInvalidParameter, name)
		}
		seen[name] = true
		if tt.Number <= 0 {
			return fmt.Errorf("%w: trial type %q: number must be positive, got %d",
				trials.ErrInvalidParameter, name, tt.Number)
		}
	}
	return nil
}

// Total is the number of trials across all groups.
func (p *Parameters) Total() int {
	n := 0
	for _, tt := range p.Trials {
		n += tt.Number
	}
	return n
}
