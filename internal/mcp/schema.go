// Package mcp serves the trial generator over the Model Context Protocol.
package mcp

import (
	"time"

	"github.com/nvandessel/threestep/internal/simulation"
	"github.com/nvandessel/threestep/internal/store"
)

// TrialTypeInput is one named group to generate.
type TrialTypeInput struct {
	Name   string `json:"name" jsonschema:"Trial type name (e.g. 'main_three')"`
	Number int    `json:"number" jsonschema:"Number of trials to generate (>= 1)"`
}

// GenerateInput defines the input for the threestep_generate tool.
type GenerateInput struct {
	TrialTypes    []TrialTypeInput `json:"trial_types,omitempty" jsonschema:"Trial types to generate in order. Ignored when params_file is set"`
	ParamsFile    string           `json:"params_file,omitempty" jsonschema:"Parameters file (JSON or YAML) listing trial types, relative to the project root"`
	Seed          uint64           `json:"seed,omitempty" jsonschema:"Batch seed (default: configured seed)"`
	UseRefinement bool             `json:"use_refinement,omitempty" jsonschema:"Require stay-time mean and std within tolerance of target (default: false)"`
	Compress      bool             `json:"compress,omitempty" jsonschema:"Write the trial file as a gzip container (default: configured)"`
	OutputPath    string           `json:"output_path,omitempty" jsonschema:"Trial file path (default: configured output, relative to project root)"`
	ChecksumPath  string           `json:"checksum_path,omitempty" jsonschema:"Checksum sidecar path (default: configured output)"`
	ArrowPath     string           `json:"arrow_path,omitempty" jsonschema:"Also export trials to this Arrow IPC file"`
}

// GroupSummary describes one generated trial type.
type GroupSummary struct {
	Name          string  `json:"name"`
	Trials        int     `json:"trials"`
	Segments      int     `json:"segments"`
	Attempts      int     `json:"attempts"`
	StayTimeMean  float64 `json:"stay_time_mean,omitempty"`
	HighRewarding int     `json:"high_rewarding,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// GenerateOutput defines the output for the threestep_generate tool.
type GenerateOutput struct {
	Seed         uint64         `json:"seed" jsonschema:"Batch seed used"`
	TrialsPath   string         `json:"trials_path,omitempty" jsonschema:"Written trial file"`
	ChecksumPath string         `json:"checksum_path,omitempty" jsonschema:"Written checksum sidecar"`
	Checksum     string         `json:"checksum,omitempty" jsonschema:"SHA-256 of the trial file"`
	ArrowPath    string         `json:"arrow_path,omitempty" jsonschema:"Written Arrow export"`
	ArchivedTo   string         `json:"archived_to,omitempty" jsonschema:"Archive of the overwritten trial file"`
	GenerationID string         `json:"generation_id,omitempty" jsonschema:"History record ID"`
	Groups       []GroupSummary `json:"groups" jsonschema:"Per trial type results in parameter order"`
	Failed       int            `json:"failed" jsonschema:"Number of trial types that failed"`
	Message      string         `json:"message" jsonschema:"Human-readable result message"`
}

// VerifyInput defines the input for the threestep_verify tool.
type VerifyInput struct {
	Path         string `json:"path,omitempty" jsonschema:"Trial file to verify (default: configured output)"`
	ChecksumPath string `json:"checksum_path,omitempty" jsonschema:"Checksum sidecar (default: configured output)"`
}

// VerifyOutput defines the output for the threestep_verify tool.
type VerifyOutput struct {
	Path     string `json:"path" jsonschema:"Verified trial file"`
	Expected string `json:"expected" jsonschema:"Digest stored in the sidecar"`
	Actual   string `json:"actual" jsonschema:"Digest of the trial file"`
	Match    bool   `json:"match" jsonschema:"Whether the digests match"`
	Message  string `json:"message" jsonschema:"Human-readable result message"`
}

// SimulateInput defines the input for the threestep_simulate tool.
type SimulateInput struct {
	Path   string `json:"path,omitempty" jsonschema:"Trial file to replay (default: configured output)"`
	Group  string `json:"group,omitempty" jsonschema:"Trial type to replay (default: first in file)"`
	Policy string `json:"policy,omitempty" jsonschema:"Choice policy: random, goal or oracle (default: random)"`
	Runs   int    `json:"runs,omitempty" jsonschema:"Number of independent replays (default: 1)"`
	Seed   uint64 `json:"seed,omitempty" jsonschema:"Replay seed (default: random)"`
}

// SimulateOutput defines the output for the threestep_simulate tool.
type SimulateOutput struct {
	Summary simulation.Summary `json:"summary" jsonschema:"Reward statistics across runs"`
	Seed    uint64             `json:"seed" jsonschema:"Replay seed used"`
	Message string             `json:"message" jsonschema:"Human-readable result message"`
}

// HistoryInput defines the input for the threestep_history tool.
type HistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum generations to list (default: 10)"`
}

// HistoryItem is one recorded generation.
type HistoryItem struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Seed       uint64    `json:"seed"`
	Groups     int       `json:"groups"`
	Trials     int       `json:"trials"`
	Failed     int       `json:"failed"`
	TrialsPath string    `json:"trials_path,omitempty"`
}

// HistoryOutput defines the output for the threestep_history tool.
type HistoryOutput struct {
	Generations []HistoryItem `json:"generations" jsonschema:"Recorded generations, newest first"`
	Count       int           `json:"count" jsonschema:"Number of generations returned"`
}

func historyItem(s store.Summary) HistoryItem {
	return HistoryItem{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		Seed:       s.Seed,
		Groups:     s.Groups,
		Trials:     s.Trials,
		Failed:     s.Failed,
		TrialsPath: s.TrialsPath,
	}
}
