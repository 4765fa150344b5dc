// Package store defines the HistoryStore interface for recording generation
// runs and their trials.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/threestep/internal/batch"
	"github.com/nvandessel/threestep/internal/trials"
)

// ErrNotFound is returned when no generation matches an ID.
var ErrNotFound = errors.New("generation not found")

// ErrAmbiguousID is returned when an ID prefix matches several generations.
var ErrAmbiguousID = errors.New("generation ID prefix is ambiguous")

// Generation is one recorded batch run.
type Generation struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Seed       uint64         `json:"seed"`
	Options    trials.Options `json:"options"`
	TrialsPath string         `json:"trials_path,omitempty"`
	Checksum   string         `json:"checksum,omitempty"`
	Groups     []GroupRecord  `json:"groups"`
}

// GroupRecord is one trial type within a generation. Failed groups carry
// Error and no trials.
type GroupRecord struct {
	Name     string         `json:"name"`
	Number   int            `json:"number"`
	Segments int            `json:"segments"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`
	Trials   []trials.Trial `json:"trials,omitempty"`
}

// Summary is the listing form of a Generation.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Seed       uint64    `json:"seed"`
	Groups     int       `json:"groups"`
	Trials     int       `json:"trials"`
	Failed     int       `json:"failed"`
	TrialsPath string    `json:"trials_path,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
}

// HistoryStore records generations.
type HistoryStore interface {
	SaveGeneration(ctx context.Context, g *Generation) error

	// GetGeneration accepts a full ID or a unique prefix.
	GetGeneration(ctx context.Context, id string) (*Generation, error)

	// ListGenerations returns up to limit summaries, newest first.
	// A limit of zero or less returns all of them.
	ListGenerations(ctx context.Context, limit int) ([]Summary, error)

	DeleteGeneration(ctx context.Context, id string) error

	Close() error
}

// NewGeneration converts a batch result into a Generation with a fresh ID.
// params supplies the requested count of failed groups.
func NewGeneration(res *batch.Result, params *batch.Parameters, opts trials.Options) *Generation {
	g := &Generation{
		ID:        uuid.NewString(),
		CreatedAt: res.CreatedAt,
		Seed:      res.Seed,
		Options:   opts,
		Groups:    make([]GroupRecord, len(res.Groups)),
	}
	for i, gr := range res.Groups {
		rec := GroupRecord{Name: gr.Name}
		if params != nil && i < len(params.Trials) {
			rec.Number = params.Trials[i].Number
		}
		if gr.Err != nil {
			rec.Error = gr.Err.Error()
		}
		if c := gr.Collection; c != nil {
			rec.Number = c.Len()
			rec.Segments = len(c.Segments)
			rec.Attempts = c.Attempts
			rec.Trials = c.Trials
		}
		g.Groups[i] = rec
	}
	return g
}

// Summarize builds the listing form of g.
func (g *Generation) Summarize() Summary {
	s := Summary{
		ID:         g.ID,
		CreatedAt:  g.CreatedAt,
		Seed:       g.Seed,
		Groups:     len(g.Groups),
		TrialsPath: g.TrialsPath,
		Checksum:   g.Checksum,
	}
	for _, gr := range g.Groups {
		s.Trials += len(gr.Trials)
		if gr.Error != "" {
			s.Failed++
		}
	}
	return s
}

// Collections returns the successful groups as collections.
func (g *Generation) Collections() []*trials.Collection {
	var out []*trials.Collection
	for _, gr := range g.Groups {
		if gr.Error != "" {
			continue
		}
		out = append(out, &trials.Collection{
			Name:     gr.Name,
			Trials:   gr.Trials,
			Segments: trials.SegmentsFromTrials(gr.Trials),
			Attempts: gr.Attempts,
		})
	}
	return out
}
