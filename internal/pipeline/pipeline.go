// Package pipeline runs a full generation: the batch itself, archiving the
// previous trial file, writing the new one with its checksum, the optional
// Arrow export and the history record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nvandessel/threestep/internal/batch"
	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/export"
	"github.com/nvandessel/threestep/internal/logging"
	"github.com/nvandessel/threestep/internal/report"
	"github.com/nvandessel/threestep/internal/store"
	"github.com/nvandessel/threestep/internal/trialfile"
)

// ErrGroupsFailed marks a generation in which at least one trial type
// failed while the rest were written.
var ErrGroupsFailed = errors.New("trial types failed")

// ArchiveDirName is the archive directory inside the state directory.
const ArchiveDirName = "archive"

// Request describes one generation.
type Request struct {
	// Root is the project root. Relative output paths resolve against it.
	Root string

	Config *config.Config
	Params *batch.Parameters

	// TrialsPath, ChecksumPath and ArrowPath override the configured
	// output locations when set.
	TrialsPath   string
	ChecksumPath string
	ArrowPath    string
}

// Outcome reports what a generation produced.
type Outcome struct {
	Result       *batch.Result `json:"-"`
	Seed         uint64        `json:"seed"`
	TrialsPath   string        `json:"trials_path,omitempty"`
	ChecksumPath string        `json:"checksum_path,omitempty"`
	Checksum     string        `json:"checksum,omitempty"`
	Compressed   bool          `json:"compressed,omitempty"`
	ArchivedTo   string        `json:"archived_to,omitempty"`
	Pruned       []string      `json:"pruned,omitempty"`
	ArrowPath    string        `json:"arrow_path,omitempty"`
	GenerationID string        `json:"generation_id,omitempty"`
}

// Runner executes generation requests.
type Runner struct {
	Logger *slog.Logger
	Events *logging.EventLogger

	// Store records each generation. Nil skips history.
	Store store.HistoryStore

	// Plots receives summary tables when plots are enabled. Nil discards.
	Plots io.Writer

	Now func() time.Time
}

// Generate runs req. Groups that fail are left out of the trial file and
// reported through an error wrapping ErrGroupsFailed and every group
// failure. The Outcome is returned whenever the batch itself ran.
func (r *Runner) Generate(ctx context.Context, req Request) (*Outcome, error) {
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	cfg := req.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	trialsPath, checksumPath, arrowPath := cfg.Output.Resolve(req.Root)
	if req.TrialsPath != "" {
		trialsPath = req.TrialsPath
	}
	if req.ChecksumPath != "" {
		checksumPath = req.ChecksumPath
	}
	if req.ArrowPath != "" {
		arrowPath = req.ArrowPath
	}

	mode, err := report.ParseMode(cfg.Report.Format)
	if err != nil {
		return nil, err
	}

	driver := batch.NewDriver(batch.Options{
		Trials:       cfg.Generation.TrialOptions(),
		Seed:         cfg.Generation.Seed,
		Parallelism:  cfg.Generation.Parallelism,
		EnablePlots:  cfg.Report.EnablePlots,
		PlotMode:     mode,
		DebugLogging: logging.ParseLevel(cfg.Logging.Level) <= slog.LevelDebug,
	}, logger, r.Events)
	driver.Plots = r.Plots

	res, err := driver.Run(ctx, req.Params)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Result: res, Seed: res.Seed}
	var groupErr error
	if err := res.Err(); err != nil {
		groupErr = fmt.Errorf("%w: %w", ErrGroupsFailed, err)
	}

	cols := res.Collections()
	if len(cols) > 0 {
		if err := r.archive(out, trialsPath, req.Root, cfg.Output, now()); err != nil {
			logger.Warn("archiving previous trial file failed", "error", err)
		}

		file := trialfile.FromCollections(cols, res.CreatedAt)
		var sum string
		if cfg.Output.Compress {
			sum, err = trialfile.WriteCompressed(trialsPath, checksumPath, file, res.CreatedAt)
		} else {
			sum, err = trialfile.Write(trialsPath, checksumPath, file)
		}
		if err != nil {
			return out, fmt.Errorf("writing trial file: %w", err)
		}
		out.TrialsPath = trialsPath
		out.ChecksumPath = checksumPath
		out.Checksum = sum
		out.Compressed = cfg.Output.Compress
		r.Events.Log(logging.Event{Kind: logging.EventFileWritten, Trials: file.TrialCount(),
			Extra: map[string]any{"path": trialsPath, "checksum": sum}})
		logger.Info("trial file written", "path", trialsPath, "trials", file.TrialCount(), "checksum", sum)

		if arrowPath != "" {
			if err := export.WriteFile(arrowPath, cols); err != nil {
				return out, fmt.Errorf("exporting arrow file: %w", err)
			}
			out.ArrowPath = arrowPath
			logger.Info("arrow export written", "path", arrowPath)
		}
	}

	if r.Store != nil {
		gen := store.NewGeneration(res, req.Params, cfg.Generation.TrialOptions())
		gen.TrialsPath = out.TrialsPath
		gen.Checksum = out.Checksum
		if err := r.Store.SaveGeneration(ctx, gen); err != nil {
			logger.Warn("recording generation failed", "error", err)
		} else {
			out.GenerationID = gen.ID
		}
	}

	return out, groupErr
}

// archive copies an existing trial file into the archive directory and
// applies the retention policy built from the output settings.
func (r *Runner) archive(out *Outcome, trialsPath, root string, oc config.OutputConfig, now time.Time) error {
	if oc.KeepArchives == 0 {
		return nil
	}
	dir := filepath.Join(store.StateDir(root), ArchiveDirName)
	archived, err := trialfile.Archive(trialsPath, dir, now)
	if err != nil || archived == "" {
		return err
	}
	out.ArchivedTo = archived

	policy, err := RetentionPolicy(oc, now)
	if err != nil {
		return err
	}
	pruned, err := trialfile.ApplyRetention(dir, policy)
	out.Pruned = pruned
	return err
}

// RetentionPolicy keeps KeepArchives archives, or every archive younger
// than ArchiveMaxAge when that is set and keeps more.
func RetentionPolicy(oc config.OutputConfig, now time.Time) (trialfile.RetentionPolicy, error) {
	count := &trialfile.CountPolicy{MaxCount: oc.KeepArchives}
	if oc.ArchiveMaxAge == "" {
		return count, nil
	}
	age, err := trialfile.ParseDuration(oc.ArchiveMaxAge)
	if err != nil {
		return nil, err
	}
	return &trialfile.CompositePolicy{Policies: []trialfile.RetentionPolicy{
		count,
		&trialfile.AgePolicy{MaxAge: age, Now: func() time.Time { return now }},
	}}, nil
}
