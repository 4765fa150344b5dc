package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/threestep/internal/trials"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements HistoryStore on a SQLite database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the history database at
// <projectRoot>/.threestep/threestep.db.
func NewSQLiteStore(projectRoot string) (*SQLiteStore, error) {
	return OpenSQLiteStore(DefaultDBPath(projectRoot))
}

// OpenSQLiteStore opens (creating if needed) the history database at dbPath.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// SaveGeneration inserts g with all of its groups and trials in one
// transaction. Saving an existing ID fails.
func (s *SQLiteStore) SaveGeneration(ctx context.Context, g *Generation) error {
	if g.ID == "" {
		return fmt.Errorf("generation ID is required")
	}
	options, err := json.Marshal(g.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO generations (id, created_at, seed, options, trials_path, checksum) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.CreatedAt.UTC().Format(timeLayout), strconv.FormatUint(g.Seed, 10), string(options),
		nullString(g.TrialsPath), nullString(g.Checksum)); err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}

	typeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trial_types (generation_id, position, name, number, segments, attempts, error) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trial type insert: %w", err)
	}
	defer typeStmt.Close()

	trialStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trials (generation_id, position, trial_count, mappings, reward_stimulus, high_rewarding, transitions)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trial insert: %w", err)
	}
	defer trialStmt.Close()

	for pos, gr := range g.Groups {
		if _, err := typeStmt.ExecContext(ctx, g.ID, pos, gr.Name, gr.Number, gr.Segments, gr.Attempts,
			nullString(gr.Error)); err != nil {
			return fmt.Errorf("failed to insert trial type %q: %w", gr.Name, err)
		}
		for _, t := range gr.Trials {
			mappings, err := json.Marshal(t.Mappings)
			if err != nil {
				return fmt.Errorf("failed to marshal mappings: %w", err)
			}
			if _, err := trialStmt.ExecContext(ctx, g.ID, pos, t.TrialCount, string(mappings),
				int(t.RewardStimulus), int(t.HighRewarding), t.Transitions.String()); err != nil {
				return fmt.Errorf("failed to insert trial %d of %q: %w", t.TrialCount, gr.Name, err)
			}
		}
	}

	return tx.Commit()
}

// GetGeneration loads a generation by full ID or unique prefix.
func (s *SQLiteStore) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		g          Generation
		createdAt  string
		seed       string
		options    string
		trialsPath sql.NullString
		checksum   sql.NullString
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at, seed, options, trials_path, checksum FROM generations WHERE id = ?`, fullID).
		Scan(&g.ID, &createdAt, &seed, &options, &trialsPath, &checksum)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	if g.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if g.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &g.Options); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}
	g.TrialsPath = trialsPath.String
	g.Checksum = checksum.String

	if g.Groups, err = s.loadGroups(ctx, fullID); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLiteStore) loadGroups(ctx context.Context, id string) ([]GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, number, segments, attempts, error FROM trial_types WHERE generation_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trial types: %w", err)
	}
	var groups []GroupRecord
	for rows.Next() {
		var gr GroupRecord
		var groupErr sql.NullString
		if err := rows.Scan(&gr.Name, &gr.Number, &gr.Segments, &gr.Attempts, &groupErr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan trial type: %w", err)
		}
		gr.Error = groupErr.String
		groups = append(groups, gr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trial types: %w", err)
	}

	trialRows, err := s.db.QueryContext(ctx,
		`SELECT position, trial_count, mappings, reward_stimulus, high_rewarding, transitions
		 FROM trials WHERE generation_id = ? ORDER BY position, trial_count`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer trialRows.Close()

	for trialRows.Next() {
		var (
			pos         int
			t           trials.Trial
			mappings    string
			reward      int
			high        int
			transitions string
		)
		if err := trialRows.Scan(&pos, &t.TrialCount, &mappings, &reward, &high, &transitions); err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		if pos < 0 || pos >= len(groups) {
			return nil, fmt.Errorf("trial references unknown trial type position %d", pos)
		}
		if err := json.Unmarshal([]byte(mappings), &t.Mappings); err != nil {
			return nil, fmt.Errorf("failed to parse mappings: %w", err)
		}
		if t.Transitions, err = trials.ParseTransitionPair(transitions); err != nil {
			return nil, err
		}
		t.RewardStimulus = trials.Stimulus(reward)
		t.HighRewarding = trials.Stimulus(high)
		groups[pos].Trials = append(groups[pos].Trials, t)
	}
	if err := trialRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trials: %w", err)
	}
	return groups, nil
}

// ListGenerations returns summaries newest first.
func (s *SQLiteStore) ListGenerations(ctx context.Context, limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT g.id, g.created_at, g.seed, g.trials_path, g.checksum,
		       (SELECT COUNT(*) FROM trial_types tt WHERE tt.generation_id = g.id),
		       (SELECT COUNT(*) FROM trial_types tt WHERE tt.generation_id = g.id AND tt.error IS NOT NULL),
		       (SELECT COUNT(*) FROM trials t WHERE t.generation_id = g.id)
		FROM generations g
		ORDER BY g.created_at DESC, g.id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			createdAt  string
			seed       string
			trialsPath sql.NullString
			checksum   sql.NullString
		)
		if err := rows.Scan(&sum.ID, &createdAt, &seed, &trialsPath, &checksum,
			&sum.Groups, &sum.Failed, &sum.Trials); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		if sum.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if sum.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("failed to parse seed: %w", err)
		}
		sum.TrialsPath = trialsPath.String
		sum.Checksum = checksum.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteGeneration removes a generation by full ID or unique prefix,
// cascading to its trial types and trials.
func (s *SQLiteStore) DeleteGeneration(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM generations WHERE id = ?`, fullID); err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	return nil
}

// ValidateIntegrity runs the SQLite integrity checks on the open database.
func (s *SQLiteStore) ValidateIntegrity(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ValidateIntegrity(ctx, s.db)
}

// Reset deletes every recorded generation and recreates the schema.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ResetSchema(ctx, s.db)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// resolveID expands a unique ID prefix to the full ID.
func (s *SQLiteStore) resolveID(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty ID", ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM generations WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve generation ID: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", fmt.Errorf("failed to scan generation ID: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ HistoryStore = (*SQLiteStore)(nil)

