// Package store archives completed runs in a local SQLite database so
// verdicts and manifests survive across invocations. The archive is write
// once per run; history queries drive the CLI's history command.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"qaforge/internal/logging"
	"qaforge/internal/types"
)

// Archive is the SQLite-backed run archive.
type Archive struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	ended_at      TEXT,
	overall_score INTEGER,
	readiness     TEXT,
	run_json       TEXT NOT NULL,
	verdict_json   TEXT,
	synthesis_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Open opens (or creates) the archive at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Store("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Store("failed to set journal_mode=WAL: %v", err)
	}
	// NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Store("failed to set synchronous=NORMAL: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	logging.Store("archive opened at %s", path)
	return &Archive{db: db, path: path}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}

// SaveRun archives a finished run with its verdict and synthesis output.
// Verdict and synthesis may be nil for failed or cancelled runs. Storing the
// full synthesis (artifact sources included) lets the export command rebuild
// a bundle from the archive alone.
func (a *Archive) SaveRun(run *types.Run, verdict *types.QualityVerdict, synth *types.SynthesisResult) error {
	if run == nil {
		return fmt.Errorf("cannot archive nil run")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	runJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	var (
		verdictJSON   sql.NullString
		synthesisJSON sql.NullString
		overallScore  sql.NullInt64
		readiness     sql.NullString
	)
	if verdict != nil {
		data, err := json.Marshal(verdict)
		if err != nil {
			return fmt.Errorf("failed to encode verdict: %w", err)
		}
		verdictJSON = sql.NullString{String: string(data), Valid: true}
		overallScore = sql.NullInt64{Int64: int64(verdict.OverallScore), Valid: true}
		readiness = sql.NullString{String: string(verdict.Readiness), Valid: true}
	}
	if synth != nil {
		data, err := json.Marshal(synth)
		if err != nil {
			return fmt.Errorf("failed to encode synthesis: %w", err)
		}
		synthesisJSON = sql.NullString{String: string(data), Valid: true}
	}

	var endedAt sql.NullString
	if !run.EndedAt.IsZero() {
		endedAt = sql.NullString{String: run.EndedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = a.db.Exec(`
		INSERT OR REPLACE INTO runs
			(id, mode, status, started_at, ended_at, overall_score, readiness, run_json, verdict_json, synthesis_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Mode), string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339Nano), endedAt,
		overallScore, readiness, string(runJSON), verdictJSON, synthesisJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to archive run %s: %w", run.ID, err)
	}
	logging.Store("archived run %s (status=%s)", run.ID, run.Status)
	return nil
}

// ArchivedRun is a fully rehydrated archive record.
type ArchivedRun struct {
	Run       types.Run
	Verdict   *types.QualityVerdict
	Synthesis *types.SynthesisResult
}

// Manifest returns the archived traceability manifest, nil when the run never
// reached synthesis.
func (r *ArchivedRun) Manifest() []types.ManifestEntry {
	if r.Synthesis == nil {
		return nil
	}
	return r.Synthesis.Manifest
}

// GetRun loads one archived run by id.
func (a *Archive) GetRun(id string) (*ArchivedRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var runJSON string
	var verdictJSON, synthesisJSON sql.NullString
	err := a.db.QueryRow(
		"SELECT run_json, verdict_json, synthesis_json FROM runs WHERE id = ?", id,
	).Scan(&runJSON, &verdictJSON, &synthesisJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found in archive", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var record ArchivedRun
	if err := json.Unmarshal([]byte(runJSON), &record.Run); err != nil {
		return nil, fmt.Errorf("corrupt run record %s: %w", id, err)
	}
	if verdictJSON.Valid {
		record.Verdict = &types.QualityVerdict{}
		if err := json.Unmarshal([]byte(verdictJSON.String), record.Verdict); err != nil {
			return nil, fmt.Errorf("corrupt verdict record %s: %w", id, err)
		}
	}
	if synthesisJSON.Valid {
		record.Synthesis = &types.SynthesisResult{}
		if err := json.Unmarshal([]byte(synthesisJSON.String), record.Synthesis); err != nil {
			return nil, fmt.Errorf("corrupt synthesis record %s: %w", id, err)
		}
	}
	return &record, nil
}

// RunSummary is one row of the history listing.
type RunSummary struct {
	ID           string
	Mode         types.RunMode
	Status       types.RunStatus
	StartedAt    time.Time
	OverallScore int
	Readiness    types.Readiness
	HasVerdict   bool
}

// History returns the most recent runs, newest first.
func (a *Archive) History(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`
		SELECT id, mode, status, started_at, overall_score, readiness
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s         RunSummary
			startedAt string
			score     sql.NullInt64
			readiness sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Mode, &s.Status, &startedAt, &score, &readiness); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		s.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if score.Valid {
			s.OverallScore = int(score.Int64)
			s.HasVerdict = true
		}
		if readiness.Valid {
			s.Readiness = types.Readiness(readiness.String)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
