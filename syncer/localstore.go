package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/code-cortex/codemirror/models"
)

// LocalRun is one offline analysis run cached on the CLI side, queued for
// upload until synced.
type LocalRun struct {
	CLIAnalysisID string
	RepoPath      string
	SyncToken     string
	Result        models.JSONMap
	AnalyzedAt    time.Time
	Synced        bool
}

// LocalStore is the CLI client's offline cache of analysis runs, kept in a
// plain sqlite file under the user's cache directory.
type LocalStore struct {
	db *sql.DB
}

// OpenLocalStore opens (or creates) the offline cache. An empty dir
// defaults to ~/.cache/codemirror.
func OpenLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".cache", "codemirror")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "cli.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	store := &LocalStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *LocalStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS local_runs (
		cli_analysis_id TEXT PRIMARY KEY,
		repo_path       TEXT NOT NULL,
		sync_token      TEXT NOT NULL,
		result          TEXT NOT NULL,
		analyzed_at     TIMESTAMP NOT NULL,
		synced          INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_local_runs_repo ON local_runs(repo_path, analyzed_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize local store schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// SaveRun stores one analysis run and prunes older runs for the same repo
// beyond keepRuns.
func (s *LocalStore) SaveRun(ctx context.Context, run LocalRun, keepRuns int) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO local_runs
		(cli_analysis_id, repo_path, sync_token, result, analyzed_at, synced)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.CLIAnalysisID, run.RepoPath, run.SyncToken, string(result), run.AnalyzedAt, run.Synced)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if keepRuns > 0 {
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM local_runs WHERE repo_path = ? AND cli_analysis_id NOT IN (
				SELECT cli_analysis_id FROM local_runs
				WHERE repo_path = ? ORDER BY analyzed_at DESC LIMIT ?
			)`, run.RepoPath, run.RepoPath, keepRuns)
		if err != nil {
			return fmt.Errorf("failed to prune runs: %w", err)
		}
	}
	return nil
}

// MarkSynced flags a run as uploaded.
func (s *LocalStore) MarkSynced(ctx context.Context, cliAnalysisID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE local_runs SET synced = 1 WHERE cli_analysis_id = ?`, cliAnalysisID); err != nil {
		return fmt.Errorf("failed to mark run synced: %w", err)
	}
	return nil
}

// PendingRuns returns unsynced runs, oldest first.
func (s *LocalStore) PendingRuns(ctx context.Context) ([]LocalRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cli_analysis_id, repo_path, sync_token, result, analyzed_at, synced
		FROM local_runs WHERE synced = 0 ORDER BY analyzed_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// LatestRun returns the most recent run for a repository path.
func (s *LocalStore) LatestRun(ctx context.Context, repoPath string) (*LocalRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cli_analysis_id, repo_path, sync_token, result, analyzed_at, synced
		FROM local_runs WHERE repo_path = ? ORDER BY analyzed_at DESC LIMIT 1`, repoPath)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*LocalRun, error) {
	var run LocalRun
	var result string
	var synced int
	if err := row.Scan(&run.CLIAnalysisID, &run.RepoPath, &run.SyncToken, &result, &run.AnalyzedAt, &synced); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(result), &run.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run result: %w", err)
	}
	run.Synced = synced != 0
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]LocalRun, error) {
	var runs []LocalRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
