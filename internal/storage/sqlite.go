package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/embedsim/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite. Chunk rows of the active run are written
// inside one transaction that FinishRun commits.
type SQLiteCatalog struct {
	db *sql.DB

	mu        sync.Mutex
	activeRun string
	tx        *sql.Tx
	insert    *sql.Stmt
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &models.IOError{Op: "create catalog directory", Path: dir, Err: err}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		input TEXT NOT NULL,
		fingerprint TEXT,
		seed TEXT NOT NULL,
		sample_size INTEGER NOT NULL,
		dimension INTEGER NOT NULL,
		tracks_total INTEGER NOT NULL,
		tracks_sampled INTEGER NOT NULL,
		intra_path TEXT NOT NULL,
		inter_path TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'create',
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		superseded_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS chunks (
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		track_i INTEGER NOT NULL,
		track_j INTEGER NOT NULL,
		track_a TEXT NOT NULL,
		track_b TEXT NOT NULL,
		byte_offset INTEGER NOT NULL,
		value_count INTEGER NOT NULL,
		PRIMARY KEY (run_id, track_i, track_j),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_run_kind ON chunks(run_id, kind, ordinal);
	CREATE INDEX IF NOT EXISTS idx_chunks_run_tracks ON chunks(run_id, track_a, track_b);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	// Catalogs created before runs tracked their stream mode.
	if err := addColumn(db, "runs", "mode", "TEXT NOT NULL DEFAULT 'create'"); err != nil {
		return err
	}
	return addColumn(db, "runs", "superseded_by", "TEXT")
}

func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// BeginRun inserts the run row and opens the transaction that collects its chunks.
// A create-mode run truncates its streams, so earlier runs writing to either path are
// marked superseded by it.
func (s *SQLiteCatalog) BeginRun(ctx context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fmt.Errorf("run %s still active", s.activeRun)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = models.RunRunning

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, input, fingerprint, seed, sample_size, dimension, tracks_total,
		 tracks_sampled, intra_path, inter_path, mode, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Input, run.Fingerprint, strconv.FormatUint(run.Seed, 10), run.SampleSize, run.Dimension,
		run.TracksTotal, run.TracksSampled, run.IntraPath, run.InterPath, run.Mode.String(), string(run.Status), run.StartedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if run.Mode == ModeCreate {
		_, err = tx.ExecContext(ctx,
			`UPDATE runs SET superseded_by = ?
			 WHERE id != ? AND superseded_by IS NULL
			 AND (intra_path IN (?, ?) OR inter_path IN (?, ?))`,
			run.ID, run.ID, run.IntraPath, run.InterPath, run.IntraPath, run.InterPath,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("supersede runs: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	// database/sql rolls a transaction back when its context ends; chunks of an
	// interrupted run must survive until FinishRun commits them.
	tx, err = s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin chunk transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (run_id, kind, ordinal, track_i, track_j, track_a, track_b, byte_offset, value_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	s.activeRun, s.tx, s.insert = run.ID, tx, stmt
	return nil
}

// RecordChunk adds a chunk row to the active run.
func (s *SQLiteCatalog) RecordChunk(ctx context.Context, runID string, ref ChunkRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil || s.activeRun != runID {
		return fmt.Errorf("run %s is not active", runID)
	}
	_, err := s.insert.ExecContext(ctx, runID, ref.Kind.String(), ref.Ordinal, ref.I, ref.J,
		ref.TrackA, ref.TrackB, ref.Offset, ref.Count)
	return err
}

// FinishRun commits the chunks recorded so far and stores the final status.
// Chunks of aborted runs are kept: they describe a valid prefix of the streams.
func (s *SQLiteCatalog) FinishRun(ctx context.Context, runID string, status models.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil && s.activeRun == runID {
		_ = s.insert.Close()
		err := s.tx.Commit()
		s.activeRun, s.tx, s.insert = "", nil, nil
		if err != nil {
			return fmt.Errorf("commit chunks: %w", err)
		}
	}
	// The run context may already be cancelled; the final status must still be written.
	result, err := s.db.ExecContext(context.WithoutCancel(ctx),
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now(), runID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, input, fingerprint, seed, sample_size, dimension, tracks_total, tracks_sampled,
	intra_path, inter_path, mode, status, started_at, finished_at, superseded_by`

func scanRun(row interface{ Scan(...any) error }) (*RunRecord, error) {
	var (
		run        RunRecord
		seed       string
		mode       string
		status     string
		finished   sql.NullTime
		superseded sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Input, &run.Fingerprint, &seed, &run.SampleSize, &run.Dimension,
		&run.TracksTotal, &run.TracksSampled, &run.IntraPath, &run.InterPath, &mode, &status, &run.StartedAt,
		&finished, &superseded); err != nil {
		return nil, err
	}
	v, err := strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad seed %q: %w", seed, err)
	}
	run.Seed = v
	if run.Mode, err = ParseOpenMode(mode); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.SupersededBy = superseded.String
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// GetRun returns a run by ID.
func (s *SQLiteCatalog) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (s *SQLiteCatalog) LatestRun(ctx context.Context) (*RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no runs recorded: %w", ErrNotFound)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *SQLiteCatalog) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanChunk(row interface{ Scan(...any) error }) (*ChunkRef, error) {
	var (
		ref  ChunkRef
		kind string
	)
	if err := row.Scan(&kind, &ref.Ordinal, &ref.I, &ref.J, &ref.TrackA, &ref.TrackB, &ref.Offset, &ref.Count); err != nil {
		return nil, err
	}
	k, err := models.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	ref.Kind = k
	return &ref, nil
}

// ListChunks returns the run's chunks of one kind in stream order.
func (s *SQLiteCatalog) ListChunks(ctx context.Context, runID string, kind models.Kind) ([]ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, ordinal, track_i, track_j, track_a, track_b, byte_offset, value_count
		 FROM chunks WHERE run_id = ? AND kind = ? ORDER BY ordinal`,
		runID, kind.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []ChunkRef
	for rows.Next() {
		ref, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, *ref)
	}
	return refs, rows.Err()
}

// LookupChunk finds the chunk for a track pair in either order; trackA == trackB finds the intra chunk.
func (s *SQLiteCatalog) LookupChunk(ctx context.Context, runID, trackA, trackB string) (*ChunkRef, error) {
	ref, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT kind, ordinal, track_i, track_j, track_a, track_b, byte_offset, value_count
		 FROM chunks WHERE run_id = ? AND ((track_a = ? AND track_b = ?) OR (track_a = ? AND track_b = ?))`,
		runID, trackA, trackB, trackB, trackA,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s/%s: %w", trackA, trackB, ErrNotFound)
	}
	return ref, err
}

// Close rolls back any unfinished run transaction and closes the database.
func (s *SQLiteCatalog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		_ = s.insert.Close()
		_ = s.tx.Rollback()
		s.activeRun, s.tx, s.insert = "", nil, nil
	}
	return s.db.Close()
}
