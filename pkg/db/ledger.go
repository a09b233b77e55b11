package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run status values.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusFailed  = "failed"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	project     TEXT NOT NULL,
	stage       TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	status      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS genome_results (
	run_id    TEXT NOT NULL REFERENCES runs(run_id),
	accession TEXT NOT NULL,
	genus     TEXT NOT NULL,
	species   TEXT NOT NULL DEFAULT '',
	hits      INTEGER NOT NULL DEFAULT 0,
	joined    INTEGER NOT NULL DEFAULT 0,
	dedup     INTEGER NOT NULL DEFAULT 0,
	dropped   INTEGER NOT NULL DEFAULT 0,
	status    TEXT NOT NULL,
	message   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, accession)
);
`

// Ledger records pipeline runs and per-genome outcomes in SQLite.
type Ledger struct {
	db *sql.DB
}

// GenomeResult is one row of genome_results.
type GenomeResult struct {
	RunID     string
	Accession string
	Genus     string
	Species   string
	Hits      int
	Joined    int
	Dedup     int
	Dropped   int
	Status    string
	Message   string
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// Single writer, sequential pipeline
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun inserts a running row for runID.
func (l *Ledger) StartRun(ctx context.Context, runID, project, stage string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, project, stage, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		runID, project, stage, time.Now().UTC(), StatusRunning)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordGenome upserts the outcome of one genome.
func (l *Ledger) RecordGenome(ctx context.Context, r GenomeResult) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO genome_results (run_id, accession, genus, species, hits, joined, dedup, dropped, status, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, accession) DO UPDATE SET
			species = excluded.species, hits = excluded.hits, joined = excluded.joined,
			dedup = excluded.dedup, dropped = excluded.dropped,
			status = excluded.status, message = excluded.message`,
		r.RunID, r.Accession, r.Genus, r.Species, r.Hits, r.Joined, r.Dedup, r.Dropped, r.Status, r.Message)
	if err != nil {
		return fmt.Errorf("record genome %s: %w", r.Accession, err)
	}
	return nil
}

// FinishRun stamps the end time and final status.
func (l *Ledger) FinishRun(ctx context.Context, runID, status string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ? WHERE run_id = ?`,
		time.Now().UTC(), status, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RunStatus returns the recorded status of runID.
func (l *Ledger) RunStatus(ctx context.Context, runID string) (string, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return status, err
}

// GenomeResults lists the genomes of a run ordered by genus, accession.
func (l *Ledger) GenomeResults(ctx context.Context, runID string) ([]GenomeResult, error) {

	qstring := `
		SELECT run_id, accession, genus, species, hits, joined, dedup, dropped, status, message
		FROM genome_results WHERE run_id = ? ORDER BY genus, accession`

	stm, err := l.db.PrepareContext(ctx, qstring)
	if err != nil {
		return nil, err
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []GenomeResult
	for rows.Next() {
		var r GenomeResult
		if err := rows.Scan(&r.RunID, &r.Accession, &r.Genus, &r.Species,
			&r.Hits, &r.Joined, &r.Dedup, &r.Dropped, &r.Status, &r.Message); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
