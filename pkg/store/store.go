// Package store archives tracking runs in a SQLite database: run
// statistics, per-round statistics and the resulting fibers.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"gibbstrack/internal/models"
)

// schema.sql creates the runs, run_rounds, run_fibers and run_points tables.
//
//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned for an unknown run ID
var ErrRunNotFound = errors.New("run not found")

// Store is a run archive backed by SQLite
type Store struct {
	*sql.DB
}

// Run is one archived tracking run
type Run struct {
	// ID is assigned by SaveRun when empty
	ID        string
	StartedAt time.Time
	Stats     models.RunStats
	Aborted   bool
	Notes     string

	Rounds []models.RoundStats
	Fibers []models.Polyline
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying run archive schema: %w", err)
	}
	return &Store{db}, nil
}

// SaveRun stores a run with its rounds and fibers in one transaction and
// returns the run ID
func (s *Store) SaveRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st := run.Stats
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, seed, weight, particles, connections, fibers,
			considered, accepted, acceptance_ratio, rounds, duration_ns, aborted, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UnixNano(), st.Seed, st.Weight, st.Particles, st.Connections, st.Fibers,
		st.Considered, st.Accepted, st.AcceptanceRatio, st.Rounds, int64(st.Duration), run.Aborted, run.Notes)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, r := range run.Rounds {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_rounds (run_id, round, temperature, iterations, particles, connections,
				considered, accepted, acceptance_ratio, energy, mean_accepted_delta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, r.Round, r.Temperature, r.Iterations, r.Particles, r.Connections,
			r.Considered, r.Accepted, r.AcceptanceRatio, r.Energy, r.MeanAcceptedDelta)
		if err != nil {
			return "", fmt.Errorf("failed to insert round %d: %w", r.Round, err)
		}
	}

	point, err := tx.PrepareContext(ctx, `INSERT INTO run_points (run_id, fiber, idx, x, y, z) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare point insert: %w", err)
	}
	defer point.Close()

	for i, f := range run.Fibers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_fibers (run_id, fiber, length, particles, quality, closed)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, f.Length, f.Particles, f.Quality, f.Closed)
		if err != nil {
			return "", fmt.Errorf("failed to insert fiber %d: %w", i, err)
		}
		for j, p := range f.Points {
			if _, err := point.ExecContext(ctx, run.ID, i, j, p.X, p.Y, p.Z); err != nil {
				return "", fmt.Errorf("failed to insert point %d of fiber %d: %w", j, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return run.ID, nil
}

// Runs lists archived runs, newest first. Rounds and fibers are not loaded.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT run_id, started_at, seed, weight, particles, connections, fibers,
			considered, accepted, acceptance_ratio, rounds, duration_ns, aborted, notes
		FROM runs ORDER BY started_at DESC, run_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LoadRun returns a run with its rounds and fibers
func (s *Store) LoadRun(ctx context.Context, id string) (Run, error) {
	row := s.QueryRowContext(ctx, `
		SELECT run_id, started_at, seed, weight, particles, connections, fibers,
			considered, accepted, acceptance_ratio, rounds, duration_ns, aborted, notes
		FROM runs WHERE run_id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	if run.Rounds, err = s.rounds(ctx, id); err != nil {
		return Run{}, err
	}
	if run.Fibers, err = s.Fibers(ctx, id); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Fibers returns the fibers of a run in stored order
func (s *Store) Fibers(ctx context.Context, runID string) ([]models.Polyline, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT length, particles, quality, closed FROM run_fibers
		WHERE run_id = ? ORDER BY fiber
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fibers: %w", err)
	}
	var fibers []models.Polyline
	for rows.Next() {
		var f models.Polyline
		if err := rows.Scan(&f.Length, &f.Particles, &f.Quality, &f.Closed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan fiber: %w", err)
		}
		fibers = append(fibers, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	points, err := s.QueryContext(ctx, `
		SELECT fiber, x, y, z FROM run_points
		WHERE run_id = ? ORDER BY fiber, idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer points.Close()
	for points.Next() {
		var i int
		var p r3.Vec
		if err := points.Scan(&i, &p.X, &p.Y, &p.Z); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		if i < 0 || i >= len(fibers) {
			return nil, fmt.Errorf("point references unknown fiber %d", i)
		}
		fibers[i].Points = append(fibers[i].Points, p)
	}
	return fibers, points.Err()
}

// DeleteRun removes a run and everything stored for it
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"run_points", "run_fibers", "run_rounds"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) rounds(ctx context.Context, runID string) ([]models.RoundStats, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT round, temperature, iterations, particles, connections, considered, accepted,
			acceptance_ratio, energy, mean_accepted_delta
		FROM run_rounds WHERE run_id = ? ORDER BY round
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.RoundStats
	for rows.Next() {
		var r models.RoundStats
		if err := rows.Scan(&r.Round, &r.Temperature, &r.Iterations, &r.Particles, &r.Connections,
			&r.Considered, &r.Accepted, &r.AcceptanceRatio, &r.Energy, &r.MeanAcceptedDelta); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var started, duration int64
	st := &run.Stats
	err := row.Scan(&run.ID, &started, &st.Seed, &st.Weight, &st.Particles, &st.Connections, &st.Fibers,
		&st.Considered, &st.Accepted, &st.AcceptanceRatio, &st.Rounds, &duration, &run.Aborted, &run.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return run, err
	}
	if err != nil {
		return run, fmt.Errorf("failed to scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, started)
	st.Duration = time.Duration(duration)
	return run, nil
}
