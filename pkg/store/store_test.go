package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun() Run {
	return Run{
		StartedAt: time.Unix(1700000000, 0),
		Stats: models.RunStats{Particles: 12, Connections: 9, Fibers: 2, Considered: 20000, Accepted: 5000,
			AcceptanceRatio: 0.25, Weight: 0.2, Seed: 42, Rounds: 2, Duration: 3 * time.Second},
		Notes: "line phantom",
		Rounds: []models.RoundStats{
			{Round: 1, Temperature: 0.1, Iterations: 10000, Particles: 10, Considered: 10000, Accepted: 3000, AcceptanceRatio: 0.3, Energy: -4},
			{Round: 2, Temperature: 0.001, Iterations: 10000, Particles: 12, Connections: 9, Considered: 10000, Accepted: 2000, AcceptanceRatio: 0.2, Energy: -9, MeanAcceptedDelta: -0.0025},
		},
		Fibers: []models.Polyline{
			{Points: []r3.Vec{{X: 1, Y: 1.5, Z: 1.5}, {X: 2, Y: 1.5, Z: 1.5}, {X: 3.5, Y: 1.5, Z: 1.5}}, Length: 2.5, Particles: 2, Quality: 0.9},
			{Points: []r3.Vec{{X: 5, Y: 5, Z: 1}, {X: 6, Y: 5, Z: 1}, {X: 6, Y: 6, Z: 1}, {X: 5, Y: 5, Z: 1}}, Length: 3.414, Particles: 3, Quality: 0.4, Closed: true},
		},
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := testRun()
	id, err := s.SaveRun(ctx, run)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	got, err := s.LoadRun(ctx, id)
	require.NoError(t, err)
	run.ID = id
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	got.StartedAt = run.StartedAt
	assert.Empty(t, cmp.Diff(run, got))
}

func TestRunsListing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := testRun()
	older.ID = "older"
	newer := testRun()
	newer.ID = "newer"
	newer.StartedAt = older.StartedAt.Add(time.Hour)
	newer.Aborted = true

	for _, r := range []Run{older, newer} {
		_, err := s.SaveRun(ctx, r)
		require.NoError(t, err)
	}
	_, err := s.SaveRun(ctx, older)
	assert.Error(t, err, "duplicate run ID")

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].ID)
	assert.True(t, runs[0].Aborted)
	assert.Equal(t, "older", runs[1].ID)
	assert.Empty(t, runs[1].Fibers)
	assert.Equal(t, 3*time.Second, runs[1].Stats.Duration)
}

func TestDeleteRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRun(ctx, testRun())
	require.NoError(t, err)
	require.NoError(t, s.DeleteRun(ctx, id))

	_, err = s.LoadRun(ctx, id)
	assert.ErrorIs(t, err, ErrRunNotFound)
	fibers, err := s.Fibers(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, fibers)

	assert.ErrorIs(t, s.DeleteRun(ctx, id), ErrRunNotFound)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.SaveRun(context.Background(), testRun())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	run, err := s.LoadRun(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, run.Fibers, 2)
	assert.Len(t, run.Rounds, 2)
}
