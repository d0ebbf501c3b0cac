package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"gibbstrack/internal/models"
)

func testFibers() []models.Polyline {
	return []models.Polyline{
		{
			Points:    []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 2.5, Y: 2, Z: 3}, {X: 4, Y: 2, Z: 3}},
			Length:    3,
			Particles: 2,
			Quality:   0.75,
		},
		{
			Points:    []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 0}},
			Length:    2 + 1.4142135623730951,
			Particles: 3,
			Quality:   0.5,
			Closed:    true,
		},
	}
}

func readCSV[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []T
	require.NoError(t, gocsv.UnmarshalFile(f, &out))
	return out
}

func TestNilManagerIsNoop(t *testing.T) {
	om, err := NewOutputManager("")
	require.NoError(t, err)
	assert.Nil(t, om)
	assert.NoError(t, om.WriteRound(models.RoundStats{}))
	assert.NoError(t, om.WriteFibers(testFibers()))
	assert.NoError(t, om.WriteSummary(Summary{}))
	assert.Empty(t, om.Dir())
	assert.NoError(t, om.Close())
}

func TestWriteRounds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	om, err := NewOutputManager(dir)
	require.NoError(t, err)

	rounds := []models.RoundStats{
		{Round: 1, Temperature: 0.1, Iterations: 1000, Particles: 40, Considered: 1000, Accepted: 300, AcceptanceRatio: 0.3, Energy: -12.5},
		{Round: 2, Temperature: 0.05, Iterations: 1000, Particles: 55, Connections: 10, Considered: 1000, Accepted: 200, AcceptanceRatio: 0.2, Energy: -20, MeanAcceptedDelta: -0.04},
	}
	for _, rs := range rounds {
		require.NoError(t, om.WriteRound(rs))
	}
	require.NoError(t, om.Close())

	data, err := os.ReadFile(filepath.Join(dir, "rounds.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "round,temperature"))

	got := readCSV[models.RoundStats](t, filepath.Join(dir, "rounds.csv"))
	assert.Empty(t, cmp.Diff(rounds, got))
}

func TestWriteFibersAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	require.NoError(t, err)
	defer om.Close()

	fibers := testFibers()
	require.NoError(t, om.WriteFibers(fibers))
	require.NoError(t, om.WriteSnapshot(5, fibers[:1]))

	lines := readCSV[FiberRecord](t, filepath.Join(dir, "fibers.csv"))
	require.Len(t, lines, 2)
	assert.Equal(t, FiberRecord{Fiber: 1, Points: 4, Length: fibers[1].Length, Particles: 3, Quality: 0.5, Closed: true}, lines[1])

	points := readCSV[PointRecord](t, filepath.Join(dir, "points.csv"))
	require.Len(t, points, 7)
	assert.Equal(t, PointRecord{Fiber: 0, Index: 1, X: 2.5, Y: 2, Z: 3}, points[1])
	assert.Equal(t, 1, points[3].Fiber)

	snap := readCSV[FiberRecord](t, filepath.Join(dir, "snapshots", "round_005_fibers.csv"))
	require.Len(t, snap, 1)
	assert.Equal(t, 2, snap[0].Particles)
}

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	require.NoError(t, err)
	defer om.Close()

	stats := models.RunStats{Particles: 10, Connections: 6, Fibers: 2, Considered: 100, Accepted: 40,
		AcceptanceRatio: 0.4, Weight: 0.2, Seed: 7, Rounds: 10, Duration: 1500 * time.Millisecond}
	want := NewSummary("run-1", stats, true)
	require.NoError(t, om.WriteSummary(want))

	data, err := os.ReadFile(filepath.Join(dir, "summary.yaml"))
	require.NoError(t, err)
	var got Summary
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, want, got)
	assert.Equal(t, 1.5, got.DurationSeconds)
}
