// Package export writes tracking results as CSV files.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"gopkg.in/yaml.v3"

	"gibbstrack/internal/models"
)

// FiberRecord is one row of fibers.csv
type FiberRecord struct {
	Fiber     int     `csv:"fiber"`
	Points    int     `csv:"points"`
	Length    float64 `csv:"length_mm"`
	Particles int     `csv:"particles"`
	Quality   float64 `csv:"quality"`
	Closed    bool    `csv:"closed"`
}

// PointRecord is one vertex of a fiber in points.csv
type PointRecord struct {
	Fiber int     `csv:"fiber"`
	Index int     `csv:"index"`
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Z     float64 `csv:"z"`
}

// Summary is written to summary.yaml at the end of a run
type Summary struct {
	RunID           string  `yaml:"run_id,omitempty"`
	Particles       int     `yaml:"particles"`
	Connections     int     `yaml:"connections"`
	Fibers          int     `yaml:"fibers"`
	Considered      int64   `yaml:"considered"`
	Accepted        int64   `yaml:"accepted"`
	AcceptanceRatio float64 `yaml:"acceptance_ratio"`
	Weight          float64 `yaml:"weight"`
	Seed            int64   `yaml:"seed"`
	Rounds          int     `yaml:"rounds"`
	Aborted         bool    `yaml:"aborted"`
	DurationSeconds float64 `yaml:"duration_seconds"`
}

// NewSummary converts run statistics into a Summary
func NewSummary(runID string, stats models.RunStats, aborted bool) Summary {
	return Summary{
		RunID:           runID,
		Particles:       stats.Particles,
		Connections:     stats.Connections,
		Fibers:          stats.Fibers,
		Considered:      stats.Considered,
		Accepted:        stats.Accepted,
		AcceptanceRatio: stats.AcceptanceRatio,
		Weight:          stats.Weight,
		Seed:            stats.Seed,
		Rounds:          stats.Rounds,
		Aborted:         aborted,
		DurationSeconds: stats.Duration.Seconds(),
	}
}

// FiberRecords flattens fibers into per-fiber and per-point rows
func FiberRecords(fibers []models.Polyline) ([]FiberRecord, []PointRecord) {
	lines := make([]FiberRecord, 0, len(fibers))
	var points []PointRecord
	for i, f := range fibers {
		lines = append(lines, FiberRecord{
			Fiber:     i,
			Points:    len(f.Points),
			Length:    f.Length,
			Particles: f.Particles,
			Quality:   f.Quality,
			Closed:    f.Closed,
		})
		for j, p := range f.Points {
			points = append(points, PointRecord{Fiber: i, Index: j, X: p.X, Y: p.Y, Z: p.Z})
		}
	}
	return lines, points
}

// OutputManager handles run output: round statistics are streamed to
// rounds.csv while the run progresses, fibers and the summary are written
// once at the end.
type OutputManager struct {
	dir        string
	roundsFile *os.File

	// Track if headers have been written
	roundsHeaderWritten bool
}

// NewOutputManager creates the output directory and opens rounds.csv.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "rounds.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating rounds.csv: %w", err)
	}
	return &OutputManager{dir: dir, roundsFile: f}, nil
}

// WriteRound appends one round to rounds.csv
func (om *OutputManager) WriteRound(rs models.RoundStats) error {
	if om == nil {
		return nil
	}

	records := []models.RoundStats{rs}

	if !om.roundsHeaderWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, om.roundsFile); err != nil {
			return fmt.Errorf("writing round: %w", err)
		}
		om.roundsHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.roundsFile); err != nil {
			return fmt.Errorf("writing round: %w", err)
		}
	}
	return nil
}

// WriteFibers writes fibers.csv and points.csv
func (om *OutputManager) WriteFibers(fibers []models.Polyline) error {
	if om == nil {
		return nil
	}
	return writeFibers(om.dir, "", fibers)
}

// WriteSnapshot writes intermediate fibers of a round into snapshots/
func (om *OutputManager) WriteSnapshot(round int, fibers []models.Polyline) error {
	if om == nil {
		return nil
	}
	dir := filepath.Join(om.dir, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	return writeFibers(dir, fmt.Sprintf("round_%03d_", round), fibers)
}

// WriteSummary saves the run summary as YAML
func (om *OutputManager) WriteSummary(s Summary) error {
	if om == nil {
		return nil
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(om.dir, "summary.yaml"), data, 0644); err != nil {
		return fmt.Errorf("writing summary.yaml: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes rounds.csv
func (om *OutputManager) Close() error {
	if om == nil || om.roundsFile == nil {
		return nil
	}
	return om.roundsFile.Close()
}

func writeFibers(dir, prefix string, fibers []models.Polyline) error {
	lines, points := FiberRecords(fibers)
	if err := writeCSV(filepath.Join(dir, prefix+"fibers.csv"), &lines); err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, prefix+"points.csv"), &points)
}

func writeCSV(path string, records interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if err := gocsv.MarshalFile(records, f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
