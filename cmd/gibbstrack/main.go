package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"gibbstrack/internal/models"
	"gibbstrack/pkg/config"
	"gibbstrack/pkg/export"
	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
	"gibbstrack/pkg/params"
	"gibbstrack/pkg/store"
	"gibbstrack/pkg/tracking"
	"gibbstrack/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "gibbstrack.yaml", "YAML configuration file (defaults are used if missing)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	paramsPath := flag.String("params", "", "XML parameter set applied over the configuration")
	saveParams := flag.String("save-params", "", "Write the effective parameter set to this XML file")
	fieldPath := flag.String("field", "", "Orientation field file")
	phantom := flag.String("phantom", "", "Track a synthetic phantom instead of a field file (line, crossing)")
	phantomSize := flag.Int("phantom-size", 20, "Phantom extent in voxels")
	lutPath := flag.String("lut", "", "Direction lookup table (overrides the configuration)")
	iterations := flag.Int64("iterations", 0, "Total proposal budget (overrides the configuration)")
	seed := flag.Int64("seed", -1, "Random seed, negative keeps the configured seed")
	weight := flag.Float64("weight", -1, "Particle weight, 0 calibrates, negative keeps the configured value")
	outputDir := flag.String("output", "", "Output directory (overrides the configuration)")
	dbPath := flag.String("db", "", "SQLite run archive (overrides the configuration)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *dbPath != "" {
		cfg.Output.SQLitePath = *dbPath
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Build the effective tracking parameters: config, XML set, flags
	p := cfg.TrackingParams()
	if *paramsPath != "" {
		loaded, err := params.Load(*paramsPath, p)
		if err != nil {
			logger.Warn("parameter file not loaded, keeping configured parameters", "path", *paramsPath, "error", err)
		} else {
			p = loaded
		}
	}
	if *lutPath != "" {
		p.LUTPath = *lutPath
	}
	if *iterations > 0 {
		p.Iterations = *iterations
	}
	if *seed >= 0 {
		p.Seed = seed
	}
	if *weight >= 0 {
		p.ParticleWeight = *weight
	}
	if *saveParams != "" {
		if err := params.Save(*saveParams, p); err != nil {
			logger.Warn("parameter file not saved", "path", *saveParams, "error", err)
		}
	}

	of, err := loadField(*fieldPath, *phantom, *phantomSize, p.LUTPath)
	if err != nil {
		log.Fatalf("Failed to load orientation field: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("GLOBAL FIBER TRACKING")
	fmt.Println("================================")
	fmt.Printf("Field: %dx%dx%d voxels, %d directions, %d inside the mask\n",
		of.Width, of.Height, of.Depth, of.NumDirections(), len(of.InsideVoxels()))

	om, err := export.NewOutputManager(outputDirFor(cfg))
	if err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	defer om.Close()

	if om != nil && cfg.Output.FieldImages {
		if err := saveFieldImages(of, om.Dir()); err != nil {
			logger.Warn("field images not written", "error", err)
		}
	}

	runID := uuid.New().String()
	logger = logger.With("run_id", runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := tracking.Options{
		Logger: logger,
		OnRound: func(rs models.RoundStats) {
			fmt.Printf("Round %2d  T=%.5f  particles=%d  connections=%d  acceptance=%.3f  energy=%.2f\n",
				rs.Round, rs.Temperature, rs.Particles, rs.Connections, rs.AcceptanceRatio, rs.Energy)
			if err := om.WriteRound(rs); err != nil {
				logger.Warn("round statistics not written", "error", err)
			}
		},
		OnSnapshot: func(round int, fibers []models.Polyline) {
			if err := om.WriteSnapshot(round, fibers); err != nil {
				logger.Warn("snapshot not written", "round", round, "error", err)
			}
		},
	}

	fmt.Println("Starting tracking...")
	startTime := time.Now()
	result, runErr := tracking.Run(ctx, of, p, opts)
	if result == nil {
		log.Fatalf("Tracking failed: %v", runErr)
	}
	if runErr != nil {
		logger.Error("tracking failed, writing partial result", "error", runErr)
	}

	stats := result.Stats
	fmt.Printf("\nTracking %s in %.2f seconds\n", status(result, runErr), time.Since(startTime).Seconds())
	fmt.Printf("- Particles: %d\n", stats.Particles)
	fmt.Printf("- Connections: %d\n", stats.Connections)
	fmt.Printf("- Fibers: %d\n", stats.Fibers)
	fmt.Printf("- Acceptance ratio: %.3f\n", stats.AcceptanceRatio)
	fmt.Printf("- Particle weight: %.4g\n", stats.Weight)
	fmt.Printf("- Seed: %d\n", stats.Seed)

	if err := om.WriteFibers(result.Fibers); err != nil {
		logger.Error("fibers not written", "error", err)
	}
	if err := om.WriteSummary(export.NewSummary(runID, stats, result.Aborted)); err != nil {
		logger.Error("summary not written", "error", err)
	}
	if om != nil {
		fmt.Printf("Results saved to: %s\n", om.Dir())
	}

	if cfg.Output.SQLitePath != "" {
		if err := archive(cfg.Output.SQLitePath, runID, startTime, result); err != nil {
			logger.Error("run not archived", "path", cfg.Output.SQLitePath, "error", err)
		} else {
			fmt.Printf("Run %s archived in %s\n", runID, cfg.Output.SQLitePath)
		}
	}

	if runErr != nil {
		log.Fatalf("Tracking failed: %v", runErr)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// loadField reads a field file or builds a phantom on the lookup table's
// sampling directions
func loadField(path, phantom string, size int, lutPath string) (*field.OrientationField, error) {
	if phantom == "" {
		if path == "" {
			return nil, fmt.Errorf("either -field or -phantom is required")
		}
		return field.Load(path)
	}

	table, err := interpolation.LoadTable(lutPath)
	if err != nil {
		return nil, fmt.Errorf("phantom needs the lookup table directions: %w", err)
	}
	switch phantom {
	case "line":
		return field.StraightLine(size, table.Directions, 8)
	case "crossing":
		return field.Crossing(size, table.Directions, 8)
	default:
		return nil, fmt.Errorf("unknown phantom %q", phantom)
	}
}

// saveFieldImages writes projections of the peak response and the mask so
// the input can be checked before looking at the fibers
func saveFieldImages(of *field.OrientationField, dir string) error {
	if err := visualization.NewViewer(visualization.PeakMap(of)).SaveProjections(dir, "field_peaks"); err != nil {
		return err
	}
	return visualization.NewViewer(visualization.MaskMap(of)).SaveProjections(dir, "field_mask")
}

func outputDirFor(cfg *config.Config) string {
	if !cfg.Output.CSV {
		return ""
	}
	return cfg.Output.Dir
}

func status(result *tracking.Result, err error) string {
	switch {
	case err != nil:
		return "failed"
	case result.Aborted:
		return "aborted"
	default:
		return "completed"
	}
}

func archive(path, runID string, started time.Time, result *tracking.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.SaveRun(context.Background(), store.Run{
		ID:        runID,
		StartedAt: started,
		Stats:     result.Stats,
		Aborted:   result.Aborted,
		Rounds:    result.Rounds,
		Fibers:    result.Fibers,
	})
	return err
}
