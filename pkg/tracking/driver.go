// Package tracking runs global fiber tracking: it anneals a particle field
// against an orientation field with the Metropolis sampler and turns the
// resulting connection graph into fibers.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"gibbstrack/internal/models"
	"gibbstrack/pkg/energy"
	"gibbstrack/pkg/fiber"
	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
	"gibbstrack/pkg/particles"
	"gibbstrack/pkg/sampler"
)

var (
	// ErrLookupTable is returned when the direction lookup table is missing,
	// corrupt or does not match the orientation field
	ErrLookupTable = errors.New("direction lookup table unusable")

	// ErrDriverUsed is returned by a second call to Run
	ErrDriverUsed = errors.New("tracking driver already used")

	// ErrNotRunning is returned by Snapshot once the run has ended
	ErrNotRunning = errors.New("tracking run not active")
)

// Options hooks into a run. All callbacks are invoked from the sampling
// goroutine and must not block.
type Options struct {
	Logger *slog.Logger

	// Trace receives every sampler outcome
	Trace func(sampler.Outcome)

	// OnRound receives the statistics of every finished round
	OnRound func(models.RoundStats)

	// OnSnapshot receives the fibers built every Params.SnapshotEvery rounds
	OnSnapshot func(round int, fibers []models.Polyline)
}

// Result is the outcome of a run
type Result struct {
	Fibers []models.Polyline
	Stats  models.RunStats
	Rounds []models.RoundStats

	// Aborted is set when the run stopped before its budget was spent
	Aborted bool

	// Field is the final particle field, nil when the run failed before
	// allocating it
	Field *particles.Field
}

// Progress is a point-in-time view of a running driver
type Progress struct {
	Round           int
	Rounds          int
	Temperature     float64
	Particles       int
	Connections     int
	Considered      int64
	Accepted        int64
	AcceptanceRatio float64
}

// Driver runs one tracking job. Abort, Snapshot and Progress may be called
// from other goroutines while Run is active.
type Driver struct {
	params Params
	opts   Options
	log    *slog.Logger

	started atomic.Bool
	abort   atomic.Bool
	done    chan struct{}

	// snapshot handoff
	snapReq chan chan []models.Polyline
	pending atomic.Int32

	round       atomic.Int64
	rounds      atomic.Int64
	temperature atomic.Uint64
	particles   atomic.Int64
	connections atomic.Int64
	considered  atomic.Int64
	accepted    atomic.Int64
}

// NewDriver creates a driver for one run with the given parameters
func NewDriver(params Params, opts Options) *Driver {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		params:  params,
		opts:    opts,
		log:     log.With("component", "tracking"),
		done:    make(chan struct{}),
		snapReq: make(chan chan []models.Polyline),
	}
}

// Abort asks the run to stop at the next iteration. The run still builds
// fibers from the particles it has.
func (d *Driver) Abort() {
	d.abort.Store(true)
}

// Aborted reports whether Abort was called
func (d *Driver) Aborted() bool {
	return d.abort.Load()
}

// Progress returns the current progress counters
func (d *Driver) Progress() Progress {
	p := Progress{
		Round:       int(d.round.Load()),
		Rounds:      int(d.rounds.Load()),
		Temperature: math.Float64frombits(d.temperature.Load()),
		Particles:   int(d.particles.Load()),
		Connections: int(d.connections.Load()),
		Considered:  d.considered.Load(),
		Accepted:    d.accepted.Load(),
	}
	if p.Considered > 0 {
		p.AcceptanceRatio = float64(p.Accepted) / float64(p.Considered)
	}
	return p
}

// Snapshot returns the fibers of the current particle field. The request
// is served by the sampling goroutine between two proposals, so the field
// is stable while it is read. Requests made before the sampling loop has
// started wait for it.
func (d *Driver) Snapshot(ctx context.Context) ([]models.Polyline, error) {
	reply := make(chan []models.Polyline, 1)
	d.pending.Add(1)
	select {
	case d.snapReq <- reply:
	case <-d.done:
		d.pending.Add(-1)
		return nil, ErrNotRunning
	case <-ctx.Done():
		d.pending.Add(-1)
		return nil, ctx.Err()
	}

	select {
	case lines := <-reply:
		return lines, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// serveSnapshots answers pending snapshot requests without blocking
func (d *Driver) serveSnapshots(pf *particles.Field, minLength float64) {
	for d.pending.Load() > 0 {
		select {
		case reply := <-d.snapReq:
			d.pending.Add(-1)
			reply <- fiber.Build(pf, minLength)
		default:
			return
		}
	}
}

// Run tracks fibers in the orientation field. A Driver runs only once.
//
// Fatal errors (lookup table, grid allocation, bucket overflow) are
// returned together with a best-effort Result built from whatever field
// state exists.
func (d *Driver) Run(ctx context.Context, of *field.OrientationField) (*Result, error) {
	if !d.started.CompareAndSwap(false, true) {
		return nil, ErrDriverUsed
	}
	defer close(d.done)

	if ctx.Err() != nil {
		d.Abort()
	}
	stop := context.AfterFunc(ctx, d.Abort)
	defer stop()

	start := time.Now()
	result := &Result{}

	// Step 1: Load the direction lookup table
	interp := interpolation.NewDirectionInterpolator(d.params.LUTPath)
	if !interp.Valid() {
		return result, fmt.Errorf("%w: %v", ErrLookupTable, interp.Err())
	}
	if n := len(interp.Directions()); n != of.NumDirections() {
		return result, fmt.Errorf("%w: table has %d directions, field has %d", ErrLookupTable, n, of.NumDirections())
	}

	// Step 2: Derive parameters from the field geometry
	p := d.params.Resolve(of, d.log)
	seed := time.Now().UnixNano()
	if p.Seed != nil {
		seed = *p.Seed
	}
	result.Stats.Seed = seed
	d.rounds.Store(int64(p.Rounds))
	d.log.Info("tracking started",
		"particle_length", p.ParticleLength, "particle_width", p.ParticleWidth,
		"iterations", p.Iterations, "rounds", p.Rounds, "seed", seed,
		"mask_voxels", len(of.InsideVoxels()))

	// Step 3: Allocate the particle grid
	pf, err := p.newParticleField(of)
	if err != nil {
		return result, fmt.Errorf("allocating particle grid: %w", err)
	}
	result.Field = pf

	// Step 4: Calibrate the particle weight when unset
	weight := p.ParticleWeight
	if weight <= 0 {
		cal, err := estimateWeight(ctx, of, interp, p, seed, d.log, d.abort.Load)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return result, fmt.Errorf("calibrating particle weight: %w", err)
		}
		weight = cal.Weight
		d.log.Info("particle weight calibrated", "weight", weight,
			"bursts", cal.Iterations, "particles", cal.Particles)
	}
	result.Stats.Weight = weight

	// Step 5: Anneal
	model, err := energy.New(of, interp, pf, p.Energy(weight))
	if err != nil {
		return result, err
	}
	s, err := sampler.New(model, rand.New(rand.NewSource(seed)), sampler.Options{Trace: d.opts.Trace, Logger: d.log})
	if err != nil {
		return result, err
	}

	runErr := d.anneal(s, pf, p, result)
	s.Stop()

	// Step 6: Build fibers from the final state
	result.Fibers = fiber.Build(pf, p.MinFiberLength)
	result.Aborted = d.abort.Load()

	stats := s.Stats()
	result.Stats.Particles = pf.NumParticles()
	result.Stats.Connections = pf.NumConnections()
	result.Stats.Fibers = len(result.Fibers)
	result.Stats.Considered = stats.Considered
	result.Stats.Accepted = stats.Accepted
	result.Stats.AcceptanceRatio = stats.AcceptanceRatio()
	result.Stats.Rounds = len(result.Rounds)
	result.Stats.Duration = time.Since(start)

	d.log.Info("tracking finished",
		"particles", result.Stats.Particles, "connections", result.Stats.Connections,
		"fibers", result.Stats.Fibers, "acceptance", result.Stats.AcceptanceRatio,
		"aborted", result.Aborted, "duration", result.Stats.Duration)

	if runErr != nil {
		return result, fmt.Errorf("sampling: %w", runErr)
	}
	return result, nil
}

// anneal runs the outer rounds, appending round statistics to result
func (d *Driver) anneal(s *sampler.Sampler, pf *particles.Field, p Params, result *Result) error {
	temps := Schedule(p.StartTemperature, p.EndTemperature, p.Rounds-1)
	for r, temp := range temps {
		perRound := p.RoundIterations(r)
		if d.abort.Load() {
			return nil
		}
		d.round.Store(int64(r + 1))
		d.temperature.Store(math.Float64bits(temp))

		before := s.Stats()
		var iterations int64
		var err error
		for ; iterations < perRound; iterations++ {
			if d.abort.Load() {
				break
			}
			if d.pending.Load() > 0 {
				d.serveSnapshots(pf, p.MinFiberLength)
			}
			if _, err = s.Step(temp); err != nil {
				break
			}
			if iterations%4096 == 0 {
				d.publish(s, pf)
			}
		}
		d.publish(s, pf)

		after := s.Stats()
		rs := models.RoundStats{
			Round:       r + 1,
			Temperature: temp,
			Iterations:  iterations,
			Particles:   pf.NumParticles(),
			Connections: pf.NumConnections(),
			Considered:  after.Considered - before.Considered,
			Accepted:    after.Accepted - before.Accepted,
			Energy:      s.Energy(),
		}
		if rs.Considered > 0 {
			rs.AcceptanceRatio = float64(rs.Accepted) / float64(rs.Considered)
		}
		if rs.Accepted > 0 {
			rs.MeanAcceptedDelta = (after.AcceptedDelta - before.AcceptedDelta) / float64(rs.Accepted)
		}
		result.Rounds = append(result.Rounds, rs)
		d.log.Debug("round finished", "round", rs.Round, "temperature", temp,
			"particles", rs.Particles, "connections", rs.Connections, "acceptance", rs.AcceptanceRatio)

		if d.opts.OnRound != nil {
			d.opts.OnRound(rs)
		}
		if err != nil {
			return err
		}
		if p.SnapshotEvery > 0 && (r+1)%p.SnapshotEvery == 0 && d.opts.OnSnapshot != nil {
			d.opts.OnSnapshot(r+1, fiber.Build(pf, p.MinFiberLength))
		}
	}
	return nil
}

func (d *Driver) publish(s *sampler.Sampler, pf *particles.Field) {
	stats := s.Stats()
	d.particles.Store(int64(pf.NumParticles()))
	d.connections.Store(int64(pf.NumConnections()))
	d.considered.Store(stats.Considered)
	d.accepted.Store(stats.Accepted)
}

// Run is a convenience wrapper running a fresh Driver
func Run(ctx context.Context, of *field.OrientationField, params Params, opts Options) (*Result, error) {
	return NewDriver(params, opts).Run(ctx, of)
}
