package tracking

import (
	"log/slog"
	"math"

	"gibbstrack/pkg/energy"
	"gibbstrack/pkg/field"
	"gibbstrack/pkg/particles"
)

const (
	// MinRounds is the smallest number of outer annealing rounds
	MinRounds = 10

	// MinIterationsPerRound is the smallest inner iteration count per round
	MinIterationsPerRound = 1000
)

// Params holds the tracking parameters. Zero values of the derived fields
// are filled in by Resolve.
type Params struct {
	// Iterations is the total proposal budget of the run
	Iterations int64

	// Rounds is the number of outer rounds the budget is divided into.
	// The temperature is held fixed within a round.
	Rounds int

	// ParticleLength is the particle length L in mm. Zero derives
	// 1.5 x the smallest voxel spacing.
	ParticleLength float64

	// ParticleWidth is the particle width W in mm. Zero derives
	// 0.5 x the smallest voxel spacing.
	ParticleWidth float64

	// ParticleWeight scales the data fit. Zero triggers calibration.
	ParticleWeight float64

	// StartTemperature and EndTemperature bound the annealing schedule
	StartTemperature float64
	EndTemperature   float64

	// Balance weights the external (> 0) against the internal (< 0) energy
	Balance float64

	ConnectionPotential float64
	ChemicalPotential   float64

	// MinFiberLength drops shorter polylines from the output (mm)
	MinFiberLength float64

	// CurvatureThreshold is the largest allowed direction change between
	// connected particles, in degrees
	CurvatureThreshold float64

	// Seed makes a run reproducible. Nil uses a time-based seed.
	Seed *int64

	// LUTPath is the direction lookup table file
	LUTPath string

	// BucketCapacity limits the particles per grid cell
	BucketCapacity int

	// SnapshotEvery builds intermediate fibers every N rounds, 0 disables
	SnapshotEvery int

	Calibration Calibration
}

// DefaultParams returns the default tracking parameters
func DefaultParams() Params {
	return Params{
		Iterations:          10_000_000,
		Rounds:              MinRounds,
		StartTemperature:    0.1,
		EndTemperature:      0.001,
		ConnectionPotential: 1,
		ChemicalPotential:   0.2,
		MinFiberLength:      20,
		CurvatureThreshold:  45,
		BucketCapacity:      particles.DefaultBucketCapacity,
		Calibration:         DefaultCalibration(),
	}
}

// Resolve fills in the derived parameters for the given field and clamps
// out-of-range values, logging a warning for every clamp.
func (p Params) Resolve(of *field.OrientationField, log *slog.Logger) Params {
	if log == nil {
		log = slog.Default()
	}
	spacing := of.MinSpacing()
	if p.ParticleLength <= 0 {
		p.ParticleLength = 1.5 * spacing
	}
	if p.ParticleWidth <= 0 {
		p.ParticleWidth = 0.5 * spacing
	}
	if p.BucketCapacity <= 0 {
		p.BucketCapacity = particles.DefaultBucketCapacity
	}
	if p.StartTemperature <= 0 {
		p.StartTemperature = DefaultParams().StartTemperature
	}
	if p.EndTemperature <= 0 || p.EndTemperature > p.StartTemperature {
		log.Warn("end temperature out of range, using start temperature / 100",
			"end_temperature", p.EndTemperature, "start_temperature", p.StartTemperature)
		p.EndTemperature = p.StartTemperature / 100
	}
	if p.Rounds < MinRounds {
		log.Warn("too few annealing rounds, clamping", "rounds", p.Rounds, "min", MinRounds)
		p.Rounds = MinRounds
	}
	if p.Iterations/int64(p.Rounds) < MinIterationsPerRound {
		clamped := int64(p.Rounds) * MinIterationsPerRound
		log.Warn("iteration budget too small for the number of rounds, clamping",
			"iterations", p.Iterations, "rounds", p.Rounds, "clamped", clamped)
		p.Iterations = clamped
	}
	if p.Calibration == (Calibration{}) {
		p.Calibration = DefaultCalibration()
	}
	return p
}

// IterationsPerRound returns the inner iteration count of one round
func (p Params) IterationsPerRound() int64 {
	if p.Rounds <= 0 {
		return p.Iterations
	}
	return p.Iterations / int64(p.Rounds)
}

// RoundIterations returns the inner iteration count of 0-based round r.
// The last round also runs the remainder of the budget.
func (p Params) RoundIterations(r int) int64 {
	n := p.IterationsPerRound()
	if p.Rounds > 0 && r == p.Rounds-1 {
		n += p.Iterations % int64(p.Rounds)
	}
	return n
}

// CurvatureCos converts the curvature threshold to the cosine bound used
// by the energy model
func (p Params) CurvatureCos() float64 {
	return math.Cos(p.CurvatureThreshold * math.Pi / 180)
}

// Energy returns the energy parameters for weight w
func (p Params) Energy(w float64) energy.Params {
	return energy.Params{
		Weight:              w,
		ConnectionPotential: p.ConnectionPotential,
		ChemicalPotential:   p.ChemicalPotential,
		Balance:             p.Balance,
		CurvatureCos:        p.CurvatureCos(),
	}
}

// newParticleField allocates an empty particle field for the resolved
// parameters. Cells are one particle length wide.
func (p Params) newParticleField(of *field.OrientationField) (*particles.Field, error) {
	return particles.New(of.Bounds(), p.ParticleLength, p.ParticleLength, p.ParticleWidth, p.BucketCapacity)
}

// Schedule returns the steps+1 temperatures of an exponential annealing
// schedule from tStart to tEnd
func Schedule(tStart, tEnd float64, steps int) []float64 {
	if steps <= 0 {
		return []float64{tStart}
	}
	temps := make([]float64, steps+1)
	rate := math.Log(tEnd / tStart)
	for i := range temps {
		temps[i] = tStart * math.Exp(rate*float64(i)/float64(steps))
	}
	return temps
}
