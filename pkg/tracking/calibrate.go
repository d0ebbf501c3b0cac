package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gibbstrack/pkg/energy"
	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
	"gibbstrack/pkg/particles"
	"gibbstrack/pkg/sampler"
)

// Calibration thresholds. They are heuristics without a derivation and can
// be overridden per run through Params.Calibration.
const (
	CalibrationTarget          = 3000
	CalibrationSwitch          = 1000
	CalibrationMaxIterations   = 20
	CalibrationBurstIterations = 100_000
	CalibrationInitialWeight   = 1.0
)

// Calibration configures the particle weight search
type Calibration struct {
	// Target is the particle count a burst has to reach
	Target int

	// Switch is the count below which the weight is halved instead of
	// scaled proportionally
	Switch int

	// MaxIterations caps the number of bursts
	MaxIterations int

	// BurstIterations is the proposal count of one burst
	BurstIterations int64

	InitialWeight float64
}

// DefaultCalibration returns the default calibration thresholds
func DefaultCalibration() Calibration {
	return Calibration{
		Target:          CalibrationTarget,
		Switch:          CalibrationSwitch,
		MaxIterations:   CalibrationMaxIterations,
		BurstIterations: CalibrationBurstIterations,
		InitialWeight:   CalibrationInitialWeight,
	}
}

// CalibrationResult reports the outcome of EstimateWeight
type CalibrationResult struct {
	// Weight is always positive
	Weight float64

	// Iterations is the number of bursts run
	Iterations int

	// Particles is the particle count of the last burst
	Particles int
}

// EstimateWeight searches a particle weight for which a short burst at the
// start temperature grows roughly Target particles. Every burst starts from
// an empty field with its own seed derived from seed. p must be resolved.
//
// A burst that overflows a grid bucket ends the search with the current
// weight. The search stops early when ctx is cancelled.
func EstimateWeight(ctx context.Context, of *field.OrientationField, interp *interpolation.DirectionInterpolator,
	p Params, seed int64, log *slog.Logger) (CalibrationResult, error) {
	return estimateWeight(ctx, of, interp, p, seed, log, func() bool { return false })
}

func estimateWeight(ctx context.Context, of *field.OrientationField, interp *interpolation.DirectionInterpolator,
	p Params, seed int64, log *slog.Logger, stop func() bool) (CalibrationResult, error) {
	if log == nil {
		log = slog.Default()
	}
	cal := p.Calibration
	w := cal.InitialWeight
	if !(w > 0) || math.IsInf(w, 0) {
		w = CalibrationInitialWeight
	}
	res := CalibrationResult{Weight: w}

	for i := 0; i < cal.MaxIterations; i++ {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if stop() {
			return res, nil
		}

		n, err := burst(of, interp, p, w, cal.BurstIterations, seed+int64(i)+1, stop)
		res.Iterations = i + 1
		if errors.Is(err, particles.ErrBucketCapacity) {
			log.Warn("calibration burst overflowed a grid bucket, keeping current weight",
				"weight", w, "iteration", i+1, "error", err)
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("calibration burst %d: %w", i+1, err)
		}
		res.Particles = n
		log.Debug("calibration burst", "iteration", i+1, "weight", w, "particles", n)

		if n >= cal.Target {
			return res, nil
		}
		next := w / 2
		if n >= cal.Switch && cal.Target > 0 {
			next = w * float64(n) / float64(cal.Target)
		}
		if !(next > 0) {
			next = w / 2
		}
		w = next
		res.Weight = w
	}
	log.Warn("calibration did not reach the particle target",
		"target", cal.Target, "particles", res.Particles, "weight", res.Weight)
	return res, nil
}

// burst runs a short sampler session at the start temperature and returns
// the final particle count
func burst(of *field.OrientationField, interp *interpolation.DirectionInterpolator, p Params,
	w float64, iterations int64, seed int64, stop func() bool) (int, error) {
	pf, err := p.newParticleField(of)
	if err != nil {
		return 0, err
	}
	model, err := energy.New(of, interp, pf, p.Energy(w))
	if err != nil {
		return 0, err
	}
	s, err := sampler.New(model, rand.New(rand.NewSource(seed)), sampler.Options{})
	if err != nil {
		return 0, err
	}
	defer s.Stop()

	for i := int64(0); i < iterations; i++ {
		if i%1024 == 0 && stop() {
			break
		}
		if _, err := s.Step(p.StartTemperature); err != nil {
			return pf.NumParticles(), err
		}
	}
	return pf.NumParticles(), nil
}
