package sampler

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gibbstrack/internal/models"
	"gibbstrack/pkg/energy"
	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
	"gibbstrack/pkg/particles"
)

type fixture struct {
	orientation *field.OrientationField
	interp      *interpolation.DirectionInterpolator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dirs := interpolation.SphereDirections(120)
	table, err := interpolation.GenerateTable(dirs, 16)
	require.NoError(t, err)
	of, err := field.StraightLine(20, dirs, 8)
	require.NoError(t, err)
	return fixture{orientation: of, interp: interpolation.FromTable(table)}
}

func (fx fixture) sampler(t *testing.T, weight float64, capacity int, seed int64, opts Options) (*Sampler, *energy.Model) {
	t.Helper()
	pf, err := particles.New(fx.orientation.Bounds(), 1.5, 1.5, 0.5, capacity)
	require.NoError(t, err)
	model, err := energy.New(fx.orientation, fx.interp, pf, energy.Params{
		Weight:              weight,
		ConnectionPotential: 1,
		ChemicalPotential:   0.2,
		CurvatureCos:        math.Cos(30 * math.Pi / 180),
	})
	require.NoError(t, err)
	s, err := New(model, rand.New(rand.NewSource(seed)), opts)
	require.NoError(t, err)
	return s, model
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "birth", Birth.String())
	assert.Equal(t, "disconnect", Disconnect.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
	assert.Equal(t, "stopped", Stopped.String())
}

func TestDeterminism(t *testing.T) {
	fx := newFixture(t)

	run := func() ([]Outcome, []particles.Particle) {
		var trace []Outcome
		s, model := fx.sampler(t, 0.3, 64, 11, Options{Trace: func(o Outcome) { trace = append(trace, o) }})
		for i := 0; i < 4000; i++ {
			_, err := s.Step(0.05)
			require.NoError(t, err)
		}
		pf := model.Particles()
		var state []particles.Particle
		for _, id := range pf.Particles() {
			p, _ := pf.Particle(id)
			state = append(state, p)
		}
		return trace, state
	}

	traceA, stateA := run()
	traceB, stateB := run()
	require.Len(t, traceA, 4000)
	assert.Empty(t, cmp.Diff(traceA, traceB, cmpopts.EquateNaNs()))
	assert.Empty(t, cmp.Diff(stateA, stateB, cmp.AllowUnexported(particles.Particle{})))
}

func TestInvariantsDuringRun(t *testing.T) {
	fx := newFixture(t)
	var pf *particles.Field
	var failed error
	s, model := fx.sampler(t, 0.3, 64, 5, Options{Trace: func(o Outcome) {
		if o.Accepted && o.Kind == Connect && failed == nil {
			failed = pf.Validate()
		}
	}})
	pf = model.Particles()

	temps := []float64{0.1, 0.05, 0.02, 0.01}
	for _, temp := range temps {
		for i := 0; i < 5000; i++ {
			_, err := s.Step(temp)
			require.NoError(t, err)
		}
	}
	require.NoError(t, failed)
	require.NoError(t, pf.Validate())

	for _, id := range pf.Particles() {
		assert.LessOrEqual(t, pf.Degree(id), 2)
	}

	stats := s.Stats()
	assert.Equal(t, int64(len(temps)*5000), stats.Considered)
	var proposed, accepted int64
	for _, k := range stats.PerKind {
		proposed += k.Proposed
		accepted += k.Accepted
	}
	assert.Equal(t, stats.Considered, proposed)
	assert.Equal(t, stats.Accepted, accepted)
	assert.Greater(t, stats.PerKind[Birth].Accepted, int64(0))
	assert.Greater(t, stats.PerKind[Connect].Accepted, int64(0))

	total := model.TotalEnergy()
	assert.InDelta(t, total, s.Energy(), 1e-6*(1+math.Abs(total)))
	assert.InDelta(t, s.Energy(), stats.AcceptedDelta, 1e-9)
	assert.Less(t, s.Energy(), 0.0)
}

func TestConnectionWeightsFollowGeometry(t *testing.T) {
	fx := newFixture(t)
	s, model := fx.sampler(t, 0.3, 64, 8, Options{})
	pf := model.Particles()

	for i := 0; i < 20000; i++ {
		_, err := s.Step(0.02)
		require.NoError(t, err)
	}
	moved := s.Stats().PerKind[Shift].Accepted + s.Stats().PerKind[Rotate].Accepted
	require.Greater(t, moved, int64(0))
	require.Greater(t, pf.NumConnections(), 0)

	for i, c := range pf.Connections() {
		want := model.ConnectionWeight(c.A, c.AEnd, c.B, c.BEnd)
		assert.Equal(t, want, c.Weight, "connection %d", i)
		assert.Greater(t, c.Weight, 0.0)
	}
}

func TestEmptyMask(t *testing.T) {
	fx := newFixture(t)
	empty := models.NewVolume(20, 3, 3, 1, 1, 1)
	require.NoError(t, fx.orientation.SetMask(empty))

	s, model := fx.sampler(t, 0.3, 64, 1, Options{})
	for i := 0; i < 500; i++ {
		out, err := s.Step(1)
		require.NoError(t, err)
		assert.False(t, out.Accepted)
	}
	assert.Zero(t, model.Particles().NumParticles())
	assert.Equal(t, int64(500), s.Stats().Considered)
	assert.Zero(t, s.Stats().AcceptanceRatio())
}

func TestBucketCapacityIsFatal(t *testing.T) {
	fx := newFixture(t)
	s, model := fx.sampler(t, 0.01, 1, 2, Options{})

	var err error
	for i := 0; i < 100000 && err == nil; i++ {
		_, err = s.Step(0.1)
	}
	require.ErrorIs(t, err, particles.ErrBucketCapacity)
	require.NoError(t, model.Particles().Validate())
}

func TestStop(t *testing.T) {
	fx := newFixture(t)
	s, _ := fx.sampler(t, 0.3, 64, 1, Options{})
	assert.Equal(t, Proposing, s.State())

	_, err := s.Step(0.1)
	require.NoError(t, err)
	assert.Contains(t, []State{Accepted, Rejected}, s.State())

	s.Stop()
	assert.Equal(t, Stopped, s.State())
	_, err = s.Step(0.1)
	assert.ErrorIs(t, err, ErrStopped)
}
