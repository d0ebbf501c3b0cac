package energy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
	"gibbstrack/pkg/particles"
)

func defaultParams() Params {
	return Params{
		Weight:              0.5,
		ConnectionPotential: 1,
		ChemicalPotential:   0.2,
		CurvatureCos:        math.Cos(30 * math.Pi / 180),
	}
}

// newLineModel builds a model over a 20 voxel straight line along x
func newLineModel(t *testing.T, p Params) (*Model, *particles.Field) {
	t.Helper()
	dirs := interpolation.SphereDirections(120)
	table, err := interpolation.GenerateTable(dirs, 16)
	require.NoError(t, err)

	of, err := field.StraightLine(20, dirs, 8)
	require.NoError(t, err)

	pf, err := particles.New(of.Bounds(), 1.5, 1.5, 0.5, 64)
	require.NoError(t, err)

	m, err := New(of, interpolation.FromTable(table), pf, p)
	require.NoError(t, err)
	return m, pf
}

func TestNewValidation(t *testing.T) {
	dirs := interpolation.SphereDirections(20)
	of, err := field.StraightLine(5, dirs, 4)
	require.NoError(t, err)
	pf, err := particles.New(of.Bounds(), 1.5, 1.5, 0.5, 8)
	require.NoError(t, err)
	table, err := interpolation.GenerateTable(dirs, 4)
	require.NoError(t, err)

	_, err = New(of, interpolation.NewDirectionInterpolator(""), pf, defaultParams())
	assert.ErrorIs(t, err, interpolation.ErrInvalidTable)

	p := defaultParams()
	p.Weight = 0
	_, err = New(of, interpolation.FromTable(table), pf, p)
	assert.Error(t, err)

	_, err = New(nil, interpolation.FromTable(table), pf, defaultParams())
	assert.Error(t, err)
}

func TestStrengths(t *testing.T) {
	tests := []struct {
		balance  float64
		extAbove bool
	}{
		{balance: 0},
		{balance: 1, extAbove: true},
		{balance: -1},
	}
	for _, tt := range tests {
		p := defaultParams()
		p.Balance = tt.balance
		m, _ := newLineModel(t, p)
		ext, in := m.Strengths()
		assert.InDelta(t, 2, ext+in, 1e-12)
		if tt.balance == 0 {
			assert.InDelta(t, 1, ext, 1e-12)
		} else {
			assert.Equal(t, tt.extAbove, ext > in, "balance %g", tt.balance)
		}
	}
}

func TestFit(t *testing.T) {
	m, _ := newLineModel(t, defaultParams())
	center := r3.Vec{X: 5.5, Y: 1.5, Z: 1.5}

	along := m.Fit(center, r3.Vec{X: 1})
	across := m.Fit(center, r3.Vec{Y: 1})
	assert.Greater(t, along, 0.5)
	assert.Less(t, across, 0.05)

	// Corners outside the mask do not dilute the fit
	assert.InDelta(t, along, m.Fit(r3.Vec{X: 5.5, Y: 1.1, Z: 1.5}, r3.Vec{X: 1}), 1e-9)
	assert.Zero(t, m.Fit(r3.Vec{X: 5.5, Y: 0.2, Z: 0.2}, r3.Vec{X: 1}))
}

func TestBirth(t *testing.T) {
	m, pf := newLineModel(t, defaultParams())
	pos := r3.Vec{X: 5.5, Y: 1.5, Z: 1.5}

	aligned := m.Birth(pos, r3.Vec{X: 1})
	perpendicular := m.Birth(pos, r3.Vec{Z: 1})
	assert.Less(t, aligned.Total(), 0.0)
	assert.Less(t, aligned.Total(), perpendicular.Total())
	assert.Zero(t, aligned.Internal)

	assert.True(t, math.IsInf(m.Birth(r3.Vec{X: 5.5, Y: 0.5, Z: 1.5}, r3.Vec{X: 1}).Total(), 1))

	// A parallel neighbour raises the cost, a perpendicular one does not
	_, err := pf.Insert(pos, r3.Vec{X: 1})
	require.NoError(t, err)
	crowded := m.Birth(r3.Vec{X: 5.6, Y: 1.5, Z: 1.5}, r3.Vec{X: 1})
	assert.Greater(t, crowded.Total(), aligned.Total())
}

func TestConnection(t *testing.T) {
	p := defaultParams()
	m, pf := newLineModel(t, p)

	a, err := pf.Insert(r3.Vec{X: 5, Y: 1.5, Z: 1.5}, r3.Vec{X: 1})
	require.NoError(t, err)
	b, err := pf.Insert(r3.Vec{X: 6.5, Y: 1.5, Z: 1.5}, r3.Vec{X: 1})
	require.NoError(t, err)
	far, err := pf.Insert(r3.Vec{X: 9, Y: 1.5, Z: 1.5}, r3.Vec{X: 1})
	require.NoError(t, err)

	t.Run("Aligned", func(t *testing.T) {
		assert.InDelta(t, -1, m.Connection(a, particles.Plus, b, particles.Minus), 1e-12)
		assert.InDelta(t, -1, m.Connection(b, particles.Minus, a, particles.Plus), 1e-12)
		assert.InDelta(t, 1, m.ConnectionWeight(a, particles.Plus, b, particles.Minus), 1e-12)
	})

	t.Run("TooFar", func(t *testing.T) {
		assert.True(t, math.IsInf(m.Connection(b, particles.Plus, far, particles.Minus), 1))
		assert.Zero(t, m.ConnectionWeight(b, particles.Plus, far, particles.Minus))
	})

	t.Run("WrongEnds", func(t *testing.T) {
		assert.True(t, math.IsInf(m.Connection(a, particles.Minus, b, particles.Minus), 1))
	})

	t.Run("Curvature", func(t *testing.T) {
		// c leaves the plus endpoint of a at 45 degrees in the xy plane
		d := r3.Unit(r3.Vec{X: 1, Y: 1})
		e1 := pf.Endpoint(a, particles.Plus)
		c, err := pf.Insert(r3.Add(e1, r3.Scale(0.75, d)), d)
		require.NoError(t, err)
		assert.True(t, math.IsInf(m.Connection(a, particles.Plus, c, particles.Minus), 1))

		loose := p
		loose.CurvatureCos = 0.5
		lm, err := New(m.orientation, m.interp, pf, loose)
		require.NoError(t, err)
		e := lm.Connection(a, particles.Plus, c, particles.Minus)
		assert.False(t, math.IsInf(e, 0))
		assert.Greater(t, e, -1.0)
	})
}

func TestDeltasMatchTotalEnergy(t *testing.T) {
	m, pf := newLineModel(t, defaultParams())
	rng := rand.New(rand.NewSource(3))
	var running float64

	randomPos := func() r3.Vec {
		return r3.Vec{X: rng.Float64() * 20, Y: 1 + rng.Float64(), Z: 1 + rng.Float64()}
	}
	randomDir := func() r3.Vec {
		return r3.Unit(r3.Vec{X: rng.NormFloat64() + 2, Y: rng.NormFloat64() * 0.3, Z: rng.NormFloat64() * 0.3})
	}

	for i := 0; i < 3000; i++ {
		switch rng.Intn(7) {
		case 0, 6:
			pos, dir := randomPos(), randomDir()
			d := m.Birth(pos, dir)
			if math.IsInf(d.Total(), 0) {
				continue
			}
			_, err := pf.Insert(pos, dir)
			require.NoError(t, err)
			running += d.Total()
		case 1:
			id, ok := pf.RandomParticle(rng)
			if !ok {
				continue
			}
			d := m.Death(id)
			require.NoError(t, pf.Remove(id))
			running += d.Total()
		case 2:
			id, ok := pf.RandomParticle(rng)
			if !ok {
				continue
			}
			p, _ := pf.Particle(id)
			pos := r3.Add(p.Pos, r3.Vec{X: rng.NormFloat64() * 0.3, Y: rng.NormFloat64() * 0.3, Z: rng.NormFloat64() * 0.3})
			d := m.Shift(id, pos)
			if math.IsInf(d.Total(), 0) {
				continue
			}
			require.NoError(t, pf.Move(id, pos))
			running += d.Total()
		case 3:
			id, ok := pf.RandomParticle(rng)
			if !ok {
				continue
			}
			dir := randomDir()
			d := m.Rotate(id, dir)
			if math.IsInf(d.Total(), 0) {
				continue
			}
			require.NoError(t, pf.SetDir(id, dir))
			running += d.Total()
		case 4:
			a, ok := pf.RandomParticle(rng)
			if !ok {
				continue
			}
			ap, _ := pf.Particle(a)
			aEnd := particles.End(rng.Intn(2))
			if ap.Linked(aEnd) {
				continue
			}
			for _, b := range pf.NeighborsWithinRadius(pf.Endpoint(a, aEnd), 1.5, nil) {
				bEnd := particles.Minus
				if aEnd == particles.Minus {
					bEnd = particles.Plus
				}
				bp, _ := pf.Particle(b)
				if b == a || bp.Linked(bEnd) || pf.Connected(a, b) {
					continue
				}
				d := m.Connect(a, aEnd, b, bEnd)
				if math.IsInf(d.Total(), 0) {
					continue
				}
				require.NoError(t, pf.Connect(a, aEnd, b, bEnd, m.ConnectionWeight(a, aEnd, b, bEnd)))
				running += d.Total()
				break
			}
		case 5:
			ci, ok := pf.RandomConnection(rng)
			if !ok {
				continue
			}
			d := m.Disconnect(ci)
			require.NoError(t, pf.DisconnectAt(ci))
			running += d.Total()
		}
	}

	require.NoError(t, pf.Validate())
	require.Greater(t, pf.NumParticles(), 0)
	total := m.TotalEnergy()
	assert.InDelta(t, total, running, 1e-6*(1+math.Abs(total)))
}
