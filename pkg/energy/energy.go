// Package energy evaluates the Gibbs energy of a particle configuration.
//
// The external term rewards particles aligned with the orientation field
// and penalizes overlapping parallel particles. The internal term rewards
// smooth connections between particle endpoints. Lower energy is better.
// All evaluations are local: a proposal only touches the particles and
// connections it changes.
package energy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
	"gibbstrack/pkg/particles"
)

// Params holds the energy parameters of a run
type Params struct {
	// Weight scales the data fit. Smaller weights favour more particles.
	Weight float64

	// ConnectionPotential is the reward U of an undistorted connection
	ConnectionPotential float64

	// ChemicalPotential is the cost of adding a particle
	ChemicalPotential float64

	// Balance shifts strength between the external (> 0) and internal (< 0)
	// terms. Both strengths are 1 at 0.
	Balance float64

	// CurvatureCos is the smallest allowed cosine between the directions
	// of two connected particles
	CurvatureCos float64
}

// Delta is the energy change of a proposal
type Delta struct {
	External float64
	Internal float64
}

// Total returns External + Internal
func (d Delta) Total() float64 {
	return d.External + d.Internal
}

// overlapRadius is the neighbour cut-off in particle widths
const overlapRadius = 3

// Model evaluates energy changes against one particle field. It keeps a
// scratch buffer and must not be shared between goroutines.
type Model struct {
	orientation *field.OrientationField
	interp      *interpolation.DirectionInterpolator
	particles   *particles.Field
	params      Params

	extStrength float64
	intStrength float64

	scratch []particles.ID
}

// New binds a model to its inputs
func New(of *field.OrientationField, interp *interpolation.DirectionInterpolator, pf *particles.Field, p Params) (*Model, error) {
	if of == nil || pf == nil {
		return nil, errors.New("energy model needs an orientation field and a particle field")
	}
	if !interp.Valid() {
		return nil, fmt.Errorf("energy model: %w", interp.Err())
	}
	if !(p.Weight > 0) || math.IsInf(p.Weight, 0) {
		return nil, fmt.Errorf("particle weight must be positive and finite, got %g", p.Weight)
	}

	sig := 1 / (1 + math.Exp(-p.Balance))
	return &Model{
		orientation: of,
		interp:      interp,
		particles:   pf,
		params:      p,
		extStrength: 2 * sig,
		intStrength: 2 * (1 - sig),
	}, nil
}

// Params returns the parameters the model was built with
func (m *Model) Params() Params { return m.params }

// Orientation returns the orientation field the model fits against
func (m *Model) Orientation() *field.OrientationField { return m.orientation }

// Particles returns the particle field the model evaluates
func (m *Model) Particles() *particles.Field { return m.particles }

// Strengths returns the external and internal strength factors
func (m *Model) Strengths() (external, internal float64) {
	return m.extStrength, m.intStrength
}

// Fit returns the trilinearly interpolated fit of direction dir at pos.
// Only voxel centres inside the domain contribute; their weights are
// renormalized.
func (m *Model) Fit(pos, dir r3.Vec) float64 {
	of := m.orientation
	u := pos.X/of.Spacing.X - 0.5
	v := pos.Y/of.Spacing.Y - 0.5
	w := pos.Z/of.Spacing.Z - 0.5
	x0, y0, z0 := math.Floor(u), math.Floor(v), math.Floor(w)
	fx, fy, fz := u-x0, v-y0, w-z0

	var sum, wsum float64
	for dz := 0; dz < 2; dz++ {
		wz := 1 - fz
		if dz == 1 {
			wz = fz
		}
		for dy := 0; dy < 2; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			for dx := 0; dx < 2; dx++ {
				wx := 1 - fx
				if dx == 1 {
					wx = fx
				}
				wt := wx * wy * wz
				if wt == 0 {
					continue
				}
				x, y, z := int(x0)+dx, int(y0)+dy, int(z0)+dz
				if !of.Inside(x, y, z) {
					continue
				}
				sum += wt * m.interp.Fit(dir, of.ResponseAt(x, y, z))
				wsum += wt
			}
		}
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

// single is the self term of the external energy at (pos, dir)
func (m *Model) single(pos, dir r3.Vec) float64 {
	return -m.extStrength * (2*m.Fit(pos, dir)/m.params.Weight - (1 + m.params.ChemicalPotential))
}

// overlap sums exp(-d^2/W^2)*(dir.q)^2 over the neighbours q of pos,
// excluding self
func (m *Model) overlap(pos, dir r3.Vec, self particles.ID) float64 {
	width := m.particles.Width()
	m.scratch = m.particles.NeighborsWithinRadius(pos, overlapRadius*width, m.scratch)

	var sum float64
	for _, id := range m.scratch {
		if id == self {
			continue
		}
		q, _ := m.particles.Particle(id)
		d2 := r3.Norm2(r3.Sub(q.Pos, pos))
		c := r3.Dot(dir, q.Dir)
		sum += math.Exp(-d2/(width*width)) * c * c
	}
	return sum
}

// External returns the external energy of a particle at (pos, dir),
// ignoring particle self. Positions outside the domain cost +Inf.
func (m *Model) External(pos, dir r3.Vec, self particles.ID) float64 {
	if !m.orientation.InsidePos(pos) {
		return math.Inf(1)
	}
	return m.single(pos, dir) + 2*m.extStrength*m.overlap(pos, dir, self)
}
