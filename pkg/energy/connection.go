package energy

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/pkg/particles"
)

// segment is the geometry of one side of a connection
type segment struct {
	pos r3.Vec
	dir r3.Vec
	end particles.End
}

func (s segment) endpoint(half float64) r3.Vec {
	return r3.Add(s.pos, r3.Scale(s.end.Sign()*half, s.dir))
}

// distortion measures how far the endpoints of a and b are from the
// midpoint of their centres, in units of (L/2)^2. ok is false when the
// connection is not allowed at all.
func (m *Model) distortion(a, b segment) (float64, bool) {
	half := m.particles.HalfLength()
	h2 := half * half

	e1, e2 := a.endpoint(half), b.endpoint(half)
	if r3.Norm2(r3.Sub(e1, e2)) > h2 {
		return 0, false
	}

	mid := r3.Scale(0.5, r3.Add(a.pos, b.pos))
	if !m.orientation.InsidePos(mid) {
		return 0, false
	}

	// Leaving a through its endpoint, entering b through its endpoint
	out := r3.Scale(a.end.Sign(), a.dir)
	in := r3.Scale(-b.end.Sign(), b.dir)
	if r3.Dot(out, in) < m.params.CurvatureCos {
		return 0, false
	}

	return (r3.Norm2(r3.Sub(e1, mid)) + r3.Norm2(r3.Sub(e2, mid))) / h2, true
}

func (m *Model) connection(a, b segment) float64 {
	d, ok := m.distortion(a, b)
	if !ok {
		return math.Inf(1)
	}
	return -m.intStrength * (m.params.ConnectionPotential - d)
}

func (m *Model) segmentOf(id particles.ID, end particles.End) segment {
	p, _ := m.particles.Particle(id)
	return segment{pos: p.Pos, dir: p.Dir, end: end}
}

// Connection returns the internal energy of linking endpoint aEnd of a to
// endpoint bEnd of b in their current state, +Inf when not allowed
func (m *Model) Connection(a particles.ID, aEnd particles.End, b particles.ID, bEnd particles.End) float64 {
	return m.connection(m.segmentOf(a, aEnd), m.segmentOf(b, bEnd))
}

// ConnectionWeight returns the reporting quality exp(-distortion) of a
// candidate connection, 0 when not allowed
func (m *Model) ConnectionWeight(a particles.ID, aEnd particles.End, b particles.ID, bEnd particles.End) float64 {
	d, ok := m.distortion(m.segmentOf(a, aEnd), m.segmentOf(b, bEnd))
	if !ok {
		return 0
	}
	return math.Exp(-d)
}

// linkedEnergy sums the energy of the connections of id with id placed at
// (pos, dir)
func (m *Model) linkedEnergy(id particles.ID, pos, dir r3.Vec) float64 {
	var sum float64
	for _, e := range []particles.End{particles.Minus, particles.Plus} {
		other, otherEnd, ok := m.particles.Partner(id, e)
		if !ok {
			continue
		}
		sum += m.connection(segment{pos: pos, dir: dir, end: e}, m.segmentOf(other, otherEnd))
	}
	return sum
}
