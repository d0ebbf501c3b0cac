package energy

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/pkg/particles"
)

var invalid = Delta{External: math.Inf(1)}

// Birth is the energy change of adding a particle at (pos, dir)
func (m *Model) Birth(pos, dir r3.Vec) Delta {
	return Delta{External: m.External(pos, dir, particles.NoID)}
}

// Death is the energy change of removing particle id and its connections
func (m *Model) Death(id particles.ID) Delta {
	p, ok := m.particles.Particle(id)
	if !ok {
		return invalid
	}
	return Delta{
		External: -m.External(p.Pos, p.Dir, id),
		Internal: -m.linkedEnergy(id, p.Pos, p.Dir),
	}
}

// Shift is the energy change of moving particle id to pos
func (m *Model) Shift(id particles.ID, pos r3.Vec) Delta {
	p, ok := m.particles.Particle(id)
	if !ok {
		return invalid
	}
	return m.replace(p, pos, p.Dir)
}

// Rotate is the energy change of turning particle id to dir
func (m *Model) Rotate(id particles.ID, dir r3.Vec) Delta {
	p, ok := m.particles.Particle(id)
	if !ok {
		return invalid
	}
	return m.replace(p, p.Pos, r3.Unit(dir))
}

func (m *Model) replace(p particles.Particle, pos, dir r3.Vec) Delta {
	after := m.External(pos, dir, p.ID)
	if math.IsInf(after, 1) {
		return invalid
	}
	linkedAfter := m.linkedEnergy(p.ID, pos, dir)
	if math.IsInf(linkedAfter, 1) {
		return Delta{Internal: math.Inf(1)}
	}
	return Delta{
		External: after - m.External(p.Pos, p.Dir, p.ID),
		Internal: linkedAfter - m.linkedEnergy(p.ID, p.Pos, p.Dir),
	}
}

// Connect is the energy change of linking endpoint aEnd of a to endpoint
// bEnd of b
func (m *Model) Connect(a particles.ID, aEnd particles.End, b particles.ID, bEnd particles.End) Delta {
	return Delta{Internal: m.Connection(a, aEnd, b, bEnd)}
}

// Disconnect is the energy change of removing the connection at index i
func (m *Model) Disconnect(i int) Delta {
	if i < 0 || i >= m.particles.NumConnections() {
		return invalid
	}
	c := m.particles.Connection(i)
	return Delta{Internal: -m.Connection(c.A, c.AEnd, c.B, c.BEnd)}
}

// TotalEnergy returns the energy of the whole configuration relative to
// the empty field. Every overlapping pair and every connection is counted
// once, so the sum of accepted deltas of a run equals this value.
func (m *Model) TotalEnergy() float64 {
	var single, pairs, links float64
	for _, id := range m.particles.Particles() {
		p, _ := m.particles.Particle(id)
		single += m.single(p.Pos, p.Dir)
		pairs += m.overlap(p.Pos, p.Dir, id)
	}
	for _, c := range m.particles.Connections() {
		links += m.Connection(c.A, c.AEnd, c.B, c.BEnd)
	}
	// each pair was visited from both sides
	return single + m.extStrength*pairs + links
}
