package particles

import (
	"errors"
	"fmt"
)

// Connect links endpoint aEnd of a to endpoint bEnd of b. Both endpoints
// must be free and a particle cannot be linked to itself.
func (f *Field) Connect(a ID, aEnd End, b ID, bEnd End, weight float64) error {
	if !f.valid(a) || !f.valid(b) {
		return fmt.Errorf("%w: connect %d-%d", ErrUnknownParticle, a, b)
	}
	if a == b {
		return errors.New("cannot connect a particle to itself")
	}
	if f.pool[a].links[aEnd] >= 0 {
		return fmt.Errorf("%w: particle %d %s", ErrEndpointInUse, a, aEnd)
	}
	if f.pool[b].links[bEnd] >= 0 {
		return fmt.Errorf("%w: particle %d %s", ErrEndpointInUse, b, bEnd)
	}
	if f.Connected(a, b) {
		return fmt.Errorf("particles %d and %d are already connected", a, b)
	}

	ci := len(f.conns)
	f.conns = append(f.conns, Connection{A: a, AEnd: aEnd, B: b, BEnd: bEnd, Weight: weight})
	f.pool[a].links[aEnd] = ci
	f.pool[b].links[bEnd] = ci
	return nil
}

// Connected reports whether a and b share a connection
func (f *Field) Connected(a, b ID) bool {
	return f.connectionBetween(a, b) >= 0
}

func (f *Field) connectionBetween(a, b ID) int {
	if !f.valid(a) || !f.valid(b) {
		return -1
	}
	for _, ci := range f.pool[a].links {
		if ci < 0 {
			continue
		}
		c := f.conns[ci]
		if (c.A == a && c.B == b) || (c.A == b && c.B == a) {
			return ci
		}
	}
	return -1
}

// Disconnect removes the connection between a and b
func (f *Field) Disconnect(a, b ID) error {
	ci := f.connectionBetween(a, b)
	if ci < 0 {
		return fmt.Errorf("%w: %d-%d", ErrNotConnected, a, b)
	}
	f.removeConnection(ci)
	return nil
}

// DisconnectAt removes the connection at index i. The last connection is
// moved into the freed slot.
func (f *Field) DisconnectAt(i int) error {
	if i < 0 || i >= len(f.conns) {
		return fmt.Errorf("%w: connection index %d of %d", ErrNotConnected, i, len(f.conns))
	}
	f.removeConnection(i)
	return nil
}

func (f *Field) removeConnection(ci int) {
	c := f.conns[ci]
	f.pool[c.A].links[c.AEnd] = -1
	f.pool[c.B].links[c.BEnd] = -1

	last := len(f.conns) - 1
	if ci != last {
		moved := f.conns[last]
		f.conns[ci] = moved
		f.pool[moved.A].links[moved.AEnd] = ci
		f.pool[moved.B].links[moved.BEnd] = ci
	}
	f.conns = f.conns[:last]
}

// SetWeight replaces the reporting weight of the connection at index i
func (f *Field) SetWeight(i int, weight float64) error {
	if i < 0 || i >= len(f.conns) {
		return fmt.Errorf("%w: connection index %d of %d", ErrNotConnected, i, len(f.conns))
	}
	f.conns[i].Weight = weight
	return nil
}
