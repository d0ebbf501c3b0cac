// Package particles implements the mutable particle field sampled by the
// tracker: oriented segments stored in a uniform grid of fixed-capacity
// buckets, linked into chains by an explicit connection graph.
//
// Every particle has two endpoints and every endpoint holds at most one
// connection, so the graph never branches.
package particles

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrBucketCapacity is fatal: the local particle density exceeds the
	// configured bucket capacity.
	ErrBucketCapacity = errors.New("particle grid bucket capacity exceeded")

	// ErrGridTooLarge is returned when the grid would need more cells than
	// MaxGridCells.
	ErrGridTooLarge = errors.New("particle grid too large, try increasing particle length")

	// ErrOutOfBounds marks a position outside the grid. Callers treat it as
	// a rejected proposal.
	ErrOutOfBounds = errors.New("position outside particle grid")

	ErrUnknownParticle = errors.New("unknown particle")
	ErrEndpointInUse   = errors.New("endpoint already connected")
	ErrNotConnected    = errors.New("particles are not connected")
)

// MaxGridCells caps the number of grid cells a field may allocate
const MaxGridCells = 1 << 24

// DefaultBucketCapacity is used when New is given a capacity below 1
const DefaultBucketCapacity = 128

// ID is a stable particle handle. IDs are reused only after removal.
type ID int32

// NoID marks a missing particle
const NoID ID = -1

// End names one of the two endpoints of a particle
type End uint8

const (
	// Minus is the endpoint at Pos - (L/2)*Dir
	Minus End = iota
	// Plus is the endpoint at Pos + (L/2)*Dir
	Plus
)

// Sign returns -1 for Minus and +1 for Plus
func (e End) Sign() float64 {
	if e == Plus {
		return 1
	}
	return -1
}

// Other returns the opposite endpoint
func (e End) Other() End {
	return 1 - e
}

func (e End) String() string {
	if e == Plus {
		return "plus"
	}
	return "minus"
}

// Particle is an oriented segment of fixed length centred on Pos
type Particle struct {
	Pos r3.Vec
	Dir r3.Vec
	ID  ID

	// links holds the connection index per endpoint, -1 when free
	links [2]int

	cell  int
	slot  int
	alive int
	live  bool
}

// Linked reports whether endpoint e carries a connection
func (p Particle) Linked(e End) bool {
	return p.links[e] >= 0
}

// Degree returns the number of connections of the particle
func (p Particle) Degree() int {
	n := 0
	for _, l := range p.links {
		if l >= 0 {
			n++
		}
	}
	return n
}

// Connection links endpoint AEnd of particle A to endpoint BEnd of B.
// Weight is a quality in (0, 1] used for reporting only.
type Connection struct {
	A      ID
	AEnd   End
	B      ID
	BEnd   End
	Weight float64
}

// Field owns all particles and connections of one run. It is not safe for
// concurrent mutation.
type Field struct {
	bounds   r3.Vec
	cellSize float64
	length   float64
	width    float64
	capacity int

	nx, ny, nz int
	buckets    [][]ID

	pool  []Particle
	free  []ID
	alive []ID
	conns []Connection
}

// New creates an empty field covering [0, bounds) with cubic cells of edge
// cellSize. Particles have the given length and width.
func New(bounds r3.Vec, cellSize, length, width float64, capacity int) (*Field, error) {
	if cellSize <= 0 || length <= 0 || width <= 0 {
		return nil, fmt.Errorf("cell size, length and width must be positive (got %g, %g, %g)", cellSize, length, width)
	}
	if bounds.X <= 0 || bounds.Y <= 0 || bounds.Z <= 0 {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrOutOfBounds, bounds)
	}
	if capacity < 1 {
		capacity = DefaultBucketCapacity
	}

	nx := int(math.Ceil(bounds.X / cellSize))
	ny := int(math.Ceil(bounds.Y / cellSize))
	nz := int(math.Ceil(bounds.Z / cellSize))
	if cells := float64(nx) * float64(ny) * float64(nz); cells > MaxGridCells {
		return nil, fmt.Errorf("%w: %.0f cells of %.3g mm", ErrGridTooLarge, cells, cellSize)
	}

	return &Field{
		bounds:   bounds,
		cellSize: cellSize,
		length:   length,
		width:    width,
		capacity: capacity,
		nx:       nx,
		ny:       ny,
		nz:       nz,
		buckets:  make([][]ID, nx*ny*nz),
	}, nil
}

// Length returns the particle length L
func (f *Field) Length() float64 { return f.length }

// Width returns the particle width W
func (f *Field) Width() float64 { return f.width }

// HalfLength returns L/2, the distance from centre to endpoint
func (f *Field) HalfLength() float64 { return f.length / 2 }

// CellSize returns the grid cell edge length
func (f *Field) CellSize() float64 { return f.cellSize }

// Bounds returns the physical extent covered by the grid
func (f *Field) Bounds() r3.Vec { return f.bounds }

// Capacity returns the per-bucket particle limit
func (f *Field) Capacity() int { return f.capacity }

// NumParticles returns the number of live particles
func (f *Field) NumParticles() int { return len(f.alive) }

// NumConnections returns the number of connections
func (f *Field) NumConnections() int { return len(f.conns) }

// Particles returns the live particle IDs. The slice is owned by the field
// and only valid until the next mutation.
func (f *Field) Particles() []ID { return f.alive }

// Connections returns all connections. The slice is owned by the field and
// only valid until the next mutation.
func (f *Field) Connections() []Connection { return f.conns }

// IDLimit returns an upper bound on every particle ID handed out so far
func (f *Field) IDLimit() int { return len(f.pool) }

// Connection returns the connection at index i
func (f *Field) Connection(i int) Connection { return f.conns[i] }

// Particle returns a copy of particle id
func (f *Field) Particle(id ID) (Particle, bool) {
	if !f.valid(id) {
		return Particle{}, false
	}
	return f.pool[id], true
}

func (f *Field) valid(id ID) bool {
	return id >= 0 && int(id) < len(f.pool) && f.pool[id].live
}

// Endpoint returns the position of endpoint e of particle id
func (f *Field) Endpoint(id ID, e End) r3.Vec {
	p := &f.pool[id]
	return r3.Add(p.Pos, r3.Scale(e.Sign()*f.HalfLength(), p.Dir))
}

// Degree returns the number of connections of particle id
func (f *Field) Degree(id ID) int {
	if !f.valid(id) {
		return 0
	}
	return f.pool[id].Degree()
}

// ConnectionIndex returns the index of the connection at endpoint e of
// particle id, or -1 when the endpoint is free
func (f *Field) ConnectionIndex(id ID, e End) int {
	if !f.valid(id) {
		return -1
	}
	return f.pool[id].links[e]
}

// Partner returns the particle and endpoint linked to endpoint e of id
func (f *Field) Partner(id ID, e End) (ID, End, bool) {
	ci := f.ConnectionIndex(id, e)
	if ci < 0 {
		return NoID, Minus, false
	}
	c := f.conns[ci]
	if c.A == id && c.AEnd == e {
		return c.B, c.BEnd, true
	}
	return c.A, c.AEnd, true
}

// RandomParticle picks a live particle uniformly
func (f *Field) RandomParticle(rng *rand.Rand) (ID, bool) {
	if len(f.alive) == 0 {
		return NoID, false
	}
	return f.alive[rng.Intn(len(f.alive))], true
}

// RandomConnection picks a connection index uniformly
func (f *Field) RandomConnection(rng *rand.Rand) (int, bool) {
	if len(f.conns) == 0 {
		return -1, false
	}
	return rng.Intn(len(f.conns)), true
}

// Insert adds a particle at pos with direction dir. Inserting into a full
// bucket returns ErrBucketCapacity and leaves the field untouched.
func (f *Field) Insert(pos, dir r3.Vec) (ID, error) {
	cell, ok := f.cellOf(pos)
	if !ok {
		return NoID, fmt.Errorf("%w: %v", ErrOutOfBounds, pos)
	}
	if len(f.buckets[cell]) >= f.capacity {
		return NoID, fmt.Errorf("%w: cell %d holds %d particles", ErrBucketCapacity, cell, f.capacity)
	}

	var id ID
	if n := len(f.free); n > 0 {
		id = f.free[n-1]
		f.free = f.free[:n-1]
	} else {
		id = ID(len(f.pool))
		f.pool = append(f.pool, Particle{})
	}

	f.pool[id] = Particle{
		Pos:   pos,
		Dir:   r3.Unit(dir),
		ID:    id,
		links: [2]int{-1, -1},
		alive: len(f.alive),
		live:  true,
	}
	f.alive = append(f.alive, id)
	f.bucketAdd(id, cell)
	return id, nil
}

// Remove deletes particle id together with its connections
func (f *Field) Remove(id ID) error {
	if !f.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownParticle, id)
	}
	for _, e := range []End{Minus, Plus} {
		if ci := f.pool[id].links[e]; ci >= 0 {
			f.removeConnection(ci)
		}
	}

	p := &f.pool[id]
	f.bucketRemove(id)

	last := f.alive[len(f.alive)-1]
	f.alive[p.alive] = last
	f.pool[last].alive = p.alive
	f.alive = f.alive[:len(f.alive)-1]

	*p = Particle{ID: id, links: [2]int{-1, -1}}
	f.free = append(f.free, id)
	return nil
}

// Move relocates particle id, re-bucketing it when the cell changes.
// On error the particle keeps its old position.
func (f *Field) Move(id ID, pos r3.Vec) error {
	if !f.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownParticle, id)
	}
	cell, ok := f.cellOf(pos)
	if !ok {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, pos)
	}
	p := &f.pool[id]
	if cell != p.cell {
		if len(f.buckets[cell]) >= f.capacity {
			return fmt.Errorf("%w: cell %d holds %d particles", ErrBucketCapacity, cell, f.capacity)
		}
		f.bucketRemove(id)
		f.bucketAdd(id, cell)
	}
	p.Pos = pos
	return nil
}

// SetDir changes the direction of particle id
func (f *Field) SetDir(id ID, dir r3.Vec) error {
	if !f.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownParticle, id)
	}
	f.pool[id].Dir = r3.Unit(dir)
	return nil
}
