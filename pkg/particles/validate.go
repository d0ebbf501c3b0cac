package particles

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Validate checks the bucket and graph invariants of the field. It is
// linear in the number of particles and meant for tests and debugging.
func (f *Field) Validate() error {
	live := 0
	for i := range f.pool {
		if f.pool[i].live {
			live++
		}
	}
	if live != len(f.alive) {
		return fmt.Errorf("%d live particles but %d in alive list", live, len(f.alive))
	}
	if live+len(f.free) != len(f.pool) {
		return fmt.Errorf("pool of %d holds %d live and %d free", len(f.pool), live, len(f.free))
	}

	for i, id := range f.alive {
		if !f.valid(id) {
			return fmt.Errorf("alive list entry %d references dead particle %d", i, id)
		}
		p := &f.pool[id]
		if p.alive != i {
			return fmt.Errorf("particle %d records alive index %d, found at %d", id, p.alive, i)
		}
		cell, ok := f.cellOf(p.Pos)
		if !ok {
			return fmt.Errorf("particle %d at %v is outside the grid", id, p.Pos)
		}
		if cell != p.cell {
			return fmt.Errorf("particle %d in bucket %d but position maps to %d", id, p.cell, cell)
		}
		b := f.buckets[p.cell]
		if p.slot >= len(b) || b[p.slot] != id {
			return fmt.Errorf("particle %d missing from slot %d of bucket %d", id, p.slot, p.cell)
		}
		if math.Abs(r3.Norm(p.Dir)-1) > 1e-6 {
			return fmt.Errorf("particle %d has non-unit direction %v", id, p.Dir)
		}
	}

	total := 0
	for cell, b := range f.buckets {
		if len(b) > f.capacity {
			return fmt.Errorf("bucket %d holds %d particles, capacity %d", cell, len(b), f.capacity)
		}
		total += len(b)
	}
	if total != len(f.alive) {
		return fmt.Errorf("buckets hold %d particles, %d alive", total, len(f.alive))
	}

	linked := 0
	for _, id := range f.alive {
		for _, e := range []End{Minus, Plus} {
			ci := f.pool[id].links[e]
			if ci < 0 {
				continue
			}
			linked++
			if ci >= len(f.conns) {
				return fmt.Errorf("particle %d %s references connection %d of %d", id, e, ci, len(f.conns))
			}
			c := f.conns[ci]
			if !(c.A == id && c.AEnd == e) && !(c.B == id && c.BEnd == e) {
				return fmt.Errorf("particle %d %s references connection %d which does not name it", id, e, ci)
			}
		}
	}
	if linked != 2*len(f.conns) {
		return fmt.Errorf("%d linked endpoints for %d connections", linked, len(f.conns))
	}

	for ci, c := range f.conns {
		if c.A == c.B {
			return fmt.Errorf("connection %d links particle %d to itself", ci, c.A)
		}
		if !f.valid(c.A) || !f.valid(c.B) {
			return fmt.Errorf("connection %d references a dead particle", ci)
		}
		if f.pool[c.A].links[c.AEnd] != ci || f.pool[c.B].links[c.BEnd] != ci {
			return fmt.Errorf("connection %d is not referenced by its endpoints", ci)
		}
		other := f.pool[c.A].links[c.AEnd.Other()]
		if other >= 0 {
			o := f.conns[other]
			if (o.A == c.A && o.B == c.B) || (o.A == c.B && o.B == c.A) {
				return fmt.Errorf("particles %d and %d are connected twice", c.A, c.B)
			}
		}
	}
	return nil
}
