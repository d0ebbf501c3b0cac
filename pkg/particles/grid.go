package particles

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// cellOf returns the bucket index of pos
func (f *Field) cellOf(pos r3.Vec) (int, bool) {
	if !(pos.X >= 0 && pos.Y >= 0 && pos.Z >= 0) ||
		pos.X >= f.bounds.X || pos.Y >= f.bounds.Y || pos.Z >= f.bounds.Z {
		return 0, false
	}
	x := f.clampCell(int(pos.X/f.cellSize), f.nx)
	y := f.clampCell(int(pos.Y/f.cellSize), f.ny)
	z := f.clampCell(int(pos.Z/f.cellSize), f.nz)
	return (z*f.ny+y)*f.nx + x, true
}

func (f *Field) clampCell(c, n int) int {
	if c < 0 {
		return 0
	}
	if c >= n {
		return n - 1
	}
	return c
}

func (f *Field) bucketAdd(id ID, cell int) {
	p := &f.pool[id]
	p.cell = cell
	p.slot = len(f.buckets[cell])
	f.buckets[cell] = append(f.buckets[cell], id)
}

// bucketRemove swap-removes id from its bucket
func (f *Field) bucketRemove(id ID) {
	p := &f.pool[id]
	b := f.buckets[p.cell]
	last := b[len(b)-1]
	b[p.slot] = last
	f.pool[last].slot = p.slot
	f.buckets[p.cell] = b[:len(b)-1]
}

// NeighborsWithinRadius appends to dst the IDs of all particles whose
// centre lies within radius of point, scanning only the overlapping
// buckets. Results follow bucket order and are deterministic.
func (f *Field) NeighborsWithinRadius(point r3.Vec, radius float64, dst []ID) []ID {
	dst = dst[:0]
	if radius < 0 || math.IsNaN(radius) {
		return dst
	}
	r2 := radius * radius

	x0, x1 := f.cellRange(point.X, radius, f.nx)
	y0, y1 := f.cellRange(point.Y, radius, f.ny)
	z0, z1 := f.cellRange(point.Z, radius, f.nz)
	if x0 > x1 || y0 > y1 || z0 > z1 {
		return dst
	}

	for z := z0; z <= z1; z++ {
		for y := y0; y <= y1; y++ {
			row := (z*f.ny + y) * f.nx
			for x := x0; x <= x1; x++ {
				for _, id := range f.buckets[row+x] {
					if r3.Norm2(r3.Sub(f.pool[id].Pos, point)) <= r2 {
						dst = append(dst, id)
					}
				}
			}
		}
	}
	return dst
}

// cellRange returns the inclusive cell span covering [c-r, c+r] on one axis
func (f *Field) cellRange(c, r float64, n int) (int, int) {
	lo := int(math.Floor((c - r) / f.cellSize))
	hi := int(math.Floor((c + r) / f.cellSize))
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	return lo, hi
}
