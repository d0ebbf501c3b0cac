// Package interpolation evaluates orientation responses in arbitrary
// directions from responses sampled on a fixed set of directions, using a
// precomputed spherical lookup table.
package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DirectionInterpolator maps a continuous unit direction to a blended
// response value. It is read-only after construction and may be shared
// by concurrent callers.
//
// A failed table load does not panic: the interpolator is returned in an
// invalid state which the owner must check with Valid before use. Fit on
// an invalid interpolator always returns 0.
type DirectionInterpolator struct {
	table *Table
	err   error
}

// NewDirectionInterpolator loads the lookup table stored at path
func NewDirectionInterpolator(path string) *DirectionInterpolator {
	if path == "" {
		return &DirectionInterpolator{err: fmt.Errorf("%w: no table path configured", ErrInvalidTable)}
	}
	t, err := LoadTable(path)
	if err != nil {
		return &DirectionInterpolator{err: err}
	}
	return &DirectionInterpolator{table: t}
}

// FromTable wraps an already decoded table
func FromTable(t *Table) *DirectionInterpolator {
	if t == nil {
		return &DirectionInterpolator{err: fmt.Errorf("%w: nil table", ErrInvalidTable)}
	}
	return &DirectionInterpolator{table: t}
}

// Valid reports whether the table was loaded successfully
func (d *DirectionInterpolator) Valid() bool {
	return d != nil && d.table != nil && d.err == nil
}

// Err returns the load error of an invalid interpolator
func (d *DirectionInterpolator) Err() error {
	if d == nil {
		return fmt.Errorf("%w: nil interpolator", ErrInvalidTable)
	}
	return d.err
}

// Directions returns the sampling directions the table was built for
func (d *DirectionInterpolator) Directions() []r3.Vec {
	if !d.Valid() {
		return nil
	}
	return d.table.Directions
}

// Fit returns the response in direction dir, blended from the sampled
// response values of one voxel and clamped to [0, 1].
func (d *DirectionInterpolator) Fit(dir r3.Vec, response []float64) float64 {
	if !d.Valid() || len(response) != len(d.table.Directions) {
		return 0
	}

	n := r3.Norm(dir)
	if n == 0 || math.IsNaN(n) {
		return 0
	}
	if math.Abs(n-1) > 1e-9 {
		dir = r3.Scale(1/n, dir)
	}

	idx, w := d.table.Lookup(dir)
	v := w[0]*response[idx[0]] + w[1]*response[idx[1]] + w[2]*response[idx[2]]
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
