package interpolation

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidTable is returned when a lookup table cannot be decoded or is
// inconsistent with itself.
var ErrInvalidTable = errors.New("invalid direction lookup table")

// tableColumns is the row layout of the encoded table: three direction
// indices followed by their three barycentric weights.
const tableColumns = 6

// Table is the precomputed spherical lookup table. Every (theta, phi) bin
// stores the three sampling directions surrounding its centre and the
// barycentric weights that blend their responses.
type Table struct {
	// Directions are the K sampling directions the responses are defined on
	Directions []r3.Vec

	// Resolution is the number of theta bins; phi uses twice as many
	Resolution int

	indices [][3]int32
	weights [][3]float64
}

// GenerateTable builds a lookup table for the given sampling directions.
//
// For every bin centre the three nearest directions on the antipodally
// symmetric sphere are found with a KD-tree, and the centre is expressed
// in their basis by solving a 3x3 linear system. Negative coefficients
// (the centre lies outside the spherical triangle) are clamped and the
// remaining weights renormalized.
func GenerateTable(dirs []r3.Vec, resolution int) (*Table, error) {
	if len(dirs) < 3 {
		return nil, fmt.Errorf("need at least 3 sampling directions, got %d", len(dirs))
	}
	if resolution < 1 {
		return nil, fmt.Errorf("table resolution must be positive, got %d", resolution)
	}

	t := &Table{
		Directions: make([]r3.Vec, len(dirs)),
		Resolution: resolution,
	}
	for i, d := range dirs {
		if r3.Norm(d) == 0 {
			return nil, fmt.Errorf("sampling direction %d has zero length", i)
		}
		t.Directions[i] = r3.Unit(d)
	}

	tree := antipodalTree(t.Directions)
	bins := resolution * 2 * resolution
	t.indices = make([][3]int32, bins)
	t.weights = make([][3]float64, bins)

	for ti := 0; ti < resolution; ti++ {
		for pj := 0; pj < 2*resolution; pj++ {
			c := binCenter(ti, pj, resolution)
			row := ti*2*resolution + pj

			keeper := kdtree.NewNKeeper(3)
			tree.NearestSet(keeper, newRay(c, -1))

			var found []ray
			for _, item := range keeper.Heap {
				// Skip the sentinel value
				if item.Comparable == nil {
					continue
				}
				found = append(found, item.Comparable.(ray))
			}
			if len(found) < 3 {
				return nil, fmt.Errorf("bin %d: only %d neighbouring directions", row, len(found))
			}

			w := barycentric(c, found[0].vec(), found[1].vec(), found[2].vec())
			for k := 0; k < 3; k++ {
				t.indices[row][k] = int32(found[k].slot)
				t.weights[row][k] = w[k]
			}
		}
	}

	return t, nil
}

// barycentric returns normalized, non-negative weights expressing c in
// the basis (a, b, d). Degenerate bases fall back to inverse-distance
// weighting.
func barycentric(c, a, b, d r3.Vec) [3]float64 {
	basis := mat.NewDense(3, 3, []float64{
		a.X, b.X, d.X,
		a.Y, b.Y, d.Y,
		a.Z, b.Z, d.Z,
	})
	target := mat.NewVecDense(3, []float64{c.X, c.Y, c.Z})

	var w [3]float64
	var x mat.VecDense
	if err := x.SolveVec(basis, target); err == nil {
		var sum float64
		for k := 0; k < 3; k++ {
			v := x.AtVec(k)
			if v < 0 || math.IsNaN(v) {
				v = 0
			}
			w[k] = v
			sum += v
		}
		if sum > 0 {
			for k := range w {
				w[k] /= sum
			}
			return w
		}
	}

	var sum float64
	for k, v := range []r3.Vec{a, b, d} {
		w[k] = 1 / (r3.Norm(r3.Sub(c, v)) + 1e-9)
		sum += w[k]
	}
	for k := range w {
		w[k] /= sum
	}
	return w
}

// Lookup returns the three direction indices and weights for dir
func (t *Table) Lookup(dir r3.Vec) ([3]int32, [3]float64) {
	row := binIndex(dir, t.Resolution)
	return t.indices[row], t.weights[row]
}

// Bins returns the number of table rows
func (t *Table) Bins() int {
	return len(t.indices)
}

// WriteTo encodes the table as two gonum matrices: the K x 3 sampling
// directions followed by the bins x 6 lookup rows.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	dirs := mat.NewDense(len(t.Directions), 3, nil)
	for i, d := range t.Directions {
		dirs.SetRow(i, []float64{d.X, d.Y, d.Z})
	}

	rows := mat.NewDense(len(t.indices), tableColumns, nil)
	for i := range t.indices {
		idx, wt := t.indices[i], t.weights[i]
		rows.SetRow(i, []float64{
			float64(idx[0]), float64(idx[1]), float64(idx[2]),
			wt[0], wt[1], wt[2],
		})
	}

	n1, err := dirs.MarshalBinaryTo(w)
	if err != nil {
		return int64(n1), fmt.Errorf("writing table directions: %w", err)
	}
	n2, err := rows.MarshalBinaryTo(w)
	if err != nil {
		return int64(n1 + n2), fmt.Errorf("writing table rows: %w", err)
	}
	return int64(n1 + n2), nil
}

// ReadTable decodes a table written by WriteTo
func ReadTable(r io.Reader) (*Table, error) {
	var dirs, rows mat.Dense
	if _, err := dirs.UnmarshalBinaryFrom(r); err != nil {
		return nil, fmt.Errorf("%w: reading directions: %v", ErrInvalidTable, err)
	}
	if _, err := rows.UnmarshalBinaryFrom(r); err != nil {
		return nil, fmt.Errorf("%w: reading rows: %v", ErrInvalidTable, err)
	}

	k, dc := dirs.Dims()
	if dc != 3 {
		return nil, fmt.Errorf("%w: direction matrix has %d columns", ErrInvalidTable, dc)
	}
	bins, rc := rows.Dims()
	if rc != tableColumns {
		return nil, fmt.Errorf("%w: row matrix has %d columns", ErrInvalidTable, rc)
	}

	// bins = resolution * 2 * resolution
	resolution := int(math.Round(math.Sqrt(float64(bins) / 2)))
	if resolution < 1 || resolution*2*resolution != bins {
		return nil, fmt.Errorf("%w: %d rows do not form a theta/phi grid", ErrInvalidTable, bins)
	}

	t := &Table{
		Directions: make([]r3.Vec, k),
		Resolution: resolution,
		indices:    make([][3]int32, bins),
		weights:    make([][3]float64, bins),
	}
	for i := 0; i < k; i++ {
		t.Directions[i] = r3.Vec{X: dirs.At(i, 0), Y: dirs.At(i, 1), Z: dirs.At(i, 2)}
	}
	for i := 0; i < bins; i++ {
		for j := 0; j < 3; j++ {
			idx := int(rows.At(i, j))
			if idx < 0 || idx >= k {
				return nil, fmt.Errorf("%w: row %d references direction %d of %d", ErrInvalidTable, i, idx, k)
			}
			t.indices[i][j] = int32(idx)
			t.weights[i][j] = rows.At(i, 3+j)
		}
	}
	return t, nil
}

// Save writes the table to path
func (t *Table) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating table file: %w", err)
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadTable reads a table from path
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	defer f.Close()
	return ReadTable(f)
}
