package field

import (
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/internal/models"
)

// headerColumns is the layout of the encoded header row:
// width, height, depth, spacing x/y/z, K, mask flag.
const headerColumns = 8

// WriteTo encodes the field as a sequence of gonum matrices: a 1x8 header,
// the K x 3 sampling directions, the voxels x K responses and, when a mask
// is attached, a (depth*height) x width mask matrix.
func (f *OrientationField) WriteTo(w io.Writer) (int64, error) {
	var total int64
	write := func(m *mat.Dense, what string) error {
		n, err := m.MarshalBinaryTo(w)
		total += int64(n)
		if err != nil {
			return fmt.Errorf("writing %s: %w", what, err)
		}
		return nil
	}

	maskFlag := 0.0
	if f.Mask != nil {
		maskFlag = 1
	}
	header := mat.NewDense(1, headerColumns, []float64{
		float64(f.Width), float64(f.Height), float64(f.Depth),
		f.Spacing.X, f.Spacing.Y, f.Spacing.Z,
		float64(len(f.Directions)), maskFlag,
	})
	if err := write(header, "header"); err != nil {
		return total, err
	}

	dirs := mat.NewDense(len(f.Directions), 3, nil)
	for i, d := range f.Directions {
		dirs.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	if err := write(dirs, "directions"); err != nil {
		return total, err
	}

	if err := write(mat.NewDense(f.NumVoxels(), len(f.Directions), f.Response), "responses"); err != nil {
		return total, err
	}

	if f.Mask != nil {
		if err := write(mat.NewDense(f.Depth*f.Height, f.Width, f.Mask.Data), "mask"); err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom decodes a field written by WriteTo
func ReadFrom(r io.Reader) (*OrientationField, error) {
	var header, dirs, resp mat.Dense
	if _, err := header.UnmarshalBinaryFrom(r); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if rows, cols := header.Dims(); rows != 1 || cols != headerColumns {
		return nil, fmt.Errorf("%w: header is %dx%d", ErrGeometry, rows, cols)
	}
	h := header.RawRowView(0)
	width, height, depth := int(h[0]), int(h[1]), int(h[2])
	spacing := r3.Vec{X: h[3], Y: h[4], Z: h[5]}
	k := int(h[6])
	hasMask := h[7] > 0.5

	if _, err := dirs.UnmarshalBinaryFrom(r); err != nil {
		return nil, fmt.Errorf("reading directions: %w", err)
	}
	if rows, cols := dirs.Dims(); rows != k || cols != 3 {
		return nil, fmt.Errorf("%w: direction matrix is %dx%d, want %dx3", ErrGeometry, rows, cols, k)
	}
	directions := make([]r3.Vec, k)
	for i := range directions {
		directions[i] = r3.Vec{X: dirs.At(i, 0), Y: dirs.At(i, 1), Z: dirs.At(i, 2)}
	}

	f, err := New(width, height, depth, spacing, directions)
	if err != nil {
		return nil, err
	}

	if _, err := resp.UnmarshalBinaryFrom(r); err != nil {
		return nil, fmt.Errorf("reading responses: %w", err)
	}
	if rows, cols := resp.Dims(); rows != f.NumVoxels() || cols != k {
		return nil, fmt.Errorf("%w: response matrix is %dx%d, want %dx%d", ErrGeometry, rows, cols, f.NumVoxels(), k)
	}
	for v := 0; v < f.NumVoxels(); v++ {
		copy(f.Response[v*k:(v+1)*k], resp.RawRowView(v))
	}

	if hasMask {
		var m mat.Dense
		if _, err := m.UnmarshalBinaryFrom(r); err != nil {
			return nil, fmt.Errorf("reading mask: %w", err)
		}
		if rows, cols := m.Dims(); rows != depth*height || cols != width {
			return nil, fmt.Errorf("%w: mask matrix is %dx%d", ErrGeometry, rows, cols)
		}
		mask := models.NewVolume(width, height, depth, spacing.X, spacing.Y, spacing.Z)
		for row := 0; row < depth*height; row++ {
			copy(mask.Data[row*width:(row+1)*width], m.RawRowView(row))
		}
		if err := f.SetMask(mask); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Save writes the field to path
func (f *OrientationField) Save(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating field file: %w", err)
	}
	if _, err := f.WriteTo(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Load reads a field from path
func Load(path string) (*OrientationField, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening field file: %w", err)
	}
	defer in.Close()
	return ReadFrom(in)
}
