// Package field holds the orientation field consumed by the tracker: a
// dense per-voxel directional response sampled on a shared set of unit
// directions, plus an optional mask restricting the tracking domain.
package field

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/internal/models"
)

// ErrGeometry is returned when dimensions, spacing or mask geometry are
// inconsistent.
var ErrGeometry = errors.New("invalid field geometry")

// OrientationField is a read-only orientation distribution volume.
//
// Voxel (x, y, z) covers the physical box [x*sx, (x+1)*sx) and so on, with
// the origin at the volume corner. Responses are stored voxel-major: the K
// values of voxel v occupy Response[v*K : (v+1)*K].
type OrientationField struct {
	Width, Height, Depth int

	// Spacing is the voxel size in mm
	Spacing r3.Vec

	// Directions are the K unit sampling directions shared by all voxels
	Directions []r3.Vec

	// Response holds K values per voxel
	Response []float64

	// Mask restricts the tracking domain when non-nil (inside > 0.5). Set
	// it with SetMask.
	Mask *models.Volume

	inside []int
}

// New allocates a field with zero responses and no mask
func New(width, height, depth int, spacing r3.Vec, dirs []r3.Vec) (*OrientationField, error) {
	if width < 1 || height < 1 || depth < 1 {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d", ErrGeometry, width, height, depth)
	}
	if spacing.X <= 0 || spacing.Y <= 0 || spacing.Z <= 0 {
		return nil, fmt.Errorf("%w: spacing %v", ErrGeometry, spacing)
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: no sampling directions", ErrGeometry)
	}

	f := &OrientationField{
		Width:      width,
		Height:     height,
		Depth:      depth,
		Spacing:    spacing,
		Directions: make([]r3.Vec, len(dirs)),
		Response:   make([]float64, width*height*depth*len(dirs)),
	}
	for i, d := range dirs {
		f.Directions[i] = r3.Unit(d)
	}
	f.indexDomain()
	return f, nil
}

// NumVoxels returns the number of voxels in the volume
func (f *OrientationField) NumVoxels() int {
	return f.Width * f.Height * f.Depth
}

// NumDirections returns K
func (f *OrientationField) NumDirections() int {
	return len(f.Directions)
}

// VoxelIndex returns the flat index of voxel (x, y, z)
func (f *OrientationField) VoxelIndex(x, y, z int) int {
	return z*f.Width*f.Height + y*f.Width + x
}

// Contains reports whether (x, y, z) lies inside the volume
func (f *OrientationField) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < f.Width && y < f.Height && z < f.Depth
}

// ResponseAt returns the response values of voxel (x, y, z). The slice
// aliases the field storage and must not be modified by readers.
func (f *OrientationField) ResponseAt(x, y, z int) []float64 {
	k := len(f.Directions)
	v := f.VoxelIndex(x, y, z)
	return f.Response[v*k : (v+1)*k]
}

// SetResponse copies values into voxel (x, y, z)
func (f *OrientationField) SetResponse(x, y, z int, values []float64) error {
	if !f.Contains(x, y, z) {
		return fmt.Errorf("%w: voxel (%d,%d,%d) outside volume", ErrGeometry, x, y, z)
	}
	if len(values) != len(f.Directions) {
		return fmt.Errorf("%w: %d response values for %d directions", ErrGeometry, len(values), len(f.Directions))
	}
	copy(f.ResponseAt(x, y, z), values)
	return nil
}

// SetMask attaches a mask of identical geometry. A nil mask enables every
// voxel.
func (f *OrientationField) SetMask(mask *models.Volume) error {
	if mask != nil && (mask.Width != f.Width || mask.Height != f.Height || mask.Depth != f.Depth) {
		return fmt.Errorf("%w: mask %dx%dx%d does not match field %dx%dx%d",
			ErrGeometry, mask.Width, mask.Height, mask.Depth, f.Width, f.Height, f.Depth)
	}
	f.Mask = mask
	f.indexDomain()
	return nil
}

// Inside reports whether voxel (x, y, z) belongs to the tracking domain
func (f *OrientationField) Inside(x, y, z int) bool {
	if !f.Contains(x, y, z) {
		return false
	}
	if f.Mask == nil {
		return true
	}
	return f.Mask.Data[f.VoxelIndex(x, y, z)] > 0.5
}

// Voxel returns the voxel containing physical position p
func (f *OrientationField) Voxel(p r3.Vec) (x, y, z int) {
	return int(math.Floor(p.X / f.Spacing.X)),
		int(math.Floor(p.Y / f.Spacing.Y)),
		int(math.Floor(p.Z / f.Spacing.Z))
}

// InsidePos reports whether physical position p lies in a domain voxel
func (f *OrientationField) InsidePos(p r3.Vec) bool {
	x, y, z := f.Voxel(p)
	return f.Inside(x, y, z)
}

// Bounds returns the physical extent of the volume
func (f *OrientationField) Bounds() r3.Vec {
	return r3.Vec{
		X: float64(f.Width) * f.Spacing.X,
		Y: float64(f.Height) * f.Spacing.Y,
		Z: float64(f.Depth) * f.Spacing.Z,
	}
}

// MinSpacing returns the smallest voxel edge length
func (f *OrientationField) MinSpacing() float64 {
	return math.Min(f.Spacing.X, math.Min(f.Spacing.Y, f.Spacing.Z))
}

// InsideVoxels returns the flat indices of all domain voxels in ascending
// order. The slice is built by New and SetMask and must not be modified.
func (f *OrientationField) InsideVoxels() []int {
	return f.inside
}

func (f *OrientationField) indexDomain() {
	inside := make([]int, 0, f.NumVoxels())
	for z := 0; z < f.Depth; z++ {
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				if f.Inside(x, y, z) {
					inside = append(inside, f.VoxelIndex(x, y, z))
				}
			}
		}
	}
	f.inside = inside
}

// VoxelCoords converts a flat voxel index back to (x, y, z)
func (f *OrientationField) VoxelCoords(index int) (x, y, z int) {
	plane := f.Width * f.Height
	z = index / plane
	rem := index % plane
	return rem % f.Width, rem / f.Width, z
}

// Normalize rescales all responses into [0, 1] by the global maximum.
// Negative responses are clipped to 0.
func (f *OrientationField) Normalize() {
	for i, v := range f.Response {
		if v < 0 || math.IsNaN(v) {
			f.Response[i] = 0
		}
	}
	if len(f.Response) == 0 {
		return
	}
	peak := floats.Max(f.Response)
	if peak <= 0 {
		return
	}
	floats.Scale(1/peak, f.Response)
}
