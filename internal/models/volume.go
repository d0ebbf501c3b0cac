package models

// Volume represents a scalar 3D volume such as a tracking mask
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zero-filled volume with the given geometry
func NewVolume(width, height, depth int, sx, sy, sz float64) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X = sx
	v.VoxelSize.Y = sy
	v.VoxelSize.Z = sz
	return v
}

// Index returns the flat index of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Contains reports whether (x, y, z) lies inside the volume
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

// At returns the value at (x, y, z), or 0 outside the volume
func (v *Volume) At(x, y, z int) float64 {
	if !v.Contains(x, y, z) {
		return 0
	}
	return v.Data[v.Index(x, y, z)]
}

// Set stores a value at (x, y, z). Out-of-range writes are ignored.
func (v *Volume) Set(x, y, z int, value float64) {
	if !v.Contains(x, y, z) {
		return
	}
	v.Data[v.Index(x, y, z)] = value
}

// Count returns the number of voxels whose value exceeds threshold
func (v *Volume) Count(threshold float64) int {
	n := 0
	for _, val := range v.Data {
		if val > threshold {
			n++
		}
	}
	return n
}
