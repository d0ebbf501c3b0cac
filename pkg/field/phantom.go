package field

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"gibbstrack/internal/models"
)

// PeakedResponse returns the response of an ideal single-orientation voxel
// sampled on dirs: |d . axis|^sharpness. Higher sharpness narrows the peak.
func PeakedResponse(dirs []r3.Vec, axis r3.Vec, sharpness float64) []float64 {
	axis = r3.Unit(axis)
	values := make([]float64, len(dirs))
	for i, d := range dirs {
		values[i] = math.Pow(math.Abs(r3.Dot(r3.Unit(d), axis)), sharpness)
	}
	return values
}

// StraightLine builds a length x 3 x 3 phantom with unit spacing whose mask
// is a one-voxel-thick line along x through the centre of the volume.
func StraightLine(length int, dirs []r3.Vec, sharpness float64) (*OrientationField, error) {
	if length < 2 {
		return nil, fmt.Errorf("%w: line length %d", ErrGeometry, length)
	}
	f, err := New(length, 3, 3, r3.Vec{X: 1, Y: 1, Z: 1}, dirs)
	if err != nil {
		return nil, err
	}

	mask := models.NewVolume(length, 3, 3, 1, 1, 1)
	resp := PeakedResponse(f.Directions, r3.Vec{X: 1}, sharpness)
	for x := 0; x < length; x++ {
		mask.Set(x, 1, 1, 1)
		if err := f.SetResponse(x, 1, 1, resp); err != nil {
			return nil, err
		}
	}
	if err := f.SetMask(mask); err != nil {
		return nil, err
	}
	f.Normalize()
	return f, nil
}

// Crossing builds a size x size x 3 phantom with two perpendicular lines
// crossing in the middle of the z=1 plane. The crossing voxel carries the
// mean of both responses.
func Crossing(size int, dirs []r3.Vec, sharpness float64) (*OrientationField, error) {
	if size < 3 {
		return nil, fmt.Errorf("%w: crossing size %d", ErrGeometry, size)
	}
	f, err := New(size, size, 3, r3.Vec{X: 1, Y: 1, Z: 1}, dirs)
	if err != nil {
		return nil, err
	}

	mask := models.NewVolume(size, size, 3, 1, 1, 1)
	alongX := PeakedResponse(f.Directions, r3.Vec{X: 1}, sharpness)
	alongY := PeakedResponse(f.Directions, r3.Vec{Y: 1}, sharpness)
	both := make([]float64, len(alongX))
	floats.AddScaledTo(both, alongX, 1, alongY)
	floats.Scale(0.5, both)

	mid := size / 2
	for i := 0; i < size; i++ {
		mask.Set(i, mid, 1, 1)
		mask.Set(mid, i, 1, 1)
		if i == mid {
			continue
		}
		if err := f.SetResponse(i, mid, 1, alongX); err != nil {
			return nil, err
		}
		if err := f.SetResponse(mid, i, 1, alongY); err != nil {
			return nil, err
		}
	}
	if err := f.SetResponse(mid, mid, 1, both); err != nil {
		return nil, err
	}
	if err := f.SetMask(mask); err != nil {
		return nil, err
	}
	f.Normalize()
	return f, nil
}
