// Package visualization renders orientation fields as quality-control
// images: per-voxel maps viewed as slices or maximum intensity projections.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"gibbstrack/internal/models"
	"gibbstrack/pkg/field"
)

// PeakMap returns the largest sampled response of every voxel inside the
// tracking domain. Voxels outside the mask are 0.
func PeakMap(of *field.OrientationField) *models.Volume {
	vol := models.NewVolume(of.Width, of.Height, of.Depth, of.Spacing.X, of.Spacing.Y, of.Spacing.Z)
	for _, idx := range of.InsideVoxels() {
		x, y, z := of.VoxelCoords(idx)
		if resp := of.ResponseAt(x, y, z); len(resp) > 0 {
			vol.Data[idx] = floats.Max(resp)
		}
	}
	return vol
}

// MaskMap returns the tracking domain as a 0/1 volume
func MaskMap(of *field.OrientationField) *models.Volume {
	vol := models.NewVolume(of.Width, of.Height, of.Depth, of.Spacing.X, of.Spacing.Y, of.Spacing.Z)
	for _, idx := range of.InsideVoxels() {
		vol.Data[idx] = 1
	}
	return vol
}

// Viewer extracts 2D images from a volume
type Viewer struct {
	volume *models.Volume

	// scale maps volume values into [0, 1]
	scale float64
}

// NewViewer creates a viewer normalizing by the volume maximum
func NewViewer(volume *models.Volume) *Viewer {
	v := &Viewer{volume: volume, scale: 1}
	if len(volume.Data) > 0 {
		if peak := floats.Max(volume.Data); peak > 0 {
			v.scale = 1 / peak
		}
	}
	return v
}

func (v *Viewer) gray(value float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, value*v.scale*65535)))}
}

// planeSize returns the image size of a slice perpendicular to axis and the
// number of slices along it
func (v *Viewer) planeSize(axis string) (w, h, n int, err error) {
	vol := v.volume
	switch axis {
	case "x", "X":
		return vol.Depth, vol.Height, vol.Width, nil
	case "y", "Y":
		return vol.Width, vol.Depth, vol.Height, nil
	case "z", "Z":
		return vol.Width, vol.Height, vol.Depth, nil
	}
	return 0, 0, 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// voxel maps image pixel (u, w) of slice position along axis to volume
// coordinates
func voxel(axis string, u, w, position int) (x, y, z int) {
	switch axis {
	case "x", "X":
		return position, w, u
	case "y", "Y":
		return u, position, w
	default:
		return u, w, position
	}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	w, h, n, err := v.planeSize(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			img.SetGray16(i, j, v.gray(v.volume.At(voxel(axis, i, j, position))))
		}
	}
	return img, nil
}

// Projection returns the maximum intensity projection along axis
func (v *Viewer) Projection(axis string) (image.Image, error) {
	w, h, n, err := v.planeSize(axis)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			peak := 0.0
			for k := 0; k < n; k++ {
				peak = math.Max(peak, v.volume.At(voxel(axis, i, j, k)))
			}
			img.SetGray16(i, j, v.gray(peak))
		}
	}
	return img, nil
}

// SaveImage saves an image as PNG
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveProjections writes <name>_x.png, <name>_y.png and <name>_z.png into
// outputDir
func (v *Viewer) SaveProjections(outputDir, name string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.Projection(axis)
		if err != nil {
			return err
		}
		if err := SaveImage(img, filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", name, axis))); err != nil {
			return fmt.Errorf("saving %s projection: %w", axis, err)
		}
	}
	return nil
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	_, _, n, err := v.planeSize(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveImage(img, filename); err != nil {
			return err
		}
	}
	return nil
}
