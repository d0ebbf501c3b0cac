package visualization

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"gibbstrack/internal/models"
	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
)

// gradientVolume fills every z slice with the value z+1
func gradientVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume(width, height, depth, 1, 1, 1)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(x, y, z, float64(z+1))
			}
		}
	}
	return vol
}

// TestFieldMaps verifies the peak response and mask maps of the line phantom
func TestFieldMaps(t *testing.T) {
	of, err := field.StraightLine(10, interpolation.SphereDirections(60), 8)
	if err != nil {
		t.Fatalf("Failed to build phantom: %v", err)
	}

	peaks := PeakMap(of)
	mask := MaskMap(of)
	for x := 0; x < 10; x++ {
		if got := peaks.At(x, 1, 1); got != 1 {
			t.Errorf("peak at x=%d: expected 1, got %v", x, got)
		}
		if got := mask.At(x, 1, 1); got != 1 {
			t.Errorf("mask at x=%d: expected 1, got %v", x, got)
		}
	}
	if got := peaks.Count(0); got != 10 {
		t.Errorf("expected 10 voxels with a response, got %d", got)
	}
	if got := mask.Count(0.5); got != 10 {
		t.Errorf("expected 10 mask voxels, got %d", got)
	}
	if peaks.VoxelSize.X != of.Spacing.X {
		t.Errorf("expected voxel size %v, got %v", of.Spacing.X, peaks.VoxelSize.X)
	}
}

// TestExtractSlice verifies slice geometry and normalization by the maximum
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 4
	viewer := NewViewer(gradientVolume(width, height, depth))

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", width, height, bounds.Dx(), bounds.Dy())
		}
		gray, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		expected := uint16(float64(z+1) / float64(depth) * 65535)
		if got := gray.Gray16At(width/2, height/2).Y; got != expected {
			t.Errorf("Expected Z slice value %d at center, got %d", expected, got)
		}
	}

	tests := []struct {
		axis string
		w, h int
	}{
		{"x", depth, height},
		{"y", width, depth},
		{"Z", width, height},
	}
	for _, tt := range tests {
		img, err := viewer.ExtractSlice(tt.axis, 1)
		if err != nil {
			t.Fatalf("Failed to extract %s slice: %v", tt.axis, err)
		}
		if b := img.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
			t.Errorf("Expected %s slice dimensions %dx%d, got %dx%d", tt.axis, tt.w, tt.h, b.Dx(), b.Dy())
		}
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestProjection verifies the maximum intensity projection
func TestProjection(t *testing.T) {
	vol := models.NewVolume(4, 4, 4, 1, 1, 1)
	vol.Set(1, 2, 3, 2)
	vol.Set(1, 2, 0, 1)
	viewer := NewViewer(vol)

	img, err := viewer.Projection("z")
	if err != nil {
		t.Fatalf("Failed to project: %v", err)
	}
	gray := img.(*image.Gray16)
	if got := gray.Gray16At(1, 2).Y; got != 65535 {
		t.Errorf("Expected projected maximum 65535, got %d", got)
	}
	if got := gray.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected empty pixel, got %d", got)
	}

	img, err = viewer.Projection("x")
	if err != nil {
		t.Fatalf("Failed to project: %v", err)
	}
	// x projection images are (z, y)
	if got := img.(*image.Gray16).Gray16At(0, 2).Y; got != 32767 {
		t.Errorf("Expected half intensity, got %d", got)
	}
}

// TestEmptyVolume verifies that an all-zero volume renders black
func TestEmptyVolume(t *testing.T) {
	viewer := NewViewer(models.NewVolume(3, 3, 3, 1, 1, 1))
	img, err := viewer.Projection("y")
	if err != nil {
		t.Fatalf("Failed to project: %v", err)
	}
	if got := img.(*image.Gray16).Gray16At(1, 1).Y; got != 0 {
		t.Errorf("Expected black pixel, got %d", got)
	}
}

// TestSaveImages verifies that projections and slice sequences are written
func TestSaveImages(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	viewer := NewViewer(gradientVolume(5, 5, 3))

	if err := viewer.SaveProjections(tempDir, "peaks"); err != nil {
		t.Fatalf("Failed to save projections: %v", err)
	}
	for _, axis := range []string{"x", "y", "z"} {
		filename := filepath.Join(tempDir, fmt.Sprintf("peaks_%s.png", axis))
		if _, err := os.Stat(filename); err != nil {
			t.Errorf("Expected projection file %s: %v", filename, err)
		}
	}

	outputDir := filepath.Join(tempDir, "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	for z := 0; z < 3; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
