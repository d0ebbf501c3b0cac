package interpolation

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// peaked returns |d . axis|^p for every sampling direction
func peaked(dirs []r3.Vec, axis r3.Vec, p float64) []float64 {
	out := make([]float64, len(dirs))
	for i, d := range dirs {
		out[i] = math.Pow(math.Abs(r3.Dot(d, r3.Unit(axis))), p)
	}
	return out
}

func TestSphereDirections(t *testing.T) {
	dirs := SphereDirections(50)
	require.Len(t, dirs, 50)
	for i, d := range dirs {
		assert.InDelta(t, 1.0, r3.Norm(d), 1e-12, "direction %d", i)
		assert.Greater(t, d.Z, 0.0, "direction %d", i)
	}
}

func TestAntipodalTree(t *testing.T) {
	dirs := SphereDirections(40)
	tree := antipodalTree(dirs)
	for i, d := range dirs {
		for _, q := range []r3.Vec{d, r3.Scale(-1, d)} {
			got, dist := tree.Nearest(newRay(q, -1))
			require.NotNil(t, got)
			assert.Equal(t, i, got.(ray).slot, "direction %d", i)
			assert.InDelta(t, 0.0, dist, 1e-12)
		}
	}
}

func TestGenerateTable(t *testing.T) {
	dirs := SphereDirections(60)
	table, err := GenerateTable(dirs, 12)
	require.NoError(t, err)
	assert.Equal(t, 12*24, table.Bins())

	for row := range table.weights {
		w := table.weights[row][:]
		assert.InDelta(t, 1.0, floats.Sum(w), 1e-9, "row %d", row)
		assert.GreaterOrEqual(t, floats.Min(w), 0.0, "row %d", row)
		for _, idx := range table.indices[row] {
			assert.Less(t, int(idx), len(dirs))
		}
	}

	t.Run("InvalidInput", func(t *testing.T) {
		_, err := GenerateTable(dirs[:2], 12)
		assert.Error(t, err)
		_, err = GenerateTable(dirs, 0)
		assert.Error(t, err)
		_, err = GenerateTable([]r3.Vec{{X: 1}, {Y: 1}, {}}, 4)
		assert.Error(t, err)
	})
}

func TestBinIndexCoversSphere(t *testing.T) {
	const res = 8
	for _, d := range []r3.Vec{
		{Z: 1}, {Z: -1}, {X: 1}, {X: -1}, {Y: -1}, {X: 1, Y: -1e-12},
	} {
		row := binIndex(d, res)
		assert.GreaterOrEqual(t, row, 0)
		assert.Less(t, row, res*2*res)
	}
}

func TestFitPeakedResponse(t *testing.T) {
	dirs := SphereDirections(200)
	table, err := GenerateTable(dirs, 32)
	require.NoError(t, err)
	interp := FromTable(table)
	require.True(t, interp.Valid())

	resp := peaked(dirs, r3.Vec{X: 1}, 8)

	along := interp.Fit(r3.Vec{X: 1}, resp)
	across := interp.Fit(r3.Vec{Z: 1}, resp)
	diagonal := interp.Fit(r3.Vec{X: 1, Y: 1}, resp)

	assert.Greater(t, along, 0.7)
	assert.Less(t, across, 0.01)
	assert.Greater(t, along, diagonal)
	assert.Greater(t, interp.Fit(r3.Vec{X: -1}, resp), 0.7)

	// Unnormalized input is accepted
	assert.InDelta(t, along, interp.Fit(r3.Vec{X: 5}, resp), 1e-12)

	assert.Zero(t, interp.Fit(r3.Vec{}, resp))
	assert.Zero(t, interp.Fit(r3.Vec{X: 1}, resp[:10]))
}

func TestTableRoundTrip(t *testing.T) {
	table, err := GenerateTable(SphereDirections(40), 6)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = table.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadTable(&buf)
	require.NoError(t, err)
	assert.Equal(t, table.Resolution, got.Resolution)
	assert.Equal(t, table.Directions, got.Directions)
	assert.Equal(t, table.indices, got.indices)
	assert.Equal(t, table.weights, got.weights)

	path := filepath.Join(t.TempDir(), "table.lut")
	require.NoError(t, table.Save(path))
	interp := NewDirectionInterpolator(path)
	require.True(t, interp.Valid(), "load error: %v", interp.Err())
	assert.Len(t, interp.Directions(), 40)
}

func TestInvalidInterpolator(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.lut")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a table"), 0644))

	// 3 rows can never form a resolution x 2*resolution grid
	badGrid := filepath.Join(dir, "grid.lut")
	var buf bytes.Buffer
	_, err := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}).MarshalBinaryTo(&buf)
	require.NoError(t, err)
	_, err = mat.NewDense(3, tableColumns, nil).MarshalBinaryTo(&buf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(badGrid, buf.Bytes(), 0644))

	tests := []struct {
		name string
		path string
	}{
		{"EmptyPath", ""},
		{"MissingFile", filepath.Join(dir, "missing.lut")},
		{"CorruptFile", corrupt},
		{"BadGrid", badGrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interp := NewDirectionInterpolator(tt.path)
			assert.False(t, interp.Valid())
			assert.ErrorIs(t, interp.Err(), ErrInvalidTable)
			assert.Nil(t, interp.Directions())
			assert.Zero(t, interp.Fit(r3.Vec{X: 1}, []float64{1, 1, 1}))
		})
	}

	assert.False(t, FromTable(nil).Valid())
}
