package raster

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustValues(t *testing.T, grid Grid, values ...float64) *Raster {
	t.Helper()
	r, err := FromValues(grid, values)
	require.NoError(t, err)
	return r
}

func TestFromValuesMarksNonFiniteInvalid(t *testing.T) {
	grid := NewGeographicGrid(0, 2, 1, 2, 2)
	r := mustValues(t, grid, 1, math.NaN(), math.Inf(1), 4)
	assert.Equal(t, []bool{true, false, false, true}, r.Valid)
	assert.Equal(t, 2, r.ValidCount())

	_, err := FromValues(grid, []float64{1, 2, 3})
	assert.Error(t, err)
}

func TestLogMasksNonPositive(t *testing.T) {
	grid := NewGeographicGrid(0, 1, 1, 4, 1)
	r := mustValues(t, grid, -1, 0, 1, math.E).Log()
	assert.Equal(t, []bool{false, false, true, true}, r.Valid)
	assert.InDelta(t, 1.0, r.Data[3], 1e-12)
}

func TestUnmaskSelfMaskClampCast(t *testing.T) {
	grid := NewGeographicGrid(0, 1, 1, 5, 1)
	r := mustValues(t, grid, math.NaN(), -3, 12.7, 70, 0.4)

	out := r.Unmask(0).Clamp(0, 63).Cast(Byte).SelfMask()
	assert.Equal(t, Byte, out.Type)
	assert.Equal(t, []bool{false, false, true, true, false}, out.Valid)
	assert.Equal(t, 12.0, out.Data[2])
	assert.Equal(t, 63.0, out.Data[3])
}

func TestUpdateMaskAlignsMask(t *testing.T) {
	fine := NewGeographicGrid(0, 2, 0.5, 4, 4)
	coarse := NewGeographicGrid(0, 2, 1, 2, 2)

	r := Filled(fine, 5)
	mask := mustValues(t, coarse, 1, 0, math.NaN(), 1)

	out, err := r.UpdateMask(mask)
	require.NoError(t, err)
	want := []bool{
		true, true, false, false,
		true, true, false, false,
		false, false, true, true,
		false, false, true, true,
	}
	assert.Equal(t, want, out.Valid)
}

func TestCombineRequiresAlignedGrids(t *testing.T) {
	a := Filled(NewGeographicGrid(0, 1, 1, 2, 1), 1)
	b := Filled(NewGeographicGrid(0, 1, 0.5, 4, 2), 1)
	_, err := Combine(a, b, func(x, y float64) (float64, bool) { return x + y, true })
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestReduceIgnoresInvalidSamples(t *testing.T) {
	grid := NewGeographicGrid(0, 1, 1, 3, 1)
	nan := math.NaN()
	members := []*Raster{
		mustValues(t, grid, 1, nan, 4),
		mustValues(t, grid, 3, nan, 8),
		mustValues(t, grid, 2, nan, nan),
		mustValues(t, grid, 10, nan, nan),
	}

	med, err := Reduce(grid, members, ReduceMedian)
	require.NoError(t, err)
	assert.Equal(t, 2.5, med.Data[0])
	assert.False(t, med.Valid[1])
	assert.Equal(t, 6.0, med.Data[2])

	mx, err := Reduce(grid, members, ReduceMax)
	require.NoError(t, err)
	assert.Equal(t, 10.0, mx.Data[0])

	sd, err := Reduce(grid, members[:2], ReduceStdDev)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sd.Data[0], 1e-12)
	assert.InDelta(t, 2.0, sd.Data[2], 1e-12)

	single, err := Reduce(grid, members[:1], ReduceStdDev)
	require.NoError(t, err)
	assert.Equal(t, 0.0, single.Data[0])
}

func TestReduceEmptyStackIsAllInvalid(t *testing.T) {
	grid := NewGeographicGrid(0, 1, 1, 3, 1)
	out, err := Reduce(grid, nil, ReduceMedian)
	require.NoError(t, err)
	assert.True(t, out.AllInvalid())

	_, err = Reduce(Grid{}, nil, ReduceMedian)
	assert.ErrorIs(t, err, ErrNoGrid)
}

func TestReduceResolutionAreaWeightedMean(t *testing.T) {
	fine := NewGeographicGrid(0, 2, 0.5, 4, 4)
	coarse := NewGeographicGrid(0, 2, 1, 2, 2)
	nan := math.NaN()
	r := mustValues(t, fine,
		1, 3, 0, 0,
		5, 7, 0, 8,
		nan, nan, 2, 2,
		nan, 4, 2, 2,
	)

	out, err := r.ReduceResolution(coarse)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true}, out.Valid)
	if diff := cmp.Diff([]float64{4, 2, 4, 2}, out.Data); diff != "" {
		t.Errorf("unexpected resampled values (-want +got):\n%s", diff)
	}
}

func TestReduceResolutionPartialOverlap(t *testing.T) {
	src := NewGeographicGrid(0, 1, 1, 3, 1)
	dst := NewGeographicGrid(0, 1, 1.5, 2, 1)
	r := mustValues(t, src, 0, 3, 6)

	out, err := r.ReduceResolution(dst)
	require.NoError(t, err)
	// first target cell covers all of pixel 0 and half of pixel 1
	assert.InDelta(t, 1.0, out.Data[0], 1e-12)
	assert.InDelta(t, 5.0, out.Data[1], 1e-12)
}

func TestReduceResolutionRefusesUpsampling(t *testing.T) {
	r := Filled(NewGeographicGrid(0, 2, 1, 2, 2), 1)
	_, err := r.ReduceResolution(NewGeographicGrid(0, 2, 0.5, 4, 4))
	assert.ErrorIs(t, err, ErrUpsample)

	other := NewGeographicGrid(0, 2, 1, 2, 2)
	other.CRS = "EPSG:3857"
	_, err = r.ReduceResolution(other)
	assert.ErrorIs(t, err, ErrProjection)
}

func TestLatitudeAndIndex(t *testing.T) {
	grid := NewGeographicGrid(-180, 90, 90, 4, 2)
	lat := Latitude(grid)
	assert.Equal(t, 45.0, lat.Data[0])
	assert.Equal(t, -45.0, lat.Data[7])

	i, ok := grid.Index(100, -10)
	assert.True(t, ok)
	assert.Equal(t, 7, i)
	_, ok = grid.Index(0, 95)
	assert.False(t, ok)
}

func TestPercentiles(t *testing.T) {
	grid := NewGeographicGrid(0, 1, 1, 5, 1)
	r := mustValues(t, grid, 5, 1, 4, 2, 3)
	ps := r.Percentiles(0, 0.5, 1)
	assert.Equal(t, []float64{1, 3, 5}, ps)

	empty := New(grid)
	assert.True(t, math.IsNaN(empty.Percentiles(0.5)[0]))
}

func TestIdentical(t *testing.T) {
	grid := NewGeographicGrid(0, 1, 1, 2, 1)
	a := mustValues(t, grid, 1, math.NaN())
	b := a.Clone()
	b.Data[1] = 42
	assert.True(t, a.Identical(b))
	b.Data[0] = 1.0000001
	assert.False(t, a.Identical(b))
}
