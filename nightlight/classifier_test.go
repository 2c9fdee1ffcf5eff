package nightlight

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, bins BinTable, water []float64, values ...float64) *raster.Raster {
	t.Helper()
	grid := raster.NewGeographicGrid(0, 1, 1, len(values), 1)
	s := memstore.New()
	w, err := raster.FromValues(grid, water)
	require.NoError(t, err)
	s.PutImage("water", w)
	src, err := raster.FromValues(grid, values)
	require.NoError(t, err)

	c := Classifier{Bins: bins, WaterMask: "water", Scale: DefaultDriverScale}
	return evaluate(t, s, c.Classify(processor.FromRaster(src)))
}

func TestClassifyDefaultTable(t *testing.T) {
	out := classify(t, DefaultBinTable(), []float64{1, 1, 1, 1}, 0, 3, 7, 63)
	assert.Equal(t, raster.Int32, out.Type)
	if diff := cmp.Diff([]float64{0, 100, 400, 1000}, out.Data); diff != "" {
		t.Errorf("driver layer mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyOrdinalMatchingValue(t *testing.T) {
	bins := BinTable{{0, 0, 0}, {1, 1, 4}, {7, 5, 62}, {10, 63, 63}}
	out := classify(t, bins, []float64{1, 1, 1, 1}, 0, 3, 7, 63)
	assert.Equal(t, []float64{0, 100, 700, 1000}, out.Data)
}

func TestClassifyOverlapTakesMaximum(t *testing.T) {
	bins := BinTable{{2, 5, 15}, {1, 0, 10}}
	out := classify(t, bins, []float64{1, 1, 1, 1}, 3, 7, 12, 20)
	assert.Equal(t, []float64{100, 200, 200, 0}, out.Data)
	assert.Equal(t, []bool{true, true, true, true}, out.Valid)
}

func TestClassifyMasksWaterAndFillsMissing(t *testing.T) {
	nan := math.NaN()
	out := classify(t, DefaultBinTable(), []float64{1, 0, nan, 1}, 3, 3, 3, nan)
	assert.Equal(t, []bool{true, false, false, true}, out.Valid)
	assert.Equal(t, 100.0, out.Data[0])
	assert.Equal(t, 0.0, out.Data[3])
}

func TestClassifyMatchesScalarOrdinal(t *testing.T) {
	bins := BinTable{{1, 0, 10}, {3, 8, 20}, {2, 15, 40}, {5, 39.5, 40}}
	values := make([]float64, 0, 100)
	for v := -5.0; v < 45; v += 0.5 {
		values = append(values, v)
	}
	water := make([]float64, len(values))
	for i := range water {
		water[i] = 1
	}

	out := classify(t, bins, water, values...)
	for i, v := range values {
		want, _ := bins.Ordinal(v)
		assert.Equal(t, float64(want*100), out.Data[i], "value %g", v)
	}
}

func TestBinTableValidate(t *testing.T) {
	assert.NoError(t, DefaultBinTable().Validate())
	assert.Error(t, BinTable{}.Validate())
	assert.Error(t, BinTable{{1, 0, 1}, {1, 2, 3}}.Validate())
	assert.Error(t, BinTable{{1, 5, 1}}.Validate())
}

func TestBinTableOrdinal(t *testing.T) {
	bins := DefaultBinTable()
	for v, want := range map[float64]int{0: 0, 1: 1, 4: 1, 5: 2, 7: 4, 9: 5, 31: 9, 62: 9, 63: 10} {
		got, ok := bins.Ordinal(v)
		assert.True(t, ok)
		assert.Equal(t, want, got, "value %g", v)
	}
	_, ok := bins.Ordinal(4.5)
	assert.False(t, ok)
}
