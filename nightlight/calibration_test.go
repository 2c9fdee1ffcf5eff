package nightlight

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoefficientsRoundTrip(t *testing.T) {
	c := Coefficients{Slope: 11.62, Intercept: 19.4}
	for _, x := range []float64{0, 1, 6.5, 30, 63} {
		modern := math.Exp((x - 19.4) / 11.62)
		got, ok := c.Apply(modern)
		require.True(t, ok)
		assert.InDelta(t, x, got, 1e-9)
		assert.InDelta(t, modern, c.Inverse(x), 1e-12)
	}

	_, ok := c.Apply(0)
	assert.False(t, ok)
	_, ok = c.Apply(-3)
	assert.False(t, ok)
}

func TestFitTable(t *testing.T) {
	want := Coefficients{Slope: 11.62, Intercept: 19.4}
	table := &raster.Table{Bands: []string{LegacyBand, ModernBand}}
	for _, x := range []float64{3, 7, 12, 20, 41, 63} {
		table.Points = append(table.Points, raster.SamplePoint{Values: map[string]float64{
			LegacyBand: x,
			ModernBand: want.Inverse(x),
		}})
	}
	table.Points = append(table.Points,
		raster.SamplePoint{Values: map[string]float64{LegacyBand: 10, ModernBand: 0}},
		raster.SamplePoint{Values: map[string]float64{LegacyBand: 10, ModernBand: -2}},
		raster.SamplePoint{Values: map[string]float64{LegacyBand: 10}},
	)

	fit, err := FitTable(table, LegacyBand, ModernBand)
	require.NoError(t, err)
	assert.InDelta(t, want.Slope, fit.Slope, 1e-9)
	assert.InDelta(t, want.Intercept, fit.Intercept, 1e-9)
	assert.InDelta(t, 1.0, fit.R2, 1e-9)
	assert.Equal(t, 6, fit.N)
	assert.Equal(t, 3, fit.Dropped)
}

func TestFitTableInsufficientSamples(t *testing.T) {
	table := &raster.Table{Points: []raster.SamplePoint{
		{Values: map[string]float64{LegacyBand: 3, ModernBand: 1}},
		{Values: map[string]float64{LegacyBand: 3, ModernBand: 0}},
	}}
	_, err := FitTable(table, LegacyBand, ModernBand)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	table.Points[1].Values[ModernBand] = 1
	_, err = FitTable(table, LegacyBand, ModernBand)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestCalibrationConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultCalibrationConfig().Validate())

	c := DefaultCalibrationConfig()
	c.Region = []float64{0, 0, 1}
	assert.Error(t, c.Validate())

	c = DefaultCalibrationConfig()
	c.OverlapYear = 2010
	assert.Error(t, c.Validate())

	c = DefaultCalibrationConfig()
	c.PointsPerClass = 0
	assert.Error(t, c.Validate())
}

// calibrationFixture builds a legacy record with values 1..16 that is
// stable from 2000 to 2012 except for pixel 14, a water pixel 15, and a
// modern 2014 record that calibrates exactly with slope 5 and intercept 5.
func calibrationFixture(t *testing.T) (*memstore.Store, *Calibrator) {
	t.Helper()
	legacy := raster.NewGeographicGrid(0, 4, 1, 4, 4)
	modern := raster.NewGeographicGrid(0, 4, 0.5, 8, 8)
	truth := Coefficients{Slope: 5, Intercept: 5}
	s := memstore.New()

	values := func(year int) []float64 {
		v := make([]float64, 16)
		for i := range v {
			v[i] = float64(i + 1)
		}
		if year%2 == 1 {
			v[14] = 25
		}
		if year < 2000 {
			for i := range v {
				v[i] = 100
			}
		}
		return v
	}
	for year := 1999; year <= 2012; year++ {
		s.PutMember("dmsp", AssetName("F", year), "", member(t, legacy, YearStart(year), values(year)...))
	}

	water := raster.Filled(legacy, 1)
	water.Data[15] = 0
	s.PutImage("water", water)

	latest := values(2012)
	fine := make([]float64, modern.Size())
	for i := range fine {
		lon, lat := modern.PixelCenter(i)
		j, ok := legacy.Index(lon, lat)
		require.True(t, ok)
		fine[i] = truth.Inverse(latest[j])
	}
	s.PutMember("viirs", "201401", "", member(t, modern, date(2014, 1, 1), fine...))
	s.PutMember("viirs", "201406", "", member(t, modern, date(2014, 6, 1), fine...))
	bad := raster.Filled(modern, -1)
	bad.TimeStamp = date(2014, 9, 1)
	s.PutMember("viirs", "201409", "", bad)
	s.PutMember("viirs", "201501", "", member(t, modern, date(2015, 1, 1), make([]float64, modern.Size())...))

	cfg := DefaultCalibrationConfig()
	cfg.Seed = 42
	cfg.SampleOutput = "samples/calibration"
	c := &Calibrator{
		Legacy:     "dmsp",
		Composites: CompositeBuilder{Collection: "viirs", Threshold: DefaultLatitudeThreshold()},
		WaterMask:  "water",
		Config:     cfg,
	}
	return s, c
}

func TestStableLights(t *testing.T) {
	s, c := calibrationFixture(t)

	stable := evaluate(t, s, c.StableLights())
	for i := range stable.Data {
		want := 1.0
		if i == 14 {
			want = 0
		}
		assert.Equal(t, want, stable.Data[i], "pixel %d", i)
	}
}

func TestCalibratorRecoversCoefficients(t *testing.T) {
	s, c := calibrationFixture(t)
	e := processor.NewEvaluator(s)

	fit, table, err := c.Run(context.Background(), e)
	require.NoError(t, err)

	// 16 classes minus the unstable and the water pixel, one pixel each
	assert.Equal(t, 14, table.Len())
	assert.Equal(t, 14, fit.N)
	assert.InDelta(t, 5.0, fit.Slope, 1e-9)
	assert.InDelta(t, 5.0, fit.Intercept, 1e-9)
	assert.InDelta(t, 1.0, fit.R2, 1e-9)

	for _, p := range table.Points {
		assert.Equal(t, float64(p.Class), p.Values[LegacyBand])
		assert.Greater(t, p.Values[ModernBand], 0.0)
	}

	stored, err := s.Table(context.Background(), "samples/calibration")
	require.NoError(t, err)
	assert.Equal(t, table.Len(), stored.Len())
}

func TestCalibratorSampleIsReproducible(t *testing.T) {
	s, c := calibrationFixture(t)
	c.Config.PointsPerClass = 1
	e := processor.NewEvaluator(s)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := c.Sample(ctx, e)
	require.NoError(t, err)
	b, err := c.Sample(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, a.Points, b.Points)
}
