package nightlight

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store/memstore"
	"github.com/stretchr/testify/require"
)

var (
	legacyGrid = raster.NewGeographicGrid(0, 2, 1, 2, 2)
	modernGrid = raster.NewGeographicGrid(0, 2, 0.5, 4, 4)
)

func member(t *testing.T, grid raster.Grid, ts time.Time, values ...float64) *raster.Raster {
	t.Helper()
	r, err := raster.FromValues(grid, values)
	require.NoError(t, err)
	r.TimeStamp = ts
	return r
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func evaluate(t *testing.T, s *memstore.Store, img processor.Image) *raster.Raster {
	t.Helper()
	out, err := processor.NewEvaluator(s).Evaluate(context.Background(), img)
	require.NoError(t, err)
	return out
}

// harmonizerFixture stores a modern series for 2016 whose calibrated values
// are known in closed form with slope 5 and intercept 5.5.
func harmonizerFixture(t *testing.T) (*memstore.Store, *Harmonizer) {
	t.Helper()
	s := memstore.New()
	e2, e20 := math.Exp(2), math.Exp(20)
	fine := []float64{
		1, 1, 0, 0,
		1, 1, 0, 0,
		e2, 0, e20, e20,
		e2, 0, e20, e20,
	}
	s.PutMember("viirs", "201601", "", member(t, modernGrid, date(2016, 1, 1), fine...))
	s.PutMember("viirs", "201607", "", member(t, modernGrid, date(2016, 7, 1), fine...))
	s.DeclareCollection("dmsp", legacyGrid)
	s.PutMember("dmsp", "F152010", "", member(t, legacyGrid, date(2010, 1, 1), 10, 20, 30, 40))
	s.PutMember("dmsp", "F162010", "", member(t, legacyGrid, date(2010, 1, 1), 20, 20, 40, math.NaN()))
	s.PutImage("water", raster.Filled(legacyGrid, 1))

	h := &Harmonizer{
		Legacy:       "dmsp",
		Composites:   CompositeBuilder{Collection: "viirs", Threshold: DefaultLatitudeThreshold()},
		WaterMask:    "water",
		Coefficients: Coefficients{Slope: 5, Intercept: 5.5},
		Config:       DefaultHarmonizerConfig(),
	}
	return s, h
}
