package nightlight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBuilder struct {
	calls   []int
	missing map[int]bool
}

func (b *countingBuilder) Year(year int) processor.Image {
	b.calls = append(b.calls, year)
	if b.missing[year] {
		return processor.FromRaster(raster.New(legacyGrid)).SetTime(YearStart(year))
	}
	return processor.FromRaster(raster.Filled(legacyGrid, float64(year%60+1))).Uint8().SetTime(YearStart(year))
}

func (b *countingBuilder) Era(year int) string {
	if year < 2014 {
		return "dmsp"
	}
	return "viirs"
}

func resolverFixture(t *testing.T, maxAge int, years ...int) (*memstore.Store, *countingBuilder, *Resolver) {
	t.Helper()
	s := memstore.New()
	s.DeclareCollection("harmonized", legacyGrid)
	for _, y := range years {
		r := raster.Filled(legacyGrid, 1)
		r.TimeStamp = YearStart(y)
		s.PutMember("harmonized", AssetName("viirs", y), "viirs", r)
	}
	b := &countingBuilder{missing: map[int]bool{}}
	r := &Resolver{
		Collection: "harmonized",
		Policy:     FreshnessPolicy{MaxAgeYears: maxAge},
		Builder:    b,
		Evaluator:  processor.NewEvaluator(s),
	}
	return s, b, r
}

func TestFreshnessPolicy(t *testing.T) {
	p := FreshnessPolicy{MaxAgeYears: 1}
	target := date(2020, 3, 15)
	assert.Equal(t, Fresh, p.State(2020, target))
	assert.Equal(t, Fresh, p.State(2019, target))
	assert.Equal(t, Stale, p.State(2018, target))
	assert.Equal(t, Stale, p.State(2021, target))
	// integer year difference: Jan 1 2019 to Dec 31 2020 is still age 1
	assert.Equal(t, Fresh, p.State(2019, date(2020, 12, 31)))
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "stale", Stale.String())
}

func TestResolveFresh(t *testing.T) {
	s, b, r := resolverFixture(t, 1, 2017, 2019)

	res, err := r.Resolve(context.Background(), date(2020, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Initial)
	assert.Equal(t, 2019, res.Asset.Year)
	assert.Equal(t, "viirs_2019", res.Asset.Name)
	assert.Empty(t, res.Recomputed)
	assert.Empty(t, b.calls)
	assert.Equal(t, 0, s.ExportCount())
}

func TestResolveStaleRecomputesOnce(t *testing.T) {
	s, b, r := resolverFixture(t, 1, 2018)

	res, err := r.Resolve(context.Background(), date(2020, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, Stale, res.Initial)
	assert.Equal(t, []int{2019}, b.calls)
	assert.Equal(t, []int{2019}, res.Recomputed)
	assert.Equal(t, 2019, res.Asset.Year)
	assert.Equal(t, "viirs_2019", res.Asset.Name)
	assert.Equal(t, "viirs", res.Asset.Era)
	assert.Equal(t, 1, s.ExportCount())
}

func TestResolveMultiYearGap(t *testing.T) {
	_, b, r := resolverFixture(t, 1, 2012)

	res, err := r.Resolve(context.Background(), date(2016, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{2013, 2014, 2015}, b.calls)
	assert.Equal(t, 2015, res.Asset.Year)

	assets, err := r.Evaluator.Store().Assets(context.Background(), "harmonized")
	require.NoError(t, err)
	names := make([]string, 0, len(assets))
	for _, a := range assets {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"viirs_2012", "dmsp_2013", "viirs_2014", "viirs_2015"}, names)
}

func TestResolveEmptyCollection(t *testing.T) {
	_, b, r := resolverFixture(t, 1)

	res, err := r.Resolve(context.Background(), date(2020, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{2019}, b.calls)
	assert.Equal(t, 2019, res.Asset.Year)
}

func TestResolveIgnoresFutureAssets(t *testing.T) {
	_, b, r := resolverFixture(t, 0, 2019, 2021)

	res, err := r.Resolve(context.Background(), date(2020, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{2020}, b.calls)
	assert.Equal(t, 2020, res.Asset.Year)
}

func TestResolveDataUnavailable(t *testing.T) {
	s, b, r := resolverFixture(t, 1, 2018)
	b.missing[2019] = true

	_, err := r.Resolve(context.Background(), date(2020, 6, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	var unavailable *DataUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 2019, unavailable.Year)
	assert.Equal(t, "harmonized", unavailable.Collection)

	// last known good asset is untouched and nothing was written
	assert.Equal(t, 0, s.ExportCount())
	assets, err := s.Assets(context.Background(), "harmonized")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, 2018, assets[0].Year)
}

func TestResolveRecomputeIsIdempotent(t *testing.T) {
	s, _, r := resolverFixture(t, 1, 2018)
	ctx := context.Background()

	_, err := r.Resolve(ctx, date(2020, 6, 1))
	require.NoError(t, err)
	first, err := s.Image(ctx, "harmonized/viirs_2019")
	require.NoError(t, err)

	// a second caller racing on the same year overwrites with an equal asset
	require.NoError(t, r.recompute(ctx, 2019))
	second, err := s.Image(ctx, "harmonized/viirs_2019")
	require.NoError(t, err)
	assert.True(t, first.Identical(second))

	assets, err := s.Assets(ctx, "harmonized")
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestResolveSurfacesExportFailure(t *testing.T) {
	s, _, r := resolverFixture(t, 1, 2018)
	s.FailExports(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := r.Resolve(ctx, date(2020, 6, 1))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrDataUnavailable))
}

func TestResolveBridgesLegacyAndModernRecords(t *testing.T) {
	s, h := harmonizerFixture(t)
	ctx := context.Background()
	s.PutMember("dmsp", "F182012", "", member(t, legacyGrid, date(2012, 1, 1), 8, 9, 10, 11))
	s.PutMember("viirs", "201403", "", member(t, modernGrid, date(2014, 3, 1),
		1, 1, 0, 0,
		1, 1, 0, 0,
		1, 1, 0, 0,
		1, 1, 0, 0))
	s.DeclareCollection("harmonized", legacyGrid)
	legacy := raster.Filled(legacyGrid, 9)
	legacy.TimeStamp = YearStart(2012)
	s.PutMember("harmonized", AssetName("dmsp", 2012), "dmsp", legacy)

	r := &Resolver{
		Collection: "harmonized",
		Policy:     FreshnessPolicy{MaxAgeYears: 1},
		Builder:    h,
		Evaluator:  processor.NewEvaluator(s),
	}
	res, err := r.Resolve(ctx, date(2015, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, Stale, res.Initial)
	assert.Equal(t, []int{2013, 2014}, res.Recomputed)
	assert.Equal(t, "viirs_2014", res.Asset.Name)
	assert.Equal(t, "viirs", res.Asset.Era)

	bridged, err := s.Image(ctx, "harmonized/dmsp_2013")
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 9, 10, 11}, bridged.Data)
	assert.Equal(t, YearStart(2013), bridged.TimeStamp)
}
