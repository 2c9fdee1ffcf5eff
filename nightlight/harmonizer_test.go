package nightlight

import (
	"testing"

	"github.com/nci/nightlights/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarmonizerCalibratesOntoLegacyGrid(t *testing.T) {
	s, h := harmonizerFixture(t)

	out := evaluate(t, s, h.Year(2016))
	assert.True(t, out.Grid.Aligned(legacyGrid))
	assert.Equal(t, raster.Byte, out.Type)
	assert.Equal(t, date(2016, 1, 1), out.TimeStamp)
	assert.Equal(t, "viirs", h.Era(2016))

	// pixel 1 only ever saw zero radiance: unmasked to 0, clamped to 0 and
	// dropped by the final self mask
	assert.Equal(t, []bool{true, false, true, true}, out.Valid)
	assert.Equal(t, 5.0, out.Data[0])
	// mean of two 15.5 and two unmasked zeros
	assert.Equal(t, 7.0, out.Data[2])
	assert.Equal(t, 63.0, out.Data[3])
}

func TestHarmonizerWaterMask(t *testing.T) {
	s, h := harmonizerFixture(t)
	water, err := raster.FromValues(legacyGrid, []float64{1, 1, 1, 0})
	require.NoError(t, err)
	s.PutImage("water", water)

	out := evaluate(t, s, h.Year(2016))
	assert.Equal(t, []bool{true, false, true, false}, out.Valid)
}

func TestHarmonizerValidRangeIsConfigurable(t *testing.T) {
	s, h := harmonizerFixture(t)
	h.Config.ValidMax = 6

	out := evaluate(t, s, h.Year(2016))
	assert.Equal(t, []float64{5, 6}, []float64{out.Data[0], out.Data[2]})
	assert.Equal(t, 6.0, out.Data[3])
}

func TestHarmonizerIsDeterministic(t *testing.T) {
	s, h := harmonizerFixture(t)

	first := evaluate(t, s, h.Year(2016))
	second := evaluate(t, s, h.Year(2016))
	assert.True(t, first.Identical(second))
}

func TestHarmonizerMissingModernYear(t *testing.T) {
	s, h := harmonizerFixture(t)

	out := evaluate(t, s, h.Year(2019))
	assert.True(t, out.AllInvalid())
}

func TestHarmonizerBypassesLegacyYears(t *testing.T) {
	s, h := harmonizerFixture(t)

	out := evaluate(t, s, h.Year(2010))
	assert.Equal(t, "dmsp", h.Era(2010))
	assert.Equal(t, date(2010, 1, 1), out.TimeStamp)
	assert.Equal(t, []bool{true, true, true, true}, out.Valid)
	assert.Equal(t, []float64{15, 20, 35, 40}, out.Data)
}

func TestHarmonizerFillsYearsAfterLegacyRecord(t *testing.T) {
	s, h := harmonizerFixture(t)
	s.PutMember("dmsp", "F182012", "", member(t, legacyGrid, date(2012, 1, 1), 8, 9, 10, 11))

	latest := evaluate(t, s, LegacyComposite("dmsp", 2012))
	out := evaluate(t, s, h.Year(2013))
	assert.Equal(t, "dmsp", h.Era(2013))
	assert.Equal(t, date(2013, 1, 1), out.TimeStamp)
	assert.Equal(t, latest.Data, out.Data)
	assert.Equal(t, latest.Valid, out.Valid)

	// years inside the legacy record are never filled
	assert.True(t, evaluate(t, s, h.Year(2011)).AllInvalid())
}

func TestHarmonizerConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultHarmonizerConfig().Validate())

	c := DefaultHarmonizerConfig()
	c.ValidMin, c.ValidMax = 63, 0
	assert.Error(t, c.Validate())

	c = DefaultHarmonizerConfig()
	c.ValidMax = 300
	assert.Error(t, c.Validate())

	c = DefaultHarmonizerConfig()
	c.ModernEra = c.LegacyEra
	assert.Error(t, c.Validate())

	c = DefaultHarmonizerConfig()
	c.LegacyLatestYear = c.ModernStartYear
	assert.Error(t, c.Validate())
}

func TestAssetName(t *testing.T) {
	assert.Equal(t, "viirs_2019", AssetName("viirs", 2019))
}
