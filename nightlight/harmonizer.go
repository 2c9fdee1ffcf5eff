package nightlight

import (
	"fmt"

	"github.com/nci/nightlights/processor"
)

type HarmonizerConfig struct {
	ModernStartYear int `yaml:"modern_start_year"`
	// LegacyLatestYear is the last year the legacy sensor recorded. Years
	// after it and before ModernStartYear repeat its composite.
	LegacyLatestYear int     `yaml:"legacy_latest_year"`
	ValidMin         float64 `yaml:"valid_min"`
	ValidMax         float64 `yaml:"valid_max"`
	DetectionFactor  float64 `yaml:"detection_factor"`
	LegacyEra        string  `yaml:"era_legacy"`
	ModernEra        string  `yaml:"era_modern"`
}

func DefaultHarmonizerConfig() HarmonizerConfig {
	return HarmonizerConfig{
		ModernStartYear:  2014,
		LegacyLatestYear: 2012,
		ValidMin:         0,
		ValidMax:         63,
		DetectionFactor:  DefaultDetectionFactor,
		LegacyEra:        "dmsp",
		ModernEra:        "viirs",
	}
}

func (c HarmonizerConfig) Validate() error {
	if c.ValidMin >= c.ValidMax {
		return fmt.Errorf("harmonizer: valid_min %g must be below valid_max %g", c.ValidMin, c.ValidMax)
	}
	if c.ValidMin < 0 || c.ValidMax > 255 {
		return fmt.Errorf("harmonizer: valid range [%g, %g] does not fit an 8-bit output", c.ValidMin, c.ValidMax)
	}
	if c.LegacyLatestYear >= c.ModernStartYear {
		return fmt.Errorf("harmonizer: legacy_latest_year %d must precede modern_start_year %d", c.LegacyLatestYear, c.ModernStartYear)
	}
	if c.LegacyEra == "" || c.ModernEra == "" || c.LegacyEra == c.ModernEra {
		return fmt.Errorf("harmonizer: era labels must be distinct and non-empty")
	}
	return nil
}

// Harmonizer produces one raster per year on the legacy sensor's grid.
// Modern years are calibrated onto the legacy scale; earlier years are the
// legacy composites themselves.
type Harmonizer struct {
	Legacy       string
	Composites   CompositeBuilder
	WaterMask    string
	Coefficients Coefficients
	Config       HarmonizerConfig
}

// Year is the harmonized raster for year. A year between the end of the
// legacy record and the first modern year carries the latest legacy
// composite, stamped with its own year.
func (h *Harmonizer) Year(year int) processor.Image {
	if year >= h.Config.ModernStartYear {
		return h.Calibrated(year)
	}
	if last := h.Config.LegacyLatestYear; last > 0 && year > last {
		return LegacyComposite(h.Legacy, last).SetTime(YearStart(year))
	}
	return LegacyComposite(h.Legacy, year)
}

func (h *Harmonizer) Era(year int) string {
	if year < h.Config.ModernStartYear {
		return h.Config.LegacyEra
	}
	return h.Config.ModernEra
}

// Calibrated is the modern composite of year mapped onto the legacy scale
// and grid. Undetected pixels count as zero radiance and are dropped after
// the final cast.
func (h *Harmonizer) Calibrated(year int) processor.Image {
	return h.Composites.Annual(year).
		Log().
		Multiply(h.Coefficients.Slope).
		Add(h.Coefficients.Intercept).
		Unmask(0).
		ReduceResolution(processor.GridOf(h.Legacy)).
		UpdateMask(processor.Load(h.WaterMask)).
		Clamp(h.Config.ValidMin, h.Config.ValidMax).
		Uint8().
		SelfMask().
		SetTime(YearStart(year))
}

// LegacyComposite is the legacy record for year. Members of the same year
// from different satellites are averaged.
func LegacyComposite(collection string, year int) processor.Image {
	start, end := YearWindow(year)
	return processor.Open(collection).FilterDate(start, end).Mean().SetTime(start)
}

// AssetName is the harmonized asset name for an era and year.
func AssetName(era string, year int) string {
	return fmt.Sprintf("%s_%d", era, year)
}
