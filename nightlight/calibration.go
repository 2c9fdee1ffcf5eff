package nightlight

import (
	"context"
	"fmt"
	"math"

	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/raster"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Sample table columns.
const (
	ClassBand  = "NL_CLASS"
	LegacyBand = "DMSP"
	ModernBand = "VIIRS"
)

// Coefficients map modern readings onto the legacy scale:
// legacy = Slope*ln(modern) + Intercept.
type Coefficients struct {
	Slope     float64 `yaml:"slope" json:"slope"`
	Intercept float64 `yaml:"intercept" json:"intercept"`
}

func DefaultCoefficients() Coefficients {
	return Coefficients{Slope: 10.53, Intercept: 24.62}
}

// Apply is undefined for non-positive readings.
func (c Coefficients) Apply(modern float64) (float64, bool) {
	if !(modern > 0) || math.IsInf(modern, 0) {
		return 0, false
	}
	return c.Slope*math.Log(modern) + c.Intercept, true
}

// Inverse is the modern reading that calibrates to legacy.
func (c Coefficients) Inverse(legacy float64) float64 {
	return math.Exp((legacy - c.Intercept) / c.Slope)
}

// Fit is the result of a calibration regression.
type Fit struct {
	Coefficients
	R2      float64 `json:"r2"`
	N       int     `json:"n"`
	Dropped int     `json:"dropped"`
}

type CalibrationConfig struct {
	StableYears        int       `yaml:"stable_years"`
	StabilityThreshold float64   `yaml:"stability_threshold"`
	PointsPerClass     int       `yaml:"points_per_class"`
	Seed               uint64    `yaml:"seed"`
	Region             []float64 `yaml:"region"`
	OverlapYear        int       `yaml:"overlap_year"`
	LegacyLatestYear   int       `yaml:"legacy_latest_year"`
	SampleOutput       string    `yaml:"sample_output"`
}

func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		StableYears:        13,
		StabilityThreshold: 2,
		PointsPerClass:     5,
		Region:             []float64{-180, -88, 180, 88},
		OverlapYear:        2014,
		LegacyLatestYear:   2012,
	}
}

func (c CalibrationConfig) Validate() error {
	if c.StableYears < 1 {
		return fmt.Errorf("calibration: stable_years must be at least 1, got %d", c.StableYears)
	}
	if c.PointsPerClass < 1 {
		return fmt.Errorf("calibration: points_per_class must be at least 1, got %d", c.PointsPerClass)
	}
	if len(c.Region) != 0 && len(c.Region) != 4 {
		return fmt.Errorf("calibration: region must be [min_lon, min_lat, max_lon, max_lat], got %v", c.Region)
	}
	if len(c.Region) == 4 && (c.Region[0] > c.Region[2] || c.Region[1] > c.Region[3]) {
		return fmt.Errorf("calibration: region %v is empty", c.Region)
	}
	if c.OverlapYear <= c.LegacyLatestYear {
		return fmt.Errorf("calibration: overlap_year %d must follow legacy_latest_year %d", c.OverlapYear, c.LegacyLatestYear)
	}
	return nil
}

func (c CalibrationConfig) region() processor.Region {
	if len(c.Region) != 4 {
		return processor.Region{}
	}
	return processor.Region{MinLon: c.Region[0], MinLat: c.Region[1], MaxLon: c.Region[2], MaxLat: c.Region[3]}
}

// Calibrator samples stable lights where the two sensors overlap and fits
// the log-linear calibration.
type Calibrator struct {
	Legacy     string
	Composites CompositeBuilder
	WaterMask  string
	Config     CalibrationConfig
	Logger     *zap.Logger
}

// StableLights is 1 where the legacy record's standard deviation over its
// most recent StableYears years is at most the stability threshold.
func (c *Calibrator) StableLights() processor.Image {
	start, end := YearSpan(c.Config.LegacyLatestYear-c.Config.StableYears+1, c.Config.LegacyLatestYear)
	return processor.Open(c.Legacy).
		FilterDate(start, end).
		StdDev().
		LteValue(c.Config.StabilityThreshold)
}

// LegacyLatest is the most recent legacy composite. Years recorded by more
// than one satellite are averaged.
func (c *Calibrator) LegacyLatest() processor.Image {
	return LegacyComposite(c.Legacy, c.Config.LegacyLatestYear)
}

// DMSP is the latest legacy composite restricted to stable, dry, lit
// pixels.
func (c *Calibrator) DMSP() processor.Image {
	latest := c.LegacyLatest()
	return latest.
		UpdateMask(c.StableLights()).
		UpdateMask(processor.Load(c.WaterMask)).
		UpdateMask(latest.GtValue(0))
}

// VIIRS is the earliest modern composite after the overlap, restricted to
// pixels where DMSP is valid and to positive readings.
func (c *Calibrator) VIIRS(dmsp processor.Image) processor.Image {
	viirs := c.Composites.Annual(c.Config.OverlapYear).UpdateMask(dmsp)
	return viirs.UpdateMask(viirs.GtValue(0))
}

// Sample draws the stratified (DMSP, VIIRS) table. The strata are the
// rounded DMSP values.
func (c *Calibrator) Sample(ctx context.Context, e *processor.Evaluator) (*raster.Table, error) {
	dmsp := c.DMSP()
	bands := []processor.Band{
		{Name: ClassBand, Image: dmsp.Round().Int()},
		{Name: LegacyBand, Image: dmsp},
		{Name: ModernBand, Image: c.VIIRS(dmsp)},
	}
	return e.StratifiedSample(ctx, bands, processor.SampleOptions{
		ClassBand:      ClassBand,
		PointsPerClass: c.Config.PointsPerClass,
		Region:         c.Config.region(),
		Seed:           c.Config.Seed,
	})
}

// Run samples, optionally exports the sample table, and fits the
// calibration.
func (c *Calibrator) Run(ctx context.Context, e *processor.Evaluator) (Fit, *raster.Table, error) {
	table, err := c.Sample(ctx, e)
	if err != nil {
		return Fit{}, nil, err
	}
	if c.Config.SampleOutput != "" {
		if err := e.ExportTable(ctx, table, c.Config.SampleOutput); err != nil {
			return Fit{}, table, err
		}
	}
	fit, err := FitTable(table, LegacyBand, ModernBand)
	if err != nil {
		return Fit{}, table, err
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("calibration fitted",
		zap.Float64("slope", fit.Slope),
		zap.Float64("intercept", fit.Intercept),
		zap.Float64("r2", fit.R2),
		zap.Int("n", fit.N),
		zap.Int("dropped", fit.Dropped))
	return fit, table, nil
}

// FitTable fits legacy = slope*ln(modern) + intercept by ordinary least
// squares. Rows with a non-positive or missing modern reading are dropped.
func FitTable(t *raster.Table, legacy, modern string) (Fit, error) {
	var x, y []float64
	dropped := 0
	for _, p := range t.Points {
		m, okM := p.Values[modern]
		l, okL := p.Values[legacy]
		if !okM || !okL || !(m > 0) || math.IsInf(m, 0) || math.IsNaN(l) {
			dropped++
			continue
		}
		x = append(x, math.Log(m))
		y = append(y, l)
	}
	if len(x) < 2 {
		return Fit{}, fmt.Errorf("%w: %d usable rows", ErrInsufficientSamples, len(x))
	}
	if stat.Variance(x, nil) == 0 {
		return Fit{}, fmt.Errorf("%w: modern readings are all equal", ErrInsufficientSamples)
	}

	intercept, slope := stat.LinearRegression(x, y, nil, false)
	return Fit{
		Coefficients: Coefficients{Slope: slope, Intercept: intercept},
		R2:           stat.RSquared(x, y, nil, intercept, slope),
		N:            len(x),
		Dropped:      dropped,
	}, nil
}
