package nightlight

import (
	"fmt"
	"math"

	"github.com/nci/nightlights/processor"
)

// LatitudeThreshold is the detection floor that rises smoothly from MinVal
// near the equator to MaxVal at and beyond MaxLat.
type LatitudeThreshold struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MinVal float64 `yaml:"min_val" json:"min_val"`
	MaxVal float64 `yaml:"max_val" json:"max_val"`
}

func DefaultLatitudeThreshold() LatitudeThreshold {
	return LatitudeThreshold{MinLat: 0, MaxLat: 60, MinVal: 0.1, MaxVal: 0.75}
}

func (t LatitudeThreshold) Validate() error {
	if !(t.MaxLat > 0) {
		return fmt.Errorf("latitude threshold: max_lat must be positive, got %g", t.MaxLat)
	}
	if t.MinLat < 0 || t.MinLat > t.MaxLat {
		return fmt.Errorf("latitude threshold: min_lat %g outside [0, %g]", t.MinLat, t.MaxLat)
	}
	if t.MinVal > t.MaxVal {
		return fmt.Errorf("latitude threshold: min_val %g > max_val %g", t.MinVal, t.MaxVal)
	}
	return nil
}

// At is the threshold for a latitude in degrees. Non-finite input yields
// NaN.
func (t LatitudeThreshold) At(lat float64) float64 {
	if math.IsNaN(lat) || math.IsInf(lat, 0) {
		return math.NaN()
	}
	lat4 := math.Pow(math.Min(math.Max(math.Abs(lat), t.MinLat), t.MaxLat), 4)
	v := t.MinVal + lat4/math.Pow(t.MaxLat, 4)*(t.MaxVal-t.MinVal)
	return math.Min(math.Max(v, t.MinVal), t.MaxVal)
}

// Image is the per-pixel threshold on ref's grid.
func (t LatitudeThreshold) Image(ref processor.Image) processor.Image {
	return ref.Latitude().
		Abs().
		Clamp(t.MinLat, t.MaxLat).
		Pow(4).
		Divide(math.Pow(t.MaxLat, 4)).
		Multiply(t.MaxVal - t.MinVal).
		Add(t.MinVal).
		Clamp(t.MinVal, t.MaxVal)
}
