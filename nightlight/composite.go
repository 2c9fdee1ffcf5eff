package nightlight

import (
	"fmt"

	"github.com/nci/nightlights/processor"
)

const DefaultDetectionFactor = 0.25

// CompositeBuilder turns a raw, irregular time series into one cleaned
// composite per calendar year.
type CompositeBuilder struct {
	Collection      string
	Threshold       LatitudeThreshold
	DetectionFactor float64
}

// Annual is the composite of year: non-positive readings masked per member,
// per-pixel median, pixels kept where composite*factor reaches the latitude
// threshold. A year without members yields an all-invalid raster.
func (b CompositeBuilder) Annual(year int) processor.Image {
	start, end := YearWindow(year)
	factor := b.DetectionFactor
	if factor == 0 {
		factor = DefaultDetectionFactor
	}

	median := processor.Open(b.Collection).
		FilterDate(start, end).
		Map("positive", func(img processor.Image) processor.Image {
			return img.UpdateMask(img.GtValue(0))
		}).
		Median()

	detectable := median.Multiply(factor).Gte(b.Threshold.Image(median))
	return median.UpdateMask(detectable).SetTime(start)
}

func (b CompositeBuilder) String() string {
	return fmt.Sprintf("composite(%s)", b.Collection)
}
