package nightlight

import (
	"fmt"

	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/raster"
)

const DefaultDriverScale = 100

// Bin maps values in [Min, Max] to Ordinal.
type Bin struct {
	Ordinal int     `yaml:"ordinal" json:"ordinal"`
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
}

func (b Bin) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// BinTable is an ordered list of bins. Ranges may overlap; the highest
// matching ordinal wins.
type BinTable []Bin

// DefaultBinTable partitions the 6-bit legacy scale into eleven classes.
func DefaultBinTable() BinTable {
	return BinTable{
		{0, 0, 0},
		{1, 1, 4},
		{2, 5, 5},
		{3, 6, 6},
		{4, 7, 7},
		{5, 8, 9},
		{6, 10, 11},
		{7, 12, 16},
		{8, 17, 30},
		{9, 31, 62},
		{10, 63, 63},
	}
}

func (t BinTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("quantiles: bin table is empty")
	}
	seen := make(map[int]struct{}, len(t))
	for _, b := range t {
		if _, dup := seen[b.Ordinal]; dup {
			return fmt.Errorf("quantiles: duplicate ordinal %d", b.Ordinal)
		}
		seen[b.Ordinal] = struct{}{}
		if b.Min > b.Max {
			return fmt.Errorf("quantiles: bin %d has min %g > max %g", b.Ordinal, b.Min, b.Max)
		}
	}
	return nil
}

// Ordinal is the highest ordinal among the bins containing v.
func (t BinTable) Ordinal(v float64) (int, bool) {
	best, found := 0, false
	for _, b := range t {
		if b.Contains(v) && (!found || b.Ordinal > best) {
			best, found = b.Ordinal, true
		}
	}
	return best, found
}

// Classifier turns a harmonized raster into the power driver layer.
type Classifier struct {
	Bins      BinTable
	WaterMask string
	Scale     float64
}

// Classify builds the driver layer: every bin contributes its ordinal where
// the value falls inside it and 0 elsewhere, the per-pixel maximum is kept,
// water is masked out and the result is scaled to an integer.
func (c Classifier) Classify(src processor.Image) processor.Image {
	masks := make([]processor.Image, 0, len(c.Bins))
	for _, b := range c.Bins {
		masks = append(masks, src.GteValue(b.Min).
			And(src.LteValue(b.Max)).
			SelfMask().
			Multiply(float64(b.Ordinal)).
			Unmask(0).
			Int())
	}
	scale := c.Scale
	if scale == 0 {
		scale = DefaultDriverScale
	}
	return processor.Max(masks...).
		UpdateMask(processor.Load(c.WaterMask)).
		Scale(raster.ScaleParams{Scale: scale})
}
