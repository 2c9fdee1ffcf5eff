package raster

import (
	"math"
)

// ScaleParams rescale calibrated values for integer storage. Clip of zero
// means no upper clip.
type ScaleParams struct {
	Offset float64 `yaml:"offset"`
	Scale  float64 `yaml:"scale"`
	Clip   float64 `yaml:"clip"`
}

// Scale applies offset, clip and scale to every valid pixel and stores the
// result as Int32. Negative values are floored at zero.
func Scale(r *Raster, params ScaleParams) *Raster {
	scale := params.Scale
	if scale == 0 {
		scale = 1
	}
	out := r.Map(func(v float64) (float64, bool) {
		v += params.Offset
		if params.Clip > 0 && v > params.Clip {
			v = params.Clip
		}
		if v < 0 {
			v = 0
		}
		return math.Round(v * scale), true
	})
	out.Type = Int32
	return out
}
