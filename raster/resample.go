package raster

import (
	"fmt"
	"math"
)

// ReduceResolution resamples r onto a coarser target grid with an area
// weighted mean: every source pixel contributes in proportion to the area
// it shares with the target pixel. Invalid source pixels contribute
// nothing. Targets finer than the source are refused.
func (r *Raster) ReduceResolution(target Grid) (*Raster, error) {
	if r.CRS != target.CRS {
		return nil, fmt.Errorf("%w: %s -> %s", ErrProjection, r.CRS, target.CRS)
	}
	if target.PixelWidth() < r.PixelWidth()-gridTolerance || target.PixelHeight() < r.PixelHeight()-gridTolerance {
		return nil, fmt.Errorf("%w: %gx%g -> %gx%g", ErrUpsample, r.PixelWidth(), r.PixelHeight(), target.PixelWidth(), target.PixelHeight())
	}

	src := r.GeoTransform
	sw, sh := r.PixelWidth(), r.PixelHeight()
	tw, th := target.PixelWidth(), target.PixelHeight()

	out := New(target)
	out.ID, out.TimeStamp, out.Type = r.ID, r.TimeStamp, r.Type

	for ty := 0; ty < target.Height; ty++ {
		top := target.GeoTransform[3] - float64(ty)*th
		bottom := top - th
		sy0 := clampInt(int(math.Floor((src[3]-top)/sh+gridTolerance)), 0, r.Height)
		sy1 := clampInt(int(math.Ceil((src[3]-bottom)/sh-gridTolerance)), 0, r.Height)

		for tx := 0; tx < target.Width; tx++ {
			left := target.GeoTransform[0] + float64(tx)*tw
			right := left + tw
			sx0 := clampInt(int(math.Floor((left-src[0])/sw+gridTolerance)), 0, r.Width)
			sx1 := clampInt(int(math.Ceil((right-src[0])/sw-gridTolerance)), 0, r.Width)

			var sum, weight float64
			for sy := sy0; sy < sy1; sy++ {
				srcTop := src[3] - float64(sy)*sh
				dy := math.Min(top, srcTop) - math.Max(bottom, srcTop-sh)
				if dy <= 0 {
					continue
				}
				for sx := sx0; sx < sx1; sx++ {
					i := sy*r.Width + sx
					if !r.Valid[i] {
						continue
					}
					srcLeft := src[0] + float64(sx)*sw
					dx := math.Min(right, srcLeft+sw) - math.Max(left, srcLeft)
					if dx <= 0 {
						continue
					}
					sum += r.Data[i] * dx * dy
					weight += dx * dy
				}
			}
			if weight > 0 {
				j := ty*target.Width + tx
				out.Data[j] = sum / weight
				out.Valid[j] = true
			}
		}
	}
	return out, nil
}

// Align samples r onto target by nearest neighbour. Target pixels whose
// centre falls outside r are invalid.
func (r *Raster) Align(target Grid) (*Raster, error) {
	if r.CRS != target.CRS {
		return nil, fmt.Errorf("%w: %s -> %s", ErrProjection, r.CRS, target.CRS)
	}
	out := New(target)
	out.ID, out.TimeStamp, out.Type = r.ID, r.TimeStamp, r.Type
	for j := range out.Data {
		x, y := target.PixelCenter(j)
		i, ok := r.Index(x, y)
		if !ok || !r.Valid[i] {
			continue
		}
		out.Data[j] = r.Data[i]
		out.Valid[j] = true
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
