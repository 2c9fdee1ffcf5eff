package raster

import (
	"math"
)

// Map applies fn to every valid pixel. A pixel stays valid only when fn
// reports ok and the result is finite.
func (r *Raster) Map(fn func(v float64) (float64, bool)) *Raster {
	out := New(r.Grid)
	out.ID, out.TimeStamp, out.Type = r.ID, r.TimeStamp, r.Type
	for i, v := range r.Data {
		if !r.Valid[i] {
			continue
		}
		res, ok := fn(v)
		if ok && isFinite(res) {
			out.Data[i] = res
			out.Valid[i] = true
		}
	}
	return out
}

// Combine applies fn pixel by pixel to two aligned rasters. The result is
// valid where both inputs are valid.
func Combine(a, b *Raster, fn func(x, y float64) (float64, bool)) (*Raster, error) {
	if !a.Grid.Aligned(b.Grid) {
		return nil, ErrGridMismatch
	}
	out := New(a.Grid)
	out.ID, out.TimeStamp = a.ID, a.TimeStamp
	for i := range a.Data {
		if !a.Valid[i] || !b.Valid[i] {
			continue
		}
		res, ok := fn(a.Data[i], b.Data[i])
		if ok && isFinite(res) {
			out.Data[i] = res
			out.Valid[i] = true
		}
	}
	return out, nil
}

// UpdateMask keeps a pixel valid only where the mask is valid and non-zero.
// The mask is aligned onto the raster's grid by nearest neighbour first.
func (r *Raster) UpdateMask(mask *Raster) (*Raster, error) {
	if !mask.Grid.Aligned(r.Grid) {
		aligned, err := mask.Align(r.Grid)
		if err != nil {
			return nil, err
		}
		mask = aligned
	}
	out := r.Clone()
	for i := range out.Valid {
		if !mask.Valid[i] || mask.Data[i] == 0 {
			out.Valid[i] = false
			out.Data[i] = 0
		}
	}
	return out, nil
}

// Unmask replaces every invalid pixel with v.
func (r *Raster) Unmask(v float64) *Raster {
	out := r.Clone()
	for i := range out.Valid {
		if !out.Valid[i] {
			out.Data[i] = v
			out.Valid[i] = true
		}
	}
	return out
}

// SelfMask invalidates zero valued pixels.
func (r *Raster) SelfMask() *Raster {
	out := r.Clone()
	for i := range out.Valid {
		if out.Valid[i] && out.Data[i] == 0 {
			out.Valid[i] = false
		}
	}
	return out
}

func (r *Raster) Clamp(lo, hi float64) *Raster {
	return r.Map(func(v float64) (float64, bool) {
		return math.Min(math.Max(v, lo), hi), true
	})
}

// Log is the natural logarithm. Non-positive samples become invalid.
func (r *Raster) Log() *Raster {
	return r.Map(func(v float64) (float64, bool) {
		if v <= 0 {
			return 0, false
		}
		return math.Log(v), true
	})
}

// Cast truncates samples toward zero and saturates them to the range of t.
func (r *Raster) Cast(t DataType) *Raster {
	var lo, hi float64
	switch t {
	case Byte:
		lo, hi = 0, math.MaxUint8
	case Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	case Float32:
		out := r.Map(func(v float64) (float64, bool) { return float64(float32(v)), true })
		out.Type = t
		return out
	default:
		out := r.Clone()
		out.Type = t
		return out
	}
	out := r.Map(func(v float64) (float64, bool) {
		return math.Min(math.Max(math.Trunc(v), lo), hi), true
	})
	out.Type = t
	return out
}

// Latitude returns a raster of pixel centre latitudes on grid.
func Latitude(grid Grid) *Raster {
	out := New(grid)
	for i := range out.Data {
		_, lat := grid.PixelCenter(i)
		out.Data[i] = lat
		out.Valid[i] = true
	}
	return out
}

// Max reduces aligned rasters to their per-pixel maximum over valid
// samples.
func Max(rs ...*Raster) (*Raster, error) {
	if len(rs) == 0 {
		return nil, ErrNoGrid
	}
	return Reduce(rs[0].Grid, rs, ReduceMax)
}
