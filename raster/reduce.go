package raster

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Reducer string

const (
	ReduceMedian Reducer = "median"
	ReduceMean   Reducer = "mean"
	ReduceStdDev Reducer = "stddev"
	ReduceMax    Reducer = "max"
	ReduceMin    Reducer = "min"
)

// Reduce collapses a stack of aligned rasters into one raster, pixel by
// pixel, over the valid samples only. Pixels without any valid sample stay
// invalid, so an empty stack yields an all-invalid raster on grid.
func Reduce(grid Grid, members []*Raster, op Reducer) (*Raster, error) {
	if grid.IsZero() {
		return nil, ErrNoGrid
	}
	for _, m := range members {
		if !m.Grid.Aligned(grid) {
			return nil, fmt.Errorf("%w: member %s", ErrGridMismatch, m.ID)
		}
	}

	fn, err := reducerFunc(op)
	if err != nil {
		return nil, err
	}

	out := New(grid)
	values := make([]float64, 0, len(members))
	for i := range out.Data {
		values = values[:0]
		for _, m := range members {
			if m.Valid[i] {
				values = append(values, m.Data[i])
			}
		}
		if len(values) == 0 {
			continue
		}
		v := fn(values)
		if isFinite(v) {
			out.Data[i] = v
			out.Valid[i] = true
		}
	}
	return out, nil
}

func reducerFunc(op Reducer) (func([]float64) float64, error) {
	switch op {
	case ReduceMedian:
		return median, nil
	case ReduceMean:
		return func(x []float64) float64 { return stat.Mean(x, nil) }, nil
	case ReduceStdDev:
		return popStdDev, nil
	case ReduceMax:
		return floats.Max, nil
	case ReduceMin:
		return floats.Min, nil
	default:
		return nil, fmt.Errorf("raster: unknown reducer %q", op)
	}
}

// median averages the two central values for even counts. values is
// reordered in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// popStdDev is the population standard deviation; a single sample has no
// spread.
func popStdDev(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	_, variance := stat.MeanVariance(values, nil)
	return math.Sqrt(variance * (n - 1) / n)
}

// Percentiles returns the empirical quantiles p (0..1) of the valid samples.
func (r *Raster) Percentiles(ps ...float64) []float64 {
	values := make([]float64, 0, r.ValidCount())
	for i, v := range r.Data {
		if r.Valid[i] {
			values = append(values, v)
		}
	}
	out := make([]float64, len(ps))
	if len(values) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	sort.Float64s(values)
	for i, p := range ps {
		out[i] = stat.Quantile(p, stat.Empirical, values, nil)
	}
	return out
}
