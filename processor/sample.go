package processor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/nci/nightlights/raster"
	"go.uber.org/zap"
)

// Region is a lon/lat bounding box. The zero Region covers everything.
type Region struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

func (r Region) IsZero() bool {
	return r == Region{}
}

func (r Region) Contains(lon, lat float64) bool {
	if r.IsZero() {
		return true
	}
	return lon >= r.MinLon && lon <= r.MaxLon && lat >= r.MinLat && lat <= r.MaxLat
}

// Band is a named image contributing one column to a sample table.
type Band struct {
	Name  string
	Image Image
}

type SampleOptions struct {
	// ClassBand names the band whose integer values define the strata. Its
	// grid is the sampling grid.
	ClassBand      string
	PointsPerClass int
	Region         Region
	Seed           uint64
}

// StratifiedSample draws up to PointsPerClass pixel centres per distinct
// class value of the class band, inside the region. Points where any band
// is invalid are not eligible. The draw is deterministic for a given seed.
func (e *Evaluator) StratifiedSample(ctx context.Context, bands []Band, opts SampleOptions) (*raster.Table, error) {
	if opts.PointsPerClass <= 0 {
		return nil, fmt.Errorf("sample: points per class must be positive, got %d", opts.PointsPerClass)
	}

	rasters := make(map[string]*raster.Raster, len(bands))
	names := make([]string, 0, len(bands))
	for _, b := range bands {
		r, err := e.Evaluate(ctx, b.Image)
		if err != nil {
			return nil, fmt.Errorf("sample band %s: %w", b.Name, err)
		}
		rasters[b.Name] = r
		names = append(names, b.Name)
	}
	classes, ok := rasters[opts.ClassBand]
	if !ok {
		return nil, fmt.Errorf("sample: class band %q is not among the sampled bands", opts.ClassBand)
	}

	strata := map[int][]raster.SamplePoint{}
	for i := range classes.Data {
		if !classes.Valid[i] {
			continue
		}
		lon, lat := classes.PixelCenter(i)
		if !opts.Region.Contains(lon, lat) {
			continue
		}
		p, ok := samplePoint(rasters, names, lon, lat)
		if !ok {
			continue
		}
		p.Class = int(math.Round(classes.Data[i]))
		strata[p.Class] = append(strata[p.Class], p)
	}

	keys := make([]int, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	table := &raster.Table{Bands: names}
	for _, class := range keys {
		candidates := strata[class]
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(int64(class))))
		n := min(opts.PointsPerClass, len(candidates))
		for i := 0; i < n; i++ {
			j := i + rng.IntN(len(candidates)-i)
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
		table.Points = append(table.Points, candidates[:n]...)
	}

	e.logger.Info("stratified sample",
		zap.String("class_band", opts.ClassBand),
		zap.Int("classes", len(keys)),
		zap.Int("points", table.Len()))
	return table, nil
}

func samplePoint(rasters map[string]*raster.Raster, names []string, lon, lat float64) (raster.SamplePoint, bool) {
	p := raster.SamplePoint{Lon: lon, Lat: lat, Values: make(map[string]float64, len(names))}
	for _, name := range names {
		r := rasters[name]
		i, ok := r.Index(lon, lat)
		if !ok || !r.Valid[i] {
			return p, false
		}
		p.Values[name] = r.Data[i]
	}
	return p, true
}
