package nightlight

import (
	"context"
	"fmt"
	"time"

	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
)

type State int

const (
	Fresh State = iota
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type FreshnessPolicy struct {
	MaxAgeYears int `yaml:"max_age_years"`
}

// State is Fresh when 0 <= target year - asset year <= MaxAgeYears.
func (p FreshnessPolicy) State(assetYear int, target time.Time) State {
	age := target.Year() - assetYear
	if age >= 0 && age <= p.MaxAgeYears {
		return Fresh
	}
	return Stale
}

// YearBuilder describes the computation of one harmonized year.
type YearBuilder interface {
	Year(year int) processor.Image
	Era(year int) string
}

// Resolution is the outcome of resolving a target date.
type Resolution struct {
	Asset store.Asset
	// Initial is the state observed before any recomputation.
	Initial    State
	Recomputed []int
}

// Resolver finds the authoritative harmonized asset for a date and
// recomputes missing years, one at a time, until it is fresh.
type Resolver struct {
	Collection string
	Policy     FreshnessPolicy
	Builder    YearBuilder
	Evaluator  *processor.Evaluator
	Logger     *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Resolve returns the most recent asset at or before target once it is
// fresh. A recomputation yielding no valid pixel stops the resolution with
// a *DataUnavailableError and persists nothing.
func (r *Resolver) Resolve(ctx context.Context, target time.Time) (Resolution, error) {
	var res Resolution
	gs := r.Evaluator.Store()
	for attempt := 0; ; attempt++ {
		assets, err := gs.Assets(ctx, r.Collection)
		if err != nil {
			return res, fmt.Errorf("resolve %s: %w", r.Collection, err)
		}

		asset, found := store.LatestAt(assets, target)
		state := Stale
		if found {
			state = r.Policy.State(asset.Year, target)
		}
		if attempt == 0 {
			res.Initial = state
		}
		r.logger().Debug("resolved asset",
			zap.String("collection", r.Collection),
			zap.Time("target", target),
			zap.Bool("found", found),
			zap.Int("year", asset.Year),
			zap.Stringer("state", state))

		if state == Fresh {
			res.Asset = asset
			return res, nil
		}

		year := target.Year() - r.Policy.MaxAgeYears
		if found {
			year = asset.Year + 1
		}
		for _, done := range res.Recomputed {
			if done == year {
				return res, fmt.Errorf("resolve %s: recomputed year %d is not visible in the collection", r.Collection, year)
			}
		}
		if err := r.recompute(ctx, year); err != nil {
			return res, err
		}
		res.Recomputed = append(res.Recomputed, year)
	}
}

func (r *Resolver) recompute(ctx context.Context, year int) error {
	r.logger().Info("recomputing harmonized year", zap.String("collection", r.Collection), zap.Int("year", year))

	out, err := r.Evaluator.Evaluate(ctx, r.Builder.Year(year))
	if err != nil {
		return fmt.Errorf("recompute %s %d: %w", r.Collection, year, err)
	}
	if out.AllInvalid() {
		return &DataUnavailableError{Collection: r.Collection, Year: year}
	}

	era := r.Builder.Era(year)
	dest := store.Destination{Collection: r.Collection, Name: AssetName(era, year), Era: era}
	return r.Evaluator.ExportRaster(ctx, out, dest)
}
