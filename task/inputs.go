package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nci/nightlights/metrics"
	"github.com/nci/nightlights/nightlight"
	"go.uber.org/zap"
)

var ErrMissingInput = errors.New("task: missing input")

// CheckInputs verifies a job's inputs before any calculation. Static
// images must exist and time series must hold at least one asset. For jobs
// reading the harmonized collection the resolver runs here, so stale years
// are recomputed up front; its resolution is returned.
func (r *Runner) CheckInputs(ctx context.Context, job Job, target time.Time, rec *metrics.RunRecord) (nightlight.Resolution, error) {
	gs := r.evaluator.Store()
	in := r.config.Inputs

	statics := []string{in.WaterMask}
	var series []string
	if job == JobCalibrate {
		series = []string{in.Legacy, in.Modern}
	}

	for _, id := range statics {
		var ok bool
		err := r.attempt(ctx, rec, "check "+id, func(ctx context.Context) error {
			var err error
			ok, err = gs.Exists(ctx, id)
			return err
		})
		if err != nil {
			return nightlight.Resolution{}, err
		}
		if !ok {
			return nightlight.Resolution{}, fmt.Errorf("%w: static image %s does not exist", ErrMissingInput, id)
		}
	}
	for _, id := range series {
		var n int
		err := r.attempt(ctx, rec, "check "+id, func(ctx context.Context) error {
			assets, err := gs.Assets(ctx, id)
			n = len(assets)
			return err
		})
		if err != nil {
			return nightlight.Resolution{}, err
		}
		if n == 0 {
			return nightlight.Resolution{}, fmt.Errorf("%w: collection %s has no assets", ErrMissingInput, id)
		}
	}

	if job == JobCalibrate {
		return nightlight.Resolution{}, nil
	}
	return r.resolve(ctx, target, rec)
}

func (r *Runner) resolve(ctx context.Context, target time.Time, rec *metrics.RunRecord) (nightlight.Resolution, error) {
	resolver := r.Resolver()
	var res nightlight.Resolution
	err := r.attempt(ctx, rec, "resolve", func(ctx context.Context) error {
		var err error
		res, err = resolver.Resolve(ctx, target)
		if r.metrics != nil {
			r.metrics.Recomputations.Add(float64(len(res.Recomputed)))
		}
		return err
	})
	if err != nil {
		return res, err
	}

	rec.Resolver = &metrics.ResolverInfo{
		Asset:        res.Asset.ID(),
		InitialState: res.Initial.String(),
		Recomputed:   res.Recomputed,
	}
	if r.metrics != nil {
		r.metrics.ResolverStates.WithLabelValues(res.Initial.String()).Inc()
	}
	r.logger.Info("harmonized input resolved",
		zap.String("asset", res.Asset.ID()),
		zap.Int("year", res.Asset.Year),
		zap.Stringer("initial_state", res.Initial),
		zap.Ints("recomputed", res.Recomputed))
	return res, nil
}
