package task

import (
	"context"
	"time"

	"github.com/nci/nightlights/metrics"
	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
)

// DriverDestination is where the power driver layer of a task date goes.
func DriverDestination(collection string, target time.Time) store.Destination {
	return store.Destination{Collection: collection, Name: "power_" + target.Format("2006-01-02")}
}

// produce classifies the resolved harmonized asset into the power driver
// layer for target. Without overwrite an existing output is left in place.
func (r *Runner) produce(ctx context.Context, logger *zap.Logger, target time.Time, overwrite bool, rec *metrics.RunRecord) error {
	dest := DriverDestination(r.config.Inputs.DriverOutput, target)
	rec.Output = dest.ID()

	if !overwrite {
		var exists bool
		err := r.attempt(ctx, rec, "check output", func(ctx context.Context) error {
			var err error
			exists, err = r.evaluator.Store().Exists(ctx, dest.ID())
			return err
		})
		if err != nil {
			return err
		}
		if exists {
			logger.Info("output exists, skipping", zap.String("output", dest.ID()))
			rec.Outcome = OutcomeSkipped
			return nil
		}
	}

	res, err := r.CheckInputs(ctx, JobProduce, target, rec)
	if err != nil {
		return err
	}

	driver := r.Classifier().Classify(processor.Load(res.Asset.ID())).SetTime(target)
	err = r.attempt(ctx, rec, "export driver", func(ctx context.Context) error {
		_, err := r.evaluator.Export(ctx, driver, dest)
		r.countExport("raster", err)
		return err
	})
	if err != nil {
		return err
	}
	logger.Info("power driver exported", zap.String("output", dest.ID()), zap.String("source", res.Asset.ID()))
	return nil
}

func (r *Runner) countExport(kind string, err error) {
	if r.metrics == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	r.metrics.Exports.WithLabelValues(kind, outcome).Inc()
}
