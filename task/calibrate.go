package task

import (
	"context"
	"fmt"
	"time"

	"github.com/nci/nightlights/metrics"
	"github.com/nci/nightlights/nightlight"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// calibrate recomputes the calibration coefficients and reports them. The
// coefficients are not written back to the configuration; the report
// carries a calibration section ready to paste.
func (r *Runner) calibrate(ctx context.Context, logger *zap.Logger, rec *metrics.RunRecord) error {
	if _, err := r.CheckInputs(ctx, JobCalibrate, time.Time{}, rec); err != nil {
		return err
	}

	calibrator := r.Calibrator()
	var fit nightlight.Fit
	err := r.attempt(ctx, rec, "calibrate", func(ctx context.Context) error {
		var err error
		fit, _, err = calibrator.Run(ctx, r.evaluator)
		return err
	})
	if err != nil {
		return err
	}
	if out := r.config.CalibrationJob.SampleOutput; out != "" {
		rec.Output = out
		r.countExport("table", nil)
	}

	rec.Calibration = &metrics.CalibrationInfo{
		Slope:     fit.Slope,
		Intercept: fit.Intercept,
		R2:        fit.R2,
		N:         fit.N,
		Dropped:   fit.Dropped,
	}
	if r.metrics != nil {
		r.metrics.CalibrationR2.Set(fit.R2)
		r.metrics.DroppedSamples.Add(float64(fit.Dropped))
	}
	logger.Info("calibration complete", zap.Float64("slope", fit.Slope), zap.Float64("intercept", fit.Intercept))
	return r.writeCalibrationReport(fit)
}

func (r *Runner) writeCalibrationReport(fit nightlight.Fit) error {
	table := tablewriter.NewWriter(r.out)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Coefficient", "Value"})
	data := [][]string{
		{"slope", fmt.Sprintf("%.4f", fit.Slope)},
		{"intercept", fmt.Sprintf("%.4f", fit.Intercept)},
		{"r2", fmt.Sprintf("%.4f", fit.R2)},
		{"samples", fmt.Sprintf("%d", fit.N)},
		{"dropped", fmt.Sprintf("%d", fit.Dropped)},
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	section, err := yaml.Marshal(map[string]nightlight.Coefficients{"calibration": fit.Coefficients})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(r.out, "\n%s", section)
	return err
}
