// Package task is the job harness: it wires a configuration namespace to
// the nightlight engine and runs one job for a task date.
package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nci/nightlights/metrics"
	"github.com/nci/nightlights/nightlight"
	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/utils"
	"go.uber.org/zap"
)

type Job string

const (
	JobProduce     Job = "produce"
	JobCalibrate   Job = "calibrate"
	JobDiagnostics Job = "diagnostics"
)

func ParseJob(s string) (Job, error) {
	switch Job(s) {
	case JobProduce, JobCalibrate, JobDiagnostics:
		return Job(s), nil
	case "":
		return JobProduce, nil
	}
	return "", fmt.Errorf("unknown job %q; valid jobs are produce, calibrate, diagnostics", s)
}

const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

type Options struct {
	Job Job
	// Date is the task date; the zero value means today (UTC).
	Date      time.Time
	Overwrite bool
}

type Runner struct {
	config    *utils.Config
	evaluator *processor.Evaluator
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
	records   metrics.Logger
	out       io.Writer
	retry     RetryPolicy
}

type Option func(*Runner)

func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRecords sets where run records go.
func WithRecords(l metrics.Logger) Option {
	return func(r *Runner) { r.records = l }
}

// WithOutput sets where human readable reports are written.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runner) { r.retry = p }
}

func NewRunner(config *utils.Config, e *processor.Evaluator, opts ...Option) *Runner {
	retry := DefaultRetryPolicy()
	retry.MaxRetries = config.Service.MaxRetries
	if config.Service.OperationTimeout > 0 {
		retry.Timeout = config.Service.OperationTimeout
	}
	r := &Runner{
		config:    config,
		evaluator: e,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
		out:       os.Stdout,
		retry:     retry,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Today is the default task date: midnight UTC of the clock's current day.
func (r *Runner) Today() time.Time {
	now := r.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Run executes one job and emits its run record. The record is returned
// even when the job fails.
func (r *Runner) Run(ctx context.Context, opts Options) (*metrics.RunRecord, error) {
	job := opts.Job
	if job == "" {
		job = JobProduce
	}
	target := opts.Date
	if target.IsZero() {
		target = r.Today()
	}

	start := r.clock.Now()
	rec := metrics.NewRunRecord(string(job), r.config.NameSpace, target, start)
	logger := r.logger.With(zap.String("run_id", rec.RunID), zap.String("job", string(job)), zap.Time("target", target))
	logger.Info("job started", zap.Bool("overwrite", opts.Overwrite))

	var err error
	switch job {
	case JobProduce:
		err = r.produce(ctx, logger, target, opts.Overwrite, rec)
	case JobCalibrate:
		err = r.calibrate(ctx, logger, rec)
	case JobDiagnostics:
		err = r.diagnostics(ctx, logger, target, rec)
	default:
		err = fmt.Errorf("unknown job %q", job)
	}

	rec.Duration = r.clock.Since(start)
	switch {
	case err != nil:
		rec.Outcome = OutcomeError
		rec.Error = err.Error()
		logger.Error("job failed", zap.Duration("duration", rec.Duration), zap.Error(err))
	case rec.Outcome == "":
		rec.Outcome = OutcomeSuccess
		logger.Info("job finished", zap.Duration("duration", rec.Duration))
	default:
		logger.Info("job finished", zap.String("outcome", rec.Outcome), zap.Duration("duration", rec.Duration))
	}

	if r.metrics != nil {
		r.metrics.JobRuns.WithLabelValues(string(job), rec.Outcome).Inc()
		r.metrics.JobDuration.WithLabelValues(string(job)).Observe(rec.Duration.Seconds())
	}
	if r.records != nil {
		r.records.Log(rec)
	}
	return rec, err
}

// attempt runs op under the retry policy and adds its attempts to rec.
func (r *Runner) attempt(ctx context.Context, rec *metrics.RunRecord, name string, op func(ctx context.Context) error) error {
	n, err := r.retry.do(ctx, r.logger, name, op)
	rec.Attempts += n
	if n > 1 && r.metrics != nil {
		r.metrics.Retries.Add(float64(n - 1))
	}
	return err
}

func (r *Runner) composites() nightlight.CompositeBuilder {
	return nightlight.CompositeBuilder{
		Collection:      r.config.Inputs.Modern,
		Threshold:       r.config.Thresholds.Latitude,
		DetectionFactor: r.config.Harmonizer.DetectionFactor,
	}
}

func (r *Runner) Harmonizer() *nightlight.Harmonizer {
	return &nightlight.Harmonizer{
		Legacy:       r.config.Inputs.Legacy,
		Composites:   r.composites(),
		WaterMask:    r.config.Inputs.WaterMask,
		Coefficients: r.config.Calibration,
		Config:       r.config.Harmonizer,
	}
}

func (r *Runner) Resolver() *nightlight.Resolver {
	return &nightlight.Resolver{
		Collection: r.config.Inputs.Harmonized.ID,
		Policy:     nightlight.FreshnessPolicy{MaxAgeYears: r.config.Inputs.Harmonized.MaxAgeYears},
		Builder:    r.Harmonizer(),
		Evaluator:  r.evaluator,
		Logger:     r.logger,
	}
}

func (r *Runner) Classifier() nightlight.Classifier {
	return nightlight.Classifier{
		Bins:      r.config.Quantiles.Bins,
		WaterMask: r.config.Inputs.WaterMask,
		Scale:     r.config.Quantiles.DriverScale,
	}
}

func (r *Runner) Calibrator() *nightlight.Calibrator {
	return &nightlight.Calibrator{
		Legacy:     r.config.Inputs.Legacy,
		Composites: r.composites(),
		WaterMask:  r.config.Inputs.WaterMask,
		Config:     r.config.CalibrationJob,
		Logger:     r.logger,
	}
}
