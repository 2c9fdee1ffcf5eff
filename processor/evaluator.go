package processor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
)

// Evaluator materialises deferred images and collections against a Grid
// Store. Evaluation is the only place store reads and exports happen.
type Evaluator struct {
	store       store.GridStore
	logger      *zap.Logger
	concurrency int
}

type Option func(*Evaluator)

func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConcurrency bounds the number of collection members evaluated at
// once.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEvaluator(s store.GridStore, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:       s,
		logger:      zap.NewNop(),
		concurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Store() store.GridStore {
	return e.store
}

func (e *Evaluator) Evaluate(ctx context.Context, img Image) (*raster.Raster, error) {
	if img.IsZero() {
		return nil, fmt.Errorf("evaluate: empty image")
	}
	start := time.Now()
	r, err := img.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("evaluated image",
		zap.Stringer("graph", img),
		zap.Int("valid", r.ValidCount()),
		zap.Duration("elapsed", time.Since(start)))
	return r, nil
}

func (e *Evaluator) EvaluateCollection(ctx context.Context, c Collection) (*raster.Stack, error) {
	if c.n == nil {
		return nil, fmt.Errorf("evaluate: empty collection")
	}
	return c.n.eval(ctx, e)
}

// Export evaluates img and writes it to dest. The evaluated raster is
// returned so callers can inspect what was persisted.
func (e *Evaluator) Export(ctx context.Context, img Image, dest store.Destination) (*raster.Raster, error) {
	r, err := e.Evaluate(ctx, img)
	if err != nil {
		return nil, err
	}
	if err := e.ExportRaster(ctx, r, dest); err != nil {
		return nil, err
	}
	return r, nil
}

// ExportRaster writes an already evaluated raster to dest.
func (e *Evaluator) ExportRaster(ctx context.Context, r *raster.Raster, dest store.Destination) error {
	if err := e.store.Export(ctx, r, dest); err != nil {
		return fmt.Errorf("export %s: %w", dest.ID(), err)
	}
	e.logger.Info("exported image",
		zap.String("destination", dest.ID()),
		zap.String("type", string(r.Type)),
		zap.Time("time_start", r.TimeStamp),
		zap.Int("valid", r.ValidCount()))
	return nil
}

// ExportTable writes a sample table to the store under id.
func (e *Evaluator) ExportTable(ctx context.Context, t *raster.Table, id string) error {
	if err := e.store.ExportTable(ctx, t, id); err != nil {
		return fmt.Errorf("export table %s: %w", id, err)
	}
	e.logger.Info("exported table", zap.String("destination", id), zap.Int("rows", t.Len()))
	return nil
}
