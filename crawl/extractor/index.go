package extractor

import (
	"context"
	"fmt"

	"github.com/nci/nightlights/mas"
	"github.com/nci/nightlights/raster"
	"go.uber.org/zap"
)

type IndexOptions struct {
	Concurrency   int
	Pattern       string
	FollowSymlink bool
	// DryRun crawls and reports without writing to the catalogue.
	DryRun bool
}

// Index crawls a store root and upserts every collection member into the
// catalogue. Standalone images are counted but not catalogued. Collection
// grids are recorded from the first member seen; a member that does not
// match its collection grid is reported as an error.
func Index(ctx context.Context, cat *mas.Catalogue, root string, opts IndexOptions, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	expr, err := ParsePatternExpression(opts.Pattern)
	if err != nil {
		return Summary{}, fmt.Errorf("crawl pattern: %w", err)
	}

	var summary Summary
	grids := map[string]raster.Grid{}

	crawler := NewPosixCrawler(opts.Concurrency, expr, opts.FollowSymlink)
	err = crawler.Crawl(ctx, root, func(geo *GeoFile) error {
		summary.Files++
		if geo.Asset.Collection == "" {
			summary.Standalone++
			return nil
		}

		coll := geo.Asset.Collection
		grid, seen := grids[coll]
		if !seen {
			known, ok, err := cat.Collection(ctx, coll)
			if err != nil {
				return err
			}
			grid = geo.Grid
			if ok {
				grid = known
			} else if !opts.DryRun {
				if err := cat.PutCollection(ctx, coll, geo.Grid); err != nil {
					return err
				}
			}
			grids[coll] = grid
			summary.Collections++
		}
		if !grid.Aligned(geo.Grid) {
			return fmt.Errorf("%s: %w", geo.ID, raster.ErrGridMismatch)
		}

		if !opts.DryRun {
			if err := cat.Put(ctx, geo.Asset); err != nil {
				return err
			}
		}
		summary.Indexed++
		logger.Debug("indexed asset", zap.String("id", geo.ID), zap.Int("year", geo.Asset.Year))
		return nil
	})
	if err != nil {
		summary.Errors = countErrors(err)
	}
	logger.Info("crawl complete",
		zap.String("root", root),
		zap.Int("files", summary.Files),
		zap.Int("indexed", summary.Indexed),
		zap.Int("errors", summary.Errors))
	return summary, err
}

func countErrors(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
