// Package store defines the Grid Store capability the engine consumes: named
// images and time-stamped collections of rasters, sample tables, and exports.
package store

import (
	"context"
	"errors"
	"path"
	"sort"
	"time"

	"github.com/nci/nightlights/raster"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrTransient marks remote failures (timeouts, quota, backend faults)
	// that are safe to retry.
	ErrTransient = errors.New("store: transient failure")
)

// Asset describes one member of a collection without loading its samples.
type Asset struct {
	Collection string    `json:"collection"`
	Name       string    `json:"name"`
	Era        string    `json:"era,omitempty"`
	Year       int       `json:"year"`
	TimeStart  time.Time `json:"time_start"`
	Path       string    `json:"path,omitempty"`
}

func (a Asset) ID() string {
	return ID(a.Collection, a.Name)
}

// Destination names where an exported raster goes. An empty Collection
// exports a standalone image with id Name.
type Destination struct {
	Collection string
	Name       string
	Era        string
}

func (d Destination) ID() string {
	if d.Collection == "" {
		return d.Name
	}
	return ID(d.Collection, d.Name)
}

type GridStore interface {
	// Image loads a standalone image or a collection member by id.
	Image(ctx context.Context, id string) (*raster.Raster, error)
	// Collection loads the members of a collection with start <= t < end.
	// A zero start or end leaves that side unbounded.
	Collection(ctx context.Context, id string, start, end time.Time) (*raster.Stack, error)
	// Grid returns the native grid of an image or collection.
	Grid(ctx context.Context, id string) (raster.Grid, error)
	// Assets lists collection members ordered by TimeStart.
	Assets(ctx context.Context, collection string) ([]Asset, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Export persists r. Exporting to an existing destination overwrites it.
	Export(ctx context.Context, r *raster.Raster, dest Destination) error
	ExportTable(ctx context.Context, t *raster.Table, id string) error
	Table(ctx context.Context, id string) (*raster.Table, error)
}

func ID(collection, name string) string {
	return path.Join(collection, name)
}

// SortAssets orders assets by TimeStart, then name.
func SortAssets(assets []Asset) {
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].TimeStart.Equal(assets[j].TimeStart) {
			return assets[i].Name < assets[j].Name
		}
		return assets[i].TimeStart.Before(assets[j].TimeStart)
	})
}

// LatestAt returns the most recent asset with TimeStart <= t.
func LatestAt(assets []Asset, t time.Time) (Asset, bool) {
	var best Asset
	found := false
	for _, a := range assets {
		if a.TimeStart.After(t) {
			continue
		}
		if !found || a.TimeStart.After(best.TimeStart) {
			best = a
			found = true
		}
	}
	return best, found
}

// InSpan reports whether t lies in [start, end) with zero bounds open.
func InSpan(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && !t.Before(end) {
		return false
	}
	return true
}
