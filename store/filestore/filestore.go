// Package filestore is a Grid Store kept on a POSIX file system. Every
// raster is a YAML sidecar plus a little endian payload; collection
// membership and native grids are indexed in the mas catalogue.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nci/nightlights/mas"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
)

type Store struct {
	root   string
	cat    *mas.Catalogue
	logger *zap.Logger
}

var _ store.GridStore = (*Store)(nil)

func New(root string, cat *mas.Catalogue, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: root, cat: cat, logger: logger}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Catalogue() *mas.Catalogue {
	return s.cat
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id)+SidecarExt)
}

func (s *Store) tablePath(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id)+TableExt)
}

// DeclareCollection records the native grid of a collection before any
// member is exported to it.
func (s *Store) DeclareCollection(ctx context.Context, id string, grid raster.Grid) error {
	return s.cat.PutCollection(ctx, id, grid)
}

func (s *Store) Image(ctx context.Context, id string) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.sidecarPath(id)
	sc, err := ReadSidecar(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("image %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return readRaster(path, sc)
}

func (s *Store) Collection(ctx context.Context, id string, start, end time.Time) (*raster.Stack, error) {
	grid, ok, err := s.cat.Collection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", id, store.ErrNotFound)
	}
	assets, err := s.cat.Query(ctx, id, start, end)
	if err != nil {
		return nil, err
	}

	stack := &raster.Stack{Grid: grid}
	for _, a := range assets {
		r, err := s.Image(ctx, a.ID())
		if err != nil {
			return nil, fmt.Errorf("collection %s member %s: %w", id, a.Name, err)
		}
		if !r.Grid.Aligned(grid) {
			return nil, fmt.Errorf("collection %s member %s: %w", id, a.Name, raster.ErrGridMismatch)
		}
		stack.Members = append(stack.Members, r)
	}
	s.logger.Debug("loaded collection", zap.String("collection", id), zap.Int("members", len(stack.Members)))
	return stack, nil
}

func (s *Store) Grid(ctx context.Context, id string) (raster.Grid, error) {
	grid, ok, err := s.cat.Collection(ctx, id)
	if err != nil {
		return raster.Grid{}, err
	}
	if ok {
		return grid, nil
	}
	sc, err := ReadSidecar(s.sidecarPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return raster.Grid{}, fmt.Errorf("grid of %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return raster.Grid{}, err
	}
	return sc.Grid()
}

func (s *Store) Assets(ctx context.Context, collection string) ([]store.Asset, error) {
	return s.cat.Assets(ctx, collection)
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	for _, path := range []string{s.sidecarPath(id), s.tablePath(id)} {
		if _, err := os.Stat(path); err == nil {
			return true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	_, ok, err := s.cat.Collection(ctx, id)
	return ok, err
}

// Export writes the payload, then the sidecar, then the catalogue row.
// Readers go through the catalogue, so a member is only visible once all
// three steps have succeeded.
func (s *Store) Export(ctx context.Context, r *raster.Raster, dest store.Destination) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dest.Name == "" {
		return fmt.Errorf("filestore: export without a name")
	}
	if dest.Collection != "" {
		grid, ok, err := s.cat.Collection(ctx, dest.Collection)
		if err != nil {
			return fmt.Errorf("export %s: %w: %v", dest.ID(), store.ErrTransient, err)
		}
		if !ok {
			if err := s.cat.PutCollection(ctx, dest.Collection, r.Grid); err != nil {
				return fmt.Errorf("export %s: %w: %v", dest.ID(), store.ErrTransient, err)
			}
		} else if !grid.Aligned(r.Grid) {
			return fmt.Errorf("export %s: %w", dest.ID(), raster.ErrGridMismatch)
		}
	}

	sc := newSidecar(r, dest)
	path := s.sidecarPath(dest.ID())
	payload := filepath.Join(filepath.Dir(path), sc.Payload)
	if err := writeFile(payload, func(w io.Writer) error { return writePayload(w, r, sc.Encoding) }); err != nil {
		return fmt.Errorf("export %s payload: %w", dest.ID(), err)
	}
	if err := writeSidecar(path, sc); err != nil {
		return fmt.Errorf("export %s sidecar: %w", dest.ID(), err)
	}

	if dest.Collection != "" {
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			rel = path
		}
		if err := s.cat.Put(ctx, sc.Asset(filepath.ToSlash(rel))); err != nil {
			return fmt.Errorf("export %s: %w: %v", dest.ID(), store.ErrTransient, err)
		}
	}
	s.logger.Debug("wrote raster", zap.String("id", dest.ID()), zap.String("path", path))
	return nil
}

func (s *Store) ExportTable(ctx context.Context, t *raster.Table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFile(s.tablePath(id), func(w io.Writer) error { return writeTable(w, t) }); err != nil {
		return fmt.Errorf("export table %s: %w", id, err)
	}
	return nil
}

func (s *Store) Table(ctx context.Context, id string) (*raster.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.tablePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("table %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readTable(f)
}
