// Package memstore is an in-memory Grid Store. It backs dry runs and serves
// as the mock backend in tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
)

type collection struct {
	grid    raster.Grid
	members map[string]*member
}

type member struct {
	asset  store.Asset
	raster *raster.Raster
}

type Store struct {
	mu          sync.RWMutex
	images      map[string]*raster.Raster
	collections map[string]*collection
	tables      map[string]*raster.Table

	failExports int
	exports     int
}

var _ store.GridStore = (*Store)(nil)

func New() *Store {
	return &Store{
		images:      map[string]*raster.Raster{},
		collections: map[string]*collection{},
		tables:      map[string]*raster.Table{},
	}
}

// PutImage registers a standalone image.
func (s *Store) PutImage(id string, r *raster.Raster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := r.Clone()
	c.ID = id
	s.images[id] = c
}

// DeclareCollection creates an empty collection with a native grid.
func (s *Store) DeclareCollection(id string, grid raster.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[id]; ok {
		c.grid = grid
		return
	}
	s.collections[id] = &collection{grid: grid, members: map[string]*member{}}
}

// PutMember adds r to the collection under name, declaring the collection
// on r's grid when needed.
func (s *Store) PutMember(id, name, era string, r *raster.Raster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putMemberLocked(id, name, era, r)
}

func (s *Store) putMemberLocked(id, name, era string, r *raster.Raster) {
	c, ok := s.collections[id]
	if !ok {
		c = &collection{grid: r.Grid, members: map[string]*member{}}
		s.collections[id] = c
	}
	cp := r.Clone()
	cp.ID = store.ID(id, name)
	c.members[name] = &member{
		asset: store.Asset{
			Collection: id,
			Name:       name,
			Era:        era,
			Year:       r.TimeStamp.Year(),
			TimeStart:  r.TimeStamp,
		},
		raster: cp,
	}
}

// FailExports makes the next n exports return store.ErrTransient.
func (s *Store) FailExports(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failExports = n
}

// ExportCount is the number of successful exports so far.
func (s *Store) ExportCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exports
}

func (s *Store) Image(ctx context.Context, id string) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.images[id]; ok {
		return r.Clone(), nil
	}
	for _, c := range s.collections {
		for _, m := range c.members {
			if m.raster.ID == id {
				return m.raster.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("image %s: %w", id, store.ErrNotFound)
}

func (s *Store) Collection(ctx context.Context, id string, start, end time.Time) (*raster.Stack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[id]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", id, store.ErrNotFound)
	}

	assets := make([]store.Asset, 0, len(c.members))
	for _, m := range c.members {
		if store.InSpan(m.asset.TimeStart, start, end) {
			assets = append(assets, m.asset)
		}
	}
	store.SortAssets(assets)

	stack := &raster.Stack{Grid: c.grid}
	for _, a := range assets {
		stack.Members = append(stack.Members, c.members[a.Name].raster.Clone())
	}
	return stack, nil
}

func (s *Store) Grid(ctx context.Context, id string) (raster.Grid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.images[id]; ok {
		return r.Grid, nil
	}
	if c, ok := s.collections[id]; ok {
		return c.grid, nil
	}
	return raster.Grid{}, fmt.Errorf("grid of %s: %w", id, store.ErrNotFound)
}

func (s *Store) Assets(ctx context.Context, id string) ([]store.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[id]
	if !ok {
		return nil, nil
	}
	assets := make([]store.Asset, 0, len(c.members))
	for _, m := range c.members {
		assets = append(assets, m.asset)
	}
	store.SortAssets(assets)
	return assets, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Image(ctx, id)
	if err == nil {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, isCollection := s.collections[id]
	_, isTable := s.tables[id]
	return isCollection || isTable, nil
}

func (s *Store) Export(ctx context.Context, r *raster.Raster, dest store.Destination) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failExports > 0 {
		s.failExports--
		return fmt.Errorf("export %s: %w", dest.ID(), store.ErrTransient)
	}
	if dest.Collection == "" {
		c := r.Clone()
		c.ID = dest.Name
		s.images[dest.Name] = c
	} else {
		s.putMemberLocked(dest.Collection, dest.Name, dest.Era, r)
	}
	s.exports++
	return nil
}

func (s *Store) ExportTable(ctx context.Context, t *raster.Table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := &raster.Table{Bands: append([]string(nil), t.Bands...), Points: append([]raster.SamplePoint(nil), t.Points...)}
	s.tables[id] = cp
	return nil
}

func (s *Store) Table(ctx context.Context, id string) (*raster.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, store.ErrNotFound)
	}
	return t, nil
}
