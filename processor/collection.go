package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Collection is a deferred, time ordered set of images.
type Collection struct {
	n collectionNode
}

type collectionNode interface {
	eval(ctx context.Context, e *Evaluator) (*raster.Stack, error)
	String() string
}

// Open refers to a stored collection.
func Open(id string) Collection {
	return Collection{&openNode{id: id}}
}

// FromImages builds a collection from individual images. All images must
// share a grid once evaluated.
func FromImages(images ...Image) Collection {
	return Collection{&imagesNode{images: images}}
}

func (c Collection) String() string {
	if c.n == nil {
		return "<nil>"
	}
	return c.n.String()
}

// FilterDate keeps members with start <= timestamp < end.
func (c Collection) FilterDate(start, end time.Time) Collection {
	if o, ok := c.n.(*openNode); ok {
		// push the window down to the store query
		s, e := o.start, o.end
		if s.IsZero() || start.After(s) {
			s = start
		}
		if e.IsZero() || (!end.IsZero() && end.Before(e)) {
			e = end
		}
		return Collection{&openNode{id: o.id, start: s, end: e}}
	}
	return Collection{&filterNode{src: c, start: start, end: end}}
}

// Map applies fn to every member. Members are evaluated concurrently.
func (c Collection) Map(name string, fn func(Image) Image) Collection {
	return Collection{&mapCollectionNode{src: c, name: name, fn: fn}}
}

func (c Collection) Reduce(op raster.Reducer) Image {
	return Image{&reduceNode{src: c, op: op}}
}

func (c Collection) Median() Image { return c.Reduce(raster.ReduceMedian) }
func (c Collection) Mean() Image   { return c.Reduce(raster.ReduceMean) }
func (c Collection) StdDev() Image { return c.Reduce(raster.ReduceStdDev) }
func (c Collection) Max() Image    { return c.Reduce(raster.ReduceMax) }

type openNode struct {
	id         string
	start, end time.Time
}

func (n *openNode) eval(ctx context.Context, e *Evaluator) (*raster.Stack, error) {
	return e.store.Collection(ctx, n.id, n.start, n.end)
}

func (n *openNode) String() string {
	if n.start.IsZero() && n.end.IsZero() {
		return "open(" + n.id + ")"
	}
	return fmt.Sprintf("open(%s)[%s,%s)", n.id, formatBound(n.start), formatBound(n.end))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

type imagesNode struct {
	images []Image
}

func (n *imagesNode) eval(ctx context.Context, e *Evaluator) (*raster.Stack, error) {
	members := make([]*raster.Raster, len(n.images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, img := range n.images {
		g.Go(func() error {
			r, err := img.n.eval(gctx, e)
			if err != nil {
				return err
			}
			members[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stack := &raster.Stack{Members: members}
	if len(members) > 0 {
		stack.Grid = members[0].Grid
	}
	return stack, nil
}

func (n *imagesNode) String() string {
	parts := make([]string, len(n.images))
	for i, img := range n.images {
		parts[i] = img.String()
	}
	return "images(" + strings.Join(parts, ", ") + ")"
}

type filterNode struct {
	src        Collection
	start, end time.Time
}

func (n *filterNode) eval(ctx context.Context, e *Evaluator) (*raster.Stack, error) {
	s, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	out := &raster.Stack{Grid: s.Grid}
	for _, m := range s.Members {
		if store.InSpan(m.TimeStamp, n.start, n.end) {
			out.Members = append(out.Members, m)
		}
	}
	return out, nil
}

func (n *filterNode) String() string {
	return fmt.Sprintf("%s.filterDate(%s,%s)", n.src, formatBound(n.start), formatBound(n.end))
}

type mapCollectionNode struct {
	src  Collection
	name string
	fn   func(Image) Image
}

func (n *mapCollectionNode) eval(ctx context.Context, e *Evaluator) (*raster.Stack, error) {
	s, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	out := &raster.Stack{Grid: s.Grid, Members: make([]*raster.Raster, len(s.Members))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, m := range s.Members {
		g.Go(func() error {
			r, err := n.fn(FromRaster(m)).n.eval(gctx, e)
			if err != nil {
				return fmt.Errorf("map %s over %s: %w", n.name, m.ID, err)
			}
			if r.ID == "" {
				r.ID = m.ID
			}
			out.Members[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (n *mapCollectionNode) String() string {
	return fmt.Sprintf("%s.map(%s)", n.src, n.name)
}

type reduceNode struct {
	src Collection
	op  raster.Reducer
}

func (n *reduceNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	s, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("reduce collection", zap.String("op", string(n.op)), zap.Int("members", len(s.Members)))
	return raster.Reduce(s.Grid, s.Members, n.op)
}

func (n *reduceNode) String() string {
	return fmt.Sprintf("%s.%s()", n.src, n.op)
}
