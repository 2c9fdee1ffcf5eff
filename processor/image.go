package processor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nci/nightlights/raster"
)

// Image is a deferred description of a single raster. Building an Image
// never touches the store; samples are produced by an Evaluator.
type Image struct {
	n imageNode
}

type imageNode interface {
	eval(ctx context.Context, e *Evaluator) (*raster.Raster, error)
	String() string
}

// Load refers to a stored image by id.
func Load(id string) Image {
	return Image{&loadNode{id: id}}
}

// FromRaster wraps an already materialised raster.
func FromRaster(r *raster.Raster) Image {
	return Image{&constNode{r: r}}
}

func (img Image) String() string {
	if img.n == nil {
		return "<nil>"
	}
	return img.n.String()
}

func (img Image) IsZero() bool {
	return img.n == nil
}

func (img Image) mapValues(name string, fn func(float64) (float64, bool)) Image {
	return Image{&mapNode{src: img, name: name, fn: fn}}
}

func (img Image) transform(name string, fn func(*raster.Raster) *raster.Raster) Image {
	return Image{&transformNode{src: img, name: name, fn: fn}}
}

func (img Image) combine(name string, o Image, fn func(x, y float64) (float64, bool)) Image {
	return Image{&combineNode{a: img, b: o, name: name, fn: fn}}
}

// Log is the natural logarithm; non-positive samples become invalid.
func (img Image) Log() Image {
	return img.transform("log", (*raster.Raster).Log)
}

func (img Image) Abs() Image {
	return img.mapValues("abs", func(v float64) (float64, bool) { return math.Abs(v), true })
}

func (img Image) Pow(p float64) Image {
	return img.mapValues(fmt.Sprintf("pow(%g)", p), func(v float64) (float64, bool) { return math.Pow(v, p), true })
}

func (img Image) Multiply(k float64) Image {
	return img.mapValues(fmt.Sprintf("multiply(%g)", k), func(v float64) (float64, bool) { return v * k, true })
}

func (img Image) Add(k float64) Image {
	return img.mapValues(fmt.Sprintf("add(%g)", k), func(v float64) (float64, bool) { return v + k, true })
}

func (img Image) Divide(k float64) Image {
	return img.mapValues(fmt.Sprintf("divide(%g)", k), func(v float64) (float64, bool) { return v / k, k != 0 })
}

// Gte yields 1 where img >= o and 0 elsewhere. Both images must be aligned.
func (img Image) Gte(o Image) Image {
	return img.combine("gte", o, func(x, y float64) (float64, bool) { return boolValue(x >= y), true })
}

// GteValue and LteValue compare against a constant.
func (img Image) GteValue(k float64) Image {
	return img.mapValues(fmt.Sprintf("gte(%g)", k), func(v float64) (float64, bool) { return boolValue(v >= k), true })
}

func (img Image) LteValue(k float64) Image {
	return img.mapValues(fmt.Sprintf("lte(%g)", k), func(v float64) (float64, bool) { return boolValue(v <= k), true })
}

func (img Image) GtValue(k float64) Image {
	return img.mapValues(fmt.Sprintf("gt(%g)", k), func(v float64) (float64, bool) { return boolValue(v > k), true })
}

func (img Image) And(o Image) Image {
	return img.combine("and", o, func(x, y float64) (float64, bool) { return boolValue(x != 0 && y != 0), true })
}

func (img Image) Clamp(lo, hi float64) Image {
	return img.transform(fmt.Sprintf("clamp(%g,%g)", lo, hi), func(r *raster.Raster) *raster.Raster { return r.Clamp(lo, hi) })
}

func (img Image) Round() Image {
	return img.mapValues("round", func(v float64) (float64, bool) { return math.Round(v), true })
}

func (img Image) Unmask(v float64) Image {
	return img.transform(fmt.Sprintf("unmask(%g)", v), func(r *raster.Raster) *raster.Raster { return r.Unmask(v) })
}

func (img Image) SelfMask() Image {
	return img.transform("selfMask", (*raster.Raster).SelfMask)
}

func (img Image) Cast(t raster.DataType) Image {
	return img.transform(fmt.Sprintf("cast(%s)", t), func(r *raster.Raster) *raster.Raster { return r.Cast(t) })
}

func (img Image) Uint8() Image {
	return img.Cast(raster.Byte)
}

func (img Image) Int() Image {
	return img.Cast(raster.Int32)
}

// Scale offsets, clips and scales img into non-negative Int32 values.
func (img Image) Scale(p raster.ScaleParams) Image {
	return img.transform(fmt.Sprintf("scale(%g,%g,%g)", p.Offset, p.Scale, p.Clip), func(r *raster.Raster) *raster.Raster { return raster.Scale(r, p) })
}

// UpdateMask keeps pixels where mask is valid and non-zero. The mask is
// aligned onto img's grid by nearest neighbour when the grids differ.
func (img Image) UpdateMask(mask Image) Image {
	return Image{&maskNode{src: img, mask: mask}}
}

// Latitude yields pixel centre latitudes on img's grid.
func (img Image) Latitude() Image {
	return Image{&latitudeNode{ref: img}}
}

// ReduceResolution resamples onto a coarser grid with an area weighted
// mean.
func (img Image) ReduceResolution(target GridRef) Image {
	return Image{&resampleNode{src: img, target: target}}
}

func (img Image) SetTime(t time.Time) Image {
	return Image{&setTimeNode{src: img, t: t}}
}

// Max is the per-pixel maximum over the valid samples of the images.
func Max(images ...Image) Image {
	return FromImages(images...).Max()
}

// GridRef names the grid an Image is resampled onto.
type GridRef interface {
	grid(ctx context.Context, e *Evaluator) (raster.Grid, error)
	String() string
}

type storedGrid string

// GridOf refers to the native grid of a stored image or collection.
func GridOf(id string) GridRef {
	return storedGrid(id)
}

func (g storedGrid) grid(ctx context.Context, e *Evaluator) (raster.Grid, error) {
	return e.store.Grid(ctx, string(g))
}

func (g storedGrid) String() string {
	return "grid(" + string(g) + ")"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type loadNode struct {
	id string
}

func (n *loadNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	return e.store.Image(ctx, n.id)
}

func (n *loadNode) String() string {
	return "load(" + n.id + ")"
}

type constNode struct {
	r *raster.Raster
}

func (n *constNode) eval(context.Context, *Evaluator) (*raster.Raster, error) {
	return n.r.Clone(), nil
}

func (n *constNode) String() string {
	if n.r.ID != "" {
		return "raster(" + n.r.ID + ")"
	}
	return "raster"
}

type mapNode struct {
	src  Image
	name string
	fn   func(float64) (float64, bool)
}

func (n *mapNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	r, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return r.Map(n.fn), nil
}

func (n *mapNode) String() string {
	return n.src.String() + "." + n.name
}

type transformNode struct {
	src  Image
	name string
	fn   func(*raster.Raster) *raster.Raster
}

func (n *transformNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	r, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return n.fn(r), nil
}

func (n *transformNode) String() string {
	return n.src.String() + "." + n.name
}

type combineNode struct {
	a, b Image
	name string
	fn   func(x, y float64) (float64, bool)
}

func (n *combineNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	a, err := n.a.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	b, err := n.b.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	out, err := raster.Combine(a, b, n.fn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.String(), err)
	}
	return out, nil
}

func (n *combineNode) String() string {
	return fmt.Sprintf("%s.%s(%s)", n.a, n.name, n.b)
}

type maskNode struct {
	src, mask Image
}

func (n *maskNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	r, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	m, err := n.mask.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return r.UpdateMask(m)
}

func (n *maskNode) String() string {
	return fmt.Sprintf("%s.updateMask(%s)", n.src, n.mask)
}

type latitudeNode struct {
	ref Image
}

func (n *latitudeNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	r, err := n.ref.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	lat := raster.Latitude(r.Grid)
	lat.TimeStamp = r.TimeStamp
	return lat, nil
}

func (n *latitudeNode) String() string {
	return "latitude(" + n.ref.String() + ")"
}

type resampleNode struct {
	src    Image
	target GridRef
}

func (n *resampleNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	r, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	g, err := n.target.grid(ctx, e)
	if err != nil {
		return nil, err
	}
	return r.ReduceResolution(g)
}

func (n *resampleNode) String() string {
	return fmt.Sprintf("%s.reduceResolution(%s)", n.src, n.target)
}

type setTimeNode struct {
	src Image
	t   time.Time
}

func (n *setTimeNode) eval(ctx context.Context, e *Evaluator) (*raster.Raster, error) {
	r, err := n.src.n.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	r.TimeStamp = n.t
	return r, nil
}

func (n *setTimeNode) String() string {
	return fmt.Sprintf("%s.setTime(%s)", n.src, n.t.Format(raster.ISOFormat))
}
