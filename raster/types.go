package raster

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const GeographicCRS = "EPSG:4326"

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

var (
	ErrGridMismatch = errors.New("raster: grids are not aligned")
	ErrUpsample     = errors.New("raster: target grid is finer than the source grid")
	ErrProjection   = errors.New("raster: reprojection between different CRS is not supported")
	ErrNoGrid       = errors.New("raster: collection has no grid")
)

type DataType string

const (
	Byte    DataType = "Byte"
	Int32   DataType = "Int32"
	Float32 DataType = "Float32"
	Float64 DataType = "Float64"
)

// Grid describes the pixel lattice of a raster. GeoTransform follows the
// GDAL convention: origin x, pixel width, row rotation, origin y, column
// rotation, negative pixel height. Rotations are not supported.
type Grid struct {
	CRS          string
	GeoTransform [6]float64
	Width        int
	Height       int
}

// NewGeographicGrid returns a north-up lon/lat grid whose top left corner
// sits at (minLon, maxLat).
func NewGeographicGrid(minLon, maxLat, res float64, width, height int) Grid {
	return Grid{
		CRS:          GeographicCRS,
		GeoTransform: [6]float64{minLon, res, 0, maxLat, 0, -res},
		Width:        width,
		Height:       height,
	}
}

func (g Grid) Size() int {
	return g.Width * g.Height
}

func (g Grid) IsZero() bool {
	return g.Width == 0 || g.Height == 0
}

func (g Grid) PixelWidth() float64 {
	return math.Abs(g.GeoTransform[1])
}

func (g Grid) PixelHeight() float64 {
	return math.Abs(g.GeoTransform[5])
}

// Bounds returns minX, minY, maxX, maxY.
func (g Grid) Bounds() (float64, float64, float64, float64) {
	gt := g.GeoTransform
	return gt[0], gt[3] - float64(g.Height)*g.PixelHeight(), gt[0] + float64(g.Width)*g.PixelWidth(), gt[3]
}

// PixelCenter returns the x (longitude) and y (latitude) of the centre of
// pixel i in row-major order.
func (g Grid) PixelCenter(i int) (float64, float64) {
	col := i % g.Width
	row := i / g.Width
	gt := g.GeoTransform
	return gt[0] + (float64(col)+0.5)*gt[1], gt[3] + (float64(row)+0.5)*gt[5]
}

// Index returns the row-major index of the pixel containing (x, y).
func (g Grid) Index(x, y float64) (int, bool) {
	gt := g.GeoTransform
	col := int(math.Floor((x - gt[0]) / g.PixelWidth()))
	row := int(math.Floor((gt[3] - y) / g.PixelHeight()))
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return 0, false
	}
	return row*g.Width + col, true
}

const gridTolerance = 1e-9

// Aligned reports whether two grids share CRS, shape and geotransform so
// that per-pixel operations can combine them directly.
func (g Grid) Aligned(o Grid) bool {
	if g.CRS != o.CRS || g.Width != o.Width || g.Height != o.Height {
		return false
	}
	for i := range g.GeoTransform {
		if math.Abs(g.GeoTransform[i]-o.GeoTransform[i]) > gridTolerance {
			return false
		}
	}
	return true
}

func (g Grid) String() string {
	return fmt.Sprintf("%s %dx%d %v", g.CRS, g.Width, g.Height, g.GeoTransform)
}

// Raster is a single band of samples on a Grid. Invalid pixels carry no
// value and propagate as invalid through arithmetic.
type Raster struct {
	Grid
	ID        string
	Type      DataType
	TimeStamp time.Time
	Data      []float64
	Valid     []bool
}

// New returns an all-invalid raster on the grid.
func New(grid Grid) *Raster {
	return &Raster{
		Grid:  grid,
		Type:  Float64,
		Data:  make([]float64, grid.Size()),
		Valid: make([]bool, grid.Size()),
	}
}

// Filled returns a raster on the grid where every pixel is valid and equal
// to v.
func Filled(grid Grid, v float64) *Raster {
	r := New(grid)
	for i := range r.Data {
		r.Data[i] = v
		r.Valid[i] = true
	}
	return r
}

// FromValues builds a raster from row-major values. Non-finite values are
// stored as invalid pixels.
func FromValues(grid Grid, values []float64) (*Raster, error) {
	if len(values) != grid.Size() {
		return nil, fmt.Errorf("raster: %d values for a %dx%d grid", len(values), grid.Width, grid.Height)
	}
	r := New(grid)
	for i, v := range values {
		if isFinite(v) {
			r.Data[i] = v
			r.Valid[i] = true
		}
	}
	return r, nil
}

func (r *Raster) At(i int) (float64, bool) {
	return r.Data[i], r.Valid[i]
}

func (r *Raster) Clone() *Raster {
	out := &Raster{Grid: r.Grid, ID: r.ID, Type: r.Type, TimeStamp: r.TimeStamp,
		Data: make([]float64, len(r.Data)), Valid: make([]bool, len(r.Valid))}
	copy(out.Data, r.Data)
	copy(out.Valid, r.Valid)
	return out
}

func (r *Raster) ValidCount() int {
	n := 0
	for _, ok := range r.Valid {
		if ok {
			n++
		}
	}
	return n
}

// AllInvalid reports whether the raster holds no data at all.
func (r *Raster) AllInvalid() bool {
	return r.ValidCount() == 0
}

// Identical reports bit-for-bit equality of validity and valid samples.
func (r *Raster) Identical(o *Raster) bool {
	if !r.Grid.Aligned(o.Grid) || r.Type != o.Type || !r.TimeStamp.Equal(o.TimeStamp) {
		return false
	}
	for i := range r.Data {
		if r.Valid[i] != o.Valid[i] {
			return false
		}
		if r.Valid[i] && math.Float64bits(r.Data[i]) != math.Float64bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// Stack is a time ordered set of rasters sharing a logical identity. Grid is
// the native grid of the collection and is kept even when Members is empty.
type Stack struct {
	Grid    Grid
	Members []*Raster
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
