package filestore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
	"gopkg.in/yaml.v2"
)

const (
	SidecarExt = ".yaml"
	PayloadExt = ".bin"

	EncodingFloat32 = "float32le"
	EncodingFloat64 = "float64le"
)

// Sidecar is the YAML metadata document stored next to every raster
// payload. Invalid pixels are NaN in the payload.
type Sidecar struct {
	ID           string    `yaml:"id"`
	Collection   string    `yaml:"collection,omitempty"`
	Name         string    `yaml:"name"`
	Era          string    `yaml:"era,omitempty"`
	Year         int       `yaml:"year"`
	TimeStart    int64     `yaml:"time_start"`
	CRS          string    `yaml:"crs"`
	GeoTransform []float64 `yaml:"geotransform"`
	Width        int       `yaml:"width"`
	Height       int       `yaml:"height"`
	Type         string    `yaml:"type"`
	Encoding     string    `yaml:"encoding"`
	Payload      string    `yaml:"payload"`
}

func (s *Sidecar) Grid() (raster.Grid, error) {
	if len(s.GeoTransform) != 6 {
		return raster.Grid{}, fmt.Errorf("sidecar %s: geotransform has %d terms", s.ID, len(s.GeoTransform))
	}
	g := raster.Grid{CRS: s.CRS, Width: s.Width, Height: s.Height}
	copy(g.GeoTransform[:], s.GeoTransform)
	return g, nil
}

// Asset is the catalogue row described by the sidecar; path is the
// sidecar location relative to the store root.
func (s *Sidecar) Asset(path string) store.Asset {
	return store.Asset{
		Collection: s.Collection,
		Name:       s.Name,
		Era:        s.Era,
		Year:       s.Year,
		TimeStart:  time.UnixMilli(s.TimeStart).UTC(),
		Path:       path,
	}
}

func ReadSidecar(path string) (*Sidecar, error) {
	rawData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Sidecar
	if err := yaml.Unmarshal(rawData, &s); err != nil {
		return nil, fmt.Errorf("sidecar %s: %w", path, err)
	}
	if s.Payload == "" {
		return nil, fmt.Errorf("sidecar %s: no payload", path)
	}
	return &s, nil
}

func encodingFor(t raster.DataType) string {
	switch t {
	case raster.Byte, raster.Float32:
		return EncodingFloat32
	}
	return EncodingFloat64
}

func newSidecar(r *raster.Raster, dest store.Destination) *Sidecar {
	enc := encodingFor(r.Type)
	return &Sidecar{
		ID:           dest.ID(),
		Collection:   dest.Collection,
		Name:         dest.Name,
		Era:          dest.Era,
		Year:         r.TimeStamp.Year(),
		TimeStart:    r.TimeStamp.UnixMilli(),
		CRS:          r.CRS,
		GeoTransform: append([]float64(nil), r.GeoTransform[:]...),
		Width:        r.Width,
		Height:       r.Height,
		Type:         string(r.Type),
		Encoding:     enc,
		Payload:      filepath.Base(dest.Name) + PayloadExt,
	}
}

// readRaster loads the payload a sidecar points at.
func readRaster(sidecarPath string, s *Sidecar) (*raster.Raster, error) {
	grid, err := s.Grid()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(filepath.Dir(sidecarPath), s.Payload))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make([]float64, grid.Size())
	br := bufio.NewReader(f)
	switch s.Encoding {
	case EncodingFloat32:
		buf := make([]float32, grid.Size())
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("payload %s: %w", s.ID, err)
		}
		for i, v := range buf {
			values[i] = float64(v)
		}
	case EncodingFloat64:
		if err := binary.Read(br, binary.LittleEndian, values); err != nil {
			return nil, fmt.Errorf("payload %s: %w", s.ID, err)
		}
	default:
		return nil, fmt.Errorf("payload %s: unknown encoding %q", s.ID, s.Encoding)
	}

	r, err := raster.FromValues(grid, values)
	if err != nil {
		return nil, err
	}
	r.ID = s.ID
	r.Type = raster.DataType(s.Type)
	r.TimeStamp = time.UnixMilli(s.TimeStart).UTC()
	return r, nil
}

func writePayload(w io.Writer, r *raster.Raster, enc string) error {
	bw := bufio.NewWriter(w)
	switch enc {
	case EncodingFloat32:
		buf := make([]float32, len(r.Data))
		for i, v := range r.Data {
			buf[i] = float32(math.NaN())
			if r.Valid[i] {
				buf[i] = float32(v)
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return err
		}
	default:
		buf := make([]float64, len(r.Data))
		for i, v := range r.Data {
			buf[i] = math.NaN()
			if r.Valid[i] {
				buf[i] = v
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeFile replaces path atomically so concurrent readers never see a
// partial file and the last writer wins.
func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeSidecar(path string, s *Sidecar) error {
	out, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return writeFile(path, func(w io.Writer) error {
		_, err := w.Write(out)
		return err
	})
}
