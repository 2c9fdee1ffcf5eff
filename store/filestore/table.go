package filestore

import (
	"errors"
	"fmt"
	"io"

	"github.com/nci/nightlights/raster"
	"github.com/parquet-go/parquet-go"
)

const TableExt = ".parquet"

// sampleRow is the long form of a sample table: one row per point and band.
type sampleRow struct {
	Point int64   `parquet:"point,snappy"`
	Lon   float64 `parquet:"lon,snappy"`
	Lat   float64 `parquet:"lat,snappy"`
	Class int64   `parquet:"class,snappy"`
	Band  string  `parquet:"band,snappy,dict"`
	Value float64 `parquet:"value,snappy"`
}

func writeTable(w io.Writer, t *raster.Table) error {
	rows := make([]sampleRow, 0, len(t.Points)*len(t.Bands))
	for i, p := range t.Points {
		for _, band := range t.Bands {
			v, ok := p.Values[band]
			if !ok {
				return fmt.Errorf("sample point %d has no %s value", i, band)
			}
			rows = append(rows, sampleRow{
				Point: int64(i),
				Lon:   p.Lon,
				Lat:   p.Lat,
				Class: int64(p.Class),
				Band:  band,
				Value: v,
			})
		}
	}

	writer := parquet.NewGenericWriter[sampleRow](w)
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write sample rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// readTable folds the long rows back into points. Band order is the order
// of first appearance.
func readTable(r io.ReaderAt) (*raster.Table, error) {
	reader := parquet.NewGenericReader[sampleRow](r)
	defer reader.Close()

	rows := make([]sampleRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read sample rows: %w", err)
	}
	rows = rows[:n]

	t := &raster.Table{}
	seen := map[string]bool{}
	index := map[int64]int{}
	for _, row := range rows {
		if !seen[row.Band] {
			seen[row.Band] = true
			t.Bands = append(t.Bands, row.Band)
		}
		i, ok := index[row.Point]
		if !ok {
			i = len(t.Points)
			index[row.Point] = i
			t.Points = append(t.Points, raster.SamplePoint{
				Lon:    row.Lon,
				Lat:    row.Lat,
				Class:  int(row.Class),
				Values: map[string]float64{},
			})
		}
		t.Points[i].Values[row.Band] = row.Value
	}
	return t, nil
}
