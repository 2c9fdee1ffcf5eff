package raster

// SamplePoint is one sampled pixel: its location, stratification class and
// the value of every sampled band.
type SamplePoint struct {
	Lon    float64
	Lat    float64
	Class  int
	Values map[string]float64
}

// Table is a tabular export of sample points. Bands fixes the column order.
type Table struct {
	Bands  []string
	Points []SamplePoint
}

func (t *Table) Column(band string) []float64 {
	out := make([]float64, 0, len(t.Points))
	for _, p := range t.Points {
		out = append(out, p.Values[band])
	}
	return out
}

func (t *Table) Len() int {
	return len(t.Points)
}
