package task

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nci/nightlights/metrics"
	"github.com/nci/nightlights/nightlight"
	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/raster"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"go.uber.org/zap"
)

var diagnosticPercentiles = []float64{0, 0.05, 0.25, 0.5, 0.75, 0.95, 1}

type Percentile struct {
	P     float64
	Value float64
}

type BinOccupancy struct {
	Bin   nightlight.Bin
	Count int
	Share float64
}

// Diagnostics summarises the value distribution of a harmonized raster
// against the quantile bin table.
type Diagnostics struct {
	Asset       string
	Valid       int
	Percentiles []Percentile
	Bins        []BinOccupancy
	// Unbinned counts valid pixels no bin contains.
	Unbinned int
}

func Diagnose(asset string, r *raster.Raster, bins nightlight.BinTable) Diagnostics {
	d := Diagnostics{Asset: asset, Valid: r.ValidCount()}
	for i, v := range r.Percentiles(diagnosticPercentiles...) {
		d.Percentiles = append(d.Percentiles, Percentile{P: diagnosticPercentiles[i], Value: v})
	}

	counts := make(map[int]int, len(bins))
	for i, v := range r.Data {
		if !r.Valid[i] {
			continue
		}
		ordinal, ok := bins.Ordinal(v)
		if !ok {
			d.Unbinned++
			continue
		}
		counts[ordinal]++
	}
	for _, b := range bins {
		occ := BinOccupancy{Bin: b, Count: counts[b.Ordinal]}
		if d.Valid > 0 {
			occ.Share = float64(occ.Count) / float64(d.Valid)
		}
		d.Bins = append(d.Bins, occ)
	}
	return d
}

func (d Diagnostics) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Asset %s: %d valid pixels\n", d.Asset, d.Valid); err != nil {
		return err
	}

	pt := tablewriter.NewWriter(w)
	pt.Header([]string{"Percentile", "Value"})
	pt.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	for _, p := range d.Percentiles {
		if err := pt.Append([]string{fmt.Sprintf("p%g", p.P*100), fmt.Sprintf("%.2f", p.Value)}); err != nil {
			return err
		}
	}
	if err := pt.Render(); err != nil {
		return err
	}
	_ = pt.Close()

	bt := tablewriter.NewWriter(w)
	bt.Header([]string{"Ordinal", "Min", "Max", "Pixels", "Share"})
	bt.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	var data [][]string
	for _, b := range d.Bins {
		data = append(data, []string{
			fmt.Sprintf("%d", b.Bin.Ordinal),
			fmt.Sprintf("%g", b.Bin.Min),
			fmt.Sprintf("%g", b.Bin.Max),
			fmt.Sprintf("%d", b.Count),
			fmt.Sprintf("%.1f%%", b.Share*100),
		})
	}
	if err := bt.Bulk(data); err != nil {
		return err
	}
	if err := bt.Render(); err != nil {
		return err
	}
	_ = bt.Close()

	if d.Unbinned > 0 {
		_, err := fmt.Fprintf(w, "%d valid pixels fall outside every bin\n", d.Unbinned)
		return err
	}
	return nil
}

// diagnostics reports the distribution of the harmonized asset resolved
// for target.
func (r *Runner) diagnostics(ctx context.Context, logger *zap.Logger, target time.Time, rec *metrics.RunRecord) error {
	res, err := r.CheckInputs(ctx, JobDiagnostics, target, rec)
	if err != nil {
		return err
	}

	var img *raster.Raster
	err = r.attempt(ctx, rec, "load harmonized", func(ctx context.Context) error {
		var err error
		img, err = r.evaluator.Evaluate(ctx, processor.Load(res.Asset.ID()))
		return err
	})
	if err != nil {
		return err
	}

	d := Diagnose(res.Asset.ID(), img, r.config.Quantiles.Bins)
	logger.Info("diagnostics computed", zap.String("asset", d.Asset), zap.Int("valid", d.Valid), zap.Int("unbinned", d.Unbinned))
	return d.Render(r.out)
}
