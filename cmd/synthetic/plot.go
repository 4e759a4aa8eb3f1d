package main

import (
	"errors"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/sayeed100095/subspace-sgd/writers"
)

// curveMetrics are the diagnostics worth eyeballing after a run.
var curveMetrics = []string{"cosine_similarity", "frob_norm", "grad_norm"}

// renderCurves tiles one line plot per recorded metric into a single PNG.
func renderCurves(history *writers.History, path string) error {
	row := make([]*plot.Plot, 0, len(curveMetrics))
	for _, name := range curveMetrics {
		pts := curvePoints(history.Series(name))
		if len(pts) == 0 {
			continue
		}
		p := plot.New()
		p.Title.Text = name
		p.X.Label.Text = "step"
		p.Add(plotter.NewGrid())
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		p.Add(line)
		row = append(row, p)
	}
	if len(row) == 0 {
		return errors.New("no metric series to plot")
	}

	img := vgimg.New(vg.Length(len(row))*4*vg.Inch, 3*vg.Inch)
	canvases := plot.Align([][]*plot.Plot{row}, draw.Tiles{
		Rows: 1,
		Cols: len(row),
		PadX: vg.Points(8),
	}, draw.New(img))
	for i, p := range row {
		p.Draw(canvases[0][i])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// curvePoints drops non-finite samples so a failed metric cannot blank the
// whole figure.
func curvePoints(series []writers.Point) plotter.XYs {
	pts := make(plotter.XYs, 0, len(series))
	for _, s := range series {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(s.Step), Y: s.Value})
	}
	return pts
}
