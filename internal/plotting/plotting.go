// Package plotting renders measurement observables as PNG images: Number
// observables as a line over the first iterator, histograms as a line over
// their bins and images as heat maps.
package plotting

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"

	"golang.org/x/image/colornames"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/agwidera/meca/internal/fsutil"
	"github.com/agwidera/meca/internal/iterator"
	"github.com/agwidera/meca/internal/measurement"
	"github.com/agwidera/meca/internal/monitoring"
	"github.com/agwidera/meca/internal/record"
)

// Default figure size.
const (
	Width  = 8 * vg.Inch
	Height = 5 * vg.Inch
)

// colorBarWidth is the strip on the right of an image reserved for its color bar.
const colorBarWidth = 1.2 * vg.Inch

// Renderer writes one PNG per plotted observable into a directory.
type Renderer struct {
	fs     fsutil.FileSystem
	dir    string
	width  vg.Length
	height vg.Length
}

// NewRenderer creates a renderer writing into dir.
func NewRenderer(fs fsutil.FileSystem, dir string) *Renderer {
	return &Renderer{fs: fs, dir: dir, width: Width, height: Height}
}

// Dir returns the output directory.
func (r *Renderer) Dir() string { return r.dir }

// FileName is the PNG file name of an observable.
func FileName(observable string) string {
	return record.SafeName(observable) + ".png"
}

// Render draws every observable with plotting enabled that holds data. point
// is the index of the latest completed point; Number observables show the
// column it belongs to. It returns the files written.
func (r *Renderer) Render(obs []*measurement.Observable, iters []iterator.Iterator, point int) ([]string, error) {
	if len(iters) == 0 {
		return nil, nil
	}
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}

	var written []string
	for _, o := range obs {
		if !o.Plot || o.Empty() {
			continue
		}
		var render func(io.Writer) error
		switch o.Type {
		case measurement.Number:
			col := point / iters[0].Len()
			values, ok := o.Column(col)
			if !ok {
				continue
			}
			p, err := NumberPlot(o.Name, iters[0], values, o.PlotColor)
			if err != nil {
				return written, err
			}
			render = pngWriter(p, r.width, r.height)
		case measurement.Histogram:
			h, _ := o.LastHistogram()
			p, err := HistogramPlot(o.Name, h, o.PlotColor)
			if err != nil {
				return written, err
			}
			render = pngWriter(p, r.width, r.height)
		case measurement.Image:
			render = r.imageWriter(o)
		default:
			continue
		}

		path := filepath.Join(r.dir, FileName(o.Name))
		if err := r.write(path, render); err != nil {
			return written, fmt.Errorf("plot %s: %w", o.Name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func (r *Renderer) write(path string, render func(io.Writer) error) error {
	f, err := r.fs.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func pngWriter(p *plot.Plot, w, h vg.Length) func(io.Writer) error {
	return func(out io.Writer) error {
		wt, err := p.WriterTo(w, h, "png")
		if err != nil {
			return err
		}
		_, err = wt.WriteTo(out)
		return err
	}
}

// LineColor resolves an SVG color name such as "green" or "orange". Unknown
// names fall back to green.
func LineColor(name string) color.Color {
	if c, ok := colornames.Map[name]; ok {
		return c
	}
	monitoring.Debugf("plotting: unknown color %q, using green", name)
	return colornames.Green
}

func finiteXYs(xs, ys []float64) plotter.XYs {
	n := min(len(xs), len(ys))
	pts := make(plotter.XYs, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) || math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	return pts
}

func linePlot(title, xLabel, yLabel string, xs, ys []float64, lineColor string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	pts := finiteXYs(xs, ys)
	if len(pts) == 0 {
		return p, nil
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	c := LineColor(lineColor)
	line.Color = c
	line.Width = vg.Points(1.5)
	points.Color = c
	points.Radius = vg.Points(2)
	p.Add(line, points)
	return p, nil
}

// NumberPlot plots one column of a Number observable over the first iterator.
func NumberPlot(name string, x iterator.Iterator, values []float64, lineColor string) (*plot.Plot, error) {
	return linePlot(name, x.Name, name, x.Values, values, lineColor)
}

// HistogramPlot plots histogram counts over their bin indices.
func HistogramPlot(name string, h measurement.HistogramData, lineColor string) (*plot.Plot, error) {
	return linePlot(name, "Index / ps", "Counts", h.Index(), h.Data(), lineColor)
}

// ColorMap resolves a color map name. "inferno" and "blackbody" give a
// black-red-yellow map, "viridis" and "kindlmann" a perceptual rainbow,
// "coolwarm" a blue-red diverging map. Unknown names use "inferno".
func ColorMap(name string) palette.ColorMap {
	switch name {
	case "inferno", "blackbody", "":
		return moreland.BlackBody()
	case "viridis", "kindlmann":
		return moreland.Kindlmann()
	case "extended":
		return moreland.ExtendedKindlmann()
	case "coolwarm", "bluered":
		return moreland.SmoothBlueRed()
	}
	monitoring.Logf("plotting: could not find color map '%s', using inferno", name)
	return moreland.BlackBody()
}

// imageGrid adapts a matrix to plotter.GridXYZ with row 0 at the bottom.
type imageGrid struct{ m *mat.Dense }

func (g imageGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}
func (g imageGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g imageGrid) X(c int) float64    { return float64(c) }
func (g imageGrid) Y(r int) float64    { return float64(r) }

func imageRange(m *mat.Dense) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	if lo > hi {
		return 0, 1
	}
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}

// ImagePlot draws an image as a heat map. It also returns a color bar plot
// matching the heat map's range.
func ImagePlot(name string, m *mat.Dense, colorMap string) (*plot.Plot, *plot.Plot) {
	lo, hi := imageRange(m)
	cm := ColorMap(colorMap)
	cm.SetMin(lo)
	cm.SetMax(hi)

	heat := plotter.NewHeatMap(imageGrid{m}, cm.Palette(255))
	heat.Min, heat.Max = lo, hi
	heat.NaN = color.Transparent

	p := plot.New()
	p.Title.Text = name
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Row"
	p.Add(heat)

	bar := plot.New()
	bar.HideX()
	bar.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true})
	return p, bar
}

func (r *Renderer) imageWriter(o *measurement.Observable) func(io.Writer) error {
	p, bar := ImagePlot(o.Name, o.Image(), o.PlotColorMap)
	if !o.PlotColorBar {
		return pngWriter(p, r.width, r.height)
	}
	return func(out io.Writer) error {
		img := vgimg.New(r.width, r.height)
		dc := draw.New(img)
		p.Draw(draw.Crop(dc, 0, -colorBarWidth, 0, 0))
		bar.Draw(draw.Crop(dc, r.width-colorBarWidth, 0, 0, 0))
		_, err := vgimg.PngCanvas{Canvas: img}.WriteTo(out)
		return err
	}
}
