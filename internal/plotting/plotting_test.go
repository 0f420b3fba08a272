package plotting

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/colornames"
	"gonum.org/v1/gonum/mat"

	"github.com/agwidera/meca/internal/fsutil"
	"github.com/agwidera/meca/internal/iterator"
	"github.com/agwidera/meca/internal/measurement"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func observables(t *testing.T) ([]*measurement.Observable, []iterator.Iterator) {
	t.Helper()
	freq, err := iterator.Parse("Frequency", "2.8e9/2.9e9;0.05e9")
	require.NoError(t, err)
	rep, err := iterator.Parse("Repetition", "1,2")
	require.NoError(t, err)

	pl := measurement.NewObservable("PL counts/s", measurement.Number, freq.Len())
	for row := 0; row < freq.Len(); row++ {
		require.NoError(t, pl.Add(row, 1, 1e5-float64(row)*10))
	}
	hidden := measurement.NewObservable("Hidden", measurement.Number, freq.Len(), measurement.WithPlot(false))
	require.NoError(t, hidden.Add(0, 0, 1))

	g2 := measurement.NewObservable("g2", measurement.Histogram, freq.Len(), measurement.WithPlotColor("orange"))
	require.NoError(t, g2.Add(0, 0, measurement.Hist{Counts: []float64{1, 4, 2}, Bins: []float64{0, 10, 20}}))

	cam := measurement.NewObservable("Camera", measurement.Image, freq.Len())
	require.NoError(t, cam.Add(0, 0, [][]float64{{0, 1, 2}, {3, math.NaN(), 5}}))

	flat := measurement.NewObservable("Flat", measurement.Image, freq.Len(), measurement.WithPlotColorBar(false))
	require.NoError(t, flat.Add(0, 0, mat.NewDense(2, 2, []float64{7, 7, 7, 7})))

	empty := measurement.NewObservable("Empty", measurement.Number, freq.Len())

	return []*measurement.Observable{pl, hidden, g2, cam, flat, empty}, []iterator.Iterator{freq, rep}
}

func TestRenderWritesPNGs(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	r := NewRenderer(fs, "run/plots")
	obs, iters := observables(t)

	// point 3 lies in column 1 of the 3-value first iterator
	written, err := r.Render(obs, iters, 3)
	require.NoError(t, err)

	want := []string{
		filepath.Join("run/plots", "PL countsins.png"),
		filepath.Join("run/plots", "g2.png"),
		filepath.Join("run/plots", "Camera.png"),
		filepath.Join("run/plots", "Flat.png"),
	}
	assert.Equal(t, want, written)
	assert.Len(t, fs.Files("run"), len(want))
	for _, path := range written {
		data, err := fs.ReadFile(path)
		require.NoError(t, err, path)
		assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", path)
	}
}

func TestRenderSkipsMissingColumn(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	obs, iters := observables(t)
	// column 0 of PL was never written
	written, err := NewRenderer(fs, "plots").Render(obs[:1], iters, 0)
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestRenderWithoutIterators(t *testing.T) {
	obs, _ := observables(t)
	written, err := NewRenderer(fsutil.NewMemoryFileSystem(), "plots").Render(obs, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestLineColor(t *testing.T) {
	assert.Equal(t, colornames.Orange, LineColor("orange"))
	assert.Equal(t, colornames.Green, LineColor("no-such-color"))
}

func TestColorMapRange(t *testing.T) {
	for _, name := range []string{"inferno", "viridis", "coolwarm", "extended", "unknown"} {
		cm := ColorMap(name)
		cm.SetMin(-1)
		cm.SetMax(1)
		_, err := cm.At(0)
		assert.NoError(t, err, name)
	}
}

func TestImageRange(t *testing.T) {
	lo, hi := imageRange(mat.NewDense(1, 3, []float64{math.Inf(1), -2, 5}))
	assert.Equal(t, -2.0, lo)
	assert.Equal(t, 5.0, hi)

	lo, hi = imageRange(mat.NewDense(1, 1, []float64{3}))
	assert.Equal(t, 3.0, lo)
	assert.Equal(t, 4.0, hi)

	lo, hi = imageRange(mat.NewDense(1, 1, []float64{math.NaN()}))
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestFiniteXYs(t *testing.T) {
	pts := finiteXYs([]float64{0, 1, 2, 3}, []float64{1, math.NaN(), math.Inf(-1)})
	require.Len(t, pts, 1)
	assert.Equal(t, 1.0, pts[0].Y)
}
