// Package report reads a measurement record back and renders it as an HTML
// page of line charts.
package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/agwidera/meca/internal/record"
	"github.com/agwidera/meca/internal/timeutil"
)

// FileName is the report written next to the record.
const FileName = "report.html"

// Series is a named float dataset.
type Series struct {
	Name   string
	Values []float64
}

// Observable is a saved observable with one series per column or histogram.
type Observable struct {
	Name   string
	Series []Series
}

// Run is the content of a record.
type Run struct {
	RunID       string
	Meta        map[string][]string
	Aborted     bool
	Timestamps  []float64
	Iterators   []Series
	Observables []Observable
}

// Load reads every section of a record.
func Load(rec *record.Record) (*Run, error) {
	run := &Run{RunID: rec.RunID(), Meta: make(map[string][]string)}

	meta, err := rec.Datasets(record.GroupMeta)
	if err != nil {
		return nil, err
	}
	for _, d := range meta {
		if d.Kind != record.KindStrings {
			continue
		}
		lines, err := rec.ReadStrings(record.GroupMeta, d.Name)
		if err != nil {
			return nil, err
		}
		run.Meta[d.Name] = lines
	}
	run.Aborted = len(run.Meta[record.MetaAbortFlag]) > 0

	iters, err := rec.Datasets(record.GroupIterators)
	if err != nil {
		return nil, err
	}
	for _, d := range iters {
		values, err := rec.ReadFloats(record.GroupIterators, d.Name)
		if err != nil {
			return nil, err
		}
		if d.Name == record.TimestampsDataset {
			run.Timestamps = values
			continue
		}
		run.Iterators = append(run.Iterators, Series{Name: d.Name, Values: values})
	}

	groups, err := rec.Children(record.GroupObservables)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		o := Observable{Name: strings.TrimPrefix(g, record.GroupObservables+"/")}
		ds, err := rec.Datasets(g)
		if err != nil {
			return nil, err
		}
		for _, d := range ds {
			values, err := rec.ReadFloats(g, d.Name)
			if err != nil {
				return nil, err
			}
			o.Series = append(o.Series, Series{Name: d.Name, Values: values})
		}
		run.Observables = append(run.Observables, o)
	}
	return run, nil
}

// LoadFile opens the record at path and loads it.
func LoadFile(path string) (*Run, error) {
	rec, err := record.Open(path)
	if err != nil {
		return nil, err
	}
	defer rec.Close()
	return Load(rec)
}

// Field returns the value of a "Key: value" line of the Measurement metadata.
func (r *Run) Field(key string) string {
	for _, line := range r.Meta[record.MetaMeasurement] {
		if v, ok := strings.CutPrefix(line, key+": "); ok {
			return v
		}
	}
	return ""
}

// Title is "<name> (<start>)" for the page and chart titles.
func (r *Run) Title() string {
	name := r.Field("Name")
	if name == "" {
		name = "Measurement"
	}
	if start := r.Field("Time Start"); start != "" {
		return fmt.Sprintf("%s (%s)", name, start)
	}
	return name
}

func axisLabels(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return out
}

func lineData(values []float64) []opts.LineData {
	out := make([]opts.LineData, len(values))
	for i, v := range values {
		out[i] = opts.LineData{Value: v}
	}
	return out
}

func indexLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

// xAxisFor uses the first iterator when it matches the series length and
// point indices otherwise.
func (r *Run) xAxisFor(n int) (string, []string) {
	if len(r.Iterators) > 0 && len(r.Iterators[0].Values) == n {
		return r.Iterators[0].Name, axisLabels(r.Iterators[0].Values)
	}
	return "Index", indexLabels(n)
}

func newLine(title, subtitle, xName, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, Scale: opts.Bool(true)}),
	)
	return line
}

// ObservableChart draws every series of an observable.
func (r *Run) ObservableChart(o Observable) *charts.Line {
	n := 0
	for _, s := range o.Series {
		n = max(n, len(s.Values))
	}
	xName, x := r.xAxisFor(n)
	line := newLine(o.Name, fmt.Sprintf("%d datasets", len(o.Series)), xName, o.Name)
	line.SetXAxis(x)
	for _, s := range o.Series {
		line.AddSeries(s.Name, lineData(s.Values))
	}
	return line
}

// DurationChart draws the time each point took.
func (r *Run) DurationChart() *charts.Line {
	durations := make([]float64, 0, len(r.Timestamps))
	for i := 1; i < len(r.Timestamps); i++ {
		durations = append(durations, r.Timestamps[i]-r.Timestamps[i-1])
	}
	subtitle := fmt.Sprintf("%d points", len(r.Timestamps))
	if len(r.Timestamps) > 0 {
		first := timeutil.FromUnixSeconds(r.Timestamps[0])
		last := timeutil.FromUnixSeconds(r.Timestamps[len(r.Timestamps)-1])
		subtitle += ", " + timeutil.FormatSpan(last.Sub(first))
	}
	line := newLine("Point duration", subtitle, "Point", "s")
	line.SetXAxis(indexLabels(len(durations)))
	line.AddSeries("duration", lineData(durations))
	return line
}

// ErrNoData is returned when a record holds nothing to chart.
var ErrNoData = errors.New("record has no saved data")

// WriteHTML renders the run as a page of charts.
func (r *Run) WriteHTML(w io.Writer) error {
	if len(r.Observables) == 0 && len(r.Timestamps) == 0 {
		return ErrNoData
	}
	page := components.NewPage()
	page.SetPageTitle(r.Title())
	for _, o := range r.Observables {
		page.AddCharts(r.ObservableChart(o))
	}
	if len(r.Timestamps) > 1 {
		page.AddCharts(r.DurationChart())
	}
	return page.Render(w)
}

// Summary writes the metadata of the run as plain text.
func (r *Run) Summary(w io.Writer) {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	for _, name := range []string{record.MetaMeasurement, record.MetaIterators, record.MetaParameters,
		record.MetaDevices, record.MetaComments} {
		lines := r.Meta[name]
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:\n", name)
		for _, l := range lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
	fmt.Fprintf(w, "Points: %d\n", len(r.Timestamps))
	if r.Aborted {
		fmt.Fprintln(w, record.AbortMarker)
	}
}
