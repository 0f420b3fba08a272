package measurement

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownObservable is returned when data is added to an observable
	// that was never registered.
	ErrUnknownObservable = errors.New("unknown observable")
	// ErrUnknownDataType is returned when an observable is registered with a
	// data type other than Number, Histogram or Image.
	ErrUnknownDataType = errors.New("unknown data type")
	// ErrDataMismatch is returned when a data point does not fit the
	// observable's data type.
	ErrDataMismatch = errors.New("data does not match observable type")
	// ErrObservableName is returned when an observable name is empty or is
	// stored under the same record name as another observable.
	ErrObservableName = errors.New("invalid observable name")
	// ErrNotMeasuring is returned when data is added while no sweep is set up.
	ErrNotMeasuring = errors.New("no measurement in progress")
)

// DataType is the kind of data an observable holds.
type DataType string

const (
	// Number stores one value per point, arranged in columns of the first
	// iterator's length.
	Number DataType = "float"
	// Histogram stores one record per point.
	Histogram DataType = "histogram"
	// Image stores a single 2D array, replaced on every update.
	Image DataType = "image"
)

func (dt DataType) valid() bool {
	return dt == Number || dt == Histogram || dt == Image
}

// HistogramData is a histogram produced by a device, such as a time tagger
// correlation.
type HistogramData interface {
	Data() []float64
	Index() []float64
}

// Hist is a plain HistogramData value.
type Hist struct {
	Counts []float64 `json:"data"`
	Bins   []float64 `json:"index"`
}

func (h Hist) Data() []float64  { return h.Counts }
func (h Hist) Index() []float64 { return h.Bins }

// Observable is a named output channel of a measurement.
type Observable struct {
	Name         string   `json:"name"`
	Type         DataType `json:"data_type"`
	Save         bool     `json:"save"`
	Plot         bool     `json:"plot"`
	PlotColor    string   `json:"plot_color"`
	PlotColorMap string   `json:"plot_color_map"`
	PlotColorBar bool     `json:"plot_color_bar"`
	PlotWindowed bool     `json:"plot_windowed"`

	rowLen     int
	columns    map[int][]float64
	histograms map[string]Hist
	histOrder  []string
	image      *mat.Dense
}

// ObservableOption configures an observable at registration.
type ObservableOption func(*Observable)

// WithSave controls whether the observable is written to the record.
func WithSave(save bool) ObservableOption { return func(o *Observable) { o.Save = save } }

// WithPlot controls whether the surface draws the observable.
func WithPlot(plot bool) ObservableOption { return func(o *Observable) { o.Plot = plot } }

// WithPlotColor sets the line color of Number and Histogram plots.
func WithPlotColor(color string) ObservableOption {
	return func(o *Observable) { o.PlotColor = color }
}

// WithPlotColorMap sets the color map of Image plots.
func WithPlotColorMap(name string) ObservableOption {
	return func(o *Observable) { o.PlotColorMap = name }
}

// WithPlotColorBar controls whether Image plots get a color bar.
func WithPlotColorBar(on bool) ObservableOption {
	return func(o *Observable) { o.PlotColorBar = on }
}

// WithPlotWindowed requests a separate plot window.
func WithPlotWindowed(on bool) ObservableOption {
	return func(o *Observable) { o.PlotWindowed = on }
}

// NewObservable creates an empty observable. rowLen is the length of the
// first iterator, which sizes Number columns.
func NewObservable(name string, dt DataType, rowLen int, opts ...ObservableOption) *Observable {
	o := &Observable{
		Name:         name,
		Type:         dt,
		Save:         true,
		Plot:         true,
		PlotColor:    "green",
		PlotColorMap: "inferno",
		PlotColorBar: true,
		rowLen:       rowLen,
		columns:      make(map[int][]float64),
		histograms:   make(map[string]Hist),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HistogramKey is the storage key of the histogram recorded at (row, col).
func HistogramKey(row, col int) string {
	return fmt.Sprintf("%d_%d", row, col)
}

// Columns returns the populated column indices of a Number observable in
// ascending order.
func (o *Observable) Columns() []int {
	cols := make([]int, 0, len(o.columns))
	for c := range o.columns {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// Column returns the values of column col. Slots not reached yet are zero.
func (o *Observable) Column(col int) ([]float64, bool) {
	c, ok := o.columns[col]
	return c, ok
}

// HistogramKeys returns the recorded histogram keys in the order they were added.
func (o *Observable) HistogramKeys() []string {
	return slices.Clone(o.histOrder)
}

// HistogramAt returns the histogram stored under key.
func (o *Observable) HistogramAt(key string) (Hist, bool) {
	h, ok := o.histograms[key]
	return h, ok
}

// LastHistogram returns the most recently added histogram.
func (o *Observable) LastHistogram() (Hist, bool) {
	if len(o.histOrder) == 0 {
		return Hist{}, false
	}
	return o.histograms[o.histOrder[len(o.histOrder)-1]], true
}

// Image returns the latest image, or nil if none was added.
func (o *Observable) Image() *mat.Dense {
	return o.image
}

// Empty reports whether no data has been added.
func (o *Observable) Empty() bool {
	return len(o.columns) == 0 && len(o.histOrder) == 0 && o.image == nil
}

// Add stores data at (row, col). The store is left untouched on error.
func (o *Observable) Add(row, col int, data any) error {
	switch o.Type {
	case Number:
		v, ok := toFloat(data)
		if !ok {
			return fmt.Errorf("%w: observable '%s' expects a number, got %T", ErrDataMismatch, o.Name, data)
		}
		if row < 0 || row >= o.rowLen || col < 0 {
			return fmt.Errorf("%w: observable '%s' has no slot at row %d, column %d", ErrDataMismatch, o.Name, row, col)
		}
		c, ok := o.columns[col]
		if !ok {
			c = make([]float64, o.rowLen)
			o.columns[col] = c
		}
		c[row] = v

	case Histogram:
		h, ok := data.(HistogramData)
		if !ok {
			return fmt.Errorf("%w: observable '%s' expects a histogram, got %T", ErrDataMismatch, o.Name, data)
		}
		key := HistogramKey(row, col)
		if _, exists := o.histograms[key]; !exists {
			o.histOrder = append(o.histOrder, key)
		}
		o.histograms[key] = Hist{Counts: slices.Clone(h.Data()), Bins: slices.Clone(h.Index())}

	case Image:
		img, err := toDense(data)
		if err != nil {
			return fmt.Errorf("%w: observable '%s': %v", ErrDataMismatch, o.Name, err)
		}
		o.image = img

	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownDataType, o.Type)
	}
	return nil
}

func toFloat(data any) (float64, bool) {
	switch v := data.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toDense(data any) (*mat.Dense, error) {
	switch v := data.(type) {
	case mat.Matrix:
		r, c := v.Dims()
		if r == 0 || c == 0 {
			return nil, errors.New("empty image")
		}
		return mat.DenseCopyOf(v), nil
	case [][]float64:
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, errors.New("empty image")
		}
		cols := len(v[0])
		flat := make([]float64, 0, len(v)*cols)
		for i, row := range v {
			if len(row) != cols {
				return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), cols)
			}
			flat = append(flat, row...)
		}
		return mat.NewDense(len(v), cols, flat), nil
	}
	return nil, fmt.Errorf("expects an image, got %T", data)
}
