// Package measurement runs parametric measurement scripts: it sweeps the
// Cartesian product of the run's iterators, calls the script once per point,
// collects observables and persists the run as a record.
//
// A run is single-threaded. Measure drives the sweep on the calling goroutine
// and every script callback, observable write and surface redraw happens
// there. Stop may be called from any goroutine; it is polled before every
// iterator value.
//
// Iterators and parameters share one namespace: the sweep writes the current
// value of each iterator into the parameter map under the iterator's name,
// shadowing a parameter of the same name for the duration of the run.
package measurement

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agwidera/meca/internal/device"
	"github.com/agwidera/meca/internal/fsutil"
	"github.com/agwidera/meca/internal/iterator"
	"github.com/agwidera/meca/internal/monitoring"
	"github.com/agwidera/meca/internal/pulse"
	"github.com/agwidera/meca/internal/record"
	"github.com/agwidera/meca/internal/timeutil"
)

// Parameters maps parameter and iterator names to their current values.
type Parameters map[string]float64

// Script is a measurement plugin. Setup registers observables and configures
// devices, Run measures exactly one point and Shutdown cleans up.
type Script interface {
	Name() string
	Parameters() []string
	Setup(m *Engine, p Parameters) error
	Run(m *Engine, p Parameters) error
	Shutdown(m *Engine, p Parameters) error
}

// RunConfig is what the surface supplies for one run.
type RunConfig struct {
	Iterators  []iterator.Iterator
	Parameters Parameters
	Comment    string
}

// Surface is the operator-facing side of a run.
type Surface interface {
	// RunConfig returns the iterators and parameters of the next run. A false
	// result means the configuration was invalid and was already reported.
	RunConfig() (RunConfig, bool)
	// InitializePlots is called once after Setup registered the observables.
	InitializePlots(obs []*Observable, iters []iterator.Iterator)
	// Redraw is called after every completed point and once when the sweep ends.
	Redraw(p Progress, obs []*Observable, iters []iterator.Iterator)
	// ReportError shows a script fault to the operator.
	ReportError(r ErrorReport)
}

// Status is the outcome of Measure.
type Status string

const (
	StatusComplete    Status = "complete"
	StatusAborted     Status = "aborted"
	StatusSetupFailed Status = "setup_failed"
	StatusSkipped     Status = "skipped"
)

// Result summarises one call to Measure.
type Result struct {
	Status     Status        `json:"status"`
	RunID      string        `json:"run_id,omitempty"`
	Dir        string        `json:"dir,omitempty"`
	RecordPath string        `json:"record_path,omitempty"`
	Points     int           `json:"number_points"`
	Completed  int           `json:"completed"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at"`
	Reports    []ErrorReport `json:"reports,omitempty"`
}

// Engine runs one script against a set of devices.
type Engine struct {
	script  Script
	name    string
	info    ScriptInfo
	devices *device.Roster
	surface Surface

	clock        timeutil.Clock
	fs           fsutil.FileSystem
	dataDir      string
	resetDevices bool
	softReset    bool
	logf         func(format string, v ...interface{})

	stop      atomic.Bool
	sequences map[string]*pulse.Sequence

	// per run
	ctx          context.Context
	iterators    []iterator.Iterator
	params       Parameters
	comment      string
	observables  map[string]*Observable
	order        []string
	currentPoint int
	numberPoints int
	timestamps   []time.Time
	startedAt    time.Time
	runDir       string
	usageErr     error
	reports      []ErrorReport
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timestamps and Wait.
func WithClock(c timeutil.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithFileSystem sets the file system run directories are created in.
func WithFileSystem(fs fsutil.FileSystem) Option { return func(e *Engine) { e.fs = fs } }

// WithDataDir sets the directory run directories are created under.
func WithDataDir(dir string) Option { return func(e *Engine) { e.dataDir = dir } }

// WithResetBeforeSetup resets every device before Setup runs. With soft set,
// devices supporting it are soft reset.
func WithResetBeforeSetup(soft bool) Option {
	return func(e *Engine) {
		e.resetDevices = true
		e.softReset = soft
	}
}

// WithName sets the measurement name used for the run directory and the
// record metadata instead of the script's name.
func WithName(name string) Option { return func(e *Engine) { e.name = name } }

// WithScriptInfo attaches the registry entry of the script, which supplies
// its folder, file and source for records and error locations.
func WithScriptInfo(info ScriptInfo) Option { return func(e *Engine) { e.info = info } }

// New creates an engine for script. devices may be nil for scripts that use
// no instruments.
func New(script Script, devices *device.Roster, surface Surface, opts ...Option) *Engine {
	e := &Engine{
		script:      script,
		devices:     devices,
		surface:     surface,
		clock:       timeutil.RealClock{},
		fs:          fsutil.OSFileSystem{},
		dataDir:     "data",
		sequences:   make(map[string]*pulse.Sequence),
		observables: make(map[string]*Observable),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.info.Name == "" {
		e.info.Name = script.Name()
	}
	if e.name == "" {
		e.name = script.Name()
	}
	e.logf = monitoring.Prefixed(script.Name() + ": ")
	return e
}

// Stop asks the running sweep to end after the current point.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

func (e *Engine) stopped() bool {
	return e.stop.Load() || e.ctx.Err() != nil
}

// Devices returns the instruments available to the script.
func (e *Engine) Devices() *device.Roster { return e.devices }

// Device returns the instrument registered under handle.
func (e *Engine) Device(handle string) (device.Device, error) {
	return e.devices.Get(handle)
}

// CurrentPoint is the index of the point being measured.
func (e *Engine) CurrentPoint() int { return e.currentPoint }

// NumberPoints is the size of the sweep.
func (e *Engine) NumberPoints() int { return e.numberPoints }

// Iterators returns the iterators of the current run.
func (e *Engine) Iterators() []iterator.Iterator { return e.iterators }

// Timestamps returns the completion times of the points measured so far.
func (e *Engine) Timestamps() []time.Time {
	return e.timestamps[:e.currentPoint]
}

// RunDir is the output directory of the current or last run.
func (e *Engine) RunDir() string { return e.runDir }

// Observables returns the registered observables in registration order.
func (e *Engine) Observables() []*Observable {
	out := make([]*Observable, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.observables[name])
	}
	return out
}

// Observable returns the observable registered under name.
func (e *Engine) Observable(name string) (*Observable, bool) {
	o, ok := e.observables[name]
	return o, ok
}

// AddObservable registers an observable. Registering a name again replaces
// the earlier registration and its data.
func (e *Engine) AddObservable(name string, dt DataType, opts ...ObservableOption) error {
	if !dt.valid() {
		err := fmt.Errorf("%w: '%s' (observable '%s'); use Number, Histogram or Image", ErrUnknownDataType, dt, name)
		e.usageFault(err)
		return err
	}
	if err := e.checkObservableName(name); err != nil {
		e.usageFault(err)
		return err
	}
	rowLen := 1
	if len(e.iterators) > 0 {
		rowLen = e.iterators[0].Len()
	}
	if _, ok := e.observables[name]; !ok {
		e.order = append(e.order, name)
	}
	e.observables[name] = NewObservable(name, dt, rowLen, opts...)
	return nil
}

// AddDataPoint stores data in the observable at the current point. Number
// observables take a number, Histogram observables a HistogramData and Image
// observables a mat.Matrix or [][]float64.
func (e *Engine) AddDataPoint(name string, data any) error {
	o, ok := e.observables[name]
	if !ok {
		err := fmt.Errorf("%w: observable '%s' does not exist", ErrUnknownObservable, name)
		e.usageFault(err)
		return err
	}
	if len(e.iterators) == 0 {
		err := fmt.Errorf("%w: observable '%s'", ErrNotMeasuring, name)
		e.usageFault(err)
		return err
	}
	len0 := e.iterators[0].Len()
	if err := o.Add(e.currentPoint%len0, e.currentPoint/len0, data); err != nil {
		e.usageFault(err)
		return err
	}
	return nil
}

// checkObservableName rejects names the record cannot store. Registering the
// same name again is allowed.
func (e *Engine) checkObservableName(name string) error {
	safe := record.SafeName(name)
	if safe == "" {
		return fmt.Errorf("%w: '%s'", ErrObservableName, name)
	}
	for _, other := range e.order {
		if other != name && record.SafeName(other) == safe {
			return fmt.Errorf("%w: '%s' and '%s' are both saved as '%s'", ErrObservableName, other, name, safe)
		}
	}
	return nil
}

func (e *Engine) usageFault(err error) {
	if e.usageErr == nil {
		e.usageErr = err
	}
}

func isUsageFault(err error) bool {
	return errors.Is(err, ErrUnknownObservable) ||
		errors.Is(err, ErrUnknownDataType) ||
		errors.Is(err, ErrDataMismatch) ||
		errors.Is(err, ErrObservableName) ||
		errors.Is(err, ErrNotMeasuring)
}

// SetPulseSequence stores a named pulse sequence for the script's devices.
func (e *Engine) SetPulseSequence(name string, pulses ...pulse.Pulse) error {
	seq, err := pulse.NewSequence(pulses...)
	if err != nil {
		return fmt.Errorf("pulse sequence '%s': %w", name, err)
	}
	e.sequences[name] = seq
	return nil
}

// PulseSequence returns a sequence stored with SetPulseSequence.
func (e *Engine) PulseSequence(name string) (*pulse.Sequence, bool) {
	seq, ok := e.sequences[name]
	return seq, ok
}

// Wait pauses the script for d on the engine clock. It returns early when the
// run is cancelled.
func (e *Engine) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	t := e.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
	case <-e.ctx.Done():
	}
}

var unsafeNameChars = regexp.MustCompile(`[ ./\\]`)

// dirName is the run directory name for a measurement started at t.
func dirName(t time.Time, name string) string {
	return t.Format(timeutil.DirLayout) + "_" + strings.ToLower(unsafeNameChars.ReplaceAllString(name, ""))
}

func (e *Engine) reset(ctx context.Context) {
	e.ctx = ctx
	e.stop.Store(false)
	e.observables = make(map[string]*Observable)
	e.order = nil
	e.currentPoint = 0
	e.numberPoints = 0
	e.timestamps = nil
	e.iterators = nil
	e.params = nil
	e.comment = ""
	e.runDir = ""
	e.usageErr = nil
	e.reports = nil
}

// Measure performs one run: Setup, the sweep over every iterator value and
// Shutdown. The collected data is saved even when the sweep is stopped or a
// point fails. Script faults are reported to the surface and do not produce
// an error; misuse of the observable API and persistence failures do.
func (e *Engine) Measure(ctx context.Context) (Result, error) {
	e.reset(ctx)
	defer func() { e.ctx = context.Background() }()

	cfg, ok := e.surface.RunConfig()
	if !ok {
		return Result{Status: StatusSkipped}, nil
	}
	n, err := iterator.Points(cfg.Iterators)
	if err != nil {
		e.logf("not starting: %v", err)
		return Result{Status: StatusSkipped}, nil
	}
	if err := checkIteratorNames(cfg.Iterators); err != nil {
		e.logf("not starting: %v", err)
		return Result{Status: StatusSkipped}, nil
	}

	e.iterators = cfg.Iterators
	e.params = make(Parameters, len(cfg.Parameters)+len(cfg.Iterators))
	maps.Copy(e.params, cfg.Parameters)
	initial := maps.Clone(e.params)
	e.comment = cfg.Comment
	e.numberPoints = n
	e.timestamps = make([]time.Time, n)
	e.startedAt = e.clock.Now()

	res := Result{Status: StatusComplete, Points: n, StartedAt: e.startedAt}

	rec, err := e.createRecord()
	if err != nil {
		return res, err
	}
	defer rec.Close()
	res.Dir, res.RecordPath, res.RunID = e.runDir, rec.Path(), rec.RunID()

	if e.resetDevices && e.devices.Len() > 0 {
		e.logf("resetting devices")
		if err := e.devices.ResetAll(e.softReset); err != nil {
			e.report(PhaseSetup, fmt.Errorf("resetting devices: %w", err))
			res.Status, res.Reports = StatusSetupFailed, e.reports
			return res, nil
		}
	}

	e.logf("Starting Setup Function")
	if err := e.call(PhaseSetup, e.script.Setup); err != nil {
		res.Status, res.Reports = StatusSetupFailed, e.reports
		if isUsageFault(err) {
			return res, fmt.Errorf("%s: %w", e.script.Name(), err)
		}
		return res, nil
	}
	e.surface.InitializePlots(e.Observables(), e.iterators)

	e.logf("Starting Run Measurement Function")
	sweepErr := e.iterate(e.params, len(e.iterators)-1)
	aborted := e.stopped() || e.currentPoint < e.numberPoints
	e.surface.Redraw(e.progress(aborted), e.Observables(), e.iterators)

	res.StoppedAt = e.clock.Now()
	res.Completed = e.currentPoint
	if aborted {
		res.Status = StatusAborted
	}

	saveErr := e.save(rec, initial, aborted, res.StoppedAt)
	if saveErr != nil {
		e.logf("saving data failed: %v", saveErr)
	} else {
		e.logf("data saved to %s", e.runDir)
	}

	e.logf("Starting Shutdown Function")
	e.call(PhaseShutdown, e.script.Shutdown)
	res.Reports = e.reports

	if saveErr != nil {
		return res, fmt.Errorf("failed to save measurement: %w", saveErr)
	}
	if sweepErr != nil {
		return res, fmt.Errorf("%s: %w", e.script.Name(), sweepErr)
	}
	return res, nil
}

func checkIteratorNames(iters []iterator.Iterator) error {
	seen := make(map[string]string, len(iters))
	for _, it := range iters {
		safe := record.SafeName(it.Name)
		if safe == "" {
			return errors.New("iterator without a name")
		}
		if safe == record.TimestampsDataset {
			return fmt.Errorf("iterator name '%s' is reserved", it.Name)
		}
		if other, ok := seen[safe]; ok {
			return fmt.Errorf("iterators '%s' and '%s' share a name", other, it.Name)
		}
		seen[safe] = it.Name
	}
	return nil
}

// createRecord makes the run directory and its record with empty top-level groups.
func (e *Engine) createRecord() (*record.Record, error) {
	dir, err := fsutil.UniqueDir(e.fs, filepath.Join(e.dataDir, dirName(e.startedAt, e.name)), os.FileMode(0o755))
	if err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	e.runDir = dir

	rec, err := record.Create(filepath.Join(dir, record.FileName), record.WithClock(e.clock))
	if err != nil {
		return nil, err
	}
	if err := rec.InitLayout(); err != nil {
		rec.Close()
		return nil, err
	}
	return rec, nil
}

// iterate runs the nested sweep with iterator 0 as the innermost loop. It
// returns an error only for misuse of the observable API.
func (e *Engine) iterate(params Parameters, index int) error {
	it := e.iterators[index]
	for _, v := range it.Values {
		if e.stopped() {
			return nil
		}
		params[it.Name] = v

		if index > 0 {
			if err := e.iterate(params, index-1); err != nil {
				return err
			}
			continue
		}

		if err := e.call(PhaseRun, e.script.Run); err != nil {
			e.stop.Store(true)
			if isUsageFault(err) {
				return err
			}
			return nil
		}

		e.timestamps[e.currentPoint] = e.clock.Now()
		e.surface.Redraw(e.progress(false), e.Observables(), e.iterators)
		e.currentPoint++
	}
	return nil
}

// progress describes the sweep after the point at currentPoint. When the sweep
// has ended, it describes the last completed point.
func (e *Engine) progress(stopped bool) Progress {
	completed := e.currentPoint + 1
	if stopped || completed > e.numberPoints {
		completed = e.currentPoint
	}
	var last time.Time
	if completed > 0 {
		last = e.timestamps[completed-1]
	}
	return NewProgress(e.startedAt, completed, e.numberPoints, last, stopped)
}

// call runs one script phase, turning panics and misuse of the observable
// API into errors. Failures are reported before being returned.
func (e *Engine) call(phase Phase, fn func(*Engine, Parameters) error) (err error) {
	e.usageErr = nil
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r, e.isScriptFile)
		}
		if err == nil && e.usageErr != nil {
			err = e.usageErr
		}
		if err != nil {
			e.report(phase, err)
		}
	}()
	return fn(e, e.params)
}

func (e *Engine) report(phase Phase, err error) {
	r := ErrorReport{
		Phase:    phase,
		Script:   e.script.Name(),
		Message:  err.Error(),
		Location: locate(err, e.displayName, e.sourceLines),
		Err:      err,
	}
	e.logf("Error during %s of Script: '%v'", phase, err)
	var perr *PanicError
	if errors.As(err, &perr) {
		e.logf("%s", perr.Stack)
	}
	e.reports = append(e.reports, r)
	e.surface.ReportError(r)
}

func (e *Engine) isScriptFile(file string) bool {
	if e.info.File != "" {
		return filepath.Base(file) == e.info.File
	}
	return strings.Contains(filepath.ToSlash(file), "/scripts/")
}

func (e *Engine) displayName(file string) string {
	if e.info.File != "" && filepath.Base(file) == e.info.File {
		return e.info.Path()
	}
	return scriptDisplayName(file)
}

func (e *Engine) sourceLines(file string) []string {
	if e.info.File != "" && filepath.Base(file) == e.info.File && e.info.Source != "" {
		return e.info.lines()
	}
	data, err := e.fs.ReadFile(file)
	if err != nil {
		return nil
	}
	return strings.Split(string(data), "\n")
}
