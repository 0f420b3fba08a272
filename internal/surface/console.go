// Package surface is the operator side of a measurement run for the command
// line: it resolves the run file into iterators and parameters, prints
// progress and fault reports, renders plots into the run directory and
// exposes the run state over a small HTTP API.
package surface

import (
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/agwidera/meca/internal/config"
	"github.com/agwidera/meca/internal/fsutil"
	"github.com/agwidera/meca/internal/iterator"
	"github.com/agwidera/meca/internal/measurement"
	"github.com/agwidera/meca/internal/monitoring"
	"github.com/agwidera/meca/internal/plotting"
	"github.com/agwidera/meca/internal/timeutil"
)

// PlotDir is the plot directory inside a run directory.
const PlotDir = "plots"

// Run states reported by the status API.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateFinished = "finished"
)

// Engine is the part of the measurement engine the console drives.
type Engine interface {
	Stop()
	RunDir() string
}

// Console implements measurement.Surface on a text stream.
type Console struct {
	run      *config.Run
	declared []string
	shuffle  bool
	rng      *rand.Rand
	interval time.Duration

	out   io.Writer
	clock timeutil.Clock
	fs    fsutil.FileSystem

	mu        sync.Mutex
	engine    Engine
	renderer  *plotting.Renderer
	lastDraw  time.Time
	drawnAt   int
	status    Status
	noPlots   bool
	plotFiles []string
}

// Status is the snapshot served by the status API.
type Status struct {
	State       string                    `json:"state"`
	Script      string                    `json:"script"`
	Iterators   []string                  `json:"iterators,omitempty"`
	Observables []string                  `json:"observables,omitempty"`
	Progress    *measurement.Progress     `json:"progress,omitempty"`
	Message     string                    `json:"message,omitempty"`
	Reports     []measurement.ErrorReport `json:"reports,omitempty"`
	Plots       []string                  `json:"plots,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Option configures a Console.
type Option func(*Console)

// WithClock sets the clock used to throttle redraws.
func WithClock(c timeutil.Clock) Option { return func(s *Console) { s.clock = c } }

// WithFileSystem sets where plots are written.
func WithFileSystem(fs fsutil.FileSystem) Option { return func(s *Console) { s.fs = fs } }

// WithRedrawInterval sets the minimum time between two plot renders. Zero
// renders after every point.
func WithRedrawInterval(d time.Duration) Option { return func(s *Console) { s.interval = d } }

// WithShuffle randomizes every iterator, using rng when it is not nil.
func WithShuffle(rng *rand.Rand) Option {
	return func(s *Console) {
		s.shuffle = true
		s.rng = rng
	}
}

// WithoutPlots disables PNG rendering.
func WithoutPlots() Option { return func(s *Console) { s.noPlots = true } }

// NewConsole returns a surface for run. declared are the parameter names the
// script declares; each of them is always present in the run configuration.
func NewConsole(run *config.Run, declared []string, out io.Writer, opts ...Option) *Console {
	c := &Console{
		run:      run,
		declared: declared,
		interval: 2 * time.Second,
		out:      out,
		clock:    timeutil.RealClock{},
		fs:       fsutil.OSFileSystem{},
		drawnAt:  -1,
		status:   Status{State: StateIdle, Script: run.Script},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.UpdatedAt = c.clock.Now()
	return c
}

// Bind attaches the engine so plots land in its run directory and the stop
// endpoint reaches it.
func (c *Console) Bind(e Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine = e
}

// RunConfig resolves iterators and parameters from the run file. Invalid
// iterators are printed and reported as not ok.
func (c *Console) RunConfig() (measurement.RunConfig, bool) {
	iters, err := iterator.ParseAll(c.run.Iterators, iterator.Options{Shuffle: c.shuffle, Rand: c.rng})
	if err != nil {
		fmt.Fprintf(c.out, "Invalid iterator: %v\n", err)
		c.update(func(s *Status) {
			s.State = StateFinished
			s.Message = err.Error()
		})
		return measurement.RunConfig{}, false
	}

	names := make([]string, len(iters))
	for i, it := range iters {
		names[i] = it.Describe()
	}
	c.update(func(s *Status) {
		*s = Status{State: StateRunning, Script: c.run.Script, Iterators: names}
	})
	return measurement.RunConfig{
		Iterators:  iters,
		Parameters: c.run.Parameters(c.declared),
		Comment:    c.run.Comment,
	}, true
}

// InitializePlots prepares the plot directory for the observables registered
// in Setup.
func (c *Console) InitializePlots(obs []*measurement.Observable, iters []iterator.Iterator) {
	names := make([]string, len(obs))
	for i, o := range obs {
		names[i] = o.Name
	}

	c.mu.Lock()
	c.drawnAt = -1
	c.lastDraw = time.Time{}
	c.plotFiles = nil
	c.renderer = nil
	if !c.noPlots && c.engine != nil && c.engine.RunDir() != "" {
		c.renderer = plotting.NewRenderer(c.fs, filepath.Join(c.engine.RunDir(), PlotDir))
	}
	c.mu.Unlock()

	c.update(func(s *Status) { s.Observables = names })
	fmt.Fprintf(c.out, "Observables: %d, sweeping %d iterator(s)\n", len(obs), len(iters))
}

// Redraw updates the status snapshot after every point. Plots and the
// progress line are rendered at most once per redraw interval, and always
// for the last point and when the sweep stops.
func (c *Console) Redraw(p measurement.Progress, obs []*measurement.Observable, iters []iterator.Iterator) {
	c.update(func(s *Status) {
		s.Progress = &p
		if p.Stopped || p.Done() {
			s.State = StateFinished
		}
	})

	c.mu.Lock()
	final := p.Stopped || p.Done()
	due := c.lastDraw.IsZero() || c.clock.Since(c.lastDraw) >= c.interval
	if (!due && !final) || (c.drawnAt == p.Completed && !p.Stopped) {
		c.mu.Unlock()
		return
	}
	c.lastDraw = c.clock.Now()
	c.drawnAt = p.Completed
	renderer := c.renderer
	c.mu.Unlock()

	fmt.Fprintln(c.out, p.String())
	if renderer == nil || p.Completed == 0 {
		return
	}
	files, err := renderer.Render(obs, iters, p.CurrentPoint)
	if err != nil {
		monitoring.Logf("redraw: %v", err)
	}
	c.mu.Lock()
	c.plotFiles = files
	c.mu.Unlock()
	c.update(func(s *Status) { s.Plots = relative(renderer.Dir(), files) })
}

func relative(dir string, files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if rel, err := filepath.Rel(dir, f); err == nil {
			out = append(out, rel)
		}
	}
	return out
}

// ReportError prints the fault report.
func (c *Console) ReportError(r measurement.ErrorReport) {
	fmt.Fprintf(c.out, "\n%s\n\n", r.Error())
	c.update(func(s *Status) { s.Reports = append(s.Reports, r) })
}

// Finish records the outcome of Measure in the status snapshot.
func (c *Console) Finish(res measurement.Result, err error) {
	c.update(func(s *Status) {
		s.State = StateFinished
		switch {
		case err != nil:
			s.Message = err.Error()
		default:
			s.Message = string(res.Status)
		}
	})
}

// Stop asks the bound engine to stop after the current point. It reports
// false when no measurement is running.
func (c *Console) Stop() bool {
	c.mu.Lock()
	e, running := c.engine, c.status.State == StateRunning
	c.mu.Unlock()
	if e == nil || !running {
		return false
	}
	e.Stop()
	return true
}

// Snapshot returns a copy of the current status.
func (c *Console) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.Iterators = append([]string(nil), s.Iterators...)
	s.Observables = append([]string(nil), s.Observables...)
	s.Reports = append([]measurement.ErrorReport(nil), s.Reports...)
	s.Plots = append([]string(nil), s.Plots...)
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	return s
}

// plotFile returns the path of a rendered plot by its base name.
func (c *Console) plotFile(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.plotFiles {
		if filepath.Base(f) == name {
			return f, true
		}
	}
	return "", false
}

func (c *Console) update(fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
	c.status.UpdatedAt = c.clock.Now()
}
