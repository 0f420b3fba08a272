package surface

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agwidera/meca/internal/config"
	"github.com/agwidera/meca/internal/iterator"
	"github.com/agwidera/meca/internal/measurement"
	"github.com/agwidera/meca/internal/testutil"
	"github.com/agwidera/meca/internal/timeutil"
)

var start = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

type fakeEngine struct {
	dir     string
	stopped bool
}

func (e *fakeEngine) Stop()          { e.stopped = true }
func (e *fakeEngine) RunDir() string { return e.dir }

func newRun() *config.Run {
	return &config.Run{
		Script:    "test/counter",
		Comment:   "bench run",
		Iterators: []iterator.Spec{{Name: "Frequency", Raw: "1/3"}},
		Params:    map[string]string{"Power": "2,5", "Extra": "1 GHz"},
	}
}

func TestRunConfigResolvesRunFile(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(newRun(), []string{"Power", "Gain"}, &out)

	cfg, ok := c.RunConfig()
	if !ok {
		t.Fatalf("RunConfig failed: %s", out.String())
	}
	if len(cfg.Iterators) != 1 || cfg.Iterators[0].Len() != 3 {
		t.Fatalf("iterators = %+v", cfg.Iterators)
	}
	want := measurement.Parameters{"Power": 2.5, "Gain": 0, "Extra": 1e9}
	for k, v := range want {
		if cfg.Parameters[k] != v {
			t.Errorf("parameter %s = %g, want %g", k, cfg.Parameters[k], v)
		}
	}
	if cfg.Comment != "bench run" {
		t.Errorf("comment = %q", cfg.Comment)
	}

	s := c.Snapshot()
	if s.State != StateRunning || len(s.Iterators) != 1 || s.Iterators[0] != "Frequency: 1/3" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestRunConfigShuffle(t *testing.T) {
	run := newRun()
	run.Iterators = []iterator.Spec{{Name: "N", Raw: "1/50"}}
	c := NewConsole(run, nil, &bytes.Buffer{}, WithShuffle(rand.New(rand.NewPCG(1, 2))))

	cfg, ok := c.RunConfig()
	if !ok {
		t.Fatal("RunConfig failed")
	}
	sum, inOrder := 0.0, true
	for i, v := range cfg.Iterators[0].Values {
		sum += v
		if v != float64(i+1) {
			inOrder = false
		}
	}
	if sum != 1275 {
		t.Errorf("shuffle changed the values: sum %g", sum)
	}
	if inOrder {
		t.Error("values were not shuffled")
	}
}

func TestRunConfigInvalidIterator(t *testing.T) {
	run := newRun()
	run.Iterators = []iterator.Spec{{Name: "Frequency", Raw: "1/x"}}
	var out bytes.Buffer
	c := NewConsole(run, nil, &out)

	if _, ok := c.RunConfig(); ok {
		t.Fatal("expected RunConfig to fail")
	}
	testutil.AssertContains(t, out.String(), "Invalid iterator", "Frequency")
	if s := c.Snapshot(); s.State != StateFinished || s.Message == "" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestRedrawThrottle(t *testing.T) {
	clock := timeutil.NewMockClock(start)
	var out bytes.Buffer
	c := NewConsole(newRun(), nil, &out, WithClock(clock), WithRedrawInterval(2*time.Second), WithoutPlots())
	c.RunConfig()

	redraw := func(completed int, stopped bool) {
		c.Redraw(measurement.NewProgress(start, completed, 4, clock.Now(), stopped), nil, nil)
	}
	redraw(1, false)
	redraw(2, false)
	clock.Advance(2 * time.Second)
	redraw(3, false)
	redraw(4, false)
	redraw(4, false)

	if got := strings.Count(out.String(), "Percentage:"); got != 3 {
		t.Errorf("printed %d progress lines, want 3:\n%s", got, out.String())
	}
	testutil.AssertContains(t, out.String(), "Percentage: 25%", "Percentage: 75%", "Percentage: 100%")

	s := c.Snapshot()
	if s.State != StateFinished || s.Progress == nil || s.Progress.Completed != 4 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestRedrawStopped(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(newRun(), nil, &out, WithClock(timeutil.NewMockClock(start)), WithoutPlots())
	c.RunConfig()
	c.Redraw(measurement.NewProgress(start, 1, 4, start, false), nil, nil)
	c.Redraw(measurement.NewProgress(start, 1, 4, start, true), nil, nil)

	testutil.AssertContains(t, out.String(), "Measurement Stopped")
	if s := c.Snapshot(); s.State != StateFinished {
		t.Errorf("state = %s", s.State)
	}
}

func TestReportError(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(newRun(), nil, &out)
	c.ReportError(measurement.ErrorReport{
		Phase:    measurement.PhaseRun,
		Script:   "counter.go",
		Message:  "device timeout",
		Location: measurement.Location{File: "counter.go", Line: "m.Read()", LineNumber: "12"},
	})

	testutil.AssertContains(t, out.String(), "Measurement of the Measurement", "'device timeout'", "Line 12")
	s := c.Snapshot()
	if len(s.Reports) != 1 || s.Reports[0].Message != "device timeout" {
		t.Errorf("reports = %+v", s.Reports)
	}
}

func TestFinish(t *testing.T) {
	c := NewConsole(newRun(), nil, &bytes.Buffer{})
	c.Finish(measurement.Result{Status: measurement.StatusAborted}, nil)
	if s := c.Snapshot(); s.State != StateFinished || s.Message != "aborted" {
		t.Errorf("snapshot = %+v", s)
	}
	c.Finish(measurement.Result{}, errors.New("failed to save measurement: disk full"))
	if s := c.Snapshot(); s.Message != "failed to save measurement: disk full" {
		t.Errorf("message = %q", s.Message)
	}
}

func TestStatusAPI(t *testing.T) {
	c := NewConsole(newRun(), nil, &bytes.Buffer{})
	mux := c.ServeMux()

	rec := testutil.Serve(mux, http.MethodGet, "/api/measurement/status", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var s Status
	testutil.DecodeJSON(t, rec, &s)
	if s.State != StateIdle || s.Script != "test/counter" {
		t.Errorf("status = %+v", s)
	}

	rec = testutil.Serve(mux, http.MethodPost, "/api/measurement/stop", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	e := &fakeEngine{}
	c.Bind(e)
	c.RunConfig()

	rec = testutil.Serve(mux, http.MethodGet, "/api/measurement/stop", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = testutil.Serve(mux, http.MethodPost, "/api/measurement/stop", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)
	if !e.stopped {
		t.Error("stop endpoint did not stop the engine")
	}

	rec = testutil.Serve(mux, http.MethodGet, "/api/measurement/plots/nope.png", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

type counterScript struct{}

func (counterScript) Name() string         { return "Counter Test" }
func (counterScript) Parameters() []string { return []string{"Power"} }

func (counterScript) Setup(m *measurement.Engine, p measurement.Parameters) error {
	return m.AddObservable("Counts", measurement.Number)
}

func (counterScript) Run(m *measurement.Engine, p measurement.Parameters) error {
	return m.AddDataPoint("Counts", p["Frequency"]*p["Power"])
}

func (counterScript) Shutdown(m *measurement.Engine, p measurement.Parameters) error { return nil }

func TestConsoleDrivesEngine(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(newRun(), counterScript{}.Parameters(), &out,
		WithClock(timeutil.NewMockClock(start)), WithRedrawInterval(0))
	e := measurement.New(counterScript{}, nil, c,
		measurement.WithClock(timeutil.NewAutoMockClock(start)),
		measurement.WithDataDir(t.TempDir()))
	c.Bind(e)

	res, err := e.Measure(context.Background())
	c.Finish(res, err)
	testutil.AssertNoError(t, err)
	if res.Status != measurement.StatusComplete || res.Completed != 3 {
		t.Fatalf("result = %+v", res)
	}

	plot := filepath.Join(res.Dir, PlotDir, "Counts.png")
	if _, err := os.Stat(plot); err != nil {
		t.Fatalf("plot not written: %v", err)
	}
	s := c.Snapshot()
	if s.State != StateFinished || s.Message != "complete" {
		t.Errorf("snapshot = %+v", s)
	}
	if len(s.Observables) != 1 || s.Observables[0] != "Counts" || len(s.Plots) != 1 || s.Plots[0] != "Counts.png" {
		t.Errorf("snapshot = %+v", s)
	}

	rec := testutil.Serve(c.ServeMux(), http.MethodGet, "/api/measurement/plots/Counts.png", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("plot endpoint did not serve a PNG")
	}
	testutil.AssertContains(t, out.String(), "Observables: 1", "Percentage: 100%")
}
