package nv

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agwidera/meca/internal/device"
	"github.com/agwidera/meca/internal/iterator"
	"github.com/agwidera/meca/internal/measurement"
	"github.com/agwidera/meca/internal/record"
	"github.com/agwidera/meca/internal/timeutil"
)

type staticSurface struct {
	cfg     measurement.RunConfig
	reports []measurement.ErrorReport
}

func (s *staticSurface) RunConfig() (measurement.RunConfig, bool) { return s.cfg, true }
func (s *staticSurface) InitializePlots([]*measurement.Observable, []iterator.Iterator) {}
func (s *staticSurface) Redraw(measurement.Progress, []*measurement.Observable, []iterator.Iterator) {
}
func (s *staticSurface) ReportError(r measurement.ErrorReport) { s.reports = append(s.reports, r) }

func odmrRun(t *testing.T, roster *device.Roster) (*measurement.Engine, *staticSurface, measurement.Result) {
	t.Helper()
	info, ok := measurement.Lookup("nv/odmr")
	require.True(t, ok, "nv/odmr is not registered")

	freq, err := iterator.Parse("Frequency", "2.85e9/2.89e9;1e7")
	require.NoError(t, err)
	surface := &staticSurface{cfg: measurement.RunConfig{
		Iterators:  []iterator.Iterator{freq},
		Parameters: measurement.Parameters{"Power": -10, "Dwell": 0.1, "Averages": 3},
	}}
	e := measurement.New(info.New(), roster, surface,
		measurement.WithClock(timeutil.NewAutoMockClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))),
		measurement.WithDataDir(t.TempDir()),
		measurement.WithScriptInfo(info))
	res, err := e.Measure(context.Background())
	require.NoError(t, err)
	return e, surface, res
}

func TestODMRFindsResonance(t *testing.T) {
	sim := device.NewSimulated("SMB100A", "sim://mw", device.ODMRModel(2.87e9, 8e6, 0.2, 1e5))
	roster := device.NewRoster()
	require.NoError(t, roster.Add(SourceHandle, sim))

	e, surface, res := odmrRun(t, roster)
	require.Empty(t, surface.reports)
	assert.Equal(t, measurement.StatusComplete, res.Status)
	assert.Equal(t, 5, res.Completed)

	pl, ok := e.Observable("PL")
	require.True(t, ok)
	values, ok := pl.Column(0)
	require.True(t, ok)
	require.Len(t, values, 5)
	assert.Equal(t, 80000.0, values[2])
	assert.Greater(t, values[0], values[2])
	assert.Greater(t, values[4], values[2])

	contrast, _ := e.Observable("Contrast")
	c, _ := contrast.Column(0)
	assert.InDelta(t, 0.2, c[2], 1e-9)

	power, _ := sim.Setting("POW")
	assert.Equal(t, "-10", power)
	output, _ := sim.Setting("OUTP")
	assert.Equal(t, "OFF", output)
}

func TestODMRRecordCarriesSource(t *testing.T) {
	roster := device.NewRoster()
	require.NoError(t, roster.Add(SourceHandle, device.NewSimulated("SMB100A", "sim://mw", device.ODMRModel(2.87e9, 8e6, 0.2, 1e5))))

	_, _, res := odmrRun(t, roster)
	rec, err := record.Open(res.RecordPath)
	require.NoError(t, err)
	defer rec.Close()

	script, err := rec.ReadStrings(record.GroupMeta, record.MetaScript)
	require.NoError(t, err)
	require.Len(t, script, 1)
	assert.True(t, strings.HasPrefix(script[0], "# ----- Measurement Script scripts/nv/odmr.go ----- #"))
	assert.Contains(t, script[0], "package nv")

	devices, err := rec.ReadStrings(record.GroupMeta, record.MetaDevices)
	require.NoError(t, err)
	assert.Equal(t, []string{"mw: SMB100A at sim://mw"}, devices)
}

func TestODMRMissingSourceFailsSetup(t *testing.T) {
	info, _ := measurement.Lookup("nv/odmr")
	surface := &staticSurface{cfg: measurement.RunConfig{Iterators: []iterator.Iterator{iterator.Default()}}}
	e := measurement.New(info.New(), device.NewRoster(), surface,
		measurement.WithClock(timeutil.NewAutoMockClock(time.Now())),
		measurement.WithDataDir(t.TempDir()),
		measurement.WithScriptInfo(info))

	res, err := e.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, measurement.StatusSetupFailed, res.Status)
	require.Len(t, surface.reports, 1)
	assert.Equal(t, measurement.PhaseSetup, surface.reports[0].Phase)
	assert.Contains(t, surface.reports[0].Message, `no device "mw"`)
}
