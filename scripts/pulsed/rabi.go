// Package pulsed holds measurement scripts driven by pulse sequences.
package pulsed

import (
	_ "embed"
	"fmt"
	"math"

	"github.com/agwidera/meca/internal/device"
	"github.com/agwidera/meca/internal/measurement"
	"github.com/agwidera/meca/internal/pulse"
)

//go:embed rabi.go
var rabiSource string

func init() {
	measurement.Register(measurement.ScriptInfo{
		Folder: "pulsed",
		Name:   "rabi",
		File:   "rabi.go",
		Source: rabiSource,
		New:    func() measurement.Script { return &Rabi{} },
	})
}

// AWGHandle is the arbitrary waveform generator the sequence is uploaded to.
const AWGHandle = "awg"

// Samples is the AWG waveform length.
const Samples = 64

// Rabi drives a microwave pulse of length "Tau" (s) between two laser
// pulses and records the expected Rabi oscillation of the readout, the
// uploaded waveform and a raster of every waveform so far.
type Rabi struct {
	awg    device.Device
	raster [][]float64
}

func (s *Rabi) Name() string { return "Rabi" }

// Parameters: Laser is the laser pulse length in seconds, Period the Rabi
// period in seconds and Counts the bright-state count rate.
func (s *Rabi) Parameters() []string { return []string{"Laser", "Period", "Counts"} }

func (s *Rabi) Setup(m *measurement.Engine, p measurement.Parameters) error {
	awg, err := m.Device(AWGHandle)
	if err != nil {
		return err
	}
	s.awg = awg
	s.raster = nil
	if p["Period"] <= 0 {
		return measurement.Errorf("Period must be positive, got %g", p["Period"])
	}
	if err := m.AddObservable("Readout", measurement.Number); err != nil {
		return err
	}
	if err := m.AddObservable("Waveform", measurement.Histogram, measurement.WithPlotColor("orange")); err != nil {
		return err
	}
	return m.AddObservable("Raster", measurement.Image,
		measurement.WithPlotColorMap("viridis"), measurement.WithSave(false))
}

func (s *Rabi) Run(m *measurement.Engine, p measurement.Parameters) error {
	tau := p["Tau"]
	if err := m.SetPulseSequence("rabi",
		pulse.HighPulse(p["Laser"]),
		pulse.LowPulse(tau),
		pulse.HighPulse(p["Laser"]),
	); err != nil {
		return err
	}
	seq, _ := m.PulseSequence("rabi")

	levels, rate := seq.KeysightAWG(Samples)
	if err := s.awg.Write(fmt.Sprintf("SRAT %d", rate)); err != nil {
		return err
	}
	if err := s.awg.Write("DATA " + levels); err != nil {
		return err
	}

	bins := make([]float64, Samples)
	for i := range bins {
		bins[i] = float64(i) * 1e12 / float64(max(rate, 1))
	}
	samples := seq.Samples(Samples)
	if err := m.AddDataPoint("Waveform", measurement.Hist{Counts: samples, Bins: bins}); err != nil {
		return err
	}
	s.raster = append(s.raster, samples)
	if err := m.AddDataPoint("Raster", s.raster); err != nil {
		return err
	}

	flip := math.Sin(math.Pi * tau / p["Period"])
	return m.AddDataPoint("Readout", p["Counts"]*(1-0.3*flip*flip))
}

func (s *Rabi) Shutdown(m *measurement.Engine, p measurement.Parameters) error {
	if s.awg == nil {
		return nil
	}
	return s.awg.Write("OUTP OFF")
}
