// Package nv holds measurement scripts for NV centre spectroscopy.
package nv

import (
	_ "embed"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/agwidera/meca/internal/device"
	"github.com/agwidera/meca/internal/measurement"
)

//go:embed odmr.go
var odmrSource string

func init() {
	measurement.Register(measurement.ScriptInfo{
		Folder: "nv",
		Name:   "odmr",
		File:   "odmr.go",
		Source: odmrSource,
		New:    func() measurement.Script { return &ODMR{} },
	})
}

// Device handles the ODMR script looks up. Without a "counter" device the
// source is queried for the count rate, as the simulated ODMR model answers
// both.
const (
	SourceHandle  = "mw"
	CounterHandle = "counter"
)

// ODMR sweeps the microwave frequency and records the photoluminescence
// count rate at every point. The "Frequency" iterator is in Hz.
type ODMR struct {
	source  device.Device
	counter device.Device
}

func (s *ODMR) Name() string { return "ODMR" }

// Parameters: Power in dBm, Dwell in seconds, Averages as a count.
func (s *ODMR) Parameters() []string { return []string{"Power", "Dwell", "Averages"} }

func (s *ODMR) Setup(m *measurement.Engine, p measurement.Parameters) error {
	var err error
	if s.source, err = m.Device(SourceHandle); err != nil {
		return err
	}
	s.counter = s.source
	if slices.Contains(m.Devices().Handles(), CounterHandle) {
		if s.counter, err = m.Device(CounterHandle); err != nil {
			return err
		}
	}
	if err := s.source.Write(fmt.Sprintf("POW %g", p["Power"])); err != nil {
		return err
	}
	if err := s.source.Write("OUTP ON"); err != nil {
		return err
	}
	if err := m.AddObservable("PL", measurement.Number, measurement.WithPlotColor("red")); err != nil {
		return err
	}
	return m.AddObservable("Contrast", measurement.Number, measurement.WithPlotColor("blue"))
}

func (s *ODMR) Run(m *measurement.Engine, p measurement.Parameters) error {
	if err := s.source.Write(fmt.Sprintf("FREQ %g", p["Frequency"])); err != nil {
		return err
	}
	m.Wait(time.Duration(p["Dwell"] * float64(time.Second)))

	n := max(int(p["Averages"]), 1)
	sum := 0.0
	for range n {
		raw, err := s.counter.Read("MEAS:COUN?")
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return measurement.Errorf("counter returned %q: %v", raw, err)
		}
		sum += v
	}
	pl := sum / float64(n)
	if err := m.AddDataPoint("PL", pl); err != nil {
		return err
	}

	ref, err := s.reference()
	if err != nil {
		return err
	}
	if ref == 0 {
		return measurement.Errorf("reference count rate is zero")
	}
	return m.AddDataPoint("Contrast", 1-pl/ref)
}

// reference measures the count rate with the microwave off.
func (s *ODMR) reference() (float64, error) {
	if err := s.source.Write("OUTP OFF"); err != nil {
		return 0, err
	}
	defer s.source.Write("OUTP ON")
	raw, err := s.counter.Read("MEAS:COUN?")
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(raw, 64)
}

func (s *ODMR) Shutdown(m *measurement.Engine, p measurement.Parameters) error {
	if s.source == nil {
		return nil
	}
	return s.source.Write("OUTP OFF")
}
