package device

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agwidera/meca/internal/monitoring"
)

// Model answers queries a simulated instrument has no stored state for.
// It returns false for queries it does not know.
type Model func(query string, state map[string]string) (string, bool)

// models are selectable through the "model" setting of a simulated device.
var models = map[string]Model{
	"echo": nil,
	"odmr": ODMRModel(2.87e9, 8e6, 0.2, 1e5),
}

// ModelNames lists the built-in simulation models.
func ModelNames() []string {
	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ODMRModel simulates a photoluminescence counter with a Lorentzian dip of
// the given relative contrast at center (Hz) with full width fwhm (Hz). The
// microwave frequency is taken from the stored FREQ setting and the count
// rate is returned for MEAS:COUN?.
func ODMRModel(center, fwhm, contrast, counts float64) Model {
	return func(query string, state map[string]string) (string, bool) {
		if query != "MEAS:COUN?" {
			return "", false
		}
		f, err := strconv.ParseFloat(state["FREQ"], 64)
		if err != nil {
			f = 0
		}
		if state["OUTP"] != "1" && state["OUTP"] != "ON" {
			return strconv.FormatFloat(counts, 'f', 1, 64), true
		}
		hw := fwhm / 2
		lorentz := hw * hw / ((f-center)*(f-center) + hw*hw)
		return strconv.FormatFloat(math.Round(counts*(1-contrast*lorentz)), 'f', 1, 64), true
	}
}

// Simulated is an in-memory SCPI-like instrument. "HEADER value" commands
// store a setting that "HEADER?" returns; other queries go to the model.
// Unknown queries push an "Undefined header" error.
type Simulated struct {
	name    string
	address string
	model   Model

	mu       sync.Mutex
	state    map[string]string
	errQueue []string
	commands []string
	closed   bool
}

// NewSimulated creates a simulated instrument. model may be nil.
func NewSimulated(name, address string, model Model) *Simulated {
	return &Simulated{
		name:    name,
		address: address,
		model:   model,
		state:   make(map[string]string),
	}
}

// NewSimulatedModel creates a simulated instrument using a built-in model.
func NewSimulatedModel(name, address, model string) (*Simulated, error) {
	if model == "" {
		model = "echo"
	}
	m, ok := models[model]
	if !ok {
		return nil, fmt.Errorf("unknown simulation model %q (known: %s)", model, strings.Join(ModelNames(), ", "))
	}
	return NewSimulated(name, address, m), nil
}

func (s *Simulated) Name() string    { return s.name }
func (s *Simulated) Address() string { return s.address }

// Write stores a setting or executes a common command.
func (s *Simulated) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Error{Device: s.name, Op: "write", Command: cmd, Err: errors.New("closed")}
	}
	cmd = strings.TrimSpace(cmd)
	s.commands = append(s.commands, cmd)
	monitoring.Debugf("%s: Send '%s'", s.name, cmd)

	switch strings.ToUpper(cmd) {
	case DefaultResetCommand:
		s.state = make(map[string]string)
		s.errQueue = nil
		return nil
	case DefaultClearCommand:
		s.errQueue = nil
		return nil
	}

	header, value, ok := strings.Cut(cmd, " ")
	if !ok || strings.HasSuffix(header, "?") {
		s.errQueue = append(s.errQueue, `-113,"Undefined header"`)
		return &Error{Device: s.name, Op: "write", Command: cmd, Msg: `-113,"Undefined header"`}
	}
	s.state[strings.ToUpper(header)] = strings.TrimSpace(value)
	return nil
}

// Read answers a query from stored state, the model, or common queries.
func (s *Simulated) Read(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", &Error{Device: s.name, Op: "read", Command: cmd, Err: errors.New("closed")}
	}
	cmd = strings.TrimSpace(cmd)
	s.commands = append(s.commands, cmd)
	q := strings.ToUpper(cmd)

	var ans string
	switch {
	case q == DefaultIdentifyQuery:
		ans = fmt.Sprintf("meca,Simulated %s,0,1.0", s.name)
	case q == DefaultErrorQuery:
		ans = s.popError()
	default:
		var ok bool
		if v, found := s.state[strings.TrimSuffix(q, "?")]; found && strings.HasSuffix(q, "?") {
			ans, ok = v, true
		} else if s.model != nil {
			ans, ok = s.model(q, s.state)
		}
		if !ok {
			s.errQueue = append(s.errQueue, `-113,"Undefined header"`)
			return "", &Error{Device: s.name, Op: "read", Command: cmd, Msg: `-113,"Undefined header"`}
		}
	}
	monitoring.Debugf("%s: Recv '%s'", s.name, ans)
	return ans, nil
}

func (s *Simulated) popError() string {
	if len(s.errQueue) == 0 {
		return NoErrorResponse
	}
	e := s.errQueue[0]
	s.errQueue = s.errQueue[1:]
	return e
}

// LastError pops the oldest queued error.
func (s *Simulated) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parseErrorResponse(s.popError())
}

// Reset clears every setting.
func (s *Simulated) Reset() error { return s.Write(DefaultResetCommand) }

// SoftReset clears the error queue.
func (s *Simulated) SoftReset() error { return s.Write(DefaultClearCommand) }

// Close marks the instrument closed.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Setting returns a stored setting.
func (s *Simulated) Setting(header string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[strings.ToUpper(header)]
	return v, ok
}

// Commands returns every command and query received.
func (s *Simulated) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}
