package config

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agwidera/meca/internal/iterator"
	"github.com/agwidera/meca/internal/monitoring"
	"github.com/agwidera/meca/internal/units"
)

// Run describes one measurement: which script to run, how to sweep it and
// the parameter values it starts from.
type Run struct {
	// Script is the registered "folder/name" of the measurement script.
	Script string `json:"script" yaml:"script"`
	// Name overrides the measurement name used for the run directory.
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Comment   string            `json:"comment,omitempty" yaml:"comment,omitempty"`
	Iterators []iterator.Spec   `json:"iterators,omitempty" yaml:"iterators,omitempty"`
	Params    map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// LoadRun reads a run file.
func LoadRun(path string) (*Run, error) {
	ext, data, err := readLimited(path)
	if err != nil {
		return nil, err
	}
	r := &Run{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decode(ext, data, r); err != nil {
			return nil, err
		}
	}
	if r.Script == "" {
		return nil, fmt.Errorf("run file %s: script is required", path)
	}
	return r, nil
}

// SetIterator adds or replaces an iterator from a "name=values" flag value.
func (r *Run) SetIterator(flag string) error {
	name, raw, ok := strings.Cut(flag, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("iterator %q must have the form name=values", flag)
	}
	for i := range r.Iterators {
		if r.Iterators[i].Name == name {
			r.Iterators[i].Raw = raw
			return nil
		}
	}
	r.Iterators = append(r.Iterators, iterator.Spec{Name: name, Raw: raw})
	return nil
}

// SetParam adds or replaces a parameter from a "name=value" flag value.
func (r *Run) SetParam(flag string) error {
	name, raw, ok := strings.Cut(flag, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("parameter %q must have the form name=value", flag)
	}
	if r.Params == nil {
		r.Params = make(map[string]string)
	}
	r.Params[name] = raw
	return nil
}

// Parameters resolves the parameter text for the script's declared
// parameters. Declared parameters missing from the run, and values that do
// not parse, become 0. Values may carry a unit symbol ("2.87 GHz") and a
// decimal comma. Parameters the script does not declare are kept as well.
func (r *Run) Parameters(declared []string) map[string]float64 {
	out := make(map[string]float64, len(declared)+len(r.Params))
	for _, name := range declared {
		out[name] = 0
	}
	names := make([]string, 0, len(r.Params))
	for name := range r.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out[name] = ParseParameter(name, r.Params[name])
	}
	return out
}

// ParseParameter parses one parameter value, falling back to 0.
func ParseParameter(name, raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64); err == nil {
		return v
	}
	v, err := units.ParseQuantity(raw)
	if err != nil {
		monitoring.Logf("parameter %s: %v; using 0", name, err)
		return 0
	}
	return v
}
