// Package iterator turns user-entered iterator strings into the ordered value
// sequences a measurement sweeps over.
//
// Syntax (whitespace is ignored):
//
//	1.5          a single value
//	0/5          range with step 1: 0,1,2,3,4,5
//	0/10;2       range with step 2: 0,2,4,6,8,10
//	0/4,10,15    comma separated segments are appended: 0,1,2,3,4,10,15
//
// A decimal comma cannot be used here since the comma separates segments.
package iterator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

// MaxValues bounds the number of values one iterator may generate.
const MaxValues = 100000

// DefaultName is the name of the iterator used when none are configured.
const DefaultName = "Iterator"

var (
	// ErrInvalidSpec is returned when an iterator string is neither a list nor a range of numbers.
	ErrInvalidSpec = errors.New("invalid iterator")
	// ErrEmpty is returned when a set of iterators cannot be swept.
	ErrEmpty = errors.New("no values to iterate")
)

// Iterator is a named swept variable with its concrete values.
type Iterator struct {
	Name   string
	Raw    string
	Values []float64
}

// Len returns the number of values.
func (it Iterator) Len() int { return len(it.Values) }

// Spec is an unparsed iterator as entered by the user.
type Spec struct {
	Name string `json:"name" yaml:"name"`
	Raw  string `json:"values" yaml:"values"`
}

// Default is the single-point iterator used when no iterators are configured.
func Default() Iterator {
	return Iterator{Name: DefaultName, Raw: "1", Values: []float64{1}}
}

// Parse converts one iterator string into its values.
func Parse(name, raw string) (Iterator, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	var values []float64
	for _, segment := range strings.Split(compact, ",") {
		v, err := parseSegment(segment)
		if err != nil {
			return Iterator{}, fmt.Errorf("%w: the iterator '%s': '%s' is not a list or a range of numbers: %v",
				ErrInvalidSpec, name, raw, err)
		}
		if len(values)+len(v) > MaxValues {
			return Iterator{}, fmt.Errorf("%w: the iterator '%s': '%s' exceeds %d values",
				ErrInvalidSpec, name, raw, MaxValues)
		}
		values = append(values, v...)
	}
	return Iterator{Name: name, Raw: raw, Values: values}, nil
}

func parseSegment(segment string) ([]float64, error) {
	if v, err := strconv.ParseFloat(segment, 64); err == nil {
		return []float64{v}, nil
	}

	parts := strings.FieldsFunc(segment, func(r rune) bool { return r == '/' || r == ';' })
	if len(parts) != 2 && len(parts) != 3 {
		return nil, fmt.Errorf("segment %q", segment)
	}
	if strings.Count(segment, "/") != 1 || strings.Count(segment, ";") != len(parts)-2 {
		return nil, fmt.Errorf("segment %q", segment)
	}

	start, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, err
	}
	stop, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, err
	}
	step := 1.0
	if len(parts) == 3 {
		if step, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return nil, err
		}
	}
	if step == 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("step %g", step)
	}

	n := math.Round((stop-start)/step + 1)
	if n < 1 || math.IsNaN(n) {
		return nil, fmt.Errorf("range %q has no values", segment)
	}
	if n > MaxValues {
		return nil, fmt.Errorf("range %q has %g values", segment, n)
	}
	count := int(n)
	if count == 1 {
		return []float64{start}, nil
	}
	stop = start + float64(count-1)*step
	return floats.Span(make([]float64, count), start, stop), nil
}

// Options control how a set of iterators is resolved.
type Options struct {
	// Shuffle randomizes the order of each iterator's values independently.
	Shuffle bool
	// Rand is the source used for shuffling. A time-seeded source is used when nil.
	Rand *rand.Rand
}

// ParseAll resolves every spec in order. An empty list yields the default
// iterator so every measurement sweeps at least one point.
func ParseAll(specs []Spec, opts Options) ([]Iterator, error) {
	if len(specs) == 0 {
		return []Iterator{Default()}, nil
	}
	rng := opts.Rand
	if opts.Shuffle && rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	iters := make([]Iterator, 0, len(specs))
	for _, s := range specs {
		it, err := Parse(s.Name, s.Raw)
		if err != nil {
			return nil, err
		}
		if opts.Shuffle {
			rng.Shuffle(len(it.Values), func(i, j int) {
				it.Values[i], it.Values[j] = it.Values[j], it.Values[i]
			})
		}
		iters = append(iters, it)
	}
	return iters, nil
}

// Points returns the size of the Cartesian product of all iterators, or an
// error wrapping ErrEmpty if there is nothing to sweep.
func Points(iters []Iterator) (int, error) {
	if len(iters) == 0 {
		return 0, fmt.Errorf("%w: no iterators", ErrEmpty)
	}
	n := 1
	for _, it := range iters {
		if it.Len() == 0 {
			return 0, fmt.Errorf("%w: iterator %q has no values", ErrEmpty, it.Name)
		}
		if n > math.MaxInt/it.Len() {
			return 0, fmt.Errorf("%w: sweep too large", ErrInvalidSpec)
		}
		n *= it.Len()
	}
	return n, nil
}

// Describe formats the iterator as a "name: raw" line.
func (it Iterator) Describe() string {
	return fmt.Sprintf("%s: %s", it.Name, it.Raw)
}
