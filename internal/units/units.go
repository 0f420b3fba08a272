// Package units provides the scale constants measurement scripts use to write
// physically meaningful literals, e.g. 2.87 * units.Gigahertz.
package units

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Time
const (
	Picosecond  = 1e-12
	Nanosecond  = 1e-9
	Microsecond = 1e-6
	Millisecond = 1e-3
	Second      = 1
)

// Frequency
const (
	Hertz     = 1
	Kilohertz = 1e3
	Megahertz = 1e6
	Gigahertz = 1e9
)

// Power
const DBm = 1

// Voltage
const (
	Millivolt = 1e-3
	Volt      = 1
)

// Current
const (
	Milliampere = 1e-3
	Ampere      = 1
)

// Angle
const (
	Radian = 1
	Degree = math.Pi / 180
)

// symbols maps the short unit symbols accepted in parameter text to their scale.
var symbols = map[string]float64{
	"ps":  Picosecond,
	"ns":  Nanosecond,
	"us":  Microsecond,
	"ms":  Millisecond,
	"s":   Second,
	"Hz":  Hertz,
	"kHz": Kilohertz,
	"MHz": Megahertz,
	"GHz": Gigahertz,
	"dBm": DBm,
	"mV":  Millivolt,
	"V":   Volt,
	"mA":  Milliampere,
	"A":   Ampere,
	"rad": Radian,
	"deg": Degree,
}

// Lookup returns the scale of the given unit symbol. Symbols are case
// sensitive: "mV" is millivolt, "MV" is unknown.
func Lookup(symbol string) (float64, bool) {
	v, ok := symbols[symbol]
	return v, ok
}

// IsValid checks if the given symbol is in the unit table.
func IsValid(symbol string) bool {
	_, ok := symbols[symbol]
	return ok
}

// Symbols returns all known unit symbols in sorted order.
func Symbols() []string {
	out := make([]string, 0, len(symbols))
	for s := range symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetValidUnitsString returns a comma-separated string of valid symbols for error messages
func GetValidUnitsString() string {
	return strings.Join(Symbols(), ", ")
}

// ParseQuantity parses a number with an optional trailing unit symbol, such as
// "2.87 GHz", "500ns" or "-3". A decimal comma is accepted ("1,5 mV").
func ParseQuantity(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}

	// Split at the first letter that cannot belong to a float literal.
	split := len(s)
	for i, r := range s {
		if (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') && !isExponent(s, i) {
			split = i
			break
		}
	}
	number := strings.TrimSpace(s[:split])
	symbol := strings.TrimSpace(s[split:])

	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	if symbol == "" {
		return v, nil
	}
	scale, ok := Lookup(symbol)
	if !ok {
		return 0, fmt.Errorf("unknown unit %q in %q (valid: %s)", symbol, s, GetValidUnitsString())
	}
	return v * scale, nil
}

// isExponent reports whether the 'e'/'E' at index i is part of a float
// exponent, i.e. it follows a digit and precedes a digit or sign.
func isExponent(s string, i int) bool {
	if s[i] != 'e' && s[i] != 'E' {
		return false
	}
	if i == 0 || i+1 >= len(s) {
		return false
	}
	prev, next := s[i-1], s[i+1]
	if !(prev >= '0' && prev <= '9' || prev == '.') {
		return false
	}
	return next >= '0' && next <= '9' || next == '-' || next == '+'
}
