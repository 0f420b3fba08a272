// Package pulse models rectangular digital pulse sequences and serializes them
// into the formats expected by pulse streamers and arbitrary waveform generators.
//
// Lengths are given in seconds and converted once to integer nanoseconds, so
// all sample arithmetic below is exact.
package pulse

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Level is the output level of a pulse segment.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ErrInvalidPulse is returned for pulses with an unknown level or a negative length.
var ErrInvalidPulse = errors.New("invalid pulse")

// Pulse is one rectangular segment of a sequence.
type Pulse struct {
	Level  Level
	Length float64 // seconds
}

// HighPulse returns a level-1 pulse lasting length seconds.
func HighPulse(length float64) Pulse { return Pulse{Level: High, Length: length} }

// LowPulse returns a level-0 pulse lasting length seconds.
func LowPulse(length float64) Pulse { return Pulse{Level: Low, Length: length} }

// Segment is one entry of the pulse streamer format.
type Segment struct {
	DurationNs int64
	Level      Level
}

// Fixed pulse streamer sequences.
var (
	On      = []Segment{{DurationNs: 1000, Level: High}}
	Off     = []Segment{{DurationNs: 1000, Level: Low}}
	Trigger = []Segment{{DurationNs: 1000, Level: High}, {DurationNs: 1000, Level: Low}}
)

// Sequence is an immutable ordered list of pulses.
type Sequence struct {
	pulses   []Pulse
	lengthNs []int64
	totalNs  int64
}

// NewSequence validates pulses and precomputes their nanosecond durations.
func NewSequence(pulses ...Pulse) (*Sequence, error) {
	s := &Sequence{
		pulses:   append([]Pulse(nil), pulses...),
		lengthNs: make([]int64, len(pulses)),
	}
	for i, p := range pulses {
		if p.Level != Low && p.Level != High {
			return nil, fmt.Errorf("%w: pulse %d has level %v", ErrInvalidPulse, i, p.Level)
		}
		if p.Length < 0 || math.IsNaN(p.Length) || math.IsInf(p.Length, 0) {
			return nil, fmt.Errorf("%w: pulse %d has length %g", ErrInvalidPulse, i, p.Length)
		}
		ns := int64(math.Round(p.Length * 1e9))
		s.lengthNs[i] = ns
		s.totalNs += ns
	}
	return s, nil
}

// MustSequence is like NewSequence but panics on invalid pulses. It is meant
// for sequences built from literals.
func MustSequence(pulses ...Pulse) *Sequence {
	s, err := NewSequence(pulses...)
	if err != nil {
		panic(err)
	}
	return s
}

// Pulses returns a copy of the pulses in order.
func (s *Sequence) Pulses() []Pulse {
	return append([]Pulse(nil), s.pulses...)
}

// LengthNs is the total sequence length in nanoseconds.
func (s *Sequence) LengthNs() int64 { return s.totalNs }

// SampleRate returns the floored number of samples per second needed to fit
// the whole sequence into n samples. It is zero for an empty sequence.
func (s *Sequence) SampleRate(n int) int64 {
	if s.totalNs == 0 || n <= 0 {
		return 0
	}
	return int64(n) * 1_000_000_000 / s.totalNs
}

// sampleCounts splits n samples across the pulses proportionally to their
// durations. Boundaries are computed from the cumulative duration so the
// counts always sum to n.
func (s *Sequence) sampleCounts(n int) []int {
	counts := make([]int, len(s.pulses))
	if s.totalNs == 0 || n <= 0 {
		return counts
	}
	var cum int64
	prev := 0
	for i, ns := range s.lengthNs {
		cum += ns
		end := int(int64(n) * cum / s.totalNs)
		counts[i] = end - prev
		prev = end
	}
	return counts
}

// Samples returns the sequence as a flat array of n samples, each 0 or 1.
// An empty or zero-length sequence yields n zeros.
func (s *Sequence) Samples(n int) []float64 {
	if n < 0 {
		n = 0
	}
	out := make([]float64, 0, n)
	for i, c := range s.sampleCounts(n) {
		v := float64(s.pulses[i].Level)
		for j := 0; j < c; j++ {
			out = append(out, v)
		}
	}
	for len(out) < n {
		out = append(out, 0)
	}
	return out
}

// PulseStreamer returns the sequence as (duration in ns, level) segments.
func (s *Sequence) PulseStreamer() []Segment {
	out := make([]Segment, len(s.pulses))
	for i, p := range s.pulses {
		out[i] = Segment{DurationNs: s.lengthNs[i], Level: p.Level}
	}
	return out
}

// KeysightAWG returns the sequence as a comma separated list of n levels
// ("1, 1, 0, 0") together with the sample rate in samples per second.
func (s *Sequence) KeysightAWG(n int) (string, int64) {
	var b strings.Builder
	first := true
	for i, c := range s.sampleCounts(n) {
		digit := "0"
		if s.pulses[i].Level == High {
			digit = "1"
		}
		for j := 0; j < c; j++ {
			if !first {
				b.WriteString(", ")
			}
			b.WriteString(digit)
			first = false
		}
	}
	return b.String(), s.SampleRate(n)
}
