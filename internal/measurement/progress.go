package measurement

import (
	"fmt"
	"time"

	"github.com/agwidera/meca/internal/timeutil"
)

// Progress is the state of a sweep after a point completes. CurrentPoint is
// the index of the point that just completed; the runtimes are truncated to
// whole seconds.
type Progress struct {
	CurrentPoint int           `json:"current_point"`
	Completed    int           `json:"completed"`
	NumberPoints int           `json:"number_points"`
	Percentage   float64       `json:"percentage"`
	StartedAt    time.Time     `json:"started_at"`
	Runtime      time.Duration `json:"runtime_ns"`
	TotalRuntime time.Duration `json:"total_runtime_ns"`
	Remaining    time.Duration `json:"remaining_ns"`
	ETA          time.Time     `json:"eta"`
	Stopped      bool          `json:"stopped"`
}

// NewProgress estimates runtime and ETA from the completion time of the
// latest point.
func NewProgress(start time.Time, completed, total int, last time.Time, stopped bool) Progress {
	p := Progress{
		CurrentPoint: completed - 1,
		Completed:    completed,
		NumberPoints: total,
		StartedAt:    start,
		Stopped:      stopped,
	}
	if total > 0 {
		p.Percentage = 100 * float64(completed) / float64(total)
	}
	if completed > 0 {
		p.Runtime = last.Sub(start).Truncate(time.Second)
		if p.Runtime < 0 {
			p.Runtime = 0
		}
		p.TotalRuntime = time.Duration(float64(p.Runtime) * float64(total) / float64(completed)).Truncate(time.Second)
	}
	p.Remaining = p.TotalRuntime - p.Runtime
	p.ETA = start.Add(p.TotalRuntime)
	return p
}

// Done reports whether every point has completed.
func (p Progress) Done() bool {
	return p.NumberPoints > 0 && p.Completed >= p.NumberPoints
}

// String renders the progress line shown below the plots.
func (p Progress) String() string {
	if p.Stopped {
		return "Measurement Stopped"
	}
	return fmt.Sprintf("Percentage: %d%%, Current Runtime: %s, Estimated Total Runtime: %s, "+
		"Estimated Remaining Runtime: %s, ETA: %s",
		int(p.Percentage),
		timeutil.FormatSpan(p.Runtime),
		timeutil.FormatSpan(p.TotalRuntime),
		timeutil.FormatSpan(p.Remaining),
		p.ETA.Format(timeutil.ETALayout))
}
