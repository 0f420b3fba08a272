package timeutil

import (
	"fmt"
	"math"
	"time"
)

// Layouts used in run directories, record metadata and progress lines.
const (
	DirLayout    = "2006-01-02_15-04-05"
	RecordLayout = "2006-01-02 15:04:05"
	ETALayout    = "02-01-2006 15:04:05"
)

// UnixSeconds converts t to fractional seconds since the Unix epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnixSeconds is the inverse of UnixSeconds, rounded to the nearest
// microsecond.
func FromUnixSeconds(s float64) time.Time {
	return time.UnixMicro(int64(math.Round(s * 1e6)))
}

// FormatSpan renders a duration as H:MM:SS, truncated to whole seconds.
// Spans of a day or more are prefixed with the day count ("2 days, 3:04:05").
func FormatSpan(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	s := fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
	switch {
	case days == 1:
		s = "1 day, " + s
	case days > 1:
		s = fmt.Sprintf("%d days, %s", days, s)
	}
	if neg {
		s = "-" + s
	}
	return s
}
