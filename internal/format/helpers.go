package format

import (
	"fmt"
	"time"
)

// FmtLatency renders a probe latency in milliseconds, "-" when absent.
func FmtLatency(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *ms)
}

// FmtPercent renders a 0..1 fraction as a percentage.
func FmtPercent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

// FmtTime renders t in UTC, "-" for the zero time.
func FmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// Truncate shortens s to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
