package render

import (
	"fmt"
	"strings"
	"time"
)

// FormatMillis renders a duration in milliseconds as m:ss.mmm, with an
// hour component only when needed.
func FormatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	frac := ms % 1000
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, frac)
	}
	return fmt.Sprintf("%d:%02d.%03d", m, s, frac)
}

// FormatTimeRemaining renders a countdown like "2d 3h 5m". Used by the
// CLI, not by the published views, which carry client-side timestamps
// instead so the rendered content stays stable between updates.
func FormatTimeRemaining(expiry, now time.Time) string {
	d := expiry.Sub(now)
	if d <= 0 {
		return "EXPIRED"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return "< 1m"
	}
	return strings.Join(parts, " ")
}
