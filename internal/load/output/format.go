package output

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// formatDuration formats a wall-clock duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatMillis formats a time value recorded in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0s"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60_000)
	}
}

// formatNumber formats a count with thousands separators.
func formatNumber(v float64) string {
	n := int64(math.Round(v))
	neg := n < 0
	if neg {
		n = -n
	}
	str := fmt.Sprintf("%d", n)
	if len(str) > 3 {
		var b strings.Builder
		offset := len(str) % 3
		if offset > 0 {
			b.WriteString(str[:offset])
		}
		for i := offset; i < len(str); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(str[i : i+3])
		}
		str = b.String()
	}
	if neg {
		return "-" + str
	}
	return str
}

func formatPercent(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// dotted pads name with dots to width, k6 style.
func dotted(name string, width int) string {
	if len(name) >= width {
		return name + ":"
	}
	return name + strings.Repeat(".", width-len(name)) + ":"
}
