// Package format renders byte counts, expiry values, and user-facing
// templates for subscription presentation.
package format

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Unlimited marks a quota without a bound in formatted output.
const Unlimited = "♾️"

// maxDateSeconds caps date math at 10 years to avoid overflowing on
// absurd expiry values.
const maxDateSeconds = 315360000

var sizeNames = [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// ByteConvert renders a byte count in a human-readable unit.
func ByteConvert(b int64) string {
	if b == 0 {
		return "0B"
	}
	sign := ""
	if b < 0 {
		sign = "-"
		b = -b
	}
	i := int(math.Floor(math.Log(float64(b)) / math.Log(1024)))
	if i >= len(sizeNames) {
		i = len(sizeNames) - 1
	}
	p := math.Pow(1024, float64(i))
	return fmt.Sprintf("%s%.2f %s", sign, float64(b)/p, sizeNames[i])
}

// TimeConvert renders the remaining lifetime of an expiry value as at most
// two units. Negative values are pending durations and render as-is.
func TimeConvert(expire int64, now time.Time) string {
	if expire == 0 {
		return "Unlimited"
	}
	if expire < 0 {
		expire = -expire
	} else {
		expire -= now.Unix()
	}

	days := expire / 86400
	remainder := expire % 86400
	hours := remainder / 3600
	remainder %= 3600
	minutes := remainder / 60
	seconds := remainder % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d d", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d h", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d min", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%d sec", seconds))
	}
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ", ")
}

// DayConvert renders the remaining lifetime of an expiry value in whole days.
func DayConvert(expire int64, now time.Time) int64 {
	if expire < 0 {
		return -expire / 86400
	}
	return (expire - now.Unix()) / 86400
}

// DateConvert renders the absolute expiry moment as a UTC timestamp.
func DateConvert(expire int64, now time.Time) string {
	if expire < 0 {
		expire = -expire
	} else {
		expire -= now.Unix()
	}
	if expire > maxDateSeconds {
		expire = maxDateSeconds
	}
	target := now.Add(time.Duration(expire) * time.Second)
	return target.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// BoolEmoji renders a flag as a check or cross mark.
func BoolEmoji(v bool) string {
	if v {
		return "✅"
	}
	return "❌"
}

// Render substitutes {key} placeholders in a template. Unknown keys are
// left untouched so a half-configured template stays visible to the admin.
func Render(template string, vars map[string]string) string {
	if template == "" || len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// CollapseSpaces collapses runs of whitespace into single spaces and trims.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
