package logger

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harrison/rendertest/internal/models"
)

// colorScheme defines consistent colors for summary lines.
// Green: success, Red: crash, Yellow: diff, Bold: headers.
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	header  *color.Color
}

// newColorScheme creates the standard color scheme. With enabled=false every
// color prints plain text regardless of the terminal.
func newColorScheme(enabled bool) *colorScheme {
	scheme := &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		header:  color.New(color.Bold),
	}
	if !enabled {
		for _, c := range []*color.Color{scheme.success, scheme.fail, scheme.warn, scheme.header} {
			c.DisableColor()
		}
	}
	return scheme
}

// levelColor returns the color used for a log level tag.
func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "INFO":
		return color.New(color.FgBlue)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

// statusColor returns the color used for a case status.
func statusColor(status string) *color.Color {
	switch status {
	case models.StatusSuccess:
		return color.New(color.FgGreen)
	case models.StatusDiff:
		return color.New(color.FgYellow)
	case models.StatusCrash:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgHiBlack)
	}
}

// formatCount renders "label: n", colored only when n is non-zero.
func formatCount(label string, n int, c *color.Color) string {
	text := fmt.Sprintf("%s: %d", label, n)
	if n == 0 {
		return text
	}
	return c.Sprint(text)
}
