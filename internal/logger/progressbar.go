package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ProgressBar represents an ASCII progress bar with color support
type ProgressBar struct {
	current     int
	total       int
	width       int
	enableColor bool
	unit        string
	mu          sync.RWMutex
}

// NewProgressBar creates a new progress bar
func NewProgressBar(total, width int, enableColor bool) *ProgressBar {
	if width < 1 {
		width = 10
	}
	return &ProgressBar{
		total:       total,
		width:       width,
		enableColor: enableColor,
	}
}

// Increment increments the current progress by 1
func (pb *ProgressBar) Increment() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current++
}

// Update sets the current progress value
func (pb *ProgressBar) Update(current int) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current = current
}

// SetUnit sets the label printed after the counter, e.g. "cases".
func (pb *ProgressBar) SetUnit(unit string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.unit = unit
}

// percentage returns the progress percentage (0-100). Callers hold mu.
func (pb *ProgressBar) percentage() int {
	if pb.total <= 0 {
		return 0
	}
	perc := (pb.current * 100) / pb.total
	if perc > 100 {
		perc = 100
	}
	if perc < 0 {
		perc = 0
	}
	return perc
}

// Render generates the progress bar string.
// Format: "[=====     ] 3/8 cases (37%)"
func (pb *ProgressBar) Render() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	perc := pb.percentage()
	filled := (perc * pb.width) / 100

	bar := "[" + strings.Repeat("=", filled) + strings.Repeat(" ", pb.width-filled) + "]"

	counter := fmt.Sprintf("%d/%d", pb.current, pb.total)
	if pb.unit != "" {
		counter += " " + pb.unit
	}
	result := fmt.Sprintf("%s %s (%d%%)", bar, counter, perc)

	if pb.enableColor {
		if perc < 100 {
			result = color.New(color.FgCyan).Sprint(result)
		} else {
			result = color.New(color.FgGreen).Sprint(result)
		}
	}
	return result
}
