package main

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-guard/pkg/resourcelimits"
)

const (
	minBarWidth     = 10
	maxBarWidth     = 40
	defaultBarWidth = 20
)

// gaugeColor blends from green at 0% to red at 100%
func gaugeColor(value float64) (r, g, b int) {
	switch {
	case value >= 100:
		return 255, 0, 0
	case value <= 0:
		return 0, 255, 0
	default:
		return int(255 * (value / 100)), int(255 * (1 - value/100)), 0
	}
}

// barWidth derives a per-gauge width from the terminal width. Three
// gauges share one line.
func barWidth(termWidth int) int {
	if termWidth <= 0 {
		return defaultBarWidth
	}
	w := termWidth/3 - 16
	if w < minBarWidth {
		return minBarWidth
	}
	if w > maxBarWidth {
		return maxBarWidth
	}
	return w
}

func renderBar(value float64, width int) string {
	filled := int(value / 100 * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}

func renderGauge(label string, value float64, width int, color bool) string {
	bar := renderBar(value, width)
	if color {
		r, g, b := gaugeColor(value)
		bar = fmt.Sprintf("\033[38;2;%d;%d;%dm%s\033[0m", r, g, b, bar)
	}
	return fmt.Sprintf("%s [%s] %5.1f%%", label, bar, value)
}

// renderSample formats one display sample as a single gauge line
func renderSample(sample resourcelimits.SystemSample, width int, color bool) string {
	return strings.Join([]string{
		renderGauge("CPU", sample.CPUPercent, width, color),
		renderGauge("RAM", sample.RAMPercent, width, color),
		renderGauge("Disk", sample.DiskPercent, width, color),
	}, "  ")
}
