package main

import (
	"strings"
	"testing"

	"github.com/core-tools/hsu-guard/pkg/resourcelimits"

	"github.com/stretchr/testify/assert"
)

func TestGaugeColor(t *testing.T) {
	tests := []struct {
		value   float64
		r, g, b int
	}{
		{-5, 0, 255, 0},
		{0, 0, 255, 0},
		{50, 127, 127, 0},
		{100, 255, 0, 0},
		{130, 255, 0, 0},
	}

	for _, tt := range tests {
		r, g, b := gaugeColor(tt.value)
		assert.Equal(t, tt.r, r, "red at %v", tt.value)
		assert.Equal(t, tt.g, g, "green at %v", tt.value)
		assert.Equal(t, tt.b, b, "blue at %v", tt.value)
	}
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "..........", renderBar(0, 10))
	assert.Equal(t, "####......", renderBar(42, 10))
	assert.Equal(t, "##########", renderBar(100, 10))
	assert.Equal(t, "##########", renderBar(250, 10))
	assert.Equal(t, "..........", renderBar(-1, 10))
}

func TestBarWidth(t *testing.T) {
	assert.Equal(t, defaultBarWidth, barWidth(0))
	assert.Equal(t, minBarWidth, barWidth(40))
	assert.Equal(t, maxBarWidth, barWidth(400))
	assert.Equal(t, 24, barWidth(120))
}

func TestRenderSample(t *testing.T) {
	sample := resourcelimits.SystemSample{CPUPercent: 42, RAMPercent: 10, DiskPercent: 100}

	line := renderSample(sample, 10, false)
	assert.Equal(t, "CPU [####......]  42.0%  RAM [#.........]  10.0%  Disk [##########] 100.0%", line)

	colored := renderSample(sample, 10, true)
	assert.True(t, strings.Contains(colored, "\033[38;2;255;0;0m"))
	assert.True(t, strings.HasSuffix(colored, "100.0%"))
}
