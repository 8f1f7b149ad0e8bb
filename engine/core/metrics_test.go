package core

import (
	"math"
	"testing"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	if math.Abs(m.FrameTime()-16) > 1e-9 {
		t.Errorf("FrameTime() = %v, want 16", m.FrameTime())
	}
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	// 125ms per frame: the accumulator crosses one second on the 9th frame.
	for i := 0; i < 8; i++ {
		m.Update(0.125)
	}
	if m.FPS() != 0 {
		t.Fatalf("FPS() = %v before one second elapsed", m.FPS())
	}
	m.Update(0.125)
	if m.FPS() != 9 {
		t.Errorf("FPS() = %v, want 9", m.FPS())
	}
}
