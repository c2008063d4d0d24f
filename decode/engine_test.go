package decode

import (
	"math"
	"testing"

	"github.com/jrwynneiii/dsdtuner/config"
	"github.com/jrwynneiii/dsdtuner/mode"
)

func TestNull_Decimates(t *testing.T) {
	out := []float32{9, 9, 9, 9}
	c, p := Null{}.Decode(make([]float32, 20), out)
	if c != 18 || p != 3 {
		t.Errorf("consumed/produced = %d/%d, want 18/3", c, p)
	}
	if out[0] != 0 || out[2] != 0 || out[3] != 9 {
		t.Errorf("out = %v, want three zeros then untouched", out)
	}
}

func TestMonitor_RatioAndBounds(t *testing.T) {
	m := NewMonitor(config.MonitorConf{})

	in := make([]float32, 6*64)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 500 * float64(i) / mode.SampleRate))
	}

	out := make([]float32, 32)
	c, p := m.Decode(in, out)
	if c != 32*Decimation {
		t.Errorf("consumed = %d, want %d", c, 32*Decimation)
	}
	if p > len(out) {
		t.Errorf("produced %d, more than the %d available", p, len(out))
	}

	if c, p := m.Decode(in[:5], out); c != 0 || p != 0 {
		t.Errorf("short input gave %d/%d, want 0/0", c, p)
	}
}

func TestNewEngine(t *testing.T) {
	r, err := mode.Resolve(mode.FrameAutoDetect, mode.ModAutoSelect, 3, false, 2)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, name := range []string{"", "monitor", "null"} {
		if _, err := NewEngine(name, r, config.MonitorConf{}); err != nil {
			t.Errorf("NewEngine(%q) failed: %v", name, err)
		}
	}
	if _, err := NewEngine("mbe", r, config.MonitorConf{}); err == nil {
		t.Error("NewEngine(mbe) succeeded, want error")
	}
}
