package decode

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/dsdtuner/config"
	"github.com/jrwynneiii/dsdtuner/mode"
	"github.com/racerxdl/segdsp/dsp"
)

// Decimation is the number of input samples behind every output sample.
const Decimation = 6

// OutputRate is the PCM sample rate the engines produce.
const OutputRate = mode.SampleRate / Decimation

// NewEngine builds one of the built-in engines by name.
func NewEngine(name string, resolved mode.Resolved, conf config.MonitorConf) (Engine, error) {
	log.Debugf("[decode] Building %q engine for %s/%s (%d baud, quality %d)", name, resolved.FrameMode, resolved.RFMod, resolved.SymbolRate(), resolved.Quality)
	switch name {
	case "", "monitor":
		return NewMonitor(conf), nil
	case "null":
		return Null{}, nil
	}
	return nil, fmt.Errorf("unknown decode engine %q", name)
}

// Monitor passes the discriminator audio through as analog voice: a low-pass
// decimating FIR takes it from 48 kHz to 8 kHz. It always consumes exactly
// Decimation input samples per output sample.
type Monitor struct {
	filter  *dsp.FirFilter
	gain    float32
	scratch []complex64
}

func NewMonitor(conf config.MonitorConf) *Monitor {
	gain := conf.Gain
	if gain == 0 {
		gain = 1
	}
	cutoff := conf.Cutoff
	if cutoff <= 0 {
		cutoff = 3400
	}
	width := conf.TransitionWidth
	if width <= 0 {
		width = 600
	}

	taps := dsp.MakeLowPass(1, float64(mode.SampleRate), cutoff, width)
	log.Debugf("[decode] Monitor low-pass: cutoff %.0f Hz, width %.0f Hz, %d taps", cutoff, width, len(taps))

	return &Monitor{
		filter: dsp.MakeDecimationFirFilter(Decimation, taps),
		gain:   gain,
	}
}

func (m *Monitor) Decode(in, out []float32) (int, int) {
	frames := min(len(in)/Decimation, len(out))
	if frames == 0 {
		return 0, 0
	}
	consumed := frames * Decimation

	// The FIR works on complex samples, the real signal rides on the I rail.
	if cap(m.scratch) < consumed {
		m.scratch = make([]complex64, consumed)
	}
	buf := m.scratch[:consumed]
	for i, s := range in[:consumed] {
		buf[i] = complex(s, 0)
	}

	filtered := m.filter.Work(buf)
	produced := min(len(filtered), frames)
	for i := 0; i < produced; i++ {
		out[i] = real(filtered[i]) * m.gain
	}
	return consumed, produced
}

// Null consumes input at the decimation ratio and emits silence.
type Null struct{}

func (Null) Decode(in, out []float32) (int, int) {
	frames := min(len(in)/Decimation, len(out))
	clear(out[:frames])
	return frames * Decimation, frames
}
