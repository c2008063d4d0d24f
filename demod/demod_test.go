package demod

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/jrwynneiii/dsdtuner/config"
	"github.com/jrwynneiii/dsdtuner/mode"
)

func testConf() config.DemodConf {
	return config.DemodConf{
		Decimation:      5,
		LowPassCutoff:   12500,
		TransitionWidth: 2500,
		AGCRate:         0.01,
		AGCReference:    0.5,
		AGCGain:         1,
		AGCMaxGain:      4000,
	}
}

func tone(freq, rate float64, n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(cmplx.Rect(0.5, 2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func TestNewRejectsSampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		dec  int
	}{
		{"wrong rate", 250000, 5},
		{"zero decimation", 240000, 0},
		{"no decimation needed but rate high", 96000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := testConf()
			conf.Decimation = tt.dec
			if _, err := New(conf, tt.rate, 1); !errors.Is(err, ErrSampleRate) {
				t.Errorf("err = %v, want ErrSampleRate", err)
			}
		})
	}

	if _, err := New(testConf(), 240000, 1); err != nil {
		t.Errorf("240 kHz / 5 rejected: %v", err)
	}
}

func TestDiscriminateTone(t *testing.T) {
	d, err := New(testConf(), 240000, 1)
	if err != nil {
		t.Fatal(err)
	}

	for _, freq := range []float64{-2500, -1000, 0, 600, 1800} {
		out := d.discriminate(tone(freq, mode.SampleRate, 64))
		want := float32(freq / FullDeviation)
		// The first sample is relative to the previous block.
		for i, v := range out[1:] {
			if math.Abs(float64(v-want)) > 1e-3 {
				t.Fatalf("%v Hz: out[%d] = %v, want %v", freq, i+1, v, want)
			}
		}
	}
}

func TestDiscriminateCarriesPhaseAcrossBlocks(t *testing.T) {
	d, err := New(testConf(), 240000, 1)
	if err != nil {
		t.Fatal(err)
	}

	samples := tone(1200, mode.SampleRate, 100)
	d.discriminate(samples[:50])
	out := d.discriminate(samples[50:])
	if math.Abs(float64(out[0]-1200/FullDeviation)) > 1e-3 {
		t.Errorf("first sample of second block = %v, want %v", out[0], 1200/FullDeviation)
	}
}

func TestStartClosesOutput(t *testing.T) {
	d, err := New(testConf(), 240000, 1)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()

	d.SampleInput <- tone(1000, 240000, 5000)
	select {
	case out := <-d.Output:
		if len(out) == 0 {
			t.Error("empty discriminator block")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no output from Start")
	}

	close(d.SampleInput)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after input closed")
	}
	if _, ok := <-d.Output; ok {
		t.Error("Output not closed")
	}
}

func TestSpectrumEmptyUntilComputed(t *testing.T) {
	d, err := New(testConf(), 240000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.Spectrum(); len(s) != 0 {
		t.Errorf("Spectrum() = %d points before any FFT", len(s))
	}

	d.fftWorking = true
	d.doFFT(tone(1000, mode.SampleRate, 4096))
	if s := d.Spectrum(); len(s) != FFTBins {
		t.Errorf("Spectrum() = %d points, want %d", len(s), FFTBins)
	}
}
