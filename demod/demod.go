package demod

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/dsdtuner/config"
	"github.com/jrwynneiii/dsdtuner/mode"
	SatHelper "github.com/opensatelliteproject/libsathelper"
	"github.com/racerxdl/segdsp/dsp"
	"github.com/racerxdl/segdsp/tools"
	"gonum.org/v1/gonum/dsp/fourier"
)

var ErrSampleRate = errors.New("device sample rate does not decimate to the discriminator rate")

// FFTBins is the number of points kept for the spectrum plot.
const FFTBins = 128

// FullDeviation is the carrier deviation in Hz that the discriminator maps to
// 1.0. C4FM and GFSK outer symbols sit just below it.
const FullDeviation = 2500.0

// Demodulator turns complex baseband from the radio into the 48 kHz FM
// discriminator signal the bridge expects.
type Demodulator struct {
	SampleInput chan []complex64
	Output      chan []float32

	deviceSampleRate float64
	decimFactor      int
	AGC              SatHelper.AGC
	Decimator        *dsp.FirFilter

	// last is the previous baseband sample, carried between blocks so the
	// discriminator has no seam.
	last complex64
	// discGain scales the phase step so FullDeviation is 1.0.
	discGain float32

	DoFFT      bool
	fftMutex   sync.RWMutex
	fftWorking bool
	currentFFT []float64

	closeOnce sync.Once
}

// New builds a demodulator for a device running at sampleRate. The rate must
// be conf.Decimation times mode.SampleRate.
func New(conf config.DemodConf, sampleRate float64, bufsize int) (*Demodulator, error) {
	if conf.Decimation < 1 {
		return nil, fmt.Errorf("%w: decimation %d", ErrSampleRate, conf.Decimation)
	}
	if circuit := sampleRate / float64(conf.Decimation); math.Abs(circuit-mode.SampleRate) > 1 {
		return nil, fmt.Errorf("%w: %.0f / %d = %.0f Hz, want %d Hz", ErrSampleRate, sampleRate, conf.Decimation, circuit, mode.SampleRate)
	}

	log.Debugf("[demod] Found demod definition: %+v", conf)

	cutoff := conf.LowPassCutoff
	if cutoff <= 0 {
		cutoff = float64(mode.SampleRate)/2 - conf.TransitionWidth/2
	}

	d := &Demodulator{
		SampleInput:      make(chan []complex64, bufsize),
		Output:           make(chan []float32, bufsize),
		deviceSampleRate: sampleRate,
		decimFactor:      conf.Decimation,
		DoFFT:            conf.DoFFT,
		discGain:         float32(float64(mode.SampleRate) / (2 * math.Pi * FullDeviation)),
	}
	d.AGC = SatHelper.NewAGC(conf.AGCRate, conf.AGCReference, conf.AGCGain, conf.AGCMaxGain)
	d.Decimator = dsp.MakeDecimationFirFilter(conf.Decimation, dsp.MakeLowPass(1, sampleRate, cutoff, conf.TransitionWidth))

	return d, nil
}

// Start demodulates blocks from SampleInput until it is closed or ctx is
// done. Output is closed on return.
func (d *Demodulator) Start(ctx context.Context) error {
	defer d.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case samples, ok := <-d.SampleInput:
			if !ok {
				log.Debug("[demod] Input closed")
				return nil
			}
			out := d.Process(samples)
			if len(out) == 0 {
				continue
			}
			select {
			case d.Output <- out:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Process runs one block through AGC, the channel filter and the
// discriminator. It keeps state between calls and must not be called
// concurrently.
func (d *Demodulator) Process(samples []complex64) []float32 {
	length := len(samples)
	if length == 0 {
		return nil
	}

	//Apply AGC
	agcd := make([]complex64, length)
	d.AGC.Work(&samples[0], &agcd[0], length)

	//Channel filter and decimate down to the discriminator rate
	baseband := agcd
	if d.decimFactor > 1 {
		baseband = d.Decimator.Work(agcd)
	}

	// Do the FFT things
	d.fftMutex.Lock()
	if d.DoFFT && !d.fftWorking {
		d.fftWorking = true
		go d.doFFT(append([]complex64(nil), baseband...))
	}
	d.fftMutex.Unlock()

	return d.discriminate(baseband)
}

// discriminate is a quadrature FM demodulator: the phase step between
// consecutive samples is proportional to instantaneous frequency.
func (d *Demodulator) discriminate(baseband []complex64) []float32 {
	out := make([]float32, len(baseband))
	prev := d.last
	for i, s := range baseband {
		p := s * complex(real(prev), -imag(prev))
		out[i] = float32(math.Atan2(float64(imag(p)), float64(real(p)))) * d.discGain
		prev = s
	}
	if len(baseband) > 0 {
		d.last = baseband[len(baseband)-1]
	}
	return out
}

func (d *Demodulator) doFFT(samples []complex64) {
	defer func() {
		time.Sleep(500 * time.Millisecond)
		d.fftMutex.Lock()
		d.fftWorking = false
		d.fftMutex.Unlock()
	}()

	if len(samples) < FFTBins {
		return
	}

	input := make([]complex128, len(samples))
	for i, sample := range samples {
		input[i] = complex128(sample)
	}

	fft := fourier.NewCmplxFFT(len(input))
	coeff := fft.Coefficients(nil, input)

	// Fold the shifted spectrum down to FFTBins points, peak per bin.
	step := len(coeff) / FFTBins
	output := make([]float64, FFTBins)
	for bin := range output {
		peak := 0.0
		for j := 0; j < step; j++ {
			v := float64(tools.ComplexAbsSquared(complex64(coeff[fft.ShiftIdx(bin*step+j)])))
			peak = max(peak, v)
		}
		output[bin] = 10.0 * math.Log10(peak+1e-12)
	}

	d.fftMutex.Lock()
	d.currentFFT = output
	d.fftMutex.Unlock()
}

// Spectrum returns the latest power spectrum in dB, lowest frequency first.
func (d *Demodulator) Spectrum() []float64 {
	d.fftMutex.RLock()
	defer d.fftMutex.RUnlock()
	return append([]float64(nil), d.currentFFT...)
}

func (d *Demodulator) Close() {
	d.closeOnce.Do(func() {
		close(d.Output)
	})
}
