// Package audio reads discriminator recordings and writes decoded PCM as WAV.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrInvalidWAV = errors.New("invalid WAV file")
	ErrSampleRate = errors.New("unexpected sample rate")
)

// PCMBitDepth is the bit depth of files written by WAVSink.
const PCMBitDepth = 16

const wavFormatPCM = 1

// WAVSource streams a WAV file as float32 samples in [-1, 1]. Multi-channel
// files are downmixed to mono by averaging.
type WAVSource struct {
	file       *os.File
	decoder    *wav.Decoder
	buf        *audio.IntBuffer
	sampleRate int
	bitDepth   int
	numChans   int
}

// OpenWAV opens path for reading. When wantRate is non-zero the file must be
// recorded at that rate.
func OpenWAV(path string, wantRate int) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	s := &WAVSource{
		file:       f,
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		bitDepth:   int(decoder.BitDepth),
		numChans:   int(decoder.NumChans),
	}
	if s.numChans < 1 {
		f.Close()
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidWAV, s.numChans)
	}
	if wantRate != 0 && s.sampleRate != wantRate {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d Hz, want %d Hz", ErrSampleRate, path, s.sampleRate, wantRate)
	}
	s.buf = &audio.IntBuffer{
		Format: &audio.Format{NumChannels: s.numChans, SampleRate: s.sampleRate},
	}
	return s, nil
}

// Read fills p with up to len(p) mono samples. It returns io.EOF once the PCM
// data is exhausted.
func (s *WAVSource) Read(p []float32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	want := len(p) * s.numChans
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	frames := n / s.numChans
	if frames == 0 {
		return 0, io.EOF
	}

	// 8 bit WAV is unsigned, everything else is signed.
	offset := 0
	if s.bitDepth == 8 {
		offset = 128
	}
	maxVal := float32(audio.IntMaxSignedValue(s.bitDepth))
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < s.numChans; ch++ {
			sum += float32(s.buf.Data[i*s.numChans+ch]-offset) / maxVal
		}
		p[i] = sum / float32(s.numChans)
	}
	return frames, nil
}

func (s *WAVSource) SampleRate() int {
	return s.sampleRate
}

func (s *WAVSource) NumChannels() int {
	return s.numChans
}

func (s *WAVSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// WAVSink writes mono 16 bit PCM. Samples are clipped to [-1, 1].
type WAVSink struct {
	file    *os.File
	encoder *wav.Encoder
	buf     *audio.IntBuffer
	written int
}

func CreateWAV(path string, sampleRate int) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &WAVSink{
		file:    f,
		encoder: wav.NewEncoder(f, sampleRate, PCMBitDepth, 1, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: PCMBitDepth,
		},
	}, nil
}

func (s *WAVSink) Write(p []float32) error {
	if cap(s.buf.Data) < len(p) {
		s.buf.Data = make([]int, len(p))
	}
	s.buf.Data = s.buf.Data[:len(p)]

	maxVal := float32(audio.IntMaxSignedValue(PCMBitDepth))
	for i, v := range p {
		if math.IsNaN(float64(v)) {
			v = 0
		}
		v = max(-1, min(1, v))
		s.buf.Data[i] = int(v * maxVal)
	}
	if err := s.encoder.Write(s.buf); err != nil {
		return fmt.Errorf("failed to write PCM: %w", err)
	}
	s.written += len(p)
	return nil
}

// Written is the number of samples written so far.
func (s *WAVSink) Written() int {
	return s.written
}

// Close finalises the WAV header and closes the file.
func (s *WAVSink) Close() error {
	encErr := s.encoder.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalise WAV: %w", encErr)
	}
	return fileErr
}
