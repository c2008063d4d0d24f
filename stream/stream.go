// Package stream drives a bridge block the way a real-time scheduler would:
// fixed-size blocks in, a fixed number of PCM samples out, one call at a time.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/dsdtuner/bridge"
	"golang.org/x/sync/errgroup"
)

var ErrBlockSize = errors.New("block size must be positive")

type Source interface {
	// Read fills p with up to len(p) samples, returning io.EOF at the end.
	Read(p []float32) (int, error)
}

type Sink interface {
	Write(p []float32) error
}

// Block is the part of bridge.Block that Run needs.
type Block interface {
	Work(in, out []float32) (int, error)
}

// Stats counts what Run moved.
type Stats struct {
	Blocks     int
	Stalled    int
	SamplesIn  int
	SamplesOut int
}

type chunk struct {
	samples []float32
	// valid is how much of samples came from the source, the rest is
	// padding on the final block.
	valid int
}

// Run reads blockSize*bridge.Decimation samples at a time from src, passes
// them through blk and writes the PCM to sink, until src is exhausted or ctx
// is cancelled. The last partial block is zero padded and its output trimmed
// to match. A stalled decoder produces a block of silence and the stream
// carries on.
func Run(ctx context.Context, src Source, blk Block, sink Sink, blockSize int) (Stats, error) {
	if blockSize <= 0 {
		return Stats{}, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}

	var stats Stats
	g, ctx := errgroup.WithContext(ctx)
	chunks := make(chan chunk, 2)

	g.Go(func() error {
		defer close(chunks)
		for {
			buf := make([]float32, blockSize*bridge.Decimation)
			n, err := readFull(src, buf)
			if n > 0 {
				select {
				case chunks <- chunk{samples: buf, valid: n}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading source: %w", err)
			}
		}
	})

	g.Go(func() error {
		out := make([]float32, blockSize)
		for c := range chunks {
			if _, err := blk.Work(c.samples, out); err != nil {
				if !errors.Is(err, bridge.ErrDecodeStalled) {
					return err
				}
				log.Warnf("[stream] Block %d: %v, writing silence", stats.Blocks, err)
				clear(out)
				stats.Stalled++
			}

			produced := (c.valid + bridge.Decimation - 1) / bridge.Decimation
			if err := sink.Write(out[:produced]); err != nil {
				return fmt.Errorf("writing sink: %w", err)
			}
			stats.Blocks++
			stats.SamplesIn += c.valid
			stats.SamplesOut += produced
		}
		return nil
	})

	err := g.Wait()
	log.Debugf("[stream] Finished: %+v", stats)
	return stats, err
}

// readFull reads until p is full or the source ends. It returns io.EOF only
// when nothing more will come, possibly together with a partial count.
func readFull(src Source, p []float32) (int, error) {
	filled := 0
	for filled < len(p) {
		n, err := src.Read(p[filled:])
		filled += n
		if err != nil {
			return filled, err
		}
		if n == 0 {
			return filled, io.ErrNoProgress
		}
	}
	return filled, nil
}

// ChannelSource adapts a channel of sample blocks, such as a demodulator's
// output, into a Source. A closed channel reads as io.EOF.
type ChannelSource struct {
	ctx     context.Context
	ch      <-chan []float32
	pending []float32
}

func FromChannel(ctx context.Context, ch <-chan []float32) *ChannelSource {
	return &ChannelSource{ctx: ctx, ch: ch}
}

func (s *ChannelSource) Read(p []float32) (int, error) {
	for len(s.pending) == 0 {
		select {
		case block, ok := <-s.ch:
			if !ok {
				return 0, io.EOF
			}
			s.pending = block
		case <-s.ctx.Done():
			return 0, s.ctx.Err()
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// MultiSink writes every block to each sink in turn.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Write(p []float32) error {
	for _, s := range m {
		if err := s.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Level tracks the peak absolute value of the last block written to it.
type Level struct {
	peak atomic.Uint32
}

func (l *Level) Write(p []float32) error {
	var peak float32
	for _, v := range p {
		// NaN would poison the running max.
		if math.IsNaN(float64(v)) {
			continue
		}
		peak = max(peak, v, -v)
	}
	l.peak.Store(uint32(min(peak, 1) * 1e6))
	return nil
}

// Peak is in [0, 1].
func (l *Level) Peak() float64 {
	return float64(l.peak.Load()) / 1e6
}
