// Package bridge connects a fixed-rate sample stream to a decode worker.
//
// The stream side calls Block.Work once per scheduler callback with
// len(out)*Decimation discriminator samples and gets exactly len(out) PCM
// samples back. Each call is one cycle of the handoff protocol: the input is
// published to the worker goroutine and Work blocks until the worker reports
// the cycle finished. Blocks that are entirely zero skip the worker.
//
// Work is meant to be driven by a single goroutine. The blocking is the
// backpressure: the stream runs at the decoder's pace.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/dsdtuner/decode"
	"github.com/jrwynneiii/dsdtuner/handoff"
	"github.com/jrwynneiii/dsdtuner/metrics"
	"github.com/jrwynneiii/dsdtuner/mode"
)

const Decimation = decode.Decimation

// MaxBlockLimit caps MaxBlock so a bad config cannot allocate gigabytes.
const MaxBlockLimit = 1 << 20

var (
	ErrInvalidBlockSize = errors.New("max block size must be between 1 and MaxBlockLimit")
	ErrBlockSize        = errors.New("input length must be Decimation times the output length")
	ErrBlockTooLarge    = errors.New("block larger than the declared maximum")
	ErrBusy             = errors.New("bridge is already running a cycle")
	ErrClosed           = errors.New("bridge closed")
	ErrDecodeStalled    = errors.New("decoder did not finish the cycle in time")
	ErrWorkerStopped    = errors.New("decode worker stopped")
)

type Config struct {
	Resolved mode.Resolved
	// MaxBlock is the largest output block the host will ask for. The
	// output buffer is sized from it once.
	MaxBlock int
	// StallTimeout bounds how long Work waits for the decoder. Zero waits
	// forever.
	StallTimeout time.Duration
}

type Option func(*Block)

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Block) {
		b.metrics = m
	}
}

// Stats is a snapshot of the block's counters.
type Stats struct {
	Cycles      uint64
	ZeroBlocks  uint64
	ShortCycles uint64
	Stalls      uint64
	SamplesIn   uint64
	SamplesOut  uint64
	Pending     bool
}

type Block struct {
	conf    Config
	metrics *metrics.Metrics

	ch     *handoff.Channel
	cancel context.CancelFunc
	done   chan struct{}
	// workerErr is written by the worker goroutine before done is closed.
	workerErr error

	// mu is held for the whole of a Work call and by Close.
	mu      sync.Mutex
	inBuf   []float32
	outBuf  []float32
	seq     uint64
	pending bool
	failed  error
	closed  atomic.Bool

	cycles      atomic.Uint64
	zeroBlocks  atomic.Uint64
	shortCycles atomic.Uint64
	stalls      atomic.Uint64
	samplesIn   atomic.Uint64
	samplesOut  atomic.Uint64
	pendingFlag atomic.Bool
}

// New allocates the cycle buffers and starts the decode worker.
func New(conf Config, engine decode.Engine, opts ...Option) (*Block, error) {
	if conf.MaxBlock <= 0 || conf.MaxBlock > MaxBlockLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, conf.MaxBlock)
	}
	if engine == nil {
		return nil, errors.New("bridge needs a decode engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Block{
		conf:    conf,
		ch:      handoff.New(),
		cancel:  cancel,
		done:    make(chan struct{}),
		inBuf:   make([]float32, conf.MaxBlock*Decimation),
		outBuf:  make([]float32, conf.MaxBlock),
		metrics: metrics.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, line := range conf.Resolved.Describe() {
		log.Info(line)
	}
	log.Debugf("[bridge] Max block %d, stall timeout %v", conf.MaxBlock, conf.StallTimeout)

	worker := decode.NewWorker(b.ch, engine)
	go func() {
		defer close(b.done)
		b.workerErr = worker.Start(ctx)
	}()

	return b, nil
}

// Work runs one cycle. len(in) must be len(out)*Decimation and len(out) at most
// MaxBlock, for silent blocks too. It always fills all of out on success;
// samples the decoder did not produce are zero.
func (b *Block) Work(in, out []float32) (int, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	if len(in) != len(out)*Decimation {
		return 0, fmt.Errorf("%w: %d in, %d out", ErrBlockSize, len(in), len(out))
	}
	if len(out) > b.conf.MaxBlock {
		return 0, fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, len(out), b.conf.MaxBlock)
	}
	if !b.mu.TryLock() {
		return 0, ErrBusy
	}
	defer b.mu.Unlock()

	if b.closed.Load() {
		return 0, ErrClosed
	}
	if b.failed != nil {
		return 0, b.failed
	}

	ctx := context.Background()
	frame := b.conf.Resolved.FrameMode.String()

	if allZero(in) {
		clear(out)
		b.zeroBlocks.Add(1)
		b.metrics.RecordCycle(ctx, frame, metrics.OutcomeZero, 0, len(in), len(out))
		return len(out), nil
	}

	start := time.Now()

	// A stalled cycle still owns the buffers until its result comes back.
	if b.pending {
		res, err := b.ch.Await(b.conf.StallTimeout)
		if err != nil {
			return 0, b.awaitFailed(ctx, frame, start, len(in), err)
		}
		log.Debugf("[bridge] Late result for cycle %d discarded", res.Seq)
		b.clearPending(ctx)
		if res.Err != nil {
			return 0, b.fail(res.Err)
		}
	}

	b.seq++
	n := copy(b.inBuf, in)
	if err := b.ch.Publish(handoff.Input{
		Seq:     b.seq,
		Samples: b.inBuf[:n],
		Dest:    b.outBuf[:len(out)],
	}); err != nil {
		return 0, ErrClosed
	}

	res, err := b.ch.Await(b.conf.StallTimeout)
	if err != nil {
		b.setPending(ctx)
		return 0, b.awaitFailed(ctx, frame, start, len(in), err)
	}
	wait := time.Since(start)

	if res.Seq != b.seq {
		panic(fmt.Sprintf("bridge: got result for cycle %d while waiting for %d", res.Seq, b.seq))
	}
	if res.Err != nil {
		b.metrics.RecordCycle(ctx, frame, metrics.OutcomeError, wait, len(in), 0)
		return 0, b.fail(res.Err)
	}

	copy(out, b.outBuf[:res.Produced])
	clear(out[res.Produced:])

	b.cycles.Add(1)
	b.samplesIn.Add(uint64(res.Consumed))
	b.samplesOut.Add(uint64(res.Produced))

	outcome := metrics.OutcomeComplete
	if res.Produced < len(out) {
		outcome = metrics.OutcomeShort
		b.shortCycles.Add(1)
		log.Debugf("[bridge] Cycle %d short: %d of %d samples", b.seq, res.Produced, len(out))
	}
	b.metrics.RecordCycle(ctx, frame, outcome, wait, res.Consumed, res.Produced)

	return len(out), nil
}

func (b *Block) awaitFailed(ctx context.Context, frame string, start time.Time, in int, err error) error {
	switch {
	case errors.Is(err, handoff.ErrTimeout):
		b.stalls.Add(1)
		b.metrics.RecordCycle(ctx, frame, metrics.OutcomeStalled, time.Since(start), in, 0)
		log.Warnf("[bridge] Decoder stalled on cycle %d after %v", b.seq, b.conf.StallTimeout)
		return fmt.Errorf("%w: cycle %d", ErrDecodeStalled, b.seq)
	case errors.Is(err, handoff.ErrClosed):
		return ErrClosed
	}
	return err
}

func (b *Block) setPending(ctx context.Context) {
	if !b.pending {
		b.pending = true
		b.pendingFlag.Store(true)
		b.metrics.Pending.Add(ctx, 1)
	}
}

func (b *Block) clearPending(ctx context.Context) {
	b.pending = false
	b.pendingFlag.Store(false)
	b.metrics.Pending.Add(ctx, -1)
}

// fail marks the block unusable after the worker gave up.
func (b *Block) fail(err error) error {
	b.failed = fmt.Errorf("%w: %w", ErrWorkerStopped, err)
	log.Errorf("[bridge] %v", b.failed)
	return b.failed
}

func allZero(samples []float32) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}

func (b *Block) Stats() Stats {
	return Stats{
		Cycles:      b.cycles.Load(),
		ZeroBlocks:  b.zeroBlocks.Load(),
		ShortCycles: b.shortCycles.Load(),
		Stalls:      b.stalls.Load(),
		SamplesIn:   b.samplesIn.Load(),
		SamplesOut:  b.samplesOut.Load(),
		Pending:     b.pendingFlag.Load(),
	}
}

func (b *Block) Resolved() mode.Resolved {
	return b.conf.Resolved
}

// Close stops the worker and waits for it to exit before the cycle buffers
// are released. A Work call blocked on the decoder returns ErrClosed.
func (b *Block) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.cancel()
	b.ch.Close()
	<-b.done

	b.mu.Lock()
	b.inBuf = nil
	b.outBuf = nil
	b.mu.Unlock()

	log.Debug("[bridge] Closed")
	return b.workerErr
}
