package decode

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/dsdtuner/handoff"
)

var (
	ErrEngineContract = errors.New("decode engine broke its contract")
	ErrEnginePanic    = errors.New("decode engine panicked")
)

// Engine is the decoder proper. Decode consumes a prefix of in and writes
// decoded PCM to the front of out, returning how much of each it used. It may
// consume input without producing output and the other way round, but it must
// never report more than it was given.
type Engine interface {
	Decode(in, out []float32) (consumed, produced int)
}

// Worker owns the decoder side of a handoff.Channel. Start runs the receive,
// decode, finish loop on the calling goroutine until the channel is closed or
// the context is cancelled.
type Worker struct {
	ch     *handoff.Channel
	engine Engine
}

func NewWorker(ch *handoff.Channel, engine Engine) *Worker {
	return &Worker{
		ch:     ch,
		engine: engine,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	for {
		in, err := w.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) || ctx.Err() != nil {
				log.Debug("[decode] Worker stopping")
				return nil
			}
			return err
		}

		out := w.drain(in)
		log.Debugf("[decode] Cycle %d: consumed %d/%d, produced %d/%d", in.Seq, out.Consumed, len(in.Samples), out.Produced, len(in.Dest))

		if err := w.ch.Finish(ctx, out); err != nil {
			log.Debug("[decode] Worker stopping before cycle was collected")
			return nil
		}
		if out.Err != nil {
			log.Errorf("[decode] Worker stopped: %v", out.Err)
			return out.Err
		}
	}
}

// drain feeds the input run to the engine until the destination is full, the
// input is used up, or the engine stops making progress.
func (w *Worker) drain(in handoff.Input) (out handoff.Output) {
	out.Seq = in.Seq

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: %v", ErrEnginePanic, r)
		}
	}()

	offset, written := 0, 0
	for written < len(in.Dest) && offset < len(in.Samples) {
		src := in.Samples[offset:]
		dst := in.Dest[written:]

		consumed, produced := w.engine.Decode(src, dst)
		if consumed < 0 || produced < 0 || consumed > len(src) || produced > len(dst) {
			out.Consumed, out.Produced = offset, written
			out.Err = fmt.Errorf("%w: reported %d/%d consumed, %d/%d produced", ErrEngineContract, consumed, len(src), produced, len(dst))
			return out
		}
		if consumed == 0 && produced == 0 {
			break
		}

		offset += consumed
		written += produced
	}

	out.Consumed = offset
	out.Produced = written
	return out
}
