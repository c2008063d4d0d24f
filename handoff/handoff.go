// Package handoff moves one cycle of samples between the stream side and the
// decoder goroutine.
//
// A cycle is two messages: an Input carrying the input run and the
// destination slice to the decoder, and an Output carrying the produced
// sample count back. Each direction is a channel with room for exactly one
// message, so at most one cycle can ever be in flight and the slices are only
// touched by whichever side currently holds the message.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrClosed  = errors.New("handoff closed")
	ErrTimeout = errors.New("handoff timed out waiting for output")
)

// Input is the "input ready" message. Dest is the output destination for the
// cycle; its length is the requested output length and the decoder must not
// write past it.
type Input struct {
	Seq     uint64
	Samples []float32
	Dest    []float32
}

// Output is the "cycle finished" message.
type Output struct {
	Seq      uint64
	Consumed int
	Produced int
	Err      error
}

type Channel struct {
	input  chan Input
	output chan Output
	done   chan struct{}
	once   sync.Once
}

func New() *Channel {
	return &Channel{
		input:  make(chan Input, 1),
		output: make(chan Output, 1),
		done:   make(chan struct{}),
	}
}

// Publish hands a new cycle to the decoder. It never blocks: a queued Input
// that was not picked up yet means two cycles are in flight, which is a
// protocol violation and panics.
func (c *Channel) Publish(in Input) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.input <- in:
		return nil
	default:
		panic(fmt.Sprintf("handoff: cycle %d published while a previous cycle is still queued", in.Seq))
	}
}

// Receive blocks until an Input is published, ctx is cancelled or the channel
// is closed.
func (c *Channel) Receive(ctx context.Context) (Input, error) {
	select {
	case in := <-c.input:
		return in, nil
	case <-c.done:
		return Input{}, ErrClosed
	case <-ctx.Done():
		return Input{}, ctx.Err()
	}
}

// Finish publishes the result of the current cycle.
func (c *Channel) Finish(ctx context.Context, out Output) error {
	select {
	case c.output <- out:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await blocks until the decoder finishes the current cycle. A timeout <= 0
// waits forever.
func (c *Channel) Await(timeout time.Duration) (Output, error) {
	if timeout <= 0 {
		select {
		case out := <-c.output:
			return out, nil
		case <-c.done:
			return Output{}, ErrClosed
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-c.output:
		return out, nil
	case <-c.done:
		return Output{}, ErrClosed
	case <-timer.C:
		return Output{}, ErrTimeout
	}
}

// Close wakes both sides. Any blocked Receive, Finish or Await returns
// ErrClosed. Safe to call more than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
