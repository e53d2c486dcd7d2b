package internal

import (
	"context"
	"errors"
	"sync"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

// errWindowEmpty guards drains on an empty window; schedulers check
// len() first, so reaching it is a scheduler bug.
var errWindowEmpty = errors.New("pipeline: drain on empty prefetch window")

// window is the prefetch window: a bounded, ordered set of in-flight
// decode requests.
//
// Ownership: a single scheduler goroutine mutates the pending deque and
// calls submit/drain/cancelAll. The frame source resolves requests on
// its own execution contexts; in unsequenced mode small forwarder
// goroutines hand completions back to the owner through a channel, so
// no completion callback ever runs scheduler code concurrently.
type window struct {
	src      source.Source
	capacity int
	mode     DrainMode
	counters *runCounters

	// pending holds outstanding requests in submission order; the head
	// is the oldest.
	pending []source.Request

	// completions carries resolved requests to the owner in unsequenced
	// mode. Buffered to capacity so forwarders never block on a live
	// consumer.
	completions chan source.Request

	// quit gates the forwarders: once closed, nothing more is delivered.
	quit   chan struct{}
	fwd    sync.WaitGroup
	closed bool
}

func newWindow(src source.Source, capacity int, mode DrainMode, counters *runCounters) *window {
	w := &window{
		src:      src,
		capacity: capacity,
		mode:     mode,
		counters: counters,
		quit:     make(chan struct{}),
	}
	if mode == DrainUnsequenced {
		w.completions = make(chan source.Request, capacity)
	}
	return w
}

func (w *window) len() int { return len(w.pending) }

// submit issues a decode request for index and appends it to the window.
// Fails with ErrWindowFull at capacity: the caller must drain first.
func (w *window) submit(index clock.Frame) error {
	if len(w.pending) >= w.capacity {
		return ErrWindowFull
	}
	req := w.src.RequestFrame(index)
	w.counters.submitted.Add(1)
	w.pending = append(w.pending, req)
	if w.mode == DrainUnsequenced {
		w.fwd.Add(1)
		go w.forward(req)
	}
	return nil
}

// drainSequenced waits for the oldest outstanding request, removes it,
// and returns its result. Returns the context error if ctx is cancelled
// while waiting; the request then stays pending for cancelAll.
func (w *window) drainSequenced(ctx context.Context) (*source.Frame, error) {
	if len(w.pending) == 0 {
		return nil, errWindowEmpty
	}
	head := w.pending[0]
	select {
	case <-head.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	w.pending = w.pending[1:]
	return w.settle(head)
}

// drained returns the completion channel for unsequenced consumption.
// Nil in sequenced mode.
func (w *window) drained() <-chan source.Request {
	return w.completions
}

// take removes a request delivered through the completions channel and
// returns its result.
func (w *window) take(req source.Request) (*source.Frame, error) {
	for i, r := range w.pending {
		if r == req {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			break
		}
	}
	return w.settle(req)
}

// settle classifies a resolved request for the counters.
func (w *window) settle(req source.Request) (*source.Frame, error) {
	frame, err := req.Result()
	switch {
	case err == nil:
		w.counters.completed.Add(1)
	case errors.Is(err, source.ErrCancelled):
		w.counters.cancelled.Add(1)
	default:
		w.counters.failed.Add(1)
	}
	return frame, err
}

// cancelAll cancels every outstanding request and discards their
// results. Once it returns, the completions channel is empty and stays
// empty: every forwarder has exited and anything they managed to
// deliver has been flushed. A late resolution of a cancelled request is
// never observed by anyone.
func (w *window) cancelAll() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.quit)
	for _, req := range w.pending {
		req.Cancel()
		w.counters.cancelled.Add(1)
	}
	w.pending = nil

	if w.completions != nil {
		w.fwd.Wait()
		for {
			select {
			case <-w.completions:
			default:
				return
			}
		}
	}
}

// forward hands one resolved request back to the owning scheduler.
func (w *window) forward(req source.Request) {
	defer w.fwd.Done()
	select {
	case <-req.Done():
	case <-w.quit:
		return
	}
	select {
	case w.completions <- req:
	case <-w.quit:
	}
}
