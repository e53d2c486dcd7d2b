package source

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
)

// SyntheticConfig configures a Synthetic source.
type SyntheticConfig struct {
	// Width and Height of the produced frames in pixels.
	Width  int
	Height int
	// Workers is the decode pool size. Defaults to the number of CPUs.
	Workers int
	// Latency is the base time to produce one frame.
	Latency time.Duration
	// Jitter adds up to this much uniformly random extra latency,
	// making completions arrive out of submission order.
	Jitter time.Duration
	// FailAt injects a decode failure at this index. Negative disables.
	FailAt clock.Frame
}

// SyntheticStats is a snapshot of source counters.
type SyntheticStats struct {
	Requested uint64
	Completed uint64
	Failed    uint64
	Cancelled uint64
}

// Synthetic is an in-process frame engine that simulates a decoder with
// configurable latency. It exists so the pipeline can be driven and
// stress-tested without a real frameserver attached.
//
// Lifecycle: NewSynthetic -> Start -> RequestFrame... -> Stop.
// All methods are safe for concurrent use.
type Synthetic struct {
	cfg SyntheticConfig

	jobs chan *syntheticRequest
	quit chan struct{}
	wg   sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	stopped   bool

	requested atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
}

// NewSynthetic creates a synthetic source with fail-fast validation.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("source: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Latency < 0 || cfg.Jitter < 0 {
		return nil, fmt.Errorf("source: negative latency settings")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Synthetic{
		cfg:  cfg,
		jobs: make(chan *syntheticRequest, cfg.Workers*4),
		quit: make(chan struct{}),
	}, nil
}

// Start spawns the decode worker pool. The pool runs until Stop or ctx
// cancellation, whichever comes first.
func (s *Synthetic) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return errors.New("source: synthetic source already started")
	}
	s.started = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.decodeLoop(ctx)
	}
	return nil
}

// Stop shuts the pool down and resolves every queued request with
// ErrCancelled. Idempotent.
func (s *Synthetic) Stop() error {
	s.startedMu.Lock()
	if !s.started || s.stopped {
		s.startedMu.Unlock()
		return nil
	}
	s.stopped = true
	s.startedMu.Unlock()

	close(s.quit)
	s.wg.Wait()

	// Flush whatever the workers never picked up.
	for {
		select {
		case req := <-s.jobs:
			if req.resolve(nil, ErrCancelled) {
				s.cancelled.Add(1)
			}
		default:
			return nil
		}
	}
}

// RequestFrame implements Source.
func (s *Synthetic) RequestFrame(index clock.Frame) Request {
	req := &syntheticRequest{
		src:     s,
		index:   index,
		traceID: uuid.NewString(),
		done:    make(chan struct{}),
	}
	s.requested.Add(1)

	s.startedMu.Lock()
	running := s.started && !s.stopped
	s.startedMu.Unlock()
	if !running {
		req.resolve(nil, errors.New("source: synthetic source not running"))
		s.failed.Add(1)
		return req
	}

	select {
	case s.jobs <- req:
	case <-s.quit:
		if req.resolve(nil, ErrCancelled) {
			s.cancelled.Add(1)
		}
	}
	return req
}

// Stats returns a snapshot of the source counters.
func (s *Synthetic) Stats() SyntheticStats {
	return SyntheticStats{
		Requested: s.requested.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
	}
}

func (s *Synthetic) decodeLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case req := <-s.jobs:
			s.decode(ctx, req)
		}
	}
}

func (s *Synthetic) decode(ctx context.Context, req *syntheticRequest) {
	if req.isCancelled() {
		// Already resolved by Cancel; nothing to decode.
		return
	}

	delay := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		delay += rand.N(s.cfg.Jitter)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.quit:
			if req.resolve(nil, ErrCancelled) {
				s.cancelled.Add(1)
			}
			return
		case <-ctx.Done():
			if req.resolve(nil, ErrCancelled) {
				s.cancelled.Add(1)
			}
			return
		}
	}

	if s.cfg.FailAt >= 0 && req.index == s.cfg.FailAt {
		err := &DecodeError{Index: req.index, Err: errors.New("injected decode failure")}
		if req.resolve(nil, err) {
			s.failed.Add(1)
		}
		return
	}

	if req.resolve(s.renderFrame(req), nil) {
		s.completed.Add(1)
	}
}

// renderFrame produces a deterministic payload: a flat plane filled with
// a byte derived from the index, enough to make frames distinguishable
// in tests without doing real pixel work.
func (s *Synthetic) renderFrame(req *syntheticRequest) *Frame {
	data := make([]byte, s.cfg.Width*s.cfg.Height)
	fill := byte(req.index % 251)
	for i := range data {
		data[i] = fill
	}
	return &Frame{
		Index:     req.index,
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Data:      data,
		TraceID:   req.traceID,
		DecodedAt: time.Now(),
	}
}

// syntheticRequest resolves exactly once; the once guard arbitrates
// between a worker finishing the decode and a concurrent Cancel.
type syntheticRequest struct {
	src     *Synthetic
	index   clock.Frame
	traceID string

	once      sync.Once
	done      chan struct{}
	frame     *Frame
	err       error
	cancelled atomic.Bool
}

func (r *syntheticRequest) Index() clock.Frame { return r.index }

func (r *syntheticRequest) Done() <-chan struct{} { return r.done }

func (r *syntheticRequest) Result() (*Frame, error) {
	<-r.done
	return r.frame, r.err
}

func (r *syntheticRequest) Cancel() {
	r.cancelled.Store(true)
	if r.resolve(nil, ErrCancelled) && r.src != nil {
		r.src.cancelled.Add(1)
	}
}

func (r *syntheticRequest) isCancelled() bool {
	return r.cancelled.Load()
}

// resolve settles the request. Returns true for the call that won the
// race; later calls are no-ops.
func (r *syntheticRequest) resolve(frame *Frame, err error) bool {
	won := false
	r.once.Do(func() {
		r.frame = frame
		r.err = err
		close(r.done)
		won = true
	})
	return won
}
