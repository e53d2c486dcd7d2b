package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
	"github.com/Endilll/vapoursynth-preview-sub000/media"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

// Controller owns the scheduler lifecycle: at most one playback or
// benchmark run exists at a time, transitions are serialized under one
// mutex, and stopping joins the scheduler goroutine before returning:
// after Stop returns, no callback from the stopped run can fire.
//
// The controller is an owned instance passed explicitly to whoever needs
// it; there is no process-wide lookup.
type Controller struct {
	cfg Config
	src source.Source
	log *slog.Logger

	mu         sync.Mutex
	stream     *media.Stream
	onFrame    FrameReadyFunc
	onProgress ProgressFunc
	active     *activeRun
	lastRunFPS float64

	counters runCounters
}

// activeRun tracks one scheduler goroutine.
type activeRun struct {
	kind   State
	cancel context.CancelFunc
	// done closes when the scheduler goroutine has fully exited and the
	// window is cancelled; final is valid from then on.
	done   chan struct{}
	final  Progress
	rateCh chan float64 // playback pacing updates; nil for benchmarks
}

// NewController creates a pipeline controller for the given source.
func NewController(cfg Config, src source.Source, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg: cfg.withDefaults(),
		src: src,
		log: log,
	}
}

// SetCallbacks installs the UI notification hooks. Only allowed while no
// run is active, so a run never observes a half-updated pair.
func (c *Controller) SetCallbacks(onFrame FrameReadyFunc, onProgress ProgressFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile()
	if c.active != nil {
		return ErrBusy
	}
	c.onFrame = onFrame
	c.onProgress = onProgress
	return nil
}

// SwitchStream stops any active run, then attaches the new stream. The
// stop completes synchronously before the new stream's state is touched,
// so no in-flight completion can target it.
func (c *Controller) SwitchStream(s *media.Stream) error {
	if s == nil {
		return fmt.Errorf("pipeline: nil stream")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.stream = s
	if c.cfg.NominalRate > 0 {
		// The injected persisted rate wins over the stream default.
		if err := s.SetPlayRate(c.cfg.NominalRate); err != nil {
			return err
		}
	}
	c.log.Info("pipeline: stream attached",
		"stream", s.Name(),
		"frames", s.TotalFrames(),
		"size", fmt.Sprintf("%dx%d", s.Width(), s.Height()),
		"variable_rate", s.VariableRate(),
	)
	return nil
}

// Seek stops any active run and repositions the stream.
func (c *Controller) Seek(index clock.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNoStream
	}
	c.stopLocked()
	if !c.stream.Contains(index) {
		return ErrOutOfRange
	}
	c.stream.SetLastShown(index)
	return nil
}

// StartPlayback begins paced playback from the given frame. An active
// playback run is restarted; an active benchmark must be aborted first.
// Starting at the stream's last frame is a no-op.
func (c *Controller) StartPlayback(from clock.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNoStream
	}
	c.reconcile()
	if c.active != nil && c.active.kind == StateBenchmarking {
		return ErrBusy
	}
	c.stopLocked()

	if !c.stream.Contains(from) {
		return ErrOutOfRange
	}
	end := c.stream.EndFrame()
	if from >= end {
		c.log.Debug("pipeline: nothing to play", "from", from)
		return nil
	}
	c.stream.SetLastShown(from)

	// Never keep more requests in flight than frames remain.
	capacity := c.cfg.BufferSize
	if remaining := int64(end.Diff(from)); int64(capacity) > remaining {
		capacity = int(remaining)
	}

	win := newWindow(c.src, capacity, DrainSequenced, &c.counters)
	run := newPlaybackRun(c.stream, win, c.cfg.Unlimited, c.onFrame, c.onProgress, c.log)

	ctx, cancel := context.WithCancel(context.Background())
	active := &activeRun{
		kind:   StatePlaying,
		cancel: cancel,
		done:   make(chan struct{}),
		rateCh: run.rateCh,
	}
	c.active = active

	go func() {
		active.final = run.run(ctx)
		close(active.done)
	}()
	return nil
}

// StopPlayback stops an active playback run. Idempotent; safe to call
// in any state.
func (c *Controller) StopPlayback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile()
	if c.active != nil && c.active.kind == StatePlaying {
		c.stopLocked()
	}
}

// RunBenchmark drains [start, end] through the source at the given
// concurrency (0 selects the configured buffer size). Playback is
// stopped first; an active benchmark must be aborted explicitly.
func (c *Controller) RunBenchmark(start, end clock.Frame, mode DrainMode, concurrency int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNoStream
	}
	c.reconcile()
	if c.active != nil && c.active.kind == StateBenchmarking {
		return ErrBusy
	}
	c.stopLocked()

	if !c.stream.Contains(start) || !c.stream.Contains(end) || end < start {
		return ErrOutOfRange
	}
	if concurrency <= 0 {
		concurrency = c.cfg.BufferSize
	}
	if total := int64(end.Diff(start)) + 1; int64(concurrency) > total {
		concurrency = int(total)
	}

	win := newWindow(c.src, concurrency, mode, &c.counters)
	run := newBenchmarkRun(win, start, end, mode, c.onProgress, c.log)

	ctx, cancel := context.WithCancel(context.Background())
	active := &activeRun{
		kind:   StateBenchmarking,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.active = active

	go func() {
		active.final = run.run(ctx)
		close(active.done)
	}()
	return nil
}

// AbortBenchmark stops an active benchmark run. Idempotent.
func (c *Controller) AbortBenchmark() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile()
	if c.active != nil && c.active.kind == StateBenchmarking {
		c.stopLocked()
	}
}

// Stop stops whatever run is active. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// SetNominalRate updates the playback pacing rate. An active playback
// run re-arms its timer without dropping or duplicating any buffered
// frame.
func (c *Controller) SetNominalRate(fps float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNoStream
	}
	if err := c.stream.SetPlayRate(fps); err != nil {
		return err
	}
	c.reconcile()
	if c.active != nil && c.active.rateCh != nil {
		// Replace a stale pending update rather than blocking.
		select {
		case <-c.active.rateCh:
		default:
		}
		select {
		case c.active.rateCh <- fps:
		default:
		}
	}
	return nil
}

// IsRunning reports whether a scheduler is active.
func (c *Controller) IsRunning() bool {
	return c.State() != StateIdle
}

// State returns the current scheduler state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile()
	if c.active == nil {
		return StateIdle
	}
	return c.active.kind
}

// CurrentPosition returns the active stream's last shown frame, or 0
// when no stream is attached.
func (c *Controller) CurrentPosition() clock.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return 0
	}
	return c.stream.LastShown()
}

// Stats returns a snapshot of the pipeline counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile()

	st := Stats{
		State:      StateIdle,
		Submitted:  c.counters.submitted.Load(),
		Completed:  c.counters.completed.Load(),
		Failed:     c.counters.failed.Load(),
		Cancelled:  c.counters.cancelled.Load(),
		LastRunFPS: c.lastRunFPS,
	}
	if c.active != nil {
		st.State = c.active.kind
	}
	if c.stream != nil {
		st.Position = c.stream.LastShown()
	}
	return st
}

// stopLocked cancels the active run and waits for its goroutine to exit.
// Callers hold c.mu; the run goroutine never takes it, so waiting here
// cannot deadlock.
func (c *Controller) stopLocked() {
	if c.active == nil {
		return
	}
	c.active.cancel()
	<-c.active.done
	c.lastRunFPS = c.active.final.FPS
	c.log.Debug("pipeline: run stopped",
		"kind", c.active.kind,
		"frames", c.active.final.FramesDone,
		"fps", c.active.final.FPS,
	)
	c.active = nil
}

// reconcile collects a run that finished on its own (end of stream,
// range exhausted, source failure) so state reads as idle without an
// explicit stop.
func (c *Controller) reconcile() {
	if c.active == nil {
		return
	}
	select {
	case <-c.active.done:
		c.lastRunFPS = c.active.final.FPS
		c.active.cancel()
		c.active = nil
	default:
	}
}
