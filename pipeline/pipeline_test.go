package pipeline_test

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
	"github.com/Endilll/vapoursynth-preview-sub000/media"
	"github.com/Endilll/vapoursynth-preview-sub000/pipeline"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

// --- Test doubles ---

// testRequest is a decode request the test resolves by hand (or the
// source auto-resolves with random latency).
type testRequest struct {
	src   *testSource
	index clock.Frame
	done  chan struct{}
	once  sync.Once
	frame *source.Frame
	err   error
}

func (r *testRequest) Index() clock.Frame    { return r.index }
func (r *testRequest) Done() <-chan struct{} { return r.done }

func (r *testRequest) Result() (*source.Frame, error) {
	<-r.done
	return r.frame, r.err
}

func (r *testRequest) Cancel() {
	if r.src.advisoryCancel {
		// Engine keeps decoding; models a completion already in flight
		// when the cancel arrives.
		return
	}
	r.resolve(nil, source.ErrCancelled)
}

func (r *testRequest) resolve(frame *source.Frame, err error) {
	r.once.Do(func() {
		r.frame = frame
		r.err = err
		r.src.noteResolved()
		close(r.done)
	})
}

// testSource records every submission and tracks how many requests are
// in flight at once.
type testSource struct {
	auto           bool
	jitter         time.Duration
	failAt         clock.Frame
	advisoryCancel bool

	mu          sync.Mutex
	requests    []*testRequest
	inFlight    int
	maxInFlight int
}

func newTestSource() *testSource {
	return &testSource{failAt: -1}
}

func (s *testSource) RequestFrame(index clock.Frame) source.Request {
	req := &testRequest{src: s, index: index, done: make(chan struct{})}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	auto := s.auto
	s.mu.Unlock()

	if auto {
		go func() {
			if s.jitter > 0 {
				time.Sleep(rand.N(s.jitter))
			}
			if s.failAt >= 0 && index == s.failAt {
				req.resolve(nil, &source.DecodeError{Index: index, Err: errors.New("broken frame")})
				return
			}
			req.resolve(&source.Frame{Index: index, Width: 16, Height: 16}, nil)
		}()
	}
	return req
}

func (s *testSource) noteResolved() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

// complete resolves the oldest unresolved request for index with a frame.
func (s *testSource) complete(t *testing.T, index clock.Frame) {
	t.Helper()
	s.mu.Lock()
	var target *testRequest
	for _, req := range s.requests {
		if req.index != index {
			continue
		}
		select {
		case <-req.done:
			continue
		default:
		}
		target = req
		break
	}
	// Resolve outside the lock: resolve calls back into noteResolved,
	// which takes s.mu.
	s.mu.Unlock()
	if target == nil {
		t.Fatalf("no unresolved request for frame %d", index)
	}
	target.resolve(&source.Frame{Index: index, Width: 16, Height: 16}, nil)
}

func (s *testSource) hasRequest(index clock.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.index == index {
			return true
		}
	}
	return false
}

// submissions returns how many requests were issued per index.
func (s *testSource) submissions() map[clock.Frame]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[clock.Frame]int)
	for _, req := range s.requests {
		out[req.index]++
	}
	return out
}

func (s *testSource) peakInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// recorder captures delivered frames and progress reports.
type recorder struct {
	mu       sync.Mutex
	frames   []clock.Frame
	progress []pipeline.Progress
}

func (r *recorder) onFrame(index clock.Frame, _ *source.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, index)
	r.mu.Unlock()
}

func (r *recorder) onProgress(p pipeline.Progress) {
	r.mu.Lock()
	r.progress = append(r.progress, p)
	r.mu.Unlock()
}

func (r *recorder) delivered() []clock.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]clock.Frame(nil), r.frames...)
}

func (r *recorder) finalProgress() (pipeline.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.progress) - 1; i >= 0; i-- {
		if r.progress[i].Final {
			return r.progress[i], true
		}
	}
	return pipeline.Progress{}, false
}

// --- Helpers ---

func newTestStream(t *testing.T, frames clock.FrameInterval) *media.Stream {
	t.Helper()
	s, err := media.NewStream(media.StreamConfig{
		Name:        "clip",
		Width:       640,
		Height:      360,
		TotalFrames: frames,
		Rate:        clock.Rate{Num: 24, Den: 1},
	})
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	return s
}

func newController(t *testing.T, cfg pipeline.Config, src source.Source, stream *media.Stream, rec *recorder) *pipeline.Controller {
	t.Helper()
	ctl := pipeline.New(cfg, src)
	if rec != nil {
		if err := ctl.SetCallbacks(rec.onFrame, rec.onProgress); err != nil {
			t.Fatalf("SetCallbacks failed: %v", err)
		}
	}
	if stream != nil {
		if err := ctl.SwitchStream(stream); err != nil {
			t.Fatalf("SwitchStream failed: %v", err)
		}
	}
	t.Cleanup(ctl.Stop)
	return ctl
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, ctl *pipeline.Controller) {
	t.Helper()
	waitFor(t, 10*time.Second, "controller to go idle", func() bool {
		return !ctl.IsRunning()
	})
}

func expectSequence(t *testing.T, got []clock.Frame, first, last clock.Frame) {
	t.Helper()
	want := int(last.Diff(first)) + 1
	if len(got) != want {
		t.Fatalf("delivered %d frames, want %d (%d..%d)", len(got), want, first, last)
	}
	for i, f := range got {
		if expect := first.Add(clock.FrameInterval(i)); f != expect {
			t.Fatalf("delivery %d: frame %d, want %d", i, f, expect)
		}
	}
}

// --- Scenarios ---

// TestPlaybackDeliversInOrder validates the core ordering guarantee:
// playback started at index i on a stream of length N presents exactly
// i+1..N-1, no repeats, no gaps, even though the source completes
// requests out of order.
func TestPlaybackDeliversInOrder(t *testing.T) {
	src := newTestSource()
	src.auto = true
	src.jitter = 5 * time.Millisecond

	stream := newTestStream(t, 40)
	rec := &recorder{}
	ctl := newController(t, pipeline.Config{BufferSize: 8, Unlimited: true}, src, stream, rec)

	if err := ctl.StartPlayback(4); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitIdle(t, ctl)

	expectSequence(t, rec.delivered(), 5, 39)

	final, ok := rec.finalProgress()
	if !ok {
		t.Fatal("no final progress report")
	}
	if final.FramesDone != 35 || final.Failed {
		t.Errorf("final progress = %+v, want 35 frames, not failed", final)
	}
	if pos := ctl.CurrentPosition(); pos != 39 {
		t.Errorf("position after playback = %d, want 39", pos)
	}
}

// TestPlaybackBoundsInFlight validates that the number of outstanding
// requests never exceeds the configured buffer size.
func TestPlaybackBoundsInFlight(t *testing.T) {
	src := newTestSource()
	src.auto = true
	src.jitter = 3 * time.Millisecond

	stream := newTestStream(t, 60)
	ctl := newController(t, pipeline.Config{BufferSize: 5, Unlimited: true}, src, stream, &recorder{})

	if err := ctl.StartPlayback(0); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitIdle(t, ctl)

	if peak := src.peakInFlight(); peak > 5 {
		t.Errorf("peak in-flight = %d, exceeds buffer size 5", peak)
	}
}

// TestStopDiscardsLateCompletions validates the staleness guarantee:
// stop playback after requests are submitted but before any completes,
// run a benchmark, then let the old requests complete. Neither the UI
// nor the benchmark counters may observe them.
func TestStopDiscardsLateCompletions(t *testing.T) {
	src := newTestSource()
	src.advisoryCancel = true // cancels don't resolve; decode "finishes" later

	stream := newTestStream(t, 200)
	rec := &recorder{}
	ctl := newController(t, pipeline.Config{BufferSize: 5}, src, stream, rec)

	if err := ctl.StartPlayback(0); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitFor(t, time.Second, "playback prefill", func() bool {
		return src.hasRequest(5)
	})
	ctl.StopPlayback()

	if err := ctl.RunBenchmark(100, 105, pipeline.DrainUnsequenced, 3); err != nil {
		t.Fatalf("RunBenchmark failed: %v", err)
	}
	for i := clock.Frame(100); i <= 105; i++ {
		idx := i
		waitFor(t, time.Second, "benchmark submission", func() bool {
			return src.hasRequest(idx)
		})
		src.complete(t, idx)
	}
	waitIdle(t, ctl)

	// The old run's frame 5 completes only now.
	src.complete(t, 5)
	time.Sleep(50 * time.Millisecond)

	if got := rec.delivered(); len(got) != 0 {
		t.Errorf("stale frames delivered to UI: %v", got)
	}
	final, ok := rec.finalProgress()
	if !ok {
		t.Fatal("no final benchmark report")
	}
	if final.FramesDone != 6 {
		t.Errorf("benchmark counted %d frames, want 6", final.FramesDone)
	}

	subs := src.submissions()
	for i := clock.Frame(100); i <= 105; i++ {
		if subs[i] != 1 {
			t.Errorf("frame %d submitted %d times, want 1", i, subs[i])
		}
	}
}

// TestBenchmarkSubmitsEachIndexOnce validates that both modes submit
// exactly end-start+1 requests, one per index, regardless of completion
// order.
func TestBenchmarkSubmitsEachIndexOnce(t *testing.T) {
	for _, mode := range []pipeline.DrainMode{pipeline.DrainSequenced, pipeline.DrainUnsequenced} {
		t.Run(mode.String(), func(t *testing.T) {
			src := newTestSource()
			src.auto = true
			src.jitter = 3 * time.Millisecond

			stream := newTestStream(t, 100)
			rec := &recorder{}
			ctl := newController(t, pipeline.Config{BufferSize: 4}, src, stream, rec)

			if err := ctl.RunBenchmark(10, 19, mode, 4); err != nil {
				t.Fatalf("RunBenchmark failed: %v", err)
			}
			waitIdle(t, ctl)

			subs := src.submissions()
			if len(subs) != 10 {
				t.Errorf("submitted %d distinct indices, want 10", len(subs))
			}
			for i := clock.Frame(10); i <= 19; i++ {
				if subs[i] != 1 {
					t.Errorf("frame %d submitted %d times, want 1", i, subs[i])
				}
			}
			final, ok := rec.finalProgress()
			if !ok {
				t.Fatal("no final report")
			}
			if final.FramesDone != 10 || final.Failed {
				t.Errorf("final = %+v, want 10 frames, not failed", final)
			}
		})
	}
}

// TestSwitchStreamStopsActiveRun validates that switching streams fully
// cancels the old run before the new stream's state is touched.
func TestSwitchStreamStopsActiveRun(t *testing.T) {
	src := newTestSource()
	src.auto = true
	src.jitter = 20 * time.Millisecond

	stream := newTestStream(t, 1000)
	rec := &recorder{}
	ctl := newController(t, pipeline.Config{BufferSize: 4}, src, stream, rec)

	if err := ctl.StartPlayback(0); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitFor(t, time.Second, "some playback progress", func() bool {
		return len(rec.delivered()) > 0
	})

	next := newTestStream(t, 50)
	if err := ctl.SwitchStream(next); err != nil {
		t.Fatalf("SwitchStream failed: %v", err)
	}
	if ctl.IsRunning() {
		t.Error("controller still running after SwitchStream")
	}

	seen := len(rec.delivered())
	time.Sleep(100 * time.Millisecond)
	if got := len(rec.delivered()); got != seen {
		t.Errorf("frames delivered after SwitchStream: %d -> %d", seen, got)
	}
	if pos := ctl.CurrentPosition(); pos != 0 {
		t.Errorf("position on new stream = %d, want 0", pos)
	}
}

// TestSetNominalRateWhilePlaying validates that a mid-run rate change
// re-paces without dropping or duplicating any buffered frame.
func TestSetNominalRateWhilePlaying(t *testing.T) {
	src := newTestSource()
	src.auto = true

	stream := newTestStream(t, 30)
	if err := stream.SetPlayRate(50); err != nil {
		t.Fatalf("SetPlayRate failed: %v", err)
	}
	rec := &recorder{}
	ctl := newController(t, pipeline.Config{BufferSize: 4}, src, stream, rec)

	if err := ctl.StartPlayback(0); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitFor(t, 2*time.Second, "a few frames", func() bool {
		return len(rec.delivered()) >= 5
	})
	if err := ctl.SetNominalRate(500); err != nil {
		t.Fatalf("SetNominalRate failed: %v", err)
	}
	waitIdle(t, ctl)

	expectSequence(t, rec.delivered(), 1, 29)
	if got := stream.PlayRate(); got != 500 {
		t.Errorf("stream play rate = %f, want 500", got)
	}
}

// TestPlaybackHaltsOnDecodeFailure validates the failure policy: the
// run stops at the broken frame, the last good frame stays current, and
// the failure is reported through the progress notification.
func TestPlaybackHaltsOnDecodeFailure(t *testing.T) {
	src := newTestSource()
	src.auto = true
	src.failAt = 10

	stream := newTestStream(t, 30)
	rec := &recorder{}
	ctl := newController(t, pipeline.Config{BufferSize: 4, Unlimited: true}, src, stream, rec)

	if err := ctl.StartPlayback(0); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitIdle(t, ctl)

	expectSequence(t, rec.delivered(), 1, 9)
	if pos := ctl.CurrentPosition(); pos != 9 {
		t.Errorf("position after failure = %d, want 9", pos)
	}

	final, ok := rec.finalProgress()
	if !ok {
		t.Fatal("no final report")
	}
	if !final.Failed {
		t.Error("final report not marked failed")
	}
	var decodeErr *source.DecodeError
	if !errors.As(final.Err, &decodeErr) {
		t.Errorf("final error = %v, want *DecodeError", final.Err)
	}
}

func TestStartPlaybackValidation(t *testing.T) {
	src := newTestSource()
	src.auto = true

	noStream := pipeline.New(pipeline.Config{}, src)
	if err := noStream.StartPlayback(0); !errors.Is(err, pipeline.ErrNoStream) {
		t.Errorf("no stream: error = %v, want ErrNoStream", err)
	}

	stream := newTestStream(t, 10)
	ctl := newController(t, pipeline.Config{BufferSize: 2, Unlimited: true}, src, stream, &recorder{})

	if err := ctl.StartPlayback(10); !errors.Is(err, pipeline.ErrOutOfRange) {
		t.Errorf("out of range: error = %v, want ErrOutOfRange", err)
	}
	// Starting at the last frame has nothing to play and stays idle.
	if err := ctl.StartPlayback(9); err != nil {
		t.Errorf("start at end: error = %v, want nil", err)
	}
	if ctl.IsRunning() {
		t.Error("controller running after no-op start")
	}
}

func TestBenchmarkExclusion(t *testing.T) {
	src := newTestSource()
	src.auto = true
	src.jitter = 30 * time.Millisecond

	stream := newTestStream(t, 1000)
	ctl := newController(t, pipeline.Config{BufferSize: 2}, src, stream, &recorder{})

	if err := ctl.RunBenchmark(0, 500, pipeline.DrainSequenced, 2); err != nil {
		t.Fatalf("RunBenchmark failed: %v", err)
	}
	if err := ctl.RunBenchmark(0, 10, pipeline.DrainSequenced, 2); !errors.Is(err, pipeline.ErrBusy) {
		t.Errorf("second benchmark: error = %v, want ErrBusy", err)
	}
	if err := ctl.StartPlayback(0); !errors.Is(err, pipeline.ErrBusy) {
		t.Errorf("playback during benchmark: error = %v, want ErrBusy", err)
	}

	ctl.AbortBenchmark()
	if ctl.IsRunning() {
		t.Error("controller running after abort")
	}
	ctl.AbortBenchmark() // idempotent
}

// TestBenchmarkAbortReportsPartial validates that an aborted run reports
// throughput up to the abort point and cancels the rest.
func TestBenchmarkAbortReportsPartial(t *testing.T) {
	src := newTestSource()
	src.auto = true
	src.jitter = 20 * time.Millisecond

	stream := newTestStream(t, 1000)
	rec := &recorder{}
	ctl := newController(t, pipeline.Config{BufferSize: 4}, src, stream, rec)

	if err := ctl.RunBenchmark(0, 999, pipeline.DrainUnsequenced, 4); err != nil {
		t.Fatalf("RunBenchmark failed: %v", err)
	}
	waitFor(t, 2*time.Second, "some benchmark progress", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.progress) > 0
	})
	ctl.AbortBenchmark()

	final, ok := rec.finalProgress()
	if !ok {
		t.Fatal("no final report after abort")
	}
	if final.Failed {
		t.Error("abort must not be reported as failure")
	}
	if final.FramesDone <= 0 || final.FramesDone >= 1000 {
		t.Errorf("partial frames = %d, want in (0, 1000)", final.FramesDone)
	}

	stats := ctl.Stats()
	if stats.Cancelled == 0 {
		t.Error("no requests recorded as cancelled after abort")
	}
}

// TestStatsAccounting sanity-checks the lifetime counters across runs.
func TestStatsAccounting(t *testing.T) {
	src := newTestSource()
	src.auto = true

	stream := newTestStream(t, 20)
	ctl := newController(t, pipeline.Config{BufferSize: 3, Unlimited: true}, src, stream, &recorder{})

	if err := ctl.StartPlayback(0); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	waitIdle(t, ctl)
	if err := ctl.RunBenchmark(0, 9, pipeline.DrainSequenced, 3); err != nil {
		t.Fatalf("RunBenchmark failed: %v", err)
	}
	waitIdle(t, ctl)

	stats := ctl.Stats()
	if stats.State != pipeline.StateIdle {
		t.Errorf("state = %v, want idle", stats.State)
	}
	if stats.Submitted != 29 { // 19 playback + 10 benchmark
		t.Errorf("submitted = %d, want 29", stats.Submitted)
	}
	if stats.Completed != stats.Submitted {
		t.Errorf("completed = %d, want %d", stats.Completed, stats.Submitted)
	}
	if stats.LastRunFPS <= 0 {
		t.Error("LastRunFPS not recorded")
	}
}
