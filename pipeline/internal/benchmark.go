package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

// benchmarkProgressInterval throttles progress notifications during a
// run; reports happen on completion boundaries, at most this often.
const benchmarkProgressInterval = 150 * time.Millisecond

// benchmarkRun drains a closed frame range through the prefetch window
// as fast as the source allows and measures throughput.
//
// Sequenced mode mirrors playback's sliding window without pacing.
// Unsequenced mode consumes completions from the window's channel and
// submits the next unsubmitted index on each one: an explicit queue
// rather than resubmission from inside completion callbacks, so a fast
// source cannot grow the stack or starve the loop.
type benchmarkRun struct {
	window     *window
	start, end clock.Frame
	mode       DrainMode
	onProgress ProgressFunc
	log        *slog.Logger
}

func newBenchmarkRun(win *window, start, end clock.Frame, mode DrainMode,
	onProgress ProgressFunc, log *slog.Logger) *benchmarkRun {
	return &benchmarkRun{
		window:     win,
		start:      start,
		end:        end,
		mode:       mode,
		onProgress: onProgress,
		log:        log,
	}
}

// run executes the benchmark until the range is exhausted, the context
// is cancelled, or the source fails. Returns the final report. Exactly
// end-start+1 requests are submitted over a full run, one per index.
func (b *benchmarkRun) run(ctx context.Context) Progress {
	defer b.window.cancelAll()

	total := b.end.Diff(b.start).Add(1)
	nextSubmit := b.start

	// Prefill up to the window's concurrency.
	for i := 0; i < b.window.capacity && nextSubmit <= b.end; i++ {
		if err := b.window.submit(nextSubmit); err != nil {
			b.log.Error("pipeline: benchmark prefill failed", "frame", nextSubmit, "error", err)
			return b.finish(0, time.Now(), err)
		}
		nextSubmit = nextSubmit.Add(1)
	}

	b.log.Debug("pipeline: benchmark started",
		"start", b.start,
		"end", b.end,
		"mode", b.mode,
		"concurrency", b.window.capacity,
	)

	began := time.Now()
	lastReport := began
	var done clock.FrameInterval

	for done < total {
		var err error
		switch b.mode {
		case DrainSequenced:
			_, err = b.window.drainSequenced(ctx)
		case DrainUnsequenced:
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case req := <-b.window.drained():
				_, err = b.window.take(req)
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, source.ErrCancelled) {
				// Aborted: report partial throughput.
				return b.finish(done, began, nil)
			}
			b.log.Error("pipeline: benchmark halted by frame source", "error", err)
			return b.finish(done, began, err)
		}

		done++
		if nextSubmit <= b.end {
			if err := b.window.submit(nextSubmit); err != nil {
				b.log.Error("pipeline: benchmark refill failed", "frame", nextSubmit, "error", err)
				return b.finish(done, began, err)
			}
			nextSubmit = nextSubmit.Add(1)
		}

		if now := time.Now(); now.Sub(lastReport) >= benchmarkProgressInterval {
			lastReport = now
			b.report(done, began)
		}
	}

	return b.finish(done, began, nil)
}

func (b *benchmarkRun) report(done clock.FrameInterval, began time.Time) {
	if b.onProgress == nil {
		return
	}
	elapsed := time.Since(began)
	b.onProgress(Progress{
		FramesDone: done,
		Elapsed:    clock.TimeInterval(elapsed),
		FPS:        overallFPS(done, elapsed),
	})
}

func (b *benchmarkRun) finish(done clock.FrameInterval, began time.Time, err error) Progress {
	elapsed := time.Since(began)
	final := Progress{
		FramesDone: done,
		Elapsed:    clock.TimeInterval(elapsed),
		FPS:        overallFPS(done, elapsed),
		Final:      true,
		Failed:     err != nil,
		Err:        err,
	}
	if b.onProgress != nil {
		b.onProgress(final)
	}
	return final
}
