package internal

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
	"github.com/Endilll/vapoursynth-preview-sub000/media"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

// playbackProgressInterval is how often a running playback reports
// progress and measured fps.
const playbackProgressInterval = time.Second

// playbackRun drives continuous forward playback of one stream.
//
// The run owns its prefetch window and is the only goroutine touching
// it. Pacing comes from a ticker; rate changes re-arm the ticker through
// rateCh without disturbing window contents. Delivery order is strictly
// increasing frame index: sequencing is enforced by draining the oldest
// request, not by completion order.
type playbackRun struct {
	stream     *media.Stream
	window     *window
	unlimited  bool
	onFrame    FrameReadyFunc
	onProgress ProgressFunc
	rateCh     chan float64
	log        *slog.Logger
	meter      *meter
}

func newPlaybackRun(stream *media.Stream, win *window, unlimited bool,
	onFrame FrameReadyFunc, onProgress ProgressFunc, log *slog.Logger) *playbackRun {
	return &playbackRun{
		stream:     stream,
		window:     win,
		unlimited:  unlimited,
		onFrame:    onFrame,
		onProgress: onProgress,
		rateCh:     make(chan float64, 1),
		log:        log,
		meter:      newMeter(fpsAveragingWindow),
	}
}

// run executes the playback loop until the stream ends, the context is
// cancelled, or the source fails. Returns the final progress report.
func (p *playbackRun) run(ctx context.Context) Progress {
	defer p.window.cancelAll()

	cur := p.stream.LastShown()
	end := p.stream.EndFrame()

	// Prefill: cur+1 .. cur+K, clamped to the stream end.
	for i := int64(1); i <= int64(p.window.capacity); i++ {
		next := cur.Add(clock.FrameInterval(i))
		if next > end {
			break
		}
		if err := p.window.submit(next); err != nil {
			// Capacity can't be exceeded during prefill; treat as fatal.
			p.log.Error("pipeline: playback prefill failed", "frame", next, "error", err)
			return p.finish(0, time.Now(), err)
		}
	}

	p.log.Debug("pipeline: playback started",
		"from", cur,
		"end", end,
		"buffer", p.window.capacity,
		"rate", p.stream.PlayRate(),
		"unlimited", p.unlimited,
	)

	var tick <-chan time.Time
	var ticker *time.Ticker
	if !p.unlimited {
		ticker = time.NewTicker(pacingInterval(p.stream.PlayRate()))
		tick = ticker.C
		defer ticker.Stop()
	}

	progress := time.NewTicker(playbackProgressInterval)
	defer progress.Stop()

	began := time.Now()
	var shown clock.FrameInterval

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return p.finish(shown, began, nil)
			case fps := <-p.rateCh:
				ticker.Reset(pacingInterval(fps))
				p.meter.reset()
				continue
			case <-progress.C:
				p.report(shown, began)
				continue
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return p.finish(shown, began, nil)
			case <-p.rateCh:
				// Pacing is off; the new nominal rate applies if the
				// user re-enables it.
				continue
			case <-progress.C:
				p.report(shown, began)
				continue
			default:
			}
		}

		if p.window.len() == 0 {
			// Nothing left in flight: the previous frame was the last.
			p.log.Debug("pipeline: playback reached stream end", "frame", cur)
			return p.finish(shown, began, nil)
		}

		frame, err := p.window.drainSequenced(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, source.ErrCancelled) {
				return p.finish(shown, began, nil)
			}
			// Source failure: halt the run, keep the last shown frame.
			p.log.Error("pipeline: playback halted by frame source",
				"frame", cur.Add(1), "error", err)
			return p.finish(shown, began, err)
		}

		cur = cur.Add(1)
		p.stream.SetLastShown(cur)
		if p.onFrame != nil {
			p.onFrame(cur, frame)
		}
		p.meter.tick(time.Now())
		shown++

		// Sliding refill: one request out, one request in.
		refill := cur.Add(clock.FrameInterval(p.window.capacity))
		if refill <= end {
			if err := p.window.submit(refill); err != nil {
				p.log.Error("pipeline: playback refill failed", "frame", refill, "error", err)
				return p.finish(shown, began, err)
			}
		}
	}
}

func (p *playbackRun) report(shown clock.FrameInterval, began time.Time) {
	if p.onProgress == nil {
		return
	}
	p.onProgress(Progress{
		FramesDone: shown,
		Elapsed:    clock.TimeInterval(time.Since(began)),
		FPS:        p.meter.fps(),
	})
}

func (p *playbackRun) finish(shown clock.FrameInterval, began time.Time, err error) Progress {
	elapsed := time.Since(began)
	final := Progress{
		FramesDone: shown,
		Elapsed:    clock.TimeInterval(elapsed),
		FPS:        overallFPS(shown, elapsed),
		Final:      true,
		Failed:     err != nil,
		Err:        err,
	}
	if p.onProgress != nil {
		p.onProgress(final)
	}
	return final
}

// pacingInterval converts a nominal rate to the delay between presented
// frames, floored to whole milliseconds. Rates above 1000 fps clamp to
// 1ms; true unpaced playback goes through the unlimited flag instead.
func pacingInterval(fps float64) time.Duration {
	if fps <= 0 {
		return time.Second
	}
	ms := math.Floor(1000 / fps)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func overallFPS(frames clock.FrameInterval, elapsed time.Duration) float64 {
	if elapsed <= 0 || frames <= 0 {
		return 0
	}
	return float64(frames) / elapsed.Seconds()
}
