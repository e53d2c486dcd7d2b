// Package media models the output video streams the preview pipeline
// operates on.
//
// A Stream is owned by the surrounding application; the pipeline borrows
// it read-only except for the last-shown frame index, which it advances
// during playback. Time/frame conversions live here because only the
// stream knows its frame rate, or knows that it has none, in which case
// every time-domain conversion fails with ErrVariableRate instead of
// silently approximating.
package media

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
)

// ErrVariableRate is returned by every time-domain conversion on a
// stream without a fixed frame rate. It signals a caller bug: the caller
// must check VariableRate() before offering time-based operations.
var ErrVariableRate = errors.New("media: time conversion on variable-rate stream")

// StreamConfig describes a stream to create.
type StreamConfig struct {
	// Name identifies the stream in logs and UI listings.
	Name string
	// Width and Height of the decoded frames in pixels.
	Width  int
	Height int
	// TotalFrames is the stream length. Must be at least 1.
	TotalFrames clock.FrameInterval
	// Rate is the fixed frame rate. Leave zero for a variable-rate stream.
	Rate clock.Rate
	// PlayRate is the nominal playback rate in fps. Defaults to Rate.FPS()
	// for fixed-rate streams; required for variable-rate streams, which
	// have no rate to fall back on.
	PlayRate float64
}

// Stream is one output video feed.
//
// Immutable attributes (dimensions, length, rate) are plain fields read
// without locking. The last-shown index and the nominal playback rate
// are mutated at runtime (by the pipeline and the UI respectively) and
// are guarded by a mutex so either side may read them concurrently.
type Stream struct {
	name         string
	width        int
	height       int
	totalFrames  clock.FrameInterval
	rate         clock.Rate
	variableRate bool

	mu        sync.RWMutex
	lastShown clock.Frame
	playRate  float64
}

// NewStream creates a stream with fail-fast validation.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("media: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.TotalFrames < 1 {
		return nil, fmt.Errorf("media: stream needs at least 1 frame, got %d", cfg.TotalFrames)
	}
	if cfg.PlayRate < 0 {
		return nil, fmt.Errorf("media: negative nominal rate %.3f", cfg.PlayRate)
	}

	s := &Stream{
		name:         cfg.Name,
		width:        cfg.Width,
		height:       cfg.Height,
		totalFrames:  cfg.TotalFrames,
		rate:         cfg.Rate,
		variableRate: !cfg.Rate.IsValid(),
		playRate:     cfg.PlayRate,
	}
	if s.playRate == 0 {
		if s.variableRate {
			return nil, fmt.Errorf("media: variable-rate stream %q requires an explicit nominal rate", cfg.Name)
		}
		s.playRate = s.rate.FPS()
	}
	return s, nil
}

// Name returns the stream's display name.
func (s *Stream) Name() string { return s.name }

// Width returns the frame width in pixels.
func (s *Stream) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *Stream) Height() int { return s.height }

// TotalFrames returns the stream length in frames.
func (s *Stream) TotalFrames() clock.FrameInterval { return s.totalFrames }

// EndFrame returns the index of the last frame.
func (s *Stream) EndFrame() clock.Frame {
	return clock.Frame(s.totalFrames - 1)
}

// Contains reports whether f is a valid index into the stream.
func (s *Stream) Contains(f clock.Frame) bool {
	return f >= 0 && f <= s.EndFrame()
}

// VariableRate reports whether the stream has no fixed frame rate.
func (s *Stream) VariableRate() bool { return s.variableRate }

// Rate returns the fixed frame rate. ok is false for variable-rate streams.
func (s *Stream) Rate() (r clock.Rate, ok bool) {
	if s.variableRate {
		return clock.Rate{}, false
	}
	return s.rate, true
}

// ToFrame converts a stream time offset to the nearest frame index.
func (s *Stream) ToFrame(t clock.Time) (clock.Frame, error) {
	if s.variableRate {
		return 0, ErrVariableRate
	}
	return clock.Frame(math.Round(t.Seconds() * s.rate.FPS())), nil
}

// ToTime converts a frame index to its time offset from stream start.
func (s *Stream) ToTime(f clock.Frame) (clock.Time, error) {
	if s.variableRate {
		return 0, ErrVariableRate
	}
	return clock.Time(secondsToDuration(float64(f) / s.rate.FPS())), nil
}

// ToFrameInterval converts a time span to the nearest frame count.
func (s *Stream) ToFrameInterval(d clock.TimeInterval) (clock.FrameInterval, error) {
	if s.variableRate {
		return 0, ErrVariableRate
	}
	return clock.FrameInterval(math.Round(d.Seconds() * s.rate.FPS())), nil
}

// ToTimeInterval converts a frame count to the time span it covers.
func (s *Stream) ToTimeInterval(d clock.FrameInterval) (clock.TimeInterval, error) {
	if s.variableRate {
		return 0, ErrVariableRate
	}
	return clock.TimeInterval(secondsToDuration(float64(d) / s.rate.FPS())), nil
}

// LastShown returns the index of the most recently presented frame.
func (s *Stream) LastShown() clock.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastShown
}

// SetLastShown records the most recently presented frame.
// Called by the pipeline as playback advances and by seeks.
func (s *Stream) SetLastShown(f clock.Frame) {
	s.mu.Lock()
	s.lastShown = f
	s.mu.Unlock()
}

// PlayRate returns the nominal playback rate in fps.
func (s *Stream) PlayRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playRate
}

// SetPlayRate updates the nominal playback rate.
func (s *Stream) SetPlayRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("media: invalid nominal rate %.3f", fps)
	}
	s.mu.Lock()
	s.playRate = fps
	s.mu.Unlock()
	return nil
}

// ResetPlayRate restores the nominal playback rate to the stream's fixed
// frame rate. Fails on variable-rate streams, which have none.
func (s *Stream) ResetPlayRate() error {
	if s.variableRate {
		return ErrVariableRate
	}
	s.mu.Lock()
	s.playRate = s.rate.FPS()
	s.mu.Unlock()
	return nil
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
