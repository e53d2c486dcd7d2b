// Package internal implements the asynchronous frame delivery pipeline.
//
// This package is INTERNAL - clients use the public API in the parent
// pipeline package.
package internal

import (
	"errors"
	"runtime"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

var (
	// ErrWindowFull reports a submit on a prefetch window already at
	// capacity. The sliding-window discipline makes this unreachable in
	// a correct scheduler; seeing it is an internal invariant violation,
	// not an operational condition.
	ErrWindowFull = errors.New("pipeline: prefetch window at capacity")

	// ErrBusy reports an operation that needs the controller idle while
	// a benchmark run is active. Benchmarks must be aborted explicitly.
	ErrBusy = errors.New("pipeline: a benchmark run is active")

	// ErrNoStream reports an operation that needs a stream attached.
	ErrNoStream = errors.New("pipeline: no stream attached")

	// ErrOutOfRange reports a frame index outside the active stream.
	ErrOutOfRange = errors.New("pipeline: frame index out of stream range")
)

// State is the controller's scheduler state.
type State int

const (
	// StateIdle means no scheduler is active.
	StateIdle State = iota
	// StatePlaying means the playback scheduler is active.
	StatePlaying
	// StateBenchmarking means the benchmark scheduler is active.
	StateBenchmarking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateBenchmarking:
		return "benchmarking"
	default:
		return "unknown"
	}
}

// DrainMode selects how completed requests leave the prefetch window.
type DrainMode int

const (
	// DrainSequenced consumes requests strictly in submission order,
	// waiting for the oldest outstanding one.
	DrainSequenced DrainMode = iota
	// DrainUnsequenced consumes whichever request completes first,
	// regardless of submission order.
	DrainUnsequenced
)

func (m DrainMode) String() string {
	switch m {
	case DrainSequenced:
		return "sequenced"
	case DrainUnsequenced:
		return "unsequenced"
	default:
		return "unknown"
	}
}

// Config carries the settings the surrounding application injects into
// the pipeline. The application owns persistence; the pipeline only
// reads plain values.
type Config struct {
	// BufferSize bounds how many decode requests may be in flight during
	// playback (and is the default benchmark concurrency). Zero or
	// negative selects the number of usable CPUs.
	BufferSize int
	// NominalRate is the initial playback pacing in fps when the stream
	// does not override it.
	NominalRate float64
	// Unlimited disables pacing: playback advances as fast as frames
	// arrive.
	Unlimited bool
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = runtime.NumCPU()
	}
	return c
}

// Progress is a run progress notification. Failures travel through the
// same notification with Failed set.
type Progress struct {
	// FramesDone counts frames consumed so far in the run.
	FramesDone clock.FrameInterval
	// Elapsed is wall time since the run started.
	Elapsed clock.TimeInterval
	// FPS is the measured throughput over the run so far.
	FPS float64
	// Final marks the last notification of a run.
	Final bool
	// Failed marks a run halted by a frame source failure.
	Failed bool
	// Err carries the failure when Failed is set.
	Err error
}

// FrameReadyFunc is invoked when the next frame is ready to present.
// Called from the owning scheduler goroutine; implementations must not
// block for long and must not call back into the controller.
type FrameReadyFunc func(index clock.Frame, frame *source.Frame)

// ProgressFunc receives run progress notifications. Same delivery rules
// as FrameReadyFunc.
type ProgressFunc func(p Progress)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	// State is the scheduler state at snapshot time.
	State State
	// Position is the active stream's last shown frame.
	Position clock.Frame
	// Submitted counts decode requests issued over the controller's
	// lifetime; Completed, Failed and Cancelled partition how they
	// resolved.
	Submitted uint64
	Completed uint64
	Failed    uint64
	Cancelled uint64
	// LastRunFPS is the measured throughput of the most recently
	// finished run.
	LastRunFPS float64
}
