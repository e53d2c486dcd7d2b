package pipeline

import (
	"log/slog"

	"github.com/Endilll/vapoursynth-preview-sub000/pipeline/internal"
	"github.com/Endilll/vapoursynth-preview-sub000/source"
)

// Public API - re-export internal types as the stable contract.

// Controller owns the scheduler lifecycle; see New.
type Controller = internal.Controller

// Config carries the settings injected by the surrounding application.
type Config = internal.Config

// Progress is a run progress notification.
type Progress = internal.Progress

// Stats is a snapshot of pipeline counters.
type Stats = internal.Stats

// FrameReadyFunc is the frame delivery hook consumed by the UI layer.
type FrameReadyFunc = internal.FrameReadyFunc

// ProgressFunc is the progress hook consumed by the UI layer.
type ProgressFunc = internal.ProgressFunc

// State is the controller's scheduler state.
type State = internal.State

const (
	StateIdle         = internal.StateIdle
	StatePlaying      = internal.StatePlaying
	StateBenchmarking = internal.StateBenchmarking
)

// DrainMode selects how completed requests leave the prefetch window.
type DrainMode = internal.DrainMode

const (
	// DrainSequenced consumes completions strictly in submission order.
	DrainSequenced = internal.DrainSequenced
	// DrainUnsequenced consumes whichever completion arrives first.
	DrainUnsequenced = internal.DrainUnsequenced
)

// Public API errors - re-export internal errors as the stable contract.
var (
	ErrWindowFull = internal.ErrWindowFull
	ErrBusy       = internal.ErrBusy
	ErrNoStream   = internal.ErrNoStream
	ErrOutOfRange = internal.ErrOutOfRange
)

// New creates a pipeline controller for the given frame source, logging
// through the default slog logger.
//
// Lifecycle:
//  1. ctl := pipeline.New(cfg, src)
//  2. ctl.SetCallbacks(onFrame, onProgress)
//  3. ctl.SwitchStream(stream)
//  4. ctl.StartPlayback(...) / ctl.RunBenchmark(...)
//  5. ctl.Stop()
func New(cfg Config, src source.Source) *Controller {
	return internal.NewController(cfg, src, slog.Default())
}

// NewWithLogger is New with an explicit logger.
func NewWithLogger(cfg Config, src source.Source, log *slog.Logger) *Controller {
	return internal.NewController(cfg, src, log)
}
