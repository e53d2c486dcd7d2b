// Package source defines the contract between the preview pipeline and
// the frame-producing engine, plus a synthetic in-process engine used by
// the CLI and tests.
//
// The engine decodes frames on its own execution contexts; the pipeline
// never assumes which goroutine resolves a request. A Request resolves
// exactly once (with a frame, a decode failure, or ErrCancelled) and
// its Done channel closes at that moment.
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/Endilll/vapoursynth-preview-sub000/clock"
)

// ErrCancelled is the resolution of a cancelled request. Cancellation is
// not a failure: consumers drop cancelled results silently.
var ErrCancelled = errors.New("source: request cancelled")

// Frame is a decoded frame payload.
type Frame struct {
	// Index of the frame within its stream.
	Index clock.Frame
	// Width and Height in pixels.
	Width  int
	Height int
	// Data holds the decoded bytes. Shared by reference; consumers must
	// treat it as read-only.
	Data []byte
	// TraceID identifies the decode request that produced the frame.
	TraceID string
	// DecodedAt is when the engine finished producing the frame.
	DecodedAt time.Time
}

// DecodeError reports that the engine failed to produce a frame.
type DecodeError struct {
	Index clock.Frame
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("source: decoding frame %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Request is the handle for one in-flight decode.
//
// Contract:
//   - Resolves exactly once: frame, *DecodeError, or ErrCancelled.
//   - Done() closes when the request has resolved.
//   - Result() is only valid after Done() closes.
//   - Cancel() is idempotent and safe concurrently with resolution; if
//     the decode already finished, Cancel is a no-op.
type Request interface {
	// Index returns the requested frame index.
	Index() clock.Frame
	// Done closes when the request resolves.
	Done() <-chan struct{}
	// Result returns the decoded frame or the resolution error.
	Result() (*Frame, error)
	// Cancel asks the engine to abandon the decode.
	Cancel()
}

// Source produces decoded frames asynchronously.
//
// Implementations must support many concurrently outstanding requests
// and are solely responsible for the thread-safety of their internals.
type Source interface {
	// RequestFrame submits an asynchronous decode for the given index.
	RequestFrame(index clock.Frame) Request
}
