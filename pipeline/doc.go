// Package pipeline implements the asynchronous frame delivery pipeline
// behind the video preview: it requests decoded frames ahead of when
// they are needed, bounds how many requests are in flight, paces
// continuous playback, measures raw decode throughput, and cancels
// outstanding work cleanly on stop, seek, or stream switch.
//
// # Architecture
//
// The pipeline sits between the frame-producing engine and the UI layer:
//
//	UI -> Controller -> (playback | benchmark scheduler) -> prefetch window -> source.Source
//	                                                          completions ->  scheduler -> UI callbacks
//
// Each run owns one prefetch window: an ordered, bounded set of
// in-flight decode requests. The window supports two draining
// disciplines, selected by DrainMode:
//
//   - DrainSequenced waits for the oldest outstanding request, so
//     consumption follows submission order even when the source
//     completes requests out of order. Playback always drains this way;
//     it is what guarantees frames reach the screen in index order.
//   - DrainUnsequenced consumes whichever request completes first.
//     Benchmarks use it to keep every decode slot busy regardless of
//     per-frame latency spread.
//
// # Concurrency model
//
// One scheduler goroutine owns all run state: the window deque, pacing
// timers, and delivery callbacks. The frame source decodes on its own
// execution contexts and resolution is observed only through each
// request's Done channel, so no scheduler state is ever touched from
// two goroutines. Stopping a run cancels every outstanding request and
// joins the scheduler goroutine before returning: once StopPlayback,
// AbortBenchmark, Seek, or SwitchStream returns, no callback from the
// old run can fire, and a late completion of a cancelled request is
// discarded unread.
//
// # Failure policy
//
// A frame source failure halts the active run rather than retrying:
// repeated decode failures usually mean a broken script, not a
// transient hiccup. Playback keeps the last successfully shown frame;
// benchmarks report throughput up to the failure point. Both deliver
// the failure through the final Progress notification with Failed set.
// Cancellation is not a failure and is never delivered.
//
// # Basic usage
//
//	ctl := pipeline.New(pipeline.Config{BufferSize: 8, NominalRate: 24}, src)
//	ctl.SetCallbacks(
//	    func(index clock.Frame, frame *source.Frame) { render(frame) },
//	    func(p pipeline.Progress) { status(p) },
//	)
//	ctl.SwitchStream(stream)
//	ctl.StartPlayback(stream.LastShown())
//	...
//	ctl.Stop()
//
// Callbacks run on the scheduler goroutine: keep them short and never
// call back into the Controller from inside one.
package pipeline
