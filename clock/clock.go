// Package clock provides the frame and time value types shared across
// the preview pipeline.
//
// Design:
//   - Frame/FrameInterval live in the frame domain, Time/TimeInterval in
//     the time domain. The two domains never convert implicitly; crossing
//     them requires an explicit call on a media.Stream, which knows the
//     frame rate (or knows that it has none).
//   - All types are plain integers underneath: cheap to copy, comparable
//     with the native operators, safe to use as map keys.
package clock

import (
	"fmt"
	"time"
)

// Frame is the index of a single decodable unit in a stream.
//
// Indices are non-negative. Arithmetic itself does not enforce this;
// range validation happens at the stream boundary, where the valid
// interval is actually known.
type Frame int64

// Add returns the frame displaced by d.
func (f Frame) Add(d FrameInterval) Frame {
	return f + Frame(d)
}

// Diff returns the displacement from o to f (f - o).
func (f Frame) Diff(o Frame) FrameInterval {
	return FrameInterval(f - o)
}

func (f Frame) String() string {
	return fmt.Sprintf("%d", int64(f))
}

// FrameInterval is a signed displacement between two Frame values.
type FrameInterval int64

// Add returns d + o.
func (d FrameInterval) Add(o FrameInterval) FrameInterval {
	return d + o
}

// Sub returns d - o.
func (d FrameInterval) Sub(o FrameInterval) FrameInterval {
	return d - o
}

// Mul returns d scaled by n.
func (d FrameInterval) Mul(n int64) FrameInterval {
	return d * FrameInterval(n)
}

// Div returns d divided by n, rounding toward negative infinity.
// Floor semantics keep seek-step math stable for negative displacements.
func (d FrameInterval) Div(n int64) FrameInterval {
	return FrameInterval(floorDiv(int64(d), n))
}

func (d FrameInterval) String() string {
	return fmt.Sprintf("%d", int64(d))
}

// Time is an offset since the start of a stream.
type Time time.Duration

// Add returns the time displaced forward by d.
func (t Time) Add(d TimeInterval) Time {
	return t + Time(d)
}

// Sub returns the time displaced backward by d.
func (t Time) Sub(d TimeInterval) Time {
	return t - Time(d)
}

// Seconds returns t expressed in seconds.
func (t Time) Seconds() float64 {
	return time.Duration(t).Seconds()
}

// String formats t as h:mm:ss.mmm, the way the preview UI displays
// stream positions.
func (t Time) String() string {
	return formatOffset(time.Duration(t))
}

// TimeInterval is a signed span between two Time values.
type TimeInterval time.Duration

// Add returns d + o.
func (d TimeInterval) Add(o TimeInterval) TimeInterval {
	return d + o
}

// Sub returns d - o.
func (d TimeInterval) Sub(o TimeInterval) TimeInterval {
	return d - o
}

// Mul returns d scaled by n.
func (d TimeInterval) Mul(n int64) TimeInterval {
	return d * TimeInterval(n)
}

// Div returns d divided by n, rounding toward negative infinity.
func (d TimeInterval) Div(n int64) TimeInterval {
	return TimeInterval(floorDiv(int64(d), n))
}

// Seconds returns d expressed in seconds.
func (d TimeInterval) Seconds() float64 {
	return time.Duration(d).Seconds()
}

func (d TimeInterval) String() string {
	return formatOffset(time.Duration(d))
}

// Rate is a fixed frame rate expressed as a rational number.
// The zero value means the rate is unknown (variable-rate stream).
type Rate struct {
	Num int64
	Den int64
}

// IsValid reports whether r describes a usable fixed rate.
func (r Rate) IsValid() bool {
	return r.Num > 0 && r.Den > 0
}

// FPS returns the rate as frames per second. Returns 0 for an invalid rate.
func (r Rate) FPS() float64 {
	if !r.IsValid() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// floorDiv divides a by b rounding toward negative infinity.
// Go's integer division truncates toward zero, which differs for
// negative operands.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func formatOffset(d time.Duration) string {
	neg := ""
	if d < 0 {
		neg = "-"
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", neg, h, m, s, ms)
}
