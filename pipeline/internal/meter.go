package internal

import "time"

// fpsAveragingWindow is how many recent presentation stamps the meter
// keeps. Large enough to smooth jitter, small enough to track rate
// changes within a couple of seconds at normal playback speeds.
const fpsAveragingWindow = 100

// meter measures delivery rate over a sliding window of presentation
// timestamps. Owned by a single scheduler goroutine; not thread-safe.
type meter struct {
	stamps []time.Time
	max    int
}

func newMeter(window int) *meter {
	if window < 2 {
		window = 2
	}
	return &meter{max: window}
}

// tick records one presented frame.
func (m *meter) tick(now time.Time) {
	m.stamps = append(m.stamps, now)
	if len(m.stamps) > m.max {
		m.stamps = m.stamps[1:]
	}
}

// fps returns the measured rate over the recorded window, or 0 when
// fewer than two frames have been seen.
func (m *meter) fps() float64 {
	if len(m.stamps) < 2 {
		return 0
	}
	elapsed := m.stamps[len(m.stamps)-1].Sub(m.stamps[0])
	if elapsed <= 0 {
		return 0
	}
	return float64(len(m.stamps)-1) / elapsed.Seconds()
}

// reset clears the recorded window, e.g. after a pacing change.
func (m *meter) reset() {
	m.stamps = m.stamps[:0]
}
