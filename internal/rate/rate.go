// Package rate measures the delivery rate of produced frames: mean FPS,
// inter-frame jitter and whether the rate is steady.
package rate

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected inter-frame interval.
	jitterStabilityThreshold = 0.20

	// DefaultWindow is the number of arrivals a Meter keeps.
	DefaultWindow = 120
)

// Stats describes frame arrivals over a window
type Stats struct {
	Frames       int     `json:"frames"`
	FPSMean      float64 `json:"fps_mean"`
	FPSStdDev    float64 `json:"fps_stddev"`
	FPSMin       float64 `json:"fps_min"`
	FPSMax       float64 `json:"fps_max"`
	JitterMean   float64 `json:"jitter_mean_s"`
	JitterStdDev float64 `json:"jitter_stddev_s"`
	JitterMax    float64 `json:"jitter_max_s"`
	// Steady is true when FPS stddev < 15% of mean AND mean jitter < 20% of
	// the expected interval. Triggered cameras are rarely steady.
	Steady bool `json:"steady"`
}

// Calculate computes rate statistics from arrival times in order.
//
// This function:
//  1. Calculates mean FPS over the span of the arrivals
//  2. Calculates instantaneous FPS per interval and its min/max/stddev
//  3. Calculates jitter against the mean interval
//  4. Decides steadiness
//
// Fewer than two arrivals yield zero rates.
func Calculate(times []time.Time) Stats {
	n := len(times)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := times[n-1].Sub(times[0]).Seconds()
	if span <= 0 {
		return Stats{Frames: n}
	}
	fpsMean := float64(n-1) / span

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := times[i].Sub(times[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return Stats{Frames: n, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / fpsMean
	jitters := make([]float64, 0, n-1)
	var jitterSum, jitterMax float64
	for i := 1; i < n; i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - jitterMean
		jitterSquares += diff * diff
	}

	return Stats{
		Frames:       n,
		FPSMean:      fpsMean,
		FPSStdDev:    fpsStdDev,
		FPSMin:       fpsMin,
		FPSMax:       fpsMax,
		JitterMean:   jitterMean,
		JitterStdDev: math.Sqrt(jitterSquares / float64(len(jitters))),
		JitterMax:    jitterMax,
		Steady:       fpsStdDev < fpsMean*fpsStabilityThreshold && jitterMean < expected*jitterStabilityThreshold,
	}
}

// Meter keeps the last arrivals in a ring buffer. Safe for concurrent use.
type Meter struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	count int
}

// NewMeter creates a Meter keeping window arrivals (DefaultWindow if <= 0).
func NewMeter(window int) *Meter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Meter{times: make([]time.Time, window)}
}

// Record adds one arrival.
func (m *Meter) Record(t time.Time) {
	m.mu.Lock()
	m.times[m.next] = t
	m.next = (m.next + 1) % len(m.times)
	if m.count < len(m.times) {
		m.count++
	}
	m.mu.Unlock()
}

// Reset forgets every arrival.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.next, m.count = 0, 0
	m.mu.Unlock()
}

// Stats computes statistics over the recorded window.
func (m *Meter) Stats() Stats {
	m.mu.Lock()
	ordered := make([]time.Time, m.count)
	start := (m.next - m.count + len(m.times)) % len(m.times)
	for i := 0; i < m.count; i++ {
		ordered[i] = m.times[(start+i)%len(m.times)]
	}
	m.mu.Unlock()

	return Calculate(ordered)
}
