package orchestration

import (
	"time"
)

// progressTracker estimates the remaining run time from completed passes.
// The rate is smoothed with an exponential moving average so one slow pass
// does not swing the estimate.
type progressTracker struct {
	total     int
	done      int
	startTime time.Time
	lastTime  time.Time
	passRate  float64 // passes per second, smoothed
	every     int
}

// smoothing is the EMA weight of the newest rate sample.
const smoothing = 0.3

func newProgressTracker(total int, now time.Time) *progressTracker {
	every := total / 10
	if every < 1 {
		every = 1
	}
	return &progressTracker{total: total, startTime: now, lastTime: now, every: every}
}

// Update records one completed pass and returns the fraction done and the
// estimated time remaining.
func (p *progressTracker) Update(now time.Time) (float64, time.Duration) {
	p.done++
	if dt := now.Sub(p.lastTime).Seconds(); dt > 0 {
		rate := 1 / dt
		if p.passRate == 0 {
			p.passRate = rate
		} else {
			p.passRate = smoothing*rate + (1-smoothing)*p.passRate
		}
	}
	p.lastTime = now
	return p.Fraction(), p.ETA()
}

// Fraction returns the completed share of the budget.
func (p *progressTracker) Fraction() float64 {
	if p.total == 0 {
		return 1
	}
	return float64(p.done) / float64(p.total)
}

// ETA returns the estimated time remaining, zero when unknown.
func (p *progressTracker) ETA() time.Duration {
	if p.passRate <= 0 || p.done >= p.total {
		return 0
	}
	return time.Duration(float64(p.total-p.done) / p.passRate * float64(time.Second))
}

// Due reports whether the latest pass should be logged.
func (p *progressTracker) Due() bool {
	return p.done%p.every == 0 || p.done == p.total
}
