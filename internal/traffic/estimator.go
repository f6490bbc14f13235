// Package traffic derives bandwidth figures from the router's cumulative
// interface byte counters.
package traffic

import (
	"math"
	"sync"
	"time"
)

// Sample is one reading of the cumulative rx/tx counters.
type Sample struct {
	RxBytes    uint64
	TxBytes    uint64
	ObservedAt time.Time
}

func (s Sample) total() uint64 {
	return s.RxBytes + s.TxBytes
}

// Outcome describes what Observe did with a sample.
type Outcome int

const (
	// OutcomeBaseline means the sample was the first one and only set the baseline.
	OutcomeBaseline Outcome = iota
	// OutcomeMeasured means a new rate was computed.
	OutcomeMeasured
	// OutcomeStale means the sample was not newer than the baseline and was dropped.
	OutcomeStale
	// OutcomeCounterReset means the counters went backwards; the baseline moved
	// but the rate was left alone.
	OutcomeCounterReset
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBaseline:
		return "baseline"
	case OutcomeMeasured:
		return "measured"
	case OutcomeStale:
		return "stale"
	case OutcomeCounterReset:
		return "counter_reset"
	default:
		return "unknown"
	}
}

// Estimator is a two-point secant rate estimator. It keeps exactly one
// previous sample and reports the rate between it and the newest one.
// Callers wanting a smoother figure should filter the output themselves.
type Estimator struct {
	mu       sync.Mutex
	previous *Sample
	rateMbps float64
}

// NewEstimator creates an estimator with no baseline.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Observe feeds a sample and returns the current rate in Mbps.
func (e *Estimator) Observe(sample Sample) float64 {
	rate, _ := e.ObserveDetailed(sample)
	return rate
}

// ObserveDetailed is Observe that also reports how the sample was used.
func (e *Estimator) ObserveDetailed(sample Sample) (float64, Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.previous == nil {
		e.previous = &sample
		e.rateMbps = 0
		return 0, OutcomeBaseline
	}

	elapsed := sample.ObservedAt.Sub(e.previous.ObservedAt).Seconds()
	if elapsed <= 0 {
		return e.rateMbps, OutcomeStale
	}

	// Counters are unsigned; compare before subtracting.
	if sample.total() < e.previous.total() {
		e.previous = &sample
		return e.rateMbps, OutcomeCounterReset
	}

	delta := sample.total() - e.previous.total()
	e.rateMbps = roundTo2(float64(delta) * 8 / elapsed / 1_000_000)
	e.previous = &sample

	return e.rateMbps, OutcomeMeasured
}

// Rate returns the last reported rate in Mbps.
func (e *Estimator) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateMbps
}

// Baseline returns the retained sample, if any.
func (e *Estimator) Baseline() (Sample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.previous == nil {
		return Sample{}, false
	}
	return *e.previous, true
}

// Reset forgets the baseline and the last rate.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.previous = nil
	e.rateMbps = 0
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
