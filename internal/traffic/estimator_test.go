package traffic

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func at(ms int64) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestEstimator_FirstSampleIsBaseline(t *testing.T) {
	e := NewEstimator()

	rate, outcome := e.ObserveDetailed(Sample{RxBytes: 0, TxBytes: 0, ObservedAt: at(0)})
	if rate != 0 {
		t.Errorf("first rate = %v, want 0", rate)
	}
	if outcome != OutcomeBaseline {
		t.Errorf("outcome = %v, want baseline", outcome)
	}
	if _, ok := e.Baseline(); !ok {
		t.Error("expected baseline to be stored")
	}
}

func TestEstimator_SecantRate(t *testing.T) {
	e := NewEstimator()
	e.Observe(Sample{RxBytes: 0, TxBytes: 0, ObservedAt: at(0)})

	rate := e.Observe(Sample{RxBytes: 1_250_000, TxBytes: 1_250_000, ObservedAt: at(10_000)})
	if rate != 2.00 {
		t.Errorf("rate = %v, want 2.00", rate)
	}
	if e.Rate() != 2.00 {
		t.Errorf("Rate() = %v, want 2.00", e.Rate())
	}

	base, _ := e.Baseline()
	if base.RxBytes != 1_250_000 || !base.ObservedAt.Equal(at(10_000)) {
		t.Errorf("baseline = %+v, want the second sample", base)
	}
}

func TestEstimator_CounterResetKeepsRateAdvancesBaseline(t *testing.T) {
	e := NewEstimator()
	e.Observe(Sample{RxBytes: 0, TxBytes: 0, ObservedAt: at(-10_000)})
	e.Observe(Sample{RxBytes: 5000, TxBytes: 5000, ObservedAt: at(0)})
	before := e.Rate()

	rate, outcome := e.ObserveDetailed(Sample{RxBytes: 100, TxBytes: 100, ObservedAt: at(5000)})
	if outcome != OutcomeCounterReset {
		t.Fatalf("outcome = %v, want counter_reset", outcome)
	}
	if rate != before {
		t.Errorf("rate = %v, want unchanged %v", rate, before)
	}

	base, _ := e.Baseline()
	if base.RxBytes != 100 || base.TxBytes != 100 || !base.ObservedAt.Equal(at(5000)) {
		t.Errorf("baseline = %+v, want {100 100 t=5000}", base)
	}

	// The next sample measures against the post-reset baseline.
	rate = e.Observe(Sample{RxBytes: 100 + 625_000, TxBytes: 100, ObservedAt: at(10_000)})
	if rate != 1.00 {
		t.Errorf("rate after reset = %v, want 1.00", rate)
	}
}

func TestEstimator_StaleSampleDiscarded(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
	}{
		{"duplicate timestamp", 10_000},
		{"out of order", 9_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator()
			e.Observe(Sample{ObservedAt: at(0)})
			e.Observe(Sample{RxBytes: 2_500_000, ObservedAt: at(10_000)})

			rate, outcome := e.ObserveDetailed(Sample{RxBytes: 9_999_999, ObservedAt: at(tt.ms)})
			if outcome != OutcomeStale {
				t.Errorf("outcome = %v, want stale", outcome)
			}
			if rate != 2.00 {
				t.Errorf("rate = %v, want 2.00", rate)
			}

			base, _ := e.Baseline()
			if base.RxBytes != 2_500_000 {
				t.Errorf("baseline moved to %+v", base)
			}
		})
	}
}

func TestEstimator_RoundsToTwoDecimals(t *testing.T) {
	e := NewEstimator()
	e.Observe(Sample{ObservedAt: at(0)})

	// 1_000_000 bytes over 3s = 2.666.. Mbps
	rate := e.Observe(Sample{RxBytes: 1_000_000, ObservedAt: at(3000)})
	if rate != 2.67 {
		t.Errorf("rate = %v, want 2.67", rate)
	}
}

func TestEstimator_Reset(t *testing.T) {
	e := NewEstimator()
	e.Observe(Sample{ObservedAt: at(0)})
	e.Observe(Sample{RxBytes: 1_250_000, ObservedAt: at(1000)})
	e.Reset()

	if e.Rate() != 0 {
		t.Errorf("Rate() = %v after reset", e.Rate())
	}
	if _, ok := e.Baseline(); ok {
		t.Error("baseline survived reset")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{812, "812 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{100 << 10, "100 KiB"},
		{1 << 20, "1.0 MiB"},
		{uint64(4.5 * (1 << 30)), "4.5 GiB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
