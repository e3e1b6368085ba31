package gateway

import (
	"math"
	"testing"
)

func TestLatencyTrackerEmpty(t *testing.T) {
	lt := NewLatencyTracker(100)
	p50, p95, p99 := lt.Percentiles()
	if p50 != 0 || p95 != 0 || p99 != 0 {
		t.Errorf("empty tracker: got (%f,%f,%f), want zeros", p50, p95, p99)
	}
}

func TestLatencyTrackerSingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Record(42.5)
	for _, q := range lt.Quantiles(0, 0.5, 1) {
		if q != 42.5 {
			t.Errorf("quantile = %f, want 42.5", q)
		}
	}
}

func TestLatencyTrackerPercentiles(t *testing.T) {
	lt := NewLatencyTracker(0)
	for i := 100; i >= 1; i-- {
		lt.Record(float64(i))
	}
	p50, p95, p99 := lt.Percentiles()
	for _, c := range []struct {
		name      string
		got, want float64
	}{{"p50", p50, 50.5}, {"p95", p95, 95.05}, {"p99", p99, 99.01}} {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %f, want %f", c.name, c.got, c.want)
		}
	}
}

func TestLatencyTrackerEvictsOldest(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Record(float64(i))
	}
	if lt.Count() != 10 {
		t.Fatalf("Count() = %d, want 10", lt.Count())
	}
	q := lt.Quantiles(0, 0.5, 1)
	if q[0] != 11 || q[1] != 15.5 || q[2] != 20 {
		t.Errorf("quantiles after wrap = %v, want [11 15.5 20]", q)
	}
}
