package engine

import (
	"math"
	"testing"
	"time"
)

func TestStatistics_Fold_StatusBuckets(t *testing.T) {
	s := NewStatistics(10)
	now := time.Now()

	s.Fold(Outcome{ReqAt: now, RspAt: now.Add(time.Millisecond), Status: 200})
	s.Fold(Outcome{ReqAt: now, RspAt: now.Add(time.Millisecond), Status: 500})
	s.Fold(Outcome{ReqAt: now, RspAt: now.Add(time.Millisecond), Err: "transport:boom"})

	sum := s.Summarize(nil)

	if sum.Total != 3 {
		t.Errorf("expected total 3, got %d", sum.Total)
	}
	if sum.TotalSuccess != 2 {
		t.Errorf("expected total_success 2, got %d", sum.TotalSuccess)
	}
	if sum.Bucket2xx != 1 || sum.Bucket5xx != 1 {
		t.Errorf("expected one 2xx and one 5xx, got 2xx=%d 5xx=%d", sum.Bucket2xx, sum.Bucket5xx)
	}
	if got := sum.Errors["transport:boom"]; got != 1 {
		t.Errorf("expected transport:boom error count 1, got %d", got)
	}
	if sum.Total != sum.TotalSuccess+sumErrorCounts(sum.Errors) {
		t.Errorf("total != total_success + sum(errors): %d != %d + %d", sum.Total, sum.TotalSuccess, sumErrorCounts(sum.Errors))
	}
}

func sumErrorCounts(errors map[string]uint64) uint64 {
	var total uint64
	for _, v := range errors {
		total += v
	}
	return total
}

func TestStatistics_Summarize_EmptyHasZeroDefaults(t *testing.T) {
	s := NewStatistics(10)
	s.Stop()
	sum := s.Summarize(nil)

	if sum.AvgReqElapsedTime != 0 || sum.MaxReqElapsedTime != 0 || sum.StdevElapsedTime != 0 {
		t.Errorf("expected zero latency defaults on empty run, got avg=%v max=%v stdev=%v",
			sum.AvgReqElapsedTime, sum.MaxReqElapsedTime, sum.StdevElapsedTime)
	}
	if len(sum.Latencies) != 0 {
		t.Errorf("expected no latency points on empty run, got %v", sum.Latencies)
	}
	if math.IsNaN(sum.Throughput) {
		t.Error("throughput must not be NaN on an empty run")
	}
}

// TestStatistics_PrefixMeanPercentiles reproduces spec scenario #6: 1000
// synthetic outcomes with elapsed times 1ms..1000ms, and checks that the
// requested percentiles equal the arithmetic mean of the first
// floor(1000*p) sorted samples — not the classical order-statistic value.
func TestStatistics_PrefixMeanPercentiles(t *testing.T) {
	s := NewStatistics(1)
	now := time.Now()

	for i := 1; i <= 1000; i++ {
		elapsed := time.Duration(i) * time.Millisecond
		s.Fold(Outcome{ReqAt: now, RspAt: now.Add(elapsed), Status: 200})
	}
	s.Stop()

	sum := s.Summarize([]float64{0.5, 0.9, 0.99})

	want := map[float64]time.Duration{
		0.5:  meanOfFirstNMillis(500),
		0.9:  meanOfFirstNMillis(900),
		0.99: meanOfFirstNMillis(990),
	}

	if len(sum.Latencies) != 3 {
		t.Fatalf("expected 3 latency points, got %d", len(sum.Latencies))
	}
	for _, lp := range sum.Latencies {
		expected, ok := want[lp.Percentile]
		if !ok {
			t.Fatalf("unexpected percentile %v in result", lp.Percentile)
		}
		if lp.Value != expected {
			t.Errorf("p%.2f: expected %v, got %v", lp.Percentile, expected, lp.Value)
		}
		if lp.Value > sum.MaxReqElapsedTime {
			t.Errorf("p%.2f value %v exceeds max %v", lp.Percentile, lp.Value, sum.MaxReqElapsedTime)
		}
	}
}

func meanOfFirstNMillis(n int) time.Duration {
	var total int64
	for i := 1; i <= n; i++ {
		total += int64(time.Duration(i) * time.Millisecond)
	}
	return time.Duration(total / int64(n))
}

func TestTrimSamples(t *testing.T) {
	cases := []struct {
		name string
		in   []uint64
		want []uint64
	}{
		{"empty", nil, nil},
		{"single", []uint64{5}, []uint64{5}},
		{"warmup zero then partial", []uint64{0, 10, 12, 3}, []uint64{10, 12}},
		{"no warmup zero, two samples", []uint64{10, 3}, []uint64{10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := trimSamples(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestStatistics_Sampler_ReadsAndZeroes(t *testing.T) {
	s := NewStatistics(1)
	now := time.Now()

	for i := 0; i < 7; i++ {
		s.Fold(Outcome{ReqAt: now, RspAt: now.Add(time.Millisecond), Status: 200})
	}

	s.Sample()
	if got := s.currentCumulative.Load(); got != 0 {
		t.Errorf("expected current_cumulative reset to 0 after sample, got %d", got)
	}
	s.samplesMu.Lock()
	last := s.reqPerSecond[len(s.reqPerSecond)-1]
	s.samplesMu.Unlock()
	if last != 7 {
		t.Errorf("expected sample of 7, got %d", last)
	}
}
