package engine

import (
	"math"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// samplePeriod is the sampler window P from spec §4.5: every tick,
// current_cumulative is read-and-zeroed into req_per_second.
const samplePeriod = 2 * time.Second

// Statistics accumulates outcomes folded by the aggregator and hosts the
// per-second sampler. Workers never touch this directly — they only ever
// emit Outcomes onto the channel the aggregator drains.
type Statistics struct {
	connections int

	bucket1xx atomic.Uint64
	bucket2xx atomic.Uint64
	bucket3xx atomic.Uint64
	bucket4xx atomic.Uint64
	bucket5xx atomic.Uint64
	bucketOther atomic.Uint64

	errorsMu sync.Mutex
	errors   map[string]uint64

	total        atomic.Uint64
	totalSuccess atomic.Uint64

	currentCumulative atomic.Uint64

	samplesMu     sync.Mutex
	reqPerSecond  []uint64

	elapsedMu   sync.Mutex
	elapsedTime []time.Duration

	startedAt time.Time
	stoppedAt time.Time
	hasStopped bool

	isStopped atomic.Bool

	Summary Summary
}

// Summary holds the derived fields spec §4.5 computes once, after workers
// and the sampler have both finished.
type Summary struct {
	Total        uint64
	TotalSuccess uint64
	Bucket1xx    uint64
	Bucket2xx    uint64
	Bucket3xx    uint64
	Bucket4xx    uint64
	Bucket5xx    uint64
	BucketOther  uint64
	Errors       map[string]uint64

	MaxReqPerSecond   float64
	AvgReqPerSecond   float64
	StdevPerSecond    float64
	AvgReqElapsedTime time.Duration
	MaxReqElapsedTime time.Duration
	StdevElapsedTime  time.Duration
	Throughput        float64
	Latencies         []LatencyPoint
}

// LatencyPoint is one (percentile, prefix-mean) pair, per spec §4.5 step 8.
type LatencyPoint struct {
	Percentile float64
	Value      time.Duration
}

// NewStatistics constructs Statistics for a run driving connections
// concurrent workers.
func NewStatistics(connections int) *Statistics {
	return &Statistics{
		connections: connections,
		errors:      make(map[string]uint64),
		startedAt:   time.Now(),
	}
}

// Fold classifies and accumulates one outcome. Called only from the
// aggregator's single consumer goroutine.
func (s *Statistics) Fold(o Outcome) {
	s.total.Add(1)

	if !o.IsSuccess() {
		s.errorsMu.Lock()
		s.errors[o.Err]++
		s.errorsMu.Unlock()

		if o.ErrStatus != 0 {
			s.bumpBucket(StatusBucket(o.ErrStatus))
		}
		return
	}

	s.bumpBucket(StatusBucket(o.Status))
	s.totalSuccess.Add(1)
	s.currentCumulative.Add(1)

	s.elapsedMu.Lock()
	s.elapsedTime = append(s.elapsedTime, o.Elapsed())
	s.elapsedMu.Unlock()
}

func (s *Statistics) bumpBucket(bucket string) {
	switch bucket {
	case "1xx":
		s.bucket1xx.Add(1)
	case "2xx":
		s.bucket2xx.Add(1)
	case "3xx":
		s.bucket3xx.Add(1)
	case "4xx":
		s.bucket4xx.Add(1)
	case "5xx":
		s.bucket5xx.Add(1)
	default:
		s.bucketOther.Add(1)
	}
}

// Sample reads and zeroes current_cumulative, appending it to
// req_per_second. Called by the per-second sampler on every tick.
func (s *Statistics) Sample() {
	n := s.currentCumulative.Swap(0)
	s.samplesMu.Lock()
	s.reqPerSecond = append(s.reqPerSecond, n)
	s.samplesMu.Unlock()
}

// Stop marks the sampler terminated and records stoppedAt, per the
// orchestrator's shutdown step 3.
func (s *Statistics) Stop() {
	s.isStopped.Store(true)
	s.stoppedAt = time.Now()
	s.hasStopped = true
}

// IsStopped reports whether Stop has been called; the sampler goroutine
// polls this to know when to exit.
func (s *Statistics) IsStopped() bool {
	return s.isStopped.Load()
}

// RunSampler runs the per-second sampler until Stop is called. It ticks
// every samplePeriod and always takes one final sample after the stop
// flag is observed, so the last partial window isn't silently lost (the
// summary's trim rule accounts for it explicitly instead).
func (s *Statistics) RunSampler() {
	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()

	for {
		<-ticker.C
		s.Sample()
		if s.IsStopped() {
			return
		}
	}
}

// Summarize runs the summary computation of spec §4.5. It must only be
// called after the aggregator and sampler have both fully stopped; no
// further calls to Fold or Sample may occur concurrently.
func (s *Statistics) Summarize(percentiles []float64) Summary {
	sum := Summary{
		Total:        s.total.Load(),
		TotalSuccess: s.totalSuccess.Load(),
		Bucket1xx:    s.bucket1xx.Load(),
		Bucket2xx:    s.bucket2xx.Load(),
		Bucket3xx:    s.bucket3xx.Load(),
		Bucket4xx:    s.bucket4xx.Load(),
		Bucket5xx:    s.bucket5xx.Load(),
		BucketOther:  s.bucketOther.Load(),
	}

	s.errorsMu.Lock()
	sum.Errors = make(map[string]uint64, len(s.errors))
	for k, v := range s.errors {
		sum.Errors[k] = v
	}
	s.errorsMu.Unlock()

	// Step 1: max_req_per_second.
	samples := append([]uint64(nil), s.reqPerSecond...)
	var maxSample uint64
	for _, v := range samples {
		if v > maxSample {
			maxSample = v
		}
	}
	sum.MaxReqPerSecond = float64(maxSample)

	// Step 2: avg_req_per_second, only if the run stopped.
	if s.hasStopped {
		seconds := s.stoppedAt.Sub(s.startedAt).Seconds()
		if seconds > 0 {
			sum.AvgReqPerSecond = float64(sum.TotalSuccess) / seconds
		}
	}

	// Step 3: sort elapsed_time ascending.
	elapsed := append([]time.Duration(nil), s.elapsedTime...)
	sort.Slice(elapsed, func(i, j int) bool { return elapsed[i] < elapsed[j] })

	// Step 4-5: avg/max/stdev of elapsed_time, in integer nanoseconds.
	if len(elapsed) > 0 {
		var total int64
		for _, d := range elapsed {
			total += int64(d)
		}
		count := int64(len(elapsed))
		meanNanos := total / count
		sum.AvgReqElapsedTime = time.Duration(meanNanos)
		sum.MaxReqElapsedTime = elapsed[len(elapsed)-1]

		sqDiff := new(big.Int)
		diff := new(big.Int)
		for _, d := range elapsed {
			diff.SetInt64(int64(d) - meanNanos)
			sqDiff.Add(sqDiff, diff.Mul(diff, diff))
		}
		variance := sqDiff.Quo(sqDiff, big.NewInt(count))
		sum.StdevElapsedTime = time.Duration(variance.Sqrt(variance).Int64())
	}

	// Step 6: trim req_per_second, then compute stdev_per_second.
	trimmed := trimSamples(samples)
	sum.StdevPerSecond = stdevUint64(trimmed)

	// Step 7: throughput, a ceiling estimate.
	if sum.AvgReqElapsedTime > 0 {
		sum.Throughput = float64(s.connections) / sum.AvgReqElapsedTime.Seconds()
	}

	// Step 8: prefix-mean percentiles.
	sum.Latencies = prefixMeanPercentiles(elapsed, percentiles)

	// Step 9: release the raw samples; the summary is now authoritative.
	s.elapsedMu.Lock()
	s.elapsedTime = nil
	s.elapsedMu.Unlock()

	s.Summary = sum
	return sum
}

// trimSamples drops the first sample if it is zero (warm-up) and, if at
// least two samples remain, drops the last one (partial window).
func trimSamples(samples []uint64) []uint64 {
	out := samples
	if len(out) > 0 && out[0] == 0 {
		out = out[1:]
	}
	if len(out) >= 2 {
		out = out[:len(out)-1]
	}
	return out
}

func stdevUint64(samples []uint64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	mean := sum / float64(len(samples))

	var sqDiff float64
	for _, v := range samples {
		diff := float64(v) - mean
		sqDiff += diff * diff
	}
	return math.Sqrt(sqDiff / float64(len(samples)))
}

// prefixMeanPercentiles implements spec §4.5 step 8 exactly: for each
// requested percentile p, take the mean of the lowest floor(count*p)
// sorted latencies — not the classical order-statistic value at p.
func prefixMeanPercentiles(sorted []time.Duration, percentiles []float64) []LatencyPoint {
	count := len(sorted)
	points := make([]LatencyPoint, 0, len(percentiles))

	for _, p := range percentiles {
		n := int(math.Floor(float64(count) * p))
		if n <= 0 || n > count {
			continue
		}

		var total int64
		for _, d := range sorted[:n] {
			total += int64(d)
		}
		mean := time.Duration(total / int64(n))
		points = append(points, LatencyPoint{Percentile: p, Value: mean})
	}

	return points
}
