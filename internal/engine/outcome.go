package engine

import "time"

// Outcome is the single record a worker produces for one request: when it
// was sent, when it settled, and what happened. Produced by exactly one
// worker, consumed exactly once by the aggregator.
type Outcome struct {
	ReqAt time.Time
	RspAt time.Time

	// Status is the HTTP status code on success. Zero when Err is set.
	Status int

	// Err classifies a transport/response failure. Empty on success.
	Err string

	// ErrStatus is an optional status code attached to an error outcome
	// (e.g. a response was received but judged a failure upstream of this
	// worker). Zero means "no status".
	ErrStatus int
}

// Elapsed returns the round-trip duration recorded on this outcome.
func (o Outcome) Elapsed() time.Duration {
	return o.RspAt.Sub(o.ReqAt)
}

// IsSuccess reports whether this outcome represents a completed HTTP
// response rather than a transport error.
func (o Outcome) IsSuccess() bool {
	return o.Err == ""
}

// StatusBucket classifies a status code into one of the six buckets the
// aggregator tracks.
func StatusBucket(status int) string {
	switch {
	case status >= 100 && status <= 199:
		return "1xx"
	case status >= 200 && status <= 299:
		return "2xx"
	case status >= 300 && status <= 399:
		return "3xx"
	case status >= 400 && status <= 499:
		return "4xx"
	case status >= 500 && status <= 511:
		return "5xx"
	default:
		return "other"
	}
}
