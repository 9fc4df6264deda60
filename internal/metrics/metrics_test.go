package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBucket_IncrementsCounterAndHistogram(t *testing.T) {
	m, _ := New()

	m.ObserveBucket("2xx", 10*time.Millisecond)
	m.ObserveBucket("2xx", 20*time.Millisecond)
	m.ObserveBucket("5xx", 5*time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("2xx")); got != 2 {
		t.Errorf("expected 2 observations in the 2xx bucket, got %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("5xx")); got != 1 {
		t.Errorf("expected 1 observation in the 5xx bucket, got %v", got)
	}
}

func TestNew_IsolatedRegistryPerCall(t *testing.T) {
	_, reg1 := New()
	_, reg2 := New()

	if reg1 == reg2 {
		t.Error("expected each call to New to return its own registry")
	}
}
