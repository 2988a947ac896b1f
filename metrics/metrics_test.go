package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_TransitionsTotal(t *testing.T) {
	tests := []struct {
		name  string
		label string
		incN  int
	}{
		{name: "scheduled", label: "SCHEDULED", incN: 1},
		{name: "rejected", label: "REJECTED", incN: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(TransitionsTotal.WithLabelValues(tt.label))
			for i := 0; i < tt.incN; i++ {
				TransitionsTotal.WithLabelValues(tt.label).Inc()
			}
			after := testutil.ToFloat64(TransitionsTotal.WithLabelValues(tt.label))
			diff := after - before
			if diff != float64(tt.incN) {
				t.Fatalf("counter diff mismatch\nexpected: %#v\nactual: %#v", float64(tt.incN), diff)
			}
		})
	}
}

func TestMetrics_FitDuration(t *testing.T) {
	tests := []struct {
		name    string
		observe float64
	}{
		{name: "small", observe: 0.0002},
		{name: "large", observe: 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			FitDuration.Observe(tt.observe)
			count := testutil.CollectAndCount(FitDuration)
			assert.Greater(t, count, 0, "histogram not collected; count=%#v", count)
		})
	}
}

func TestMetrics_LiveAllocations(t *testing.T) {
	LiveAllocations.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(LiveAllocations))
	LiveAllocations.Set(0)
}

func TestRegister_ServesMetrics(t *testing.T) {
	IllegalRequests.Inc()
	mux := http.NewServeMux()
	Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "allocator_illegal_requests_total"))
}
