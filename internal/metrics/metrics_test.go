package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(bookingOutcome.WithLabelValues("create", "conflict"))
	IncBookingOutcome("create", "conflict")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingOutcome.WithLabelValues("create", "conflict")))

	dropped := testutil.ToFloat64(dispatchDropped)
	IncDispatchDropped()
	assert.Equal(t, dropped+1, testutil.ToFloat64(dispatchDropped))
}

func TestObserveHTTPRequest_LabelsByStatus(t *testing.T) {
	ObserveHTTPRequest("GET", "/api/v1/barbers/:id/slots", 200, 0.01)
	ObserveHTTPRequest("GET", "/api/v1/barbers/:id/slots", 503, 0.02)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(httpRequests), 2)
}
