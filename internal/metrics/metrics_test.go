// ABOUTME: Tests for metrics helpers and HTTP instrumentation
// ABOUTME: Uses testutil to read collector values

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/api/chat/conversations/:id/messages", canonicalPath("/api/chat/conversations/17/messages"))
	assert.Equal(t, "/health", canonicalPath("/health"))
	assert.Equal(t, "/", canonicalPath("/"))
}

func TestInstrumentHandler_RecordsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/brew/:id", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew/3", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/brew/:id", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(ingestResults.WithLabelValues("ok"))
	RecordIngest("ok", 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(ingestResults.WithLabelValues("ok")))

	RecordRelay("out")
	assert.GreaterOrEqual(t, testutil.ToFloat64(relayMessages.WithLabelValues("out")), float64(1))

	RecordJob("email:contact_admin", true)
	assert.GreaterOrEqual(t, testutil.ToFloat64(jobRuns.WithLabelValues("email:contact_admin", "true")), float64(1))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	ActiveConnections.Set(2)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "support_gateway_realtime_connections 2"))
}
