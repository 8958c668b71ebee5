package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveHelpersUpdateCollectors(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(archiveOutcomesTotal.WithLabelValues("rate_limited"))
	ObserveArchiveOutcome("rate_limited")
	require.InDelta(t, before+1, testutil.ToFloat64(archiveOutcomesTotal.WithLabelValues("rate_limited")), 0.001)

	beforeReq := testutil.ToFloat64(outboundRequestsTotal.WithLabelValues("POST", "web.archive.org", "429"))
	ObserveHTTPRequest("POST", "web.archive.org", 429)
	require.InDelta(t, beforeReq+1,
		testutil.ToFloat64(outboundRequestsTotal.WithLabelValues("POST", "web.archive.org", "429")), 0.001)

	beforeRetry := testutil.ToFloat64(archiveRetriesTotal)
	ObserveRetry()
	require.InDelta(t, beforeRetry+1, testutil.ToFloat64(archiveRetriesTotal), 0.001)

	ObserveRateLimitDelay("www.mingpaocanada.com", 3*time.Second)
	require.Equal(t, 1, testutil.CollectAndCount(rateLimitWaitSeconds, "archiver_rate_limit_wait_seconds"))
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	before := testutil.ToFloat64(endpointRequestsTotal.WithLabelValues("GET", "204"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(endpointRequestsTotal.WithLabelValues("GET", "204")), 0.001)
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveArchiveOutcome("success")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "archiver_archive_outcomes_total")
}
