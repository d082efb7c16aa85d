package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *Prometheus) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPrometheusRecordsLedgerOperations(t *testing.T) {
	t.Parallel()

	p := NewPrometheus()
	p.ObserveOperation("release", "success", 10*time.Millisecond)
	p.ObserveGatewayCall("create_refund", "retryable", time.Second)
	p.IncConflictRetry("release")

	body := scrape(t, p)
	require.Contains(t, body, `escrow_ledger_operations_total{operation="release",outcome="success"} 1`)
	require.Contains(t, body, `escrow_ledger_conflict_retries_total{operation="release"} 1`)
	require.Contains(t, body, `escrow_ledger_gateway_call_duration_seconds_count{operation="create_refund",outcome="retryable"} 1`)
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	t.Parallel()

	p := NewPrometheus()
	r := chi.NewRouter()
	r.Use(p.Middleware)
	r.Get("/escrow/contract/{contract_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/escrow/contract/c-42", nil))

	body := scrape(t, p)
	require.Contains(t, body, `escrow_ledger_http_requests_total{method="GET",route="/escrow/contract/{contract_id}",status="404"} 1`)
	require.NotContains(t, body, "c-42")
}
