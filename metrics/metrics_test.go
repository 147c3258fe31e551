package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsServer(t *testing.T) {
	_, err := New("", ":0")
	require.Error(t, err)

	m, err := New("veil_test", "")
	require.NoError(t, err)

	IncScanCycle()
	AddPaymentsDetected(2)
	IncSwap("completed")

	rec := httptest.NewRecorder()
	m.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, `veil_test_build_info{version="dev"} 1`)
	require.Contains(t, body, "veil_scan_cycles_total")
	require.Contains(t, body, `veil_swaps_total{status="completed"}`)
}
