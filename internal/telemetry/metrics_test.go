package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentRecordsStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))

	before2xx := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx"))
	before4xx := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))

	for _, path := range []string{"/", "/", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, before2xx+2, testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx")))
	assert.Equal(t, before4xx+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx")))
	assert.Zero(t, testutil.ToFloat64(InFlight.WithLabelValues("test_op")))
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	SetBuildInfo("test", "deadbeef")
	Members.Set(3)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `escalon_build_info{git_sha="deadbeef",version="test"} 1`))
	assert.Contains(t, body, "escalon_members 3")
	assert.Contains(t, body, "escalon_uptime_seconds")
}
