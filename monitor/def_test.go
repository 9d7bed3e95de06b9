package monitor

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePredict(t *testing.T) {
	m := New("InferenceService", "0.0.1")
	m.ObservePredict(12*time.Millisecond, nil)
	m.ObservePredict(3*time.Millisecond, errors.New("boom"))
	m.ObservePredict(5*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.predictTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictTotal.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.predictLatency))
}

func TestObserveRequest(t *testing.T) {
	m := New("InferenceService", "0.0.1")
	m.ObserveRequest("http", "ok")
	m.ObserveRequest("grpc", "error")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("http", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("grpc", "error")))
}

func TestHandler(t *testing.T) {
	m := New("InferenceService", "0.0.1")
	require.NoError(t, m.CheckProcessInfo())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `service_build_info{component_name="InferenceService",service_version="0.0.1"} 1`))
	assert.True(t, strings.Contains(body, "memory_usage_Megabytes"))
}
