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

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveLLM("route", "ok", time.Second)
		c.ObserveRoute("grounded", 0)
		c.NodeCreated("Scenario")
		c.ObserveOracle("error")
		c.ObserveHTTP("POST", "/api/ask", 200, time.Millisecond)
		c.SetSessions(3)
		c.SetBreakerState("llm", 2)
	})
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("wuxing_test")

	c.ObserveLLM("route", "ok", 200*time.Millisecond)
	c.ObserveLLM("route", "ok", 300*time.Millisecond)
	c.ObserveRoute("fallback", 2)
	c.NodeCreated("Intention")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.LLMCalls.WithLabelValues("route", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Routes.WithLabelValues("fallback", "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NodesCreated.WithLabelValues("Intention")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "wuxing_test_llm_calls_total"))
}
