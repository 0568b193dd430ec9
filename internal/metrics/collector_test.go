package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsRuns(t *testing.T) {
	c := NewCollector()

	c.RecordRun("succeeded", "", 2*time.Second)
	c.RecordRun("failed", "timeout", time.Second)
	c.RecordRun("failed", "timeout", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("succeeded", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("failed", "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.runDuration))
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.RecordPoll()
	c.RecordPoll()
	c.RecordUpload(1024)
	c.RecordUpload(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollsTotal))
	assert.Equal(t, 1024.0, testutil.ToFloat64(c.uploadedBytes))
}

func TestCollectorHandlerExposesGauge(t *testing.T) {
	c := NewCollector()
	c.RegisterGauge("queue_depth", "Jobs waiting", func() float64 { return 3 })
	c.RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "videosummarizer_queue_depth 3")
	assert.Contains(t, string(body), `videosummarizer_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordRun("succeeded", "", time.Second)
	c.RecordPoll()
	c.RecordUpload(10)
	c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	c.RegisterGauge("x", "x", func() float64 { return 1 })
	assert.Nil(t, c.Registry())
	assert.NotNil(t, c.Handler())
}
