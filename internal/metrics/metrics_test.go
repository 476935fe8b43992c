package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics_IsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", 200, time.Millisecond)
		m.TransferStarted("download")
		m.TransferFinished("download", "ok", 10)
		m.ShardRequest("get", "ok")
		m.ShardRetry("put")
		m.CacheLookup(true)
	})
}

func TestMetrics_Counts(t *testing.T) {
	t.Parallel()

	m := New()

	m.ObserveRequest("GET", 200, time.Millisecond)
	m.ObserveRequest("GET", 200, time.Millisecond)
	m.ObserveRequest("PUT", 500, time.Millisecond)
	m.TransferStarted("upload")
	m.TransferFinished("upload", "ok", 42)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	assert.InDelta(t, 2, testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requests.WithLabelValues("PUT", "500")), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.transferBytes.WithLabelValues("upload")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.activeTransfers.WithLabelValues("upload")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")), 0)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.ShardRequest("get", "ok")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `webdav_shard_requests_total{op="get",outcome="ok"} 1`)
}
