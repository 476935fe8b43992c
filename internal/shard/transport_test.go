package shard

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func newTestTransport(t *testing.T, retries int) *Transport {
	t.Helper()

	return NewTransport(Options{MaxRetries: retries, BaseBackoff: time.Millisecond}, testLogger(t))
}

func TestFetch_ReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("ciphertext"))
	}))
	defer srv.Close()

	data, err := newTestTransport(t, 1).Fetch(t.Context(), srv.URL, int64(len("ciphertext")))
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(data))
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			_, _ = w.Write([]byte("short"))
		default:
			_, _ = w.Write([]byte("full-body"))
		}
	}))
	defer srv.Close()

	data, err := newTestTransport(t, 5).Fetch(t.Context(), srv.URL, int64(len("full-body")))
	require.NoError(t, err)
	assert.Equal(t, "full-body", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ExhaustedBudgetIsTransportFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestTransport(t, 2).Fetch(t.Context(), srv.URL, 4)
	require.Error(t, err)
	assert.Equal(t, fault.KindTransport, fault.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestTransport(t, 5).Fetch(t.Context(), srv.URL, 4)
	require.Error(t, err)
	assert.Equal(t, fault.KindTransport, fault.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_CancellationPassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := newTestTransport(t, 5).Fetch(ctx, srv.URL, 4)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, fault.KindTransport, fault.KindOf(err))
}

func TestPut_SendsBodyWithLength(t *testing.T) {
	t.Parallel()

	var got atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, int64(7), r.ContentLength)

		body, _ := io.ReadAll(r.Body)
		got.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestTransport(t, 1).Put(t.Context(), srv.URL, []byte("payload")))
	assert.Equal(t, "payload", got.Load())
}

func TestPut_RetriesThenFails(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestTransport(t, 3).Put(t.Context(), srv.URL, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, fault.KindTransport, fault.KindOf(err))
	assert.Equal(t, int32(4), calls.Load())
}

func TestParseBandwidthRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"1MB/s", 1_000_000, false},
		{"512KiB/s", 512 * 1024, false},
		{"10MB", 10_000_000, false},
		{"fast", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := parseBandwidthRate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewBandwidthLimiter_UnlimitedIsNil(t *testing.T) {
	t.Parallel()

	bl, err := NewBandwidthLimiter("0", nil)
	require.NoError(t, err)
	assert.Nil(t, bl)

	// A nil limiter passes readers through untouched.
	r := strings.NewReader("unchanged")
	assert.Same(t, r, bl.WrapReader(t.Context(), r))
}

func TestBandwidthLimiter_Throttles(t *testing.T) {
	t.Parallel()

	bl, err := NewBandwidthLimiter("1KB/s", testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, bl)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 3000))
	}))
	defer srv.Close()

	tr := NewTransport(Options{Limiter: bl, BaseBackoff: time.Millisecond}, testLogger(t))

	start := time.Now()
	_, err = tr.Fetch(t.Context(), srv.URL, 3000)
	require.NoError(t, err)

	// 2000 bytes of burst are free; the remaining 1000 cost about a second.
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}
