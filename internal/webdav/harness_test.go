package webdav

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/auth"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/network"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/resolver"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/shard"
	"github.com/PedroManuelAtienzaHuerta/cli/testutil"
)

const (
	testMnemonic = "index course habit soon assist dragon tragic helmet salute stuff later twice " +
		"consider grit pulse cement obvious trick sponsor stereo hello win royal more"
	testBucket    = "cd8abd7e8b13081660b58dbe"
	testShardSize = 64
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// countingResolver records how often each resolver stage runs.
type countingResolver struct {
	inner    Resolver
	resolves atomic.Int32
	locates  atomic.Int32
}

func (r *countingResolver) ResolvePath(raw string) (*resolver.Resource, error) {
	r.resolves.Add(1)
	return r.inner.ResolvePath(raw)
}

func (r *countingResolver) Locate(ctx context.Context, res *resolver.Resource) (*cache.Item, error) {
	r.locates.Add(1)
	return r.inner.Locate(ctx, res)
}

func (r *countingResolver) Children(ctx context.Context, folder *cache.Item) ([]cache.Item, error) {
	return r.inner.Children(ctx, folder)
}

// countingTransfers records facade calls.
type countingTransfers struct {
	inner     Transfers
	downloads atomic.Int32
	uploads   atomic.Int32
}

func (c *countingTransfers) DownloadToStream(
	ctx context.Context, bucket, mnemonic, fileID string, size int64,
	output io.Writer, rng *network.RangeOptions, opts network.TransferOptions,
) *network.Transfer[network.DownloadResult] {
	c.downloads.Add(1)
	return c.inner.DownloadToStream(ctx, bucket, mnemonic, fileID, size, output, rng, opts)
}

func (c *countingTransfers) UploadFromStream(
	ctx context.Context, bucket, mnemonic string, size int64, input io.Reader, opts network.TransferOptions,
) *network.Transfer[network.UploadResult] {
	c.uploads.Add(1)
	return c.inner.UploadFromStream(ctx, bucket, mnemonic, size, input, opts)
}

type staticSessions struct {
	session *auth.Session
	err     error
}

func (s *staticSessions) Session(context.Context) (*auth.Session, error) {
	return s.session, s.err
}

type harness struct {
	remote    *testutil.FakeRemote
	store     cache.Store
	resolver  *countingResolver
	transfers *countingTransfers
	sessions  *staticSessions
	server    *Server
	url       string
	client    *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := testLogger(t)
	remote := testutil.NewFakeRemote(t)

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: testutil.FakeToken})
	client := api.NewClient(api.Endpoints{DriveURL: remote.DriveURL(), NetworkURL: remote.NetworkURL()},
		remote.Client(), tokens, logger, api.WithMaxRetries(0))

	shards := shard.NewTransport(shard.Options{
		HTTPClient:  remote.Client(),
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
	}, logger)

	facade := network.NewFacade(client, shards, network.Config{ShardSize: testShardSize, Fanout: 3}, logger)

	store, err := cache.OpenBadger("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		remote:    remote,
		store:     store,
		resolver:  &countingResolver{inner: resolver.New(store, client, nil, logger)},
		transfers: &countingTransfers{inner: facade},
		sessions: &staticSessions{session: &auth.Session{
			Token:    &oauth2.Token{AccessToken: testutil.FakeToken},
			Mnemonic: testMnemonic,
			Bucket:   testBucket,
		}},
	}

	h.server = New(Deps{
		Resolver:  h.resolver,
		Drive:     client,
		Transfers: h.transfers,
		Sessions:  h.sessions,
		Cache:     store,
		Logger:    logger,
	}, Options{SpoolDir: t.TempDir()})

	srv := httptest.NewServer(h.server.Handler())
	t.Cleanup(srv.Close)

	h.url = srv.URL
	h.client = srv.Client()

	return h
}

func (h *harness) do(t *testing.T, method, p string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, h.url+p, body)
	require.NoError(t, err)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

// doStatus performs a request and returns only its status.
func (h *harness) doStatus(t *testing.T, method, p string, body string, headers map[string]string) int {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	resp := h.do(t, method, p, r, headers)
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode
}

func (h *harness) get(t *testing.T, p string) (int, []byte) {
	t.Helper()

	resp := h.do(t, http.MethodGet, p, nil, nil)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (h *harness) put(t *testing.T, p string, data []byte) int {
	t.Helper()

	resp := h.do(t, http.MethodPut, p, strings.NewReader(string(data)), nil)
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode
}

func (h *harness) mkcol(t *testing.T, p string) int {
	t.Helper()

	return h.doStatus(t, MethodMkcol, p, "", nil)
}

func payload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + 3)
	}

	return out
}
