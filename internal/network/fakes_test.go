package network

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/filecrypt"
)

const (
	testMnemonic = "index course habit soon assist dragon tragic helmet salute stuff later twice " +
		"consider grit pulse cement obvious trick sponsor stereo hello win royal more"
	testBucket = "cd8abd7e8b13081660b58dbe"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// memRemote implements Bridge and ShardTransport over in-memory maps.
type memRemote struct {
	mu      sync.Mutex
	shards  map[string][]byte
	files   map[string]*api.DownloadLinks
	pending map[string]int // slot uuid -> shard size

	linkCalls   atomic.Int32
	startCalls  atomic.Int32
	finishCalls atomic.Int32
	fetchCalls  atomic.Int32

	// Optional hooks; nil means plain in-memory behaviour.
	fetchHook func(ctx context.Context, url string) error
	putHook   func(ctx context.Context, url string) error
}

func newMemRemote() *memRemote {
	return &memRemote{
		shards:  make(map[string][]byte),
		files:   make(map[string]*api.DownloadLinks),
		pending: make(map[string]int),
	}
}

func (m *memRemote) GetDownloadLinks(_ context.Context, _, fileID string) (*api.DownloadLinks, error) {
	m.linkCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	links, ok := m.files[fileID]
	if !ok {
		return nil, api.ErrNotFound
	}

	cp := *links
	cp.Shards = append([]api.Shard(nil), links.Shards...)

	return &cp, nil
}

func (m *memRemote) StartUpload(_ context.Context, bucket string, parts []api.UploadPart) ([]api.UploadSlot, error) {
	m.startCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	slots := make([]api.UploadSlot, len(parts))
	for i, p := range parts {
		id := uuid.NewString()
		m.pending[id] = int(p.Size)
		slots[i] = api.UploadSlot{Index: p.Index, UUID: id, URL: fmt.Sprintf("mem://%s/%s", bucket, id)}
	}

	return slots, nil
}

func (m *memRemote) FinishUpload(_ context.Context, bucket string, req api.FinishUploadRequest) (string, error) {
	m.finishCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	links := &api.DownloadLinks{Index: req.Index, Bucket: bucket}

	for i, sh := range req.Shards {
		url := fmt.Sprintf("mem://%s/%s", bucket, sh.UUID)

		data, ok := m.shards[url]
		if !ok {
			return "", fmt.Errorf("shard %s never stored", sh.UUID)
		}

		if filecrypt.ShardHash(data) != sh.Hash {
			return "", errors.New("hash mismatch at finish")
		}

		links.Shards = append(links.Shards, api.Shard{URL: url, Index: i, Size: int64(len(data)), Hash: sh.Hash})
		links.Size += int64(len(data))
	}

	id := hex.EncodeToString([]byte(uuid.NewString()))[:24]
	m.files[id] = links

	return id, nil
}

func (m *memRemote) Fetch(ctx context.Context, url string, size int64) ([]byte, error) {
	m.fetchCalls.Add(1)

	if m.fetchHook != nil {
		if err := m.fetchHook(ctx, url); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.shards[url]
	if !ok || int64(len(data)) != size {
		return nil, fault.New(fault.KindTransport, "fetch", url, "no such shard")
	}

	return append([]byte(nil), data...), nil
}

func (m *memRemote) Put(ctx context.Context, url string, data []byte) error {
	if m.putHook != nil {
		if err := m.putHook(ctx, url); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.shards[url] = append([]byte(nil), data...)

	return nil
}

// shardURLs lists the stored shards of a file in index order.
func (m *memRemote) shardURLs(fileID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var urls []string
	for _, sh := range m.files[fileID].Shards {
		urls = append(urls, sh.URL)
	}

	return urls
}

// recordingWriter counts writes and records closure.
type recordingWriter struct {
	mu       sync.Mutex
	data     []byte
	writes   int
	closed   bool
	closeErr error
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writes++
	w.data = append(w.data, p...)

	return len(p), nil
}

func (w *recordingWriter) CloseWithError(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.closeErr = err

	return nil
}

func (w *recordingWriter) snapshot() (writes int, closed bool, closeErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.writes, w.closed, w.closeErr
}

// progressLog collects progress values; callbacks are serialized by the
// facade, the mutex only guards the final read.
type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(v int) {
	p.mu.Lock()
	p.values = append(p.values, v)
	p.mu.Unlock()
}

func (p *progressLog) get() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]int(nil), p.values...)
}
