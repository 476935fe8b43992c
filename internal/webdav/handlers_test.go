package webdav

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/testutil"
)

func TestGet_ContentRangeRejectedBeforeResolving(t *testing.T) {
	h := newHarness(t)

	status := h.doStatus(t, http.MethodGet, "/file.txt", "", map[string]string{
		"Content-Range": "bytes 0-100/200",
	})

	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Zero(t, h.resolver.resolves.Load())
	assert.Zero(t, h.resolver.locates.Load())
	assert.Zero(t, h.transfers.downloads.Load())
	assert.Zero(t, h.remote.Calls("get-root"))
}

func TestGet_MissingPath(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/missing.txt", nil, nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "xml")
	assert.Contains(t, string(body), "responsedescription")

	assert.Equal(t, int32(1), h.resolver.resolves.Load())
	assert.Equal(t, int32(1), h.resolver.locates.Load())
	assert.Zero(t, h.transfers.downloads.Load())
}

func TestPutGet_RoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 17, testShardSize, testShardSize + 1, 5*testShardSize + 13} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			h := newHarness(t)
			data := payload(size)

			require.Equal(t, http.StatusCreated, h.put(t, "/file.bin", data))

			resp := h.do(t, http.MethodGet, "/file.bin", nil, nil)
			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, strconv.Itoa(size), resp.Header.Get("Content-Length"))
			assert.NotEmpty(t, resp.Header.Get("ETag"))
			assert.True(t, bytes.Equal(data, got), "content mismatch for %d bytes", size)
		})
	}
}

func TestPut_SeventeenBytesIsOneShard(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, http.StatusCreated, h.put(t, "/small.txt", []byte("encrypted-content")))

	item, err := h.store.FindByPath(t.Context(), "/small.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(17), item.Size)
	assert.Equal(t, 1, h.remote.ShardCount(item.FileID))
	assert.Equal(t, 1, h.remote.Calls("shard-put"))
}

func TestPut_ReplaceExisting(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, http.StatusCreated, h.put(t, "/notes.txt", []byte("first version")))

	first, err := h.store.FindByPath(t.Context(), "/notes.txt")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, h.put(t, "/notes.txt", []byte("second, longer version")))

	second, err := h.store.FindByPath(t.Context(), "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.FileID, second.FileID)

	status, got := h.get(t, "/notes.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "second, longer version", string(got))
}

func TestPut_UnknownLengthIsSpooled(t *testing.T) {
	h := newHarness(t)
	data := payload(3*testShardSize + 5)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPut, h.url+"/chunked.bin",
		io.NopCloser(bytes.NewReader(data)))
	require.NoError(t, err)
	req.ContentLength = -1

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	status, got := h.get(t, "/chunked.bin")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, bytes.Equal(data, got))
}

func TestPut_Rejections(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))

	assert.Equal(t, http.StatusConflict, h.put(t, "/nowhere/file.txt", []byte("x")))
	assert.Equal(t, http.StatusMethodNotAllowed, h.put(t, "/docs/", []byte("x")))
	assert.Equal(t, http.StatusMethodNotAllowed, h.put(t, "/docs", []byte("x")))
	assert.Zero(t, h.transfers.uploads.Load())
}

func TestPut_ShardFailureIsBadGateway(t *testing.T) {
	h := newHarness(t)
	h.remote.ShardPutFailures = 1000

	assert.Equal(t, http.StatusBadGateway, h.put(t, "/fails.bin", payload(2*testShardSize)))
	assert.Zero(t, h.remote.Calls("create-file"))

	_, err := h.store.FindByPath(t.Context(), "/fails.bin")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestGet_FolderUnsupported(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))

	status, _ := h.get(t, "/docs")
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Zero(t, h.transfers.downloads.Load())
}

func TestGet_FolderHintOnFile(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.put(t, "/a.txt", []byte("abc")))

	status, _ := h.get(t, "/a.txt/")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGet_Unauthorized(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.put(t, "/a.txt", []byte("abc")))

	h.sessions.err = fault.New(fault.KindUnauthorized, "session", "", "no session")

	status, _ := h.get(t, "/a.txt")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Zero(t, h.transfers.downloads.Load())
}

func TestHead(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.put(t, "/report.pdf", payload(100)))

	resp := h.do(t, http.MethodHead, "/report.pdf", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100", resp.Header.Get("Content-Length"))
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))
	assert.Zero(t, h.transfers.downloads.Load())

	resp = h.do(t, http.MethodHead, "/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHead_Unauthorized(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.put(t, "/a.txt", []byte("abc")))

	h.sessions.err = fault.New(fault.KindUnauthorized, "session", "", "no session")

	resp := h.do(t, http.MethodHead, "/a.txt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("ETag"))
}

type msResult struct {
	Responses []struct {
		Href string `xml:"href"`
		Prop struct {
			DisplayName   string `xml:"displayname"`
			ContentLength string `xml:"getcontentlength"`
			ResourceType  struct {
				Collection *struct{} `xml:"collection"`
			} `xml:"resourcetype"`
		} `xml:"propstat>prop"`
		Status string `xml:"propstat>status"`
	} `xml:"response"`
}

func (h *harness) propfind(t *testing.T, p, depth string) (int, msResult) {
	t.Helper()

	headers := map[string]string{}
	if depth != "" {
		headers["Depth"] = depth
	}

	resp := h.do(t, MethodPropfind, p, nil, headers)

	var ms msResult
	if resp.StatusCode == http.StatusMultiStatus {
		require.NoError(t, xml.NewDecoder(resp.Body).Decode(&ms))
	}

	return resp.StatusCode, ms
}

func TestPropfind(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))
	require.Equal(t, http.StatusCreated, h.put(t, "/docs/a%20b.txt", payload(10)))
	require.Equal(t, http.StatusCreated, h.put(t, "/top.txt", payload(3)))

	status, ms := h.propfind(t, "/", "1")
	require.Equal(t, http.StatusMultiStatus, status)
	require.Len(t, ms.Responses, 3)
	assert.Equal(t, "/", ms.Responses[0].Href)
	assert.NotNil(t, ms.Responses[0].Prop.ResourceType.Collection)

	hrefs := map[string]string{}
	for _, r := range ms.Responses[1:] {
		hrefs[r.Href] = r.Prop.ContentLength
		assert.Equal(t, "HTTP/1.1 200 OK", r.Status)
	}

	assert.Equal(t, map[string]string{"/docs/": "", "/top.txt": "3"}, hrefs)

	status, ms = h.propfind(t, "/docs", "")
	require.Equal(t, http.StatusMultiStatus, status)
	require.Len(t, ms.Responses, 2)
	assert.Equal(t, "/docs/a%20b.txt", ms.Responses[1].Href)
	assert.Equal(t, "a b.txt", ms.Responses[1].Prop.DisplayName)
	assert.Equal(t, "10", ms.Responses[1].Prop.ContentLength)
	assert.Nil(t, ms.Responses[1].Prop.ResourceType.Collection)

	status, ms = h.propfind(t, "/docs", "0")
	require.Equal(t, http.StatusMultiStatus, status)
	assert.Len(t, ms.Responses, 1)

	status, ms = h.propfind(t, "/docs", "infinity")
	require.Equal(t, http.StatusMultiStatus, status)
	assert.Len(t, ms.Responses, 2)

	status, _ = h.propfind(t, "/docs", "2")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.propfind(t, "/nope", "1")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPropfind_ListingServedFromCache(t *testing.T) {
	h := newHarness(t)
	folderID := h.remote.AddFolder(testutil.RootID, "remote-only")
	h.remote.AddFolder(folderID, "inner")

	status, ms := h.propfind(t, "/remote-only", "1")
	require.Equal(t, http.StatusMultiStatus, status)
	require.Len(t, ms.Responses, 2)

	lists := h.remote.Calls("list")

	status, _ = h.propfind(t, "/remote-only", "1")
	require.Equal(t, http.StatusMultiStatus, status)
	assert.Equal(t, lists, h.remote.Calls("list"))
}

func TestMkcol(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))
	assert.Equal(t, http.StatusCreated, h.mkcol(t, "/docs/inner/"))
	assert.Equal(t, http.StatusMethodNotAllowed, h.mkcol(t, "/docs"))
	assert.Equal(t, http.StatusMethodNotAllowed, h.mkcol(t, "/"))
	assert.Equal(t, http.StatusConflict, h.mkcol(t, "/missing/child"))

	_, ok := h.remote.Lookup(testutil.RootID, "docs")
	assert.True(t, ok)

	item, err := h.store.FindByPath(t.Context(), "/docs/inner")
	require.NoError(t, err)
	assert.True(t, item.IsFolder())
	assert.True(t, item.ChildrenListed)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))
	require.Equal(t, http.StatusCreated, h.put(t, "/docs/a.txt", payload(5)))
	require.Equal(t, http.StatusCreated, h.put(t, "/keep.txt", payload(5)))

	docs, err := h.store.FindByPath(t.Context(), "/docs")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, h.doStatus(t, http.MethodDelete, "/docs", "", nil))
	assert.True(t, h.remote.Trashed(docs.ID))

	_, err = h.store.FindByPath(t.Context(), "/docs/a.txt")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	_, err = h.store.FindByPath(t.Context(), "/keep.txt")
	assert.NoError(t, err)

	status, _ := h.get(t, "/docs/a.txt")
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, http.StatusNotFound, h.doStatus(t, http.MethodDelete, "/docs", "", nil))
	assert.Equal(t, http.StatusNotImplemented, h.doStatus(t, http.MethodDelete, "/", "", nil))
}

func TestMove_RenameAndReparent(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/other"))
	require.Equal(t, http.StatusCreated, h.put(t, "/docs/a.txt", []byte("moving")))
	require.Equal(t, http.StatusCreated, h.put(t, "/docs/b.txt", []byte("staying")))

	other, err := h.store.FindByPath(t.Context(), "/other")
	require.NoError(t, err)

	h.remote.ResetCalls()

	status := h.doStatus(t, MethodMove, "/docs/a.txt", "", map[string]string{
		"Destination": h.url + "/other/renamed.txt",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 1, h.remote.Calls("move"))

	moved, err := h.store.FindByPath(t.Context(), "/other/renamed.txt")
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", moved.Name)
	assert.Equal(t, other.ID, moved.ParentID)

	_, err = h.store.FindByPath(t.Context(), "/docs/a.txt")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	// The sibling stays cached and is served without another listing.
	lists := h.remote.Calls("list")
	status, got := h.get(t, "/docs/b.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "staying", string(got))
	assert.Equal(t, lists, h.remote.Calls("list"))

	status, got = h.get(t, "/other/renamed.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "moving", string(got))
}

func TestMove_FolderRebasesDescendants(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))
	require.Equal(t, http.StatusCreated, h.put(t, "/docs/a.txt", []byte("inside")))

	status := h.doStatus(t, MethodMove, "/docs", "", map[string]string{"Destination": "/archive"})
	require.Equal(t, http.StatusCreated, status)

	child, err := h.store.FindByPath(t.Context(), "/archive/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", child.Name)

	status, got := h.get(t, "/archive/a.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "inside", string(got))
}

func TestMove_Overwrite(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.put(t, "/src.txt", []byte("new")))
	require.Equal(t, http.StatusCreated, h.put(t, "/dst.txt", []byte("old")))

	dst, err := h.store.FindByPath(t.Context(), "/dst.txt")
	require.NoError(t, err)

	status := h.doStatus(t, MethodMove, "/src.txt", "", map[string]string{
		"Destination": "/dst.txt",
		"Overwrite":   "F",
	})
	assert.Equal(t, http.StatusPreconditionFailed, status)
	assert.False(t, h.remote.Trashed(dst.ID))

	status = h.doStatus(t, MethodMove, "/src.txt", "", map[string]string{
		"Destination": "/dst.txt",
		"Overwrite":   "T",
	})
	assert.Equal(t, http.StatusNoContent, status)
	assert.True(t, h.remote.Trashed(dst.ID))

	status, got := h.get(t, "/dst.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "new", string(got))
}

func TestMove_Rejections(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusCreated, h.mkcol(t, "/docs"))
	require.Equal(t, http.StatusCreated, h.put(t, "/a.txt", []byte("a")))
	require.Equal(t, http.StatusCreated, h.put(t, "/docs/r.txt", []byte("r")))

	tests := []struct {
		name    string
		src     string
		headers map[string]string
		want    int
	}{
		{"missing destination header", "/a.txt", nil, http.StatusBadRequest},
		{"missing destination parent", "/a.txt", map[string]string{"Destination": "/nope/a.txt"}, http.StatusConflict},
		{"missing source", "/ghost.txt", map[string]string{"Destination": "/b.txt"}, http.StatusNotFound},
		{"into itself", "/docs", map[string]string{"Destination": "/docs/sub"}, http.StatusConflict},
		{"onto own parent", "/docs/r.txt", map[string]string{"Destination": "/docs", "Overwrite": "T"}, http.StatusConflict},
		{"same path", "/a.txt", map[string]string{"Destination": "/a.txt"}, http.StatusBadRequest},
		{"bad overwrite", "/a.txt", map[string]string{"Destination": "/b.txt", "Overwrite": "maybe"}, http.StatusBadRequest},
		{"root", "/", map[string]string{"Destination": "/x"}, http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.doStatus(t, MethodMove, tt.src, "", tt.headers))
		})
	}

	assert.Zero(t, h.remote.Calls("move"))
	assert.Zero(t, h.remote.Calls("delete"))

	status, body := h.get(t, "/docs/r.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte("r"), body)
}

func TestOptions(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodOptions, "/anything", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("DAV"))
	assert.Contains(t, resp.Header.Get("Allow"), MethodPropfind)
	assert.Zero(t, h.resolver.resolves.Load())
}

func TestUnknownMethod(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusMethodNotAllowed, h.doStatus(t, "LOCK", "/a.txt", "", nil))
}

func TestMalformedPath(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusBadRequest, h.doStatus(t, MethodPropfind, "/bad%00name", "", nil))
}
