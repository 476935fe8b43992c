// Package testutil provides an in-memory stand-in for the remote drive,
// network and shard endpoints, served over httptest. Tests point a real
// api.Client and shard transport at it.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
)

// FakeToken is the bearer token the fake accepts.
const FakeToken = "fake-access-token"

// RootID is the ID of the fake drive's root folder.
const RootID = "root-folder"

type fakeItem struct {
	ID       string
	Type     string
	Name     string
	ParentID string
	Bucket   string
	FileID   string
	Size     int64
	Created  time.Time
	Updated  time.Time
	Trashed  bool
}

type storedShard struct {
	UUID string
	Hash string
}

type storedFile struct {
	Index  string
	Bucket string
	Shards []storedShard
}

// FakeRemote is an httptest server implementing the subset of the remote
// APIs the gateway uses.
type FakeRemote struct {
	server *httptest.Server

	mu     sync.Mutex
	items  map[string]*fakeItem
	files  map[string]*storedFile
	shards map[string][]byte
	calls  map[string]int
	now    time.Time

	// ShardPutFailures makes the next N shard PUTs fail with 500.
	ShardPutFailures int
}

// NewFakeRemote starts a fake remote holding only an empty root folder.
// The server is closed when the test ends.
func NewFakeRemote(t testing.TB) *FakeRemote {
	t.Helper()

	f := &FakeRemote{
		items:  map[string]*fakeItem{},
		files:  map[string]*storedFile{},
		shards: map[string][]byte{},
		calls:  map[string]int{},
		now:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	f.items[RootID] = &fakeItem{ID: RootID, Type: "folder", Created: f.now, Updated: f.now}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /drive/folders/root", f.authed("get-root", f.getRoot))
	mux.HandleFunc("GET /drive/folders/{id}/children", f.authed("list", f.listChildren))
	mux.HandleFunc("POST /drive/folders", f.authed("create-folder", f.createFolder))
	mux.HandleFunc("POST /drive/files", f.authed("create-file", f.createFile))
	mux.HandleFunc("PUT /drive/files/{id}", f.authed("replace-file", f.replaceFile))
	mux.HandleFunc("PATCH /drive/{collection}/{id}", f.authed("move", f.moveItem))
	mux.HandleFunc("DELETE /drive/{collection}/{id}", f.authed("delete", f.deleteItem))
	mux.HandleFunc("GET /network/buckets/{bucket}/files/{fileID}/info", f.authed("download-info", f.downloadInfo))
	mux.HandleFunc("POST /network/v2/buckets/{bucket}/files/start", f.authed("upload-start", f.startUpload))
	mux.HandleFunc("POST /network/v2/buckets/{bucket}/files/finish", f.authed("upload-finish", f.finishUpload))
	mux.HandleFunc("GET /shards/{uuid}", f.count("shard-get", f.getShard))
	mux.HandleFunc("PUT /shards/{uuid}", f.count("shard-put", f.putShard))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

// DriveURL is the drive API base URL.
func (f *FakeRemote) DriveURL() string { return f.server.URL + "/drive" }

// NetworkURL is the network API base URL.
func (f *FakeRemote) NetworkURL() string { return f.server.URL + "/network" }

// Client returns an HTTP client for the fake server.
func (f *FakeRemote) Client() *http.Client { return f.server.Client() }

// Calls returns how often an endpoint was hit, by name ("list",
// "get-root", "shard-put", ...).
func (f *FakeRemote) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[name]
}

// ResetCalls zeroes every counter.
func (f *FakeRemote) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = map[string]int{}
}

// AddFolder creates a folder directly, bypassing the API.
func (f *FakeRemote) AddFolder(parentID, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addItemLocked(&fakeItem{Type: "folder", Name: name, ParentID: parentID})
}

// Lookup returns the ID of the live child called name, if any.
func (f *FakeRemote) Lookup(parentID, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, it := range f.items {
		if it.ParentID == parentID && it.Name == name && !it.Trashed {
			return it.ID, true
		}
	}

	return "", false
}

// Trashed reports whether the item was deleted.
func (f *FakeRemote) Trashed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.items[id]

	return ok && it.Trashed
}

// ShardCount returns the number of shards stored for a file ID.
func (f *FakeRemote) ShardCount(fileID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sf, ok := f.files[fileID]; ok {
		return len(sf.Shards)
	}

	return 0
}

func (f *FakeRemote) addItemLocked(it *fakeItem) string {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}

	f.now = f.now.Add(time.Second)
	it.Created, it.Updated = f.now, f.now
	f.items[it.ID] = it

	return it.ID
}

func (f *FakeRemote) count(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[name]++
		f.mu.Unlock()

		h(w, r)
	}
}

func (f *FakeRemote) authed(name string, h http.HandlerFunc) http.HandlerFunc {
	return f.count(name, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+FakeToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		h(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func (it *fakeItem) toJSON() map[string]any {
	return map[string]any{
		"id":             it.ID,
		"type":           it.Type,
		"name":           it.Name,
		"parentId":       it.ParentID,
		"bucket":         it.Bucket,
		"fileId":         it.FileID,
		"size":           strconv.FormatInt(it.Size, 10),
		"createdAt":      it.Created.Format(time.RFC3339Nano),
		"updatedAt":      it.Updated.Format(time.RFC3339Nano),
		"encryptVersion": api.EncryptionVersion,
	}
}

func (f *FakeRemote) liveItem(id string) (*fakeItem, bool) {
	it, ok := f.items[id]
	if !ok || it.Trashed {
		return nil, false
	}

	return it, true
}

func (f *FakeRemote) getRoot(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON(w, http.StatusOK, f.items[RootID].toJSON())
}

func (f *FakeRemote) listChildren(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parentID := r.PathValue("id")
	if parent, ok := f.liveItem(parentID); !ok || parent.Type != "folder" {
		notFound(w)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	var children []*fakeItem
	for _, it := range f.items {
		if it.ParentID == parentID && it.ID != RootID && !it.Trashed {
			children = append(children, it)
		}
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })

	page := []map[string]any{}
	for i := offset; i < len(children) && i < offset+limit; i++ {
		page = append(page, children[i].toJSON())
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": page})
}

func (f *FakeRemote) nameTakenLocked(parentID, name string) bool {
	for _, it := range f.items {
		if it.ParentID == parentID && it.Name == name && !it.Trashed && it.ID != RootID {
			return true
		}
	}

	return false
}

func (f *FakeRemote) createFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parentId"`
		Name     string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.liveItem(req.ParentID); !ok {
		notFound(w)
		return
	}

	if f.nameTakenLocked(req.ParentID, req.Name) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "name taken"})
		return
	}

	id := f.addItemLocked(&fakeItem{Type: "folder", Name: req.Name, ParentID: req.ParentID})
	writeJSON(w, http.StatusCreated, f.items[id].toJSON())
}

func (f *FakeRemote) createFile(w http.ResponseWriter, r *http.Request) {
	var req api.CreateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.liveItem(req.FolderID); !ok {
		notFound(w)
		return
	}

	if _, ok := f.files[req.FileID]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown fileId"})
		return
	}

	if f.nameTakenLocked(req.FolderID, req.Name) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "name taken"})
		return
	}

	id := f.addItemLocked(&fakeItem{
		Type: "file", Name: req.Name, ParentID: req.FolderID,
		Bucket: req.Bucket, FileID: req.FileID, Size: req.Size,
	})
	writeJSON(w, http.StatusCreated, f.items[id].toJSON())
}

func (f *FakeRemote) replaceFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID string `json:"fileId"`
		Size   int64  `json:"size"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.liveItem(r.PathValue("id"))
	if !ok || it.Type != "file" {
		notFound(w)
		return
	}

	f.now = f.now.Add(time.Second)
	it.FileID, it.Size, it.Updated = req.FileID, req.Size, f.now

	writeJSON(w, http.StatusOK, it.toJSON())
}

func (f *FakeRemote) moveItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parentId"`
		Name     string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.liveItem(r.PathValue("id"))
	if !ok || collectionOf(it) != r.PathValue("collection") {
		notFound(w)
		return
	}

	parentID, name := it.ParentID, it.Name
	if req.ParentID != "" {
		parentID = req.ParentID
	}

	if req.Name != "" {
		name = req.Name
	}

	if _, ok := f.liveItem(parentID); !ok {
		notFound(w)
		return
	}

	if f.nameTakenLocked(parentID, name) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "name taken"})
		return
	}

	f.now = f.now.Add(time.Second)
	it.ParentID, it.Name, it.Updated = parentID, name, f.now

	writeJSON(w, http.StatusOK, it.toJSON())
}

func (f *FakeRemote) deleteItem(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.liveItem(r.PathValue("id"))
	if !ok || it.ID == RootID || collectionOf(it) != r.PathValue("collection") {
		notFound(w)
		return
	}

	f.trashLocked(it.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeRemote) trashLocked(id string) {
	f.items[id].Trashed = true

	for _, it := range f.items {
		if it.ParentID == id && !it.Trashed {
			f.trashLocked(it.ID)
		}
	}
}

func collectionOf(it *fakeItem) string {
	if it.Type == "folder" {
		return "folders"
	}

	return "files"
}

func (f *FakeRemote) downloadInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sf, ok := f.files[r.PathValue("fileID")]
	if !ok {
		notFound(w)
		return
	}

	links := api.DownloadLinks{Index: sf.Index, Bucket: sf.Bucket, Created: f.now, Version: 2}
	for i, s := range sf.Shards {
		data := f.shards[s.UUID]
		links.Shards = append(links.Shards, api.Shard{
			URL:   f.server.URL + "/shards/" + s.UUID,
			Index: i,
			Size:  int64(len(data)),
			Hash:  s.Hash,
		})
		links.Size += int64(len(data))
	}

	writeJSON(w, http.StatusOK, links)
}

func (f *FakeRemote) startUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Uploads []api.UploadPart `json:"uploads"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	slots := make([]api.UploadSlot, 0, len(req.Uploads))
	for _, p := range req.Uploads {
		id := uuid.NewString()
		slots = append(slots, api.UploadSlot{Index: p.Index, UUID: id, URL: f.server.URL + "/shards/" + id})
	}

	writeJSON(w, http.StatusOK, map[string]any{"uploads": slots})
}

func (f *FakeRemote) finishUpload(w http.ResponseWriter, r *http.Request) {
	var req api.FinishUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sf := &storedFile{Index: req.Index, Bucket: r.PathValue("bucket")}
	for _, s := range req.Shards {
		if _, ok := f.shards[s.UUID]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "shard " + s.UUID + " was never uploaded"})
			return
		}

		sf.Shards = append(sf.Shards, storedShard{UUID: s.UUID, Hash: s.Hash})
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	f.files[id] = sf

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (f *FakeRemote) getShard(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	data, ok := f.shards[r.PathValue("uuid")]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (f *FakeRemote) putShard(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ShardPutFailures > 0 {
		f.ShardPutFailures--
		http.Error(w, "injected failure", http.StatusInternalServerError)

		return
	}

	f.shards[r.PathValue("uuid")] = data
	w.WriteHeader(http.StatusOK)
}

// String describes the fake's contents, for failure messages.
func (f *FakeRemote) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	for _, it := range f.items {
		fmt.Fprintf(&b, "%s %s %q parent=%s trashed=%t\n", it.ID, it.Type, it.Name, it.ParentID, it.Trashed)
	}

	return b.String()
}
