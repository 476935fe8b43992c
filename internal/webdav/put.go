package webdav

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/network"
)

type putHandler struct {
	deps     *Deps
	spoolDir string
}

// Handle uploads the request body and creates or replaces the file entry.
// Concurrent PUTs to one path race; the last to register its content wins.
func (h *putHandler) Handle(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	res, err := h.deps.Resolver.ResolvePath(req.URL.EscapedPath())
	if err != nil {
		return err
	}

	if res.IsRoot() || res.WantFolder {
		return fault.New(fault.KindExists, "put", res.Path, "cannot PUT to a folder path")
	}

	parent, err := locateParent(ctx, h.deps.Resolver, "put", res)
	if err != nil {
		return err
	}

	existing, err := locateOptional(ctx, h.deps.Resolver, res)
	if err != nil {
		return err
	}

	if existing != nil && existing.IsFolder() {
		return fault.New(fault.KindExists, "put", res.Path, "a folder exists at this path")
	}

	sess, err := h.deps.Sessions.Session(ctx)
	if err != nil {
		return err
	}

	body, size, cleanup, err := h.sizedBody(req)
	if err != nil {
		return err
	}
	defer cleanup()

	t := h.deps.Transfers.UploadFromStream(ctx, sess.Bucket, sess.Mnemonic, size, body, network.TransferOptions{})

	up, err := t.Wait()
	if err != nil {
		return err
	}

	var (
		item   *api.Item
		status int
	)

	if existing != nil {
		item, err = h.deps.Drive.ReplaceFile(ctx, existing.ID, up.FileID, up.Size)
		status = http.StatusOK
	} else {
		item, err = h.deps.Drive.CreateFile(ctx, api.CreateFileRequest{
			FolderID:          parent.ID,
			Name:              res.Name,
			Bucket:            sess.Bucket,
			FileID:            up.FileID,
			Size:              up.Size,
			EncryptionVersion: api.EncryptionVersion,
		})
		status = http.StatusCreated
	}

	if err != nil {
		return fmt.Errorf("put %s: registering content: %w", res.Path, err)
	}

	// The cache is keyed by the requested path, whatever the remote echoes.
	item.Name = res.Name
	item.ParentID = parent.ID

	if err := h.deps.Cache.Upsert(ctx, cache.Item{Item: *item, Path: res.Path}); err != nil {
		return err
	}

	h.deps.Logger.Info("file stored",
		slog.String("path", res.Path),
		slog.String("id", item.ID),
		slog.Int64("size", up.Size),
		slog.Bool("replaced", existing != nil),
	)

	return c.NoContent(status)
}

// sizedBody returns the request body with its exact length. A body of
// unknown length is spooled to a temp file first.
func (h *putHandler) sizedBody(req *http.Request) (io.Reader, int64, func(), error) {
	if req.ContentLength >= 0 {
		return req.Body, req.ContentLength, func() {}, nil
	}

	spool, err := os.CreateTemp(h.spoolDir, "webdav-put-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("put: creating spool file: %w", err)
	}

	cleanup := func() {
		spool.Close()
		os.Remove(spool.Name())
	}

	size, err := io.Copy(spool, req.Body)
	if err != nil {
		cleanup()
		return nil, 0, nil, fault.Wrap(fault.KindMalformed, "put", "", fmt.Errorf("reading request body: %w", err))
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("put: rewinding spool file: %w", err)
	}

	h.deps.Logger.Debug("spooled body of unknown length", slog.Int64("size", size))

	return spool, size, cleanup, nil
}
