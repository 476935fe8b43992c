package webdav

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/network"
)

type getHandler struct {
	deps *Deps
}

// Handle streams a file. Ranged requests are rejected before anything is
// resolved. Once the 200 is committed a transfer failure can only cut the
// body short.
func (h *getHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Header.Get("Content-Range") != "" {
		return fault.Unsupported("get", "Content-Range requests are not supported")
	}

	item, err := h.locateFile(c)
	if err != nil {
		return err
	}

	sess, err := h.deps.Sessions.Session(req.Context())
	if err != nil {
		return err
	}

	res := c.Response()
	setFileHeaders(res.Header(), item)
	res.WriteHeader(http.StatusOK)

	if item.Size == 0 {
		return nil
	}

	bucket := item.Bucket
	if bucket == "" {
		bucket = sess.Bucket
	}

	t := h.deps.Transfers.DownloadToStream(req.Context(), bucket, sess.Mnemonic, item.FileID, item.Size, res, nil,
		network.TransferOptions{})

	result, err := t.Wait()
	if err != nil {
		return err
	}

	h.deps.Logger.Debug("download finished",
		slog.String("path", item.Path),
		slog.String("transfer_id", t.ID),
		slog.Int64("bytes", result.Bytes),
		slog.Int("shards", result.Shards),
	)

	return nil
}

func (h *getHandler) locateFile(c echo.Context) (*cache.Item, error) {
	rsrc, err := h.deps.Resolver.ResolvePath(c.Request().URL.EscapedPath())
	if err != nil {
		return nil, err
	}

	item, err := h.deps.Resolver.Locate(c.Request().Context(), rsrc)
	if err != nil {
		return nil, err
	}

	if item.IsFolder() {
		return nil, fault.Unsupported("get", "folders cannot be downloaded")
	}

	return item, nil
}

// headHandler answers with GET's headers and no body.
type headHandler struct {
	get *getHandler
}

func (h *headHandler) Handle(c echo.Context) error {
	item, err := h.get.locateFile(c)
	if err != nil {
		return err
	}

	if _, err := h.get.deps.Sessions.Session(c.Request().Context()); err != nil {
		return err
	}

	setFileHeaders(c.Response().Header(), item)
	c.Response().WriteHeader(http.StatusOK)

	return nil
}
