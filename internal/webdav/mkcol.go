package webdav

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
)

type mkcolHandler struct {
	deps *Deps
}

// Handle creates a folder. An existing target is rejected; missing
// intermediate folders are a conflict.
func (h *mkcolHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.deps.Resolver.ResolvePath(c.Request().URL.EscapedPath())
	if err != nil {
		return err
	}

	if res.IsRoot() {
		return fault.New(fault.KindExists, "mkcol", res.Path, "the root folder already exists")
	}

	existing, err := locateOptional(ctx, h.deps.Resolver, res)
	if err != nil {
		return err
	}

	if existing != nil {
		return fault.New(fault.KindExists, "mkcol", res.Path, "an item already exists at this path")
	}

	parent, err := locateParent(ctx, h.deps.Resolver, "mkcol", res)
	if err != nil {
		return err
	}

	if _, err := h.deps.Sessions.Session(ctx); err != nil {
		return err
	}

	folder, err := h.deps.Drive.CreateFolder(ctx, parent.ID, res.Name)
	if err != nil {
		return err
	}

	folder.Name = res.Name
	folder.ParentID = parent.ID

	// A new folder is empty, so its listing is already complete.
	if err := h.deps.Cache.Upsert(ctx, cache.Item{Item: *folder, Path: res.Path, ChildrenListed: true}); err != nil {
		return err
	}

	h.deps.Logger.Info("folder created", slog.String("path", res.Path), slog.String("id", folder.ID))

	return c.NoContent(http.StatusCreated)
}
