package webdav

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
)

type deleteHandler struct {
	deps *Deps
}

// Handle trashes the item remotely and drops it, with everything cached
// below it, from the cache.
func (h *deleteHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.deps.Resolver.ResolvePath(c.Request().URL.EscapedPath())
	if err != nil {
		return err
	}

	if res.IsRoot() {
		return fault.Unsupported("delete", "the root folder cannot be deleted")
	}

	item, err := h.deps.Resolver.Locate(ctx, res)
	if err != nil {
		return err
	}

	if _, err := h.deps.Sessions.Session(ctx); err != nil {
		return err
	}

	if err := h.deps.Drive.DeleteItem(ctx, item.Kind, item.ID); err != nil {
		return err
	}

	if err := h.deps.Cache.Remove(ctx, item.Path); err != nil {
		return err
	}

	h.deps.Logger.Info("item deleted",
		slog.String("path", item.Path),
		slog.String("id", item.ID),
		slog.String("kind", string(item.Kind)),
	)

	return c.NoContent(http.StatusNoContent)
}
