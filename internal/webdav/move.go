package webdav

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/resolver"
)

type moveHandler struct {
	deps *Deps
}

// Handle renames and/or reparents an item in one remote call, then rewrites
// the cached paths in place. Nothing else in either folder is touched.
func (h *moveHandler) Handle(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	src, err := h.deps.Resolver.ResolvePath(req.URL.EscapedPath())
	if err != nil {
		return err
	}

	dst, err := resolver.ResolveDestination(req.Header.Get("Destination"))
	if err != nil {
		return err
	}

	overwrite, err := parseOverwrite(req.Header.Get("Overwrite"))
	if err != nil {
		return err
	}

	if src.IsRoot() || dst.IsRoot() {
		return fault.Unsupported("move", "the root folder cannot be moved or replaced")
	}

	if src.Path == dst.Path {
		return fault.Malformed("move", "source and destination are the same")
	}

	if cache.IsDescendant(dst.Path, src.Path) {
		return fault.New(fault.KindConflict, "move", dst.Path, "cannot move a folder into itself")
	}

	// Overwriting an ancestor would delete the source along with it.
	if cache.IsDescendant(src.Path, dst.Path) {
		return fault.New(fault.KindConflict, "move", dst.Path, "destination contains the source")
	}

	item, err := h.deps.Resolver.Locate(ctx, src)
	if err != nil {
		return err
	}

	dstParent, err := locateParent(ctx, h.deps.Resolver, "move", dst)
	if err != nil {
		return err
	}

	existing, err := locateOptional(ctx, h.deps.Resolver, dst)
	if err != nil {
		return err
	}

	if existing != nil && !overwrite {
		return fault.New(fault.KindPrecondition, "move", dst.Path, "destination exists and Overwrite is F")
	}

	if _, err := h.deps.Sessions.Session(ctx); err != nil {
		return err
	}

	if existing != nil {
		if err := h.deps.Drive.DeleteItem(ctx, existing.Kind, existing.ID); err != nil {
			return err
		}

		if err := h.deps.Cache.Remove(ctx, existing.Path); err != nil {
			return err
		}
	}

	var newParentID, newName string
	if dstParent.ID != item.ParentID {
		newParentID = dstParent.ID
	}

	if dst.Name != item.Name {
		newName = dst.Name
	}

	moved := item.Item

	if newParentID != "" || newName != "" {
		remote, err := h.deps.Drive.MoveItem(ctx, item.Kind, item.ID, newParentID, newName)
		if err != nil {
			return err
		}

		moved = *remote
	}

	moved.Name = dst.Name
	moved.ParentID = dstParent.ID

	if err := h.deps.Cache.Move(ctx, src.Path, cache.Item{
		Item:           moved,
		Path:           dst.Path,
		ChildrenListed: item.ChildrenListed,
	}); err != nil {
		return err
	}

	h.deps.Logger.Info("item moved",
		slog.String("from", src.Path),
		slog.String("to", dst.Path),
		slog.Bool("overwrote", existing != nil),
	)

	if existing != nil {
		return c.NoContent(http.StatusNoContent)
	}

	return c.NoContent(http.StatusCreated)
}

func parseOverwrite(v string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", "T":
		return true, nil
	case "F":
		return false, nil
	default:
		return false, fault.Malformed("move", "invalid Overwrite header "+v)
	}
}
