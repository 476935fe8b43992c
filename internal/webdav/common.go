package webdav

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/resolver"
)

const defaultContentType = "application/octet-stream"

// locateOptional is Locate with not-found turned into a nil item.
func locateOptional(ctx context.Context, r Resolver, res *resolver.Resource) (*cache.Item, error) {
	item, err := r.Locate(ctx, res)
	if fault.Is(err, fault.KindNotFound) {
		return nil, nil
	}

	return item, err
}

// locateParent returns the folder that will contain res. A missing parent,
// or one that is a file, is a conflict.
func locateParent(ctx context.Context, r Resolver, op string, res *resolver.Resource) (*cache.Item, error) {
	parent, err := r.Locate(ctx, res.Parent())
	if fault.Is(err, fault.KindNotFound) {
		return nil, fault.New(fault.KindConflict, op, res.Path, "parent folder does not exist")
	}

	if err != nil {
		return nil, err
	}

	if !parent.IsFolder() {
		return nil, fault.New(fault.KindConflict, op, res.Path, "parent is not a folder")
	}

	return parent, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}

	return defaultContentType
}

// etag changes whenever the item's content or metadata does.
func etag(item *cache.Item) string {
	return fmt.Sprintf(`"%s-%x"`, item.ID, item.UpdatedAt.UnixNano())
}

func setFileHeaders(h http.Header, item *cache.Item) {
	h.Set("Content-Type", contentType(item.Name))
	h.Set("Content-Length", strconv.FormatInt(item.Size, 10))
	h.Set("Last-Modified", item.UpdatedAt.UTC().Format(http.TimeFormat))
	h.Set("ETag", etag(item))
}
