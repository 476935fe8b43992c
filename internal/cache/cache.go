// Package cache mirrors remote drive items locally, keyed by normalized path
// and by remote id, so path resolution rarely needs a remote walk.
//
// Entries never expire. They are replaced or removed only when a mutation
// issued through this process changes the remote tree, or when the whole
// cache is cleared at server start. Changes made by other clients are not
// observed.
//
// Invariants maintained by every backend:
//   - at most one entry per path and at most one entry per remote id
//   - removing or moving a folder carries its descendants with it
//   - a folder's ChildrenListed flag is set only by PutListing
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
)

// ErrNotFound is returned when no entry matches the requested path or id.
var ErrNotFound = errors.New("cache: not found")

// RootPath is the normalized path of the drive root.
const RootPath = "/"

// Item is a cached remote item together with its normalized path.
type Item struct {
	api.Item

	Path           string
	ChildrenListed bool
	CachedAt       time.Time
}

// Store is implemented by every cache backend.
type Store interface {
	// FindByPath returns the entry at p or ErrNotFound.
	FindByPath(ctx context.Context, p string) (*Item, error)
	// FindByID returns the entry for a remote id or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Item, error)
	// ListChildren returns the cached direct children of folderPath,
	// ordered by name. Completeness is signalled by the folder's
	// ChildrenListed flag, not by this call.
	ListChildren(ctx context.Context, folderPath string) ([]Item, error)
	// Upsert inserts or replaces the entry at item.Path. Any entry with the
	// same id at another path is dropped.
	Upsert(ctx context.Context, item Item) error
	// PutListing records the complete child set of folder: stale children
	// (and their subtrees) are dropped, the given children are upserted,
	// and the folder is marked as listed.
	PutListing(ctx context.Context, folder Item, children []api.Item) error
	// Remove deletes the entry at p and everything below it.
	Remove(ctx context.Context, p string) error
	// Move re-keys the entry at oldPath (and its descendants) to item.Path,
	// replacing whatever was there, and stores item's new metadata.
	Move(ctx context.Context, oldPath string, item Item) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
	// Close releases the backend.
	Close() error
}

// ChildPath joins a folder path and a child name.
func ChildPath(parent, name string) string {
	return path.Join(parent, name)
}

// IsDescendant reports whether p lies strictly below ancestor.
func IsDescendant(p, ancestor string) bool {
	if ancestor == RootPath {
		return p != RootPath && strings.HasPrefix(p, RootPath)
	}

	return strings.HasPrefix(p, ancestor+"/")
}

// rebase rewrites a descendant path from oldRoot to newRoot.
func rebase(p, oldRoot, newRoot string) string {
	if p == oldRoot {
		return newRoot
	}

	return path.Join(newRoot, strings.TrimPrefix(p, strings.TrimSuffix(oldRoot, "/")+"/"))
}

// isDirectChild reports whether p is an immediate child of parent.
func isDirectChild(p, parent string) bool {
	return IsDescendant(p, parent) && path.Dir(p) == parent
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open creates the parent directory of location if needed and opens the
// named backend there.
func Open(ctx context.Context, backend, location string, logger *slog.Logger) (Store, error) {
	if location != "" {
		if err := os.MkdirAll(filepath.Dir(location), dirPerms); err != nil {
			return nil, fmt.Errorf("cache: creating directory for %s: %w", location, err)
		}
	}

	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, location, logger)
	case BackendBadger:
		return OpenBadger(location, logger)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", backend)
	}
}

const dirPerms = 0o700
