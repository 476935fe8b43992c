// Package resolver turns request paths into remote items. Lookups go to the
// metadata cache first; a miss walks the remote folder tree from the deepest
// cached ancestor, caching every listing it fetches on the way.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/metrics"
)

// Remote is the slice of the drive API the resolver needs.
type Remote interface {
	GetRootFolder(ctx context.Context) (*api.Item, error)
	ListChildren(ctx context.Context, folderID string) ([]api.Item, error)
}

// Resolver locates remote items by path.
type Resolver struct {
	store   cache.Store
	remote  Remote
	metrics *metrics.Metrics
	logger  *slog.Logger
	walks   singleflight.Group
}

// New creates a resolver.
func New(store cache.Store, remote Remote, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, remote: remote, metrics: m, logger: logger}
}

// ResolvePath normalizes raw; see the package-level ResolvePath.
func (r *Resolver) ResolvePath(raw string) (*Resource, error) {
	return ResolvePath(raw)
}

// Locate returns the item at res.Path. A resource requested with a trailing
// separator only matches folders.
func (r *Resolver) Locate(ctx context.Context, res *Resource) (*cache.Item, error) {
	item, err := r.store.FindByPath(ctx, res.Path)

	switch {
	case err == nil:
		r.metrics.CacheLookup(true)
	case errors.Is(err, cache.ErrNotFound):
		r.metrics.CacheLookup(false)

		item, err = r.walkShared(ctx, res.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if res.WantFolder && !item.IsFolder() {
		return nil, fault.NotFound("locate", res.Path)
	}

	return item, nil
}

// walkShared collapses concurrent walks for the same path into one. The
// walk is detached from the caller that started it; each caller stops
// waiting when its own context ends.
func (r *Resolver) walkShared(ctx context.Context, p string) (*cache.Item, error) {
	ch := r.walks.DoChan(p, func() (any, error) {
		return r.walk(context.WithoutCancel(ctx), p)
	})

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		if res.Shared {
			r.logger.Debug("resolver: joined in-flight walk", slog.String("path", p))
		}

		return res.Val.(*cache.Item), nil
	}
}

// walk descends from the deepest cached ancestor of p, one segment at a
// time, and stops at the first missing segment.
func (r *Resolver) walk(ctx context.Context, p string) (*cache.Item, error) {
	cur, rest, err := r.deepestCached(ctx, p)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolver: walking remote tree",
		slog.String("path", p),
		slog.String("from", cur.Path),
		slog.Int("segments", len(rest)),
	)

	for _, name := range rest {
		if !cur.IsFolder() {
			return nil, fault.NotFound("locate", p)
		}

		child, err := r.childOf(ctx, cur, name)
		if err != nil {
			return nil, err
		}

		cur = child
	}

	return cur, nil
}

// deepestCached finds the longest cached prefix of p and returns the
// segments still to resolve below it. The root is fetched and cached when
// nothing is cached at all.
func (r *Resolver) deepestCached(ctx context.Context, p string) (*cache.Item, []string, error) {
	var rest []string

	for cur := p; ; cur = path.Dir(cur) {
		item, err := r.store.FindByPath(ctx, cur)
		if err == nil {
			return item, rest, nil
		}

		if !errors.Is(err, cache.ErrNotFound) {
			return nil, nil, err
		}

		if cur == cache.RootPath {
			break
		}

		rest = append([]string{path.Base(cur)}, rest...)
	}

	root, err := r.cacheRoot(ctx)
	if err != nil {
		return nil, nil, err
	}

	return root, rest, nil
}

func (r *Resolver) cacheRoot(ctx context.Context) (*cache.Item, error) {
	remoteRoot, err := r.remote.GetRootFolder(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver: fetching root folder: %w", err)
	}

	root := cache.Item{Item: *remoteRoot, Path: cache.RootPath}
	if err := r.store.Upsert(ctx, root); err != nil {
		return nil, err
	}

	return &root, nil
}

// childOf finds name inside folder, listing the folder remotely unless its
// complete listing is already cached.
func (r *Resolver) childOf(ctx context.Context, folder *cache.Item, name string) (*cache.Item, error) {
	childPath := cache.ChildPath(folder.Path, name)

	if !folder.ChildrenListed {
		if err := r.refreshListing(ctx, folder); err != nil {
			return nil, err
		}
	}

	child, err := r.store.FindByPath(ctx, childPath)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, fault.NotFound("locate", childPath)
	}

	return child, err
}

// Children returns the direct children of folder, from the cache when its
// listing is complete and from one remote listing call otherwise.
func (r *Resolver) Children(ctx context.Context, folder *cache.Item) ([]cache.Item, error) {
	if !folder.ChildrenListed {
		r.metrics.CacheLookup(false)

		if err := r.refreshListing(ctx, folder); err != nil {
			return nil, err
		}
	} else {
		r.metrics.CacheLookup(true)
	}

	return r.store.ListChildren(ctx, folder.Path)
}

func (r *Resolver) refreshListing(ctx context.Context, folder *cache.Item) error {
	children, err := r.remote.ListChildren(ctx, folder.ID)
	if err != nil {
		return fmt.Errorf("resolver: listing %s: %w", folder.Path, err)
	}

	for i := range children {
		children[i].Name = norm.NFC.String(children[i].Name)
	}

	if err := r.store.PutListing(ctx, *folder, children); err != nil {
		return err
	}

	folder.ChildrenListed = true

	return nil
}
