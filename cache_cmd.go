package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/disiqueira/gotree/v3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/config"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the local metadata cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd.Context(), resolvedCfg, func(ctx context.Context, store cache.Store) error {
				if err := store.Clear(ctx); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Metadata cache cleared.")

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tree [path]",
		Short: "Print the cached folder tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cache.RootPath
			if len(args) == 1 {
				root = args[0]
			}

			return withCache(cmd.Context(), resolvedCfg, func(ctx context.Context, store cache.Store) error {
				return printCacheTree(ctx, cmd.OutOrStdout(), store, root)
			})
		},
	})

	return cmd
}

// withCache opens the configured cache for the duration of fn. The server
// must not be running when the Badger backend is used, since Badger locks
// its directory.
func withCache(ctx context.Context, cfg *config.Config, fn func(context.Context, cache.Store) error) error {
	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := cache.Open(ctx, cfg.Cache.Backend, cfg.Cache.Path, logger)
	if err != nil {
		return fmt.Errorf("opening metadata cache: %w", err)
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("closing metadata cache", slog.String("error", closeErr.Error()))
		}
	}()

	return fn(ctx, store)
}

func printCacheTree(ctx context.Context, w io.Writer, store cache.Store, root string) error {
	item, err := store.FindByPath(ctx, root)
	if err != nil {
		return fmt.Errorf("%s is not cached: %w", root, err)
	}

	tree := gotree.New(treeLabel(item))

	if err := addCachedChildren(ctx, store, tree, item); err != nil {
		return err
	}

	fmt.Fprint(w, tree.Print())

	return nil
}

func addCachedChildren(ctx context.Context, store cache.Store, node gotree.Tree, item *cache.Item) error {
	if !item.IsFolder() {
		return nil
	}

	children, err := store.ListChildren(ctx, item.Path)
	if err != nil {
		return err
	}

	for i := range children {
		child := &children[i]

		if err := addCachedChildren(ctx, store, node.Add(treeLabel(child)), child); err != nil {
			return err
		}
	}

	return nil
}

func treeLabel(item *cache.Item) string {
	if item.IsFolder() {
		name := item.Name + "/"
		if item.Path == cache.RootPath {
			name = cache.RootPath
		}

		if !item.ChildrenListed {
			return name + " (not listed)"
		}

		return name
	}

	return fmt.Sprintf("%s (%s, %s)", item.Name, humanize.Bytes(uint64(item.Size)), humanize.Time(item.UpdatedAt))
}
