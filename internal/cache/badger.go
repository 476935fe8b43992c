package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
)

// Key prefixes:
//
//	p:<path> -> JSON record
//	i:<id>   -> path
const (
	prefixPath = "p:"
	prefixID   = "i:"
)

// record is the on-disk form of an Item in the Badger backend.
type record struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	Name              string    `json:"name"`
	ParentID          string    `json:"parentId,omitempty"`
	Bucket            string    `json:"bucket,omitempty"`
	FileID            string    `json:"fileId,omitempty"`
	Size              int64     `json:"size"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	EncryptionVersion string    `json:"encryptionVersion,omitempty"`
	ChildrenListed    bool      `json:"childrenListed"`
	CachedAt          time.Time `json:"cachedAt"`
}

func toRecord(item *Item) record {
	return record{
		ID:                item.ID,
		Kind:              string(item.Kind),
		Name:              item.Name,
		ParentID:          item.ParentID,
		Bucket:            item.Bucket,
		FileID:            item.FileID,
		Size:              item.Size,
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
		EncryptionVersion: item.EncryptionVersion,
		ChildrenListed:    item.ChildrenListed,
		CachedAt:          item.CachedAt,
	}
}

func (r *record) toItem(p string) *Item {
	return &Item{
		Item: api.Item{
			ID:                r.ID,
			Kind:              api.ItemKind(r.Kind),
			Name:              r.Name,
			ParentID:          r.ParentID,
			Bucket:            r.Bucket,
			FileID:            r.FileID,
			Size:              r.Size,
			CreatedAt:         r.CreatedAt,
			UpdatedAt:         r.UpdatedAt,
			EncryptionVersion: r.EncryptionVersion,
		},
		Path:           p,
		ChildrenListed: r.ChildrenListed,
		CachedAt:       r.CachedAt,
	}
}

// BadgerStore is the embedded key-value cache backend.
type BadgerStore struct {
	db      *badger.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenBadger opens (creating if needed) a Badger cache directory. An empty
// dir keeps the cache in memory.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger})

	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: opening badger at %s: %w", dir, err)
	}

	logger.Info("metadata cache opened", slog.String("backend", "badger"), slog.String("path", dir))

	return &BadgerStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// badgerLogger routes Badger's printf-style logging into slog. Badger's
// info chatter (compactions, value log GC) is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// FindByPath returns the entry at p.
func (s *BadgerStore) FindByPath(_ context.Context, p string) (*Item, error) {
	var item *Item

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		item, err = getItem(txn, p)

		return err
	})

	return item, err
}

// FindByID returns the entry for id.
func (s *BadgerStore) FindByID(_ context.Context, id string) (*Item, error) {
	var item *Item

	err := s.db.View(func(txn *badger.Txn) error {
		p, err := pathForID(txn, id)
		if err != nil {
			return err
		}

		item, err = getItem(txn, p)

		return err
	})

	return item, err
}

// ListChildren returns the cached direct children of folderPath in name order.
func (s *BadgerStore) ListChildren(ctx context.Context, folderPath string) ([]Item, error) {
	var items []Item

	err := s.db.View(func(txn *badger.Txn) error {
		subtree, err := scanSubtree(ctx, txn, folderPath)
		if err != nil {
			return err
		}

		for _, it := range subtree {
			if isDirectChild(it.Path, folderPath) {
				items = append(items, *it)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// Upsert stores item at item.Path.
func (s *BadgerStore) Upsert(ctx context.Context, item Item) error {
	return s.update(func(txn *badger.Txn) error {
		return s.putItem(ctx, txn, item)
	})
}

// PutListing replaces the cached child set of folder.
func (s *BadgerStore) PutListing(ctx context.Context, folder Item, children []api.Item) error {
	return s.update(func(txn *badger.Txn) error {
		if err := s.putItem(ctx, txn, folder); err != nil {
			return err
		}

		keep := make(map[string]bool, len(children))
		for i := range children {
			keep[ChildPath(folder.Path, children[i].Name)] = true
		}

		subtree, err := scanSubtree(ctx, txn, folder.Path)
		if err != nil {
			return err
		}

		for _, it := range subtree {
			if isDirectChild(it.Path, folder.Path) && !keep[it.Path] {
				if err := deleteSubtree(ctx, txn, it.Path); err != nil {
					return err
				}
			}
		}

		now := s.nowFunc()

		for i := range children {
			child := Item{Item: children[i], Path: ChildPath(folder.Path, children[i].Name), CachedAt: now}
			if err := s.putItem(ctx, txn, child); err != nil {
				return err
			}
		}

		listed, err := getItem(txn, folder.Path)
		if err != nil {
			return err
		}

		listed.ChildrenListed = true

		return writeItem(txn, listed)
	})
}

// Remove deletes p and its descendants.
func (s *BadgerStore) Remove(ctx context.Context, p string) error {
	return s.update(func(txn *badger.Txn) error {
		return deleteSubtree(ctx, txn, p)
	})
}

// Move re-keys oldPath and its descendants under item.Path.
func (s *BadgerStore) Move(ctx context.Context, oldPath string, item Item) error {
	return s.update(func(txn *badger.Txn) error {
		if oldPath != item.Path {
			moving, err := scanSubtree(ctx, txn, oldPath)
			if err != nil {
				return err
			}

			if self, err := getItem(txn, oldPath); err == nil {
				moving = append(moving, self)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}

			if err := deleteSubtree(ctx, txn, item.Path); err != nil {
				return err
			}

			if err := deleteSubtree(ctx, txn, oldPath); err != nil {
				return err
			}

			for _, it := range moving {
				it.Path = rebase(it.Path, oldPath, item.Path)
				if err := writeItem(txn, it); err != nil {
					return err
				}
			}
		}

		return s.putItem(ctx, txn, item)
	})
}

// Clear drops every key.
func (s *BadgerStore) Clear(_ context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("cache: clearing badger: %w", err)
	}

	s.logger.Info("metadata cache cleared", slog.String("backend", "badger"))

	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) update(fn func(*badger.Txn) error) error {
	if err := s.db.Update(fn); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}

		return fmt.Errorf("cache: badger update: %w", err)
	}

	return nil
}

// putItem writes item, dropping any other entry for the same id and keeping
// the listed flag when the path already holds the same item.
func (s *BadgerStore) putItem(ctx context.Context, txn *badger.Txn, item Item) error {
	if item.CachedAt.IsZero() {
		item.CachedAt = s.nowFunc()
	}

	prevPath, err := pathForID(txn, item.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case prevPath != item.Path:
		if err := deleteSubtree(ctx, txn, prevPath); err != nil {
			return err
		}
	}

	existing, err := getItem(txn, item.Path)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case existing.ID == item.ID:
		item.ChildrenListed = item.ChildrenListed || existing.ChildrenListed
	default:
		if err := txn.Delete([]byte(prefixID + existing.ID)); err != nil {
			return err
		}
	}

	return writeItem(txn, &item)
}

func writeItem(txn *badger.Txn, item *Item) error {
	data, err := json.Marshal(toRecord(item))
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", item.Path, err)
	}

	if err := txn.Set([]byte(prefixPath+item.Path), data); err != nil {
		return err
	}

	return txn.Set([]byte(prefixID+item.ID), []byte(item.Path))
}

func getItem(txn *badger.Txn, p string) (*Item, error) {
	kv, err := txn.Get([]byte(prefixPath + p))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	var rec record
	if err := kv.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return nil, fmt.Errorf("cache: decoding %s: %w", p, err)
	}

	return rec.toItem(p), nil
}

func pathForID(txn *badger.Txn, id string) (string, error) {
	kv, err := txn.Get([]byte(prefixID + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", err
	}

	val, err := kv.ValueCopy(nil)
	if err != nil {
		return "", err
	}

	return string(val), nil
}

// scanSubtree returns every entry strictly below p, in path order.
func scanSubtree(ctx context.Context, txn *badger.Txn, p string) ([]*Item, error) {
	prefix := []byte(prefixPath + subtreePrefix(p))

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var items []*Item

	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		kv := it.Item()
		itemPath := string(kv.Key()[len(prefixPath):])

		if itemPath == p {
			continue
		}

		var rec record
		if err := kv.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			return nil, fmt.Errorf("cache: decoding %s: %w", itemPath, err)
		}

		items = append(items, rec.toItem(itemPath))
	}

	return items, nil
}

// deleteSubtree removes p and every entry below it, with their id keys.
func deleteSubtree(ctx context.Context, txn *badger.Txn, p string) error {
	doomed, err := scanSubtree(ctx, txn, p)
	if err != nil {
		return err
	}

	if self, err := getItem(txn, p); err == nil {
		doomed = append(doomed, self)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	for _, it := range doomed {
		if err := txn.Delete([]byte(prefixPath + it.Path)); err != nil {
			return err
		}

		if err := txn.Delete([]byte(prefixID + it.ID)); err != nil {
			return err
		}
	}

	return nil
}
