package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
)

// SQL statements for the items table. Subtree predicates compare a path
// prefix with substr so names containing LIKE wildcards need no escaping.
const (
	sqlItemColumns = `path, id, parent_id, kind, name, bucket, file_id, size,
		created_at, updated_at, encryption_version, children_listed, cached_at`

	sqlSelectByPath = `SELECT ` + sqlItemColumns + ` FROM items WHERE path = ?`
	sqlSelectByID   = `SELECT ` + sqlItemColumns + ` FROM items WHERE id = ?`

	sqlSelectChildren = `SELECT ` + sqlItemColumns + ` FROM items
		WHERE path <> ? AND substr(path, 1, length(?)) = ?
		AND instr(substr(path, length(?) + 1), '/') = 0
		ORDER BY name`

	sqlSelectSubtreePaths = `SELECT path FROM items
		WHERE path = ? OR substr(path, 1, length(?)) = ?`

	sqlUpsertItem = `INSERT INTO items (` + sqlItemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		 id = excluded.id,
		 parent_id = excluded.parent_id,
		 kind = excluded.kind,
		 name = excluded.name,
		 bucket = excluded.bucket,
		 file_id = excluded.file_id,
		 size = excluded.size,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at,
		 encryption_version = excluded.encryption_version,
		 children_listed = CASE WHEN items.id = excluded.id
		   THEN max(items.children_listed, excluded.children_listed)
		   ELSE excluded.children_listed END,
		 cached_at = excluded.cached_at`

	sqlSelectIDElsewhere = `SELECT path FROM items WHERE id = ? AND path <> ?`
	sqlDeleteSubtree     = `DELETE FROM items WHERE path = ? OR substr(path, 1, length(?)) = ?`
	sqlRenamePath        = `UPDATE items SET path = ? WHERE path = ?`
	sqlMarkListed        = `UPDATE items SET children_listed = 1 WHERE path = ?`
)

// SQLiteStore is the default cache backend: a single SQLite file accessed
// through one connection.
type SQLiteStore struct {
	db       *sql.DB
	provider *goose.Provider
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// OpenSQLite opens (creating if needed) the cache database at dbPath and
// applies pending migrations.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	provider, err := newMigrationProvider(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, provider, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("metadata cache opened", slog.String("backend", "sqlite"), slog.String("path", dbPath))

	return &SQLiteStore{db: db, provider: provider, logger: logger, nowFunc: time.Now}, nil
}

// FindByPath returns the entry at p.
func (s *SQLiteStore) FindByPath(ctx context.Context, p string) (*Item, error) {
	return s.queryOne(ctx, sqlSelectByPath, p)
}

// FindByID returns the entry for id.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*Item, error) {
	return s.queryOne(ctx, sqlSelectByID, id)
}

func (s *SQLiteStore) queryOne(ctx context.Context, query, arg string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, query, arg)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return item, nil
}

// ListChildren returns the cached direct children of folderPath.
func (s *SQLiteStore) ListChildren(ctx context.Context, folderPath string) ([]Item, error) {
	prefix := subtreePrefix(folderPath)

	rows, err := s.db.QueryContext(ctx, sqlSelectChildren, folderPath, prefix, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("cache: listing children of %s: %w", folderPath, err)
	}
	defer rows.Close()

	var items []Item

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating children of %s: %w", folderPath, err)
	}

	return items, nil
}

// Upsert stores item at item.Path.
func (s *SQLiteStore) Upsert(ctx context.Context, item Item) error {
	return s.withTx(ctx, "upsert", func(tx *sql.Tx) error {
		return s.upsertTx(ctx, tx, item)
	})
}

func (s *SQLiteStore) upsertTx(ctx context.Context, tx *sql.Tx, item Item) error {
	var stale string

	err := tx.QueryRowContext(ctx, sqlSelectIDElsewhere, item.ID, item.Path).Scan(&stale)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("cache: looking up %s: %w", item.ID, err)
	default:
		if err := deleteSubtreeTx(ctx, tx, stale); err != nil {
			return err
		}
	}

	if item.CachedAt.IsZero() {
		item.CachedAt = s.nowFunc()
	}

	_, err = tx.ExecContext(ctx, sqlUpsertItem,
		item.Path, item.ID, nullString(item.ParentID), string(item.Kind), item.Name,
		nullString(item.Bucket), nullString(item.FileID), item.Size,
		unixNano(item.CreatedAt), unixNano(item.UpdatedAt), nullString(item.EncryptionVersion),
		item.ChildrenListed, item.CachedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache: upserting %s: %w", item.Path, err)
	}

	return nil
}

// PutListing replaces the cached child set of folder.
func (s *SQLiteStore) PutListing(ctx context.Context, folder Item, children []api.Item) error {
	return s.withTx(ctx, "listing", func(tx *sql.Tx) error {
		if err := s.upsertTx(ctx, tx, folder); err != nil {
			return err
		}

		keep := make(map[string]bool, len(children))
		for i := range children {
			keep[ChildPath(folder.Path, children[i].Name)] = true
		}

		existing, err := s.childPathsTx(ctx, tx, folder.Path)
		if err != nil {
			return err
		}

		for _, p := range existing {
			if keep[p] {
				continue
			}

			if err := deleteSubtreeTx(ctx, tx, p); err != nil {
				return err
			}
		}

		now := s.nowFunc()

		for i := range children {
			child := Item{Item: children[i], Path: ChildPath(folder.Path, children[i].Name), CachedAt: now}
			if err := s.upsertTx(ctx, tx, child); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, sqlMarkListed, folder.Path); err != nil {
			return fmt.Errorf("cache: marking %s listed: %w", folder.Path, err)
		}

		return nil
	})
}

func (s *SQLiteStore) childPathsTx(ctx context.Context, tx *sql.Tx, folderPath string) ([]string, error) {
	prefix := subtreePrefix(folderPath)

	rows, err := tx.QueryContext(ctx, sqlSelectSubtreePaths, folderPath, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("cache: reading subtree of %s: %w", folderPath, err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("cache: scanning path: %w", err)
		}

		if isDirectChild(p, folderPath) {
			paths = append(paths, p)
		}
	}

	return paths, rows.Err()
}

// Remove deletes p and its descendants.
func (s *SQLiteStore) Remove(ctx context.Context, p string) error {
	return s.withTx(ctx, "remove", func(tx *sql.Tx) error {
		return deleteSubtreeTx(ctx, tx, p)
	})
}

func deleteSubtreeTx(ctx context.Context, tx *sql.Tx, p string) error {
	prefix := subtreePrefix(p)

	if _, err := tx.ExecContext(ctx, sqlDeleteSubtree, p, prefix, prefix); err != nil {
		return fmt.Errorf("cache: removing %s: %w", p, err)
	}

	return nil
}

// Move re-keys oldPath and its descendants under item.Path.
func (s *SQLiteStore) Move(ctx context.Context, oldPath string, item Item) error {
	return s.withTx(ctx, "move", func(tx *sql.Tx) error {
		if oldPath != item.Path {
			if err := deleteSubtreeTx(ctx, tx, item.Path); err != nil {
				return err
			}

			prefix := subtreePrefix(oldPath)

			rows, err := tx.QueryContext(ctx, sqlSelectSubtreePaths, oldPath, prefix, prefix)
			if err != nil {
				return fmt.Errorf("cache: reading subtree of %s: %w", oldPath, err)
			}

			var paths []string

			for rows.Next() {
				var p string
				if err := rows.Scan(&p); err != nil {
					rows.Close()
					return fmt.Errorf("cache: scanning path: %w", err)
				}

				paths = append(paths, p)
			}

			rows.Close()

			if err := rows.Err(); err != nil {
				return fmt.Errorf("cache: iterating subtree of %s: %w", oldPath, err)
			}

			for _, p := range paths {
				if _, err := tx.ExecContext(ctx, sqlRenamePath, rebase(p, oldPath, item.Path), p); err != nil {
					return fmt.Errorf("cache: renaming %s: %w", p, err)
				}
			}
		}

		return s.upsertTx(ctx, tx, item)
	})
}

// Clear empties the cache by rolling the schema back and reapplying it.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := resetSchema(ctx, s.provider); err != nil {
		return err
	}

	s.logger.Info("metadata cache cleared", slog.String("backend", "sqlite"))

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: beginning %s transaction: %w", op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: committing %s: %w", op, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans a single row, handling nullable columns with sql.Null* types.
func scanItem(row rowScanner) (*Item, error) {
	var (
		item              Item
		kind              string
		parentID          sql.NullString
		bucket            sql.NullString
		fileID            sql.NullString
		createdAt         sql.NullInt64
		updatedAt         sql.NullInt64
		encryptionVersion sql.NullString
		cachedAt          int64
	)

	err := row.Scan(
		&item.Path, &item.ID, &parentID, &kind, &item.Name, &bucket, &fileID, &item.Size,
		&createdAt, &updatedAt, &encryptionVersion, &item.ChildrenListed, &cachedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("cache: scanning item row: %w", err)
	}

	item.Kind = api.ItemKind(kind)
	item.ParentID = parentID.String
	item.Bucket = bucket.String
	item.FileID = fileID.String
	item.EncryptionVersion = encryptionVersion.String
	item.CreatedAt = fromUnixNano(createdAt)
	item.UpdatedAt = fromUnixNano(updatedAt)
	item.CachedAt = time.Unix(0, cachedAt)

	return &item, nil
}

// subtreePrefix is the path prefix shared by every descendant of p.
func subtreePrefix(p string) string {
	if p == RootPath {
		return RootPath
	}

	return p + "/"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixNano(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnixNano(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}

	return time.Unix(0, v.Int64).UTC()
}
