package webdav

import (
	"context"
	"io"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/auth"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/cache"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/network"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/resolver"
)

// Resolver maps request paths to cached remote items.
type Resolver interface {
	ResolvePath(raw string) (*resolver.Resource, error)
	Locate(ctx context.Context, res *resolver.Resource) (*cache.Item, error)
	Children(ctx context.Context, folder *cache.Item) ([]cache.Item, error)
}

// Drive performs metadata mutations on the remote tree.
type Drive interface {
	CreateFolder(ctx context.Context, parentID, name string) (*api.Item, error)
	CreateFile(ctx context.Context, req api.CreateFileRequest) (*api.Item, error)
	ReplaceFile(ctx context.Context, itemID, fileID string, size int64) (*api.Item, error)
	MoveItem(ctx context.Context, kind api.ItemKind, itemID, newParentID, newName string) (*api.Item, error)
	DeleteItem(ctx context.Context, kind api.ItemKind, itemID string) error
}

// Transfers streams encrypted content to and from shard storage.
type Transfers interface {
	DownloadToStream(
		ctx context.Context, bucket, mnemonic, fileID string, size int64,
		output io.Writer, rng *network.RangeOptions, opts network.TransferOptions,
	) *network.Transfer[network.DownloadResult]
	UploadFromStream(
		ctx context.Context, bucket, mnemonic string, size int64, input io.Reader, opts network.TransferOptions,
	) *network.Transfer[network.UploadResult]
}

// Sessions supplies the credentials requests are served under.
type Sessions interface {
	Session(ctx context.Context) (*auth.Session, error)
}
