package api

import "time"

// ItemKind distinguishes files from folders.
type ItemKind string

// Item kinds as reported by the drive API.
const (
	KindFile   ItemKind = "file"
	KindFolder ItemKind = "folder"
)

// Item is a normalized remote drive entry. Folder items never carry a
// bucket or fileID; file items always do.
type Item struct {
	ID                string
	Kind              ItemKind
	Name              string
	ParentID          string // empty for the root folder
	Bucket            string
	FileID            string
	Size              int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	EncryptionVersion string
}

// IsFolder reports whether the item is a folder.
func (i *Item) IsFolder() bool {
	return i.Kind == KindFolder
}

// Shard describes one stored ciphertext segment of a file.
type Shard struct {
	URL   string `json:"url"`
	Index int    `json:"index"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash"`
}

// DownloadLinks is the network API's answer to "where is this file".
// Index is the hex-encoded 32-byte file index used for key derivation.
type DownloadLinks struct {
	Index   string    `json:"index"`
	Bucket  string    `json:"bucket"`
	Created time.Time `json:"created"`
	Size    int64     `json:"size"`
	Shards  []Shard   `json:"shards"`
	Version int       `json:"version"`
}

// UploadPart requests an upload slot for one shard of the given size.
type UploadPart struct {
	Index int   `json:"index"`
	Size  int64 `json:"size"`
}

// UploadSlot is a remote-assigned destination for one shard.
type UploadSlot struct {
	Index int    `json:"index"`
	UUID  string `json:"uuid"`
	URL   string `json:"url"`
}

// UploadedShard reports one stored shard when finalizing an upload.
type UploadedShard struct {
	Hash string `json:"hash"`
	UUID string `json:"uuid"`
}

// FinishUploadRequest finalizes an upload. Index is hex-encoded.
type FinishUploadRequest struct {
	Index  string          `json:"index"`
	Shards []UploadedShard `json:"shards"`
}

// CreateFileRequest registers uploaded content as a file entry.
type CreateFileRequest struct {
	FolderID          string `json:"folderId"`
	Name              string `json:"name"`
	Bucket            string `json:"bucket"`
	FileID            string `json:"fileId"`
	Size              int64  `json:"size"`
	EncryptionVersion string `json:"encryptVersion"`
}

// EncryptionVersion tags content produced by this client's cipher.
const EncryptionVersion = "03-aes"
