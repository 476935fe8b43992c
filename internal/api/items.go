package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// listChildrenPageSize is the page size for folder listings.
const listChildrenPageSize = 50

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// itemResponse mirrors the drive API item JSON. Size arrives either as a
// number or as a numeric string depending on the endpoint.
type itemResponse struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	Name           string      `json:"name"`
	ParentID       string      `json:"parentId"`
	Bucket         string      `json:"bucket"`
	FileID         string      `json:"fileId"`
	Size           json.Number `json:"size"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
	EncryptVersion string      `json:"encryptVersion"`
}

type listChildrenResponse struct {
	Items []itemResponse `json:"items"`
}

type createFolderRequest struct {
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
}

type replaceFileRequest struct {
	FileID string `json:"fileId"`
	Size   int64  `json:"size"`
}

type moveItemRequest struct {
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// toItem normalizes a drive API item response into our Item type.
func (r *itemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:                r.ID,
		Name:              r.Name,
		ParentID:          r.ParentID,
		Bucket:            r.Bucket,
		FileID:            r.FileID,
		EncryptionVersion: r.EncryptVersion,
	}

	switch ItemKind(r.Type) {
	case KindFolder:
		item.Kind = KindFolder
	default:
		item.Kind = KindFile
	}

	if r.Size != "" {
		size, err := strconv.ParseInt(r.Size.String(), 10, 64)
		if err != nil {
			logger.Warn("invalid item size, using 0",
				slog.String("id", r.ID),
				slog.String("size", r.Size.String()),
			)
		} else {
			item.Size = size
		}
	}

	// Folders never carry content; files must.
	if item.Kind == KindFolder {
		if item.Bucket != "" || item.FileID != "" {
			logger.Warn("folder item carries content reference, clearing",
				slog.String("id", r.ID),
			)
		}

		item.Bucket, item.FileID, item.Size = "", "", 0
	} else if item.Bucket == "" || item.FileID == "" {
		logger.Warn("file item missing content reference",
			slog.String("id", r.ID),
			slog.String("name", r.Name),
		)
	}

	item.CreatedAt = parseTimestamp(r.CreatedAt, "createdAt", r.ID, logger)
	item.UpdatedAt = parseTimestamp(r.UpdatedAt, "updatedAt", r.ID, logger)

	return item
}

// parseTimestamp parses an RFC 3339 timestamp. Missing, unparseable or
// out-of-range values fall back to now.
func parseTimestamp(value, field, itemID string, logger *slog.Logger) time.Time {
	if value == "" {
		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("value", value),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("value", value),
		)

		return time.Now().UTC()
	}

	return t.UTC()
}

// GetRootFolder returns the account's root folder.
func (c *Client) GetRootFolder(ctx context.Context) (*Item, error) {
	c.logger.Debug("getting root folder")

	var resp itemResponse
	if err := c.doJSON(ctx, http.MethodGet, c.endpoints.DriveURL+"/folders/root", nil, &resp); err != nil {
		return nil, err
	}

	item := resp.toItem(c.logger)
	item.ParentID = ""

	return &item, nil
}

// ListChildren returns every direct child of a folder, following pages
// until a short page is returned.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	c.logger.Debug("listing children", slog.String("folder_id", folderID))

	var items []Item

	for offset := 0; ; offset += listChildrenPageSize {
		u := fmt.Sprintf("%s/folders/%s/children?offset=%d&limit=%d",
			c.endpoints.DriveURL, url.PathEscape(folderID), offset, listChildrenPageSize)

		var page listChildrenResponse
		if err := c.doJSON(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, fmt.Errorf("api: listing folder %s: %w", folderID, err)
		}

		for i := range page.Items {
			items = append(items, page.Items[i].toItem(c.logger))
		}

		if len(page.Items) < listChildrenPageSize {
			break
		}
	}

	c.logger.Debug("listed children",
		slog.String("folder_id", folderID),
		slog.Int("count", len(items)),
	)

	return items, nil
}

// CreateFolder creates a folder under parentID.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	var resp itemResponse

	req := createFolderRequest{ParentID: parentID, Name: name}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoints.DriveURL+"/folders", req, &resp); err != nil {
		return nil, err
	}

	item := resp.toItem(c.logger)

	return &item, nil
}

// CreateFile registers uploaded content as a new file entry.
func (c *Client) CreateFile(ctx context.Context, req CreateFileRequest) (*Item, error) {
	c.logger.Info("creating file entry",
		slog.String("folder_id", req.FolderID),
		slog.String("name", req.Name),
		slog.Int64("size", req.Size),
	)

	var resp itemResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoints.DriveURL+"/files", req, &resp); err != nil {
		return nil, err
	}

	item := resp.toItem(c.logger)

	return &item, nil
}

// ReplaceFile points an existing file entry at new content.
func (c *Client) ReplaceFile(ctx context.Context, itemID, fileID string, size int64) (*Item, error) {
	c.logger.Info("replacing file content",
		slog.String("id", itemID),
		slog.Int64("size", size),
	)

	var resp itemResponse

	u := c.endpoints.DriveURL + "/files/" + url.PathEscape(itemID)
	if err := c.doJSON(ctx, http.MethodPut, u, replaceFileRequest{FileID: fileID, Size: size}, &resp); err != nil {
		return nil, err
	}

	item := resp.toItem(c.logger)

	return &item, nil
}

// MoveItem reparents and/or renames an item in a single request. Empty
// newParentID or newName leave that attribute unchanged.
func (c *Client) MoveItem(ctx context.Context, kind ItemKind, itemID, newParentID, newName string) (*Item, error) {
	if newParentID == "" && newName == "" {
		return nil, fmt.Errorf("api: move %s: nothing to change", itemID)
	}

	c.logger.Info("moving item",
		slog.String("id", itemID),
		slog.String("new_parent_id", newParentID),
		slog.String("new_name", newName),
	)

	var resp itemResponse

	u := c.endpoints.DriveURL + "/" + collection(kind) + "/" + url.PathEscape(itemID)
	if err := c.doJSON(ctx, http.MethodPatch, u, moveItemRequest{ParentID: newParentID, Name: newName}, &resp); err != nil {
		return nil, err
	}

	item := resp.toItem(c.logger)

	return &item, nil
}

// DeleteItem moves an item to the remote trash.
func (c *Client) DeleteItem(ctx context.Context, kind ItemKind, itemID string) error {
	c.logger.Info("deleting item", slog.String("id", itemID), slog.String("kind", string(kind)))

	u := c.endpoints.DriveURL + "/" + collection(kind) + "/" + url.PathEscape(itemID)

	return c.doJSON(ctx, http.MethodDelete, u, nil, nil)
}

func collection(kind ItemKind) string {
	if kind == KindFolder {
		return "folders"
	}

	return "files"
}
