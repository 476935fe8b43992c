package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

type startUploadRequest struct {
	Uploads []UploadPart `json:"uploads"`
}

type startUploadResponse struct {
	Uploads []UploadSlot `json:"uploads"`
}

type finishUploadResponse struct {
	ID string `json:"id"`
}

// GetDownloadLinks returns the shard placement of a stored file.
func (c *Client) GetDownloadLinks(ctx context.Context, bucket, fileID string) (*DownloadLinks, error) {
	c.logger.Debug("getting download links",
		slog.String("bucket", bucket),
		slog.String("file_id", fileID),
	)

	u := fmt.Sprintf("%s/buckets/%s/files/%s/info",
		c.endpoints.NetworkURL, url.PathEscape(bucket), url.PathEscape(fileID))

	var links DownloadLinks
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &links); err != nil {
		return nil, fmt.Errorf("api: download links for %s: %w", fileID, err)
	}

	return &links, nil
}

// StartUpload allocates one upload slot per requested part. Slots are
// returned in part order.
func (c *Client) StartUpload(ctx context.Context, bucket string, parts []UploadPart) ([]UploadSlot, error) {
	c.logger.Debug("starting upload",
		slog.String("bucket", bucket),
		slog.Int("parts", len(parts)),
	)

	u := fmt.Sprintf("%s/v2/buckets/%s/files/start", c.endpoints.NetworkURL, url.PathEscape(bucket))

	var resp startUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, u, startUploadRequest{Uploads: parts}, &resp); err != nil {
		return nil, fmt.Errorf("api: starting upload: %w", err)
	}

	if len(resp.Uploads) != len(parts) {
		return nil, fmt.Errorf("api: starting upload: requested %d slots, got %d", len(parts), len(resp.Uploads))
	}

	slots := make([]UploadSlot, len(parts))
	for _, s := range resp.Uploads {
		if s.Index < 0 || s.Index >= len(parts) {
			return nil, fmt.Errorf("api: starting upload: slot index %d out of range", s.Index)
		}

		slots[s.Index] = s
	}

	return slots, nil
}

// FinishUpload commits uploaded shards and returns the new file ID.
func (c *Client) FinishUpload(ctx context.Context, bucket string, req FinishUploadRequest) (string, error) {
	c.logger.Debug("finishing upload",
		slog.String("bucket", bucket),
		slog.Int("shards", len(req.Shards)),
	)

	u := fmt.Sprintf("%s/v2/buckets/%s/files/finish", c.endpoints.NetworkURL, url.PathEscape(bucket))

	var resp finishUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, u, req, &resp); err != nil {
		return "", fmt.Errorf("api: finishing upload: %w", err)
	}

	if resp.ID == "" {
		return "", fmt.Errorf("api: finishing upload: response missing file id")
	}

	return resp.ID, nil
}
