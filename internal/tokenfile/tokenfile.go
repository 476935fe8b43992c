// Package tokenfile handles reading and writing session files. A session file
// stores the bearer token for the remote API together with the user's
// decrypted mnemonic, the default storage bucket, and cached account metadata
// (email, display name). The file is produced by an external login flow; the
// gateway only reads it.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// File is the on-disk format for session files.
type File struct {
	Token    *oauth2.Token     `json:"token"`
	Mnemonic string            `json:"mnemonic"`
	Bucket   string            `json:"bucket"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Validate reports which required fields are missing. It does not check the
// mnemonic's word list or checksum.
func (f *File) Validate() error {
	var errs []error

	if f.Token == nil || f.Token.AccessToken == "" {
		errs = append(errs, errors.New("missing token field"))
	}

	if f.Mnemonic == "" {
		errs = append(errs, errors.New("missing mnemonic"))
	}

	if f.Bucket == "" {
		errs = append(errs, errors.New("missing bucket"))
	}

	return errors.Join(errs...)
}

// Load reads a session file from disk. Returns (nil, nil) if the file does
// not exist. Files missing the token, mnemonic or bucket fail with an error
// naming the missing fields.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if err := tf.Validate(); err != nil {
		return nil, fmt.Errorf("tokenfile: %s (login again): %w", path, err)
	}

	return &tf, nil
}

// ReadMeta reads just the metadata from a session file without validating
// the secrets. Returns (nil, nil) if the file does not exist.
func ReadMeta(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var parsed struct {
		Meta map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return parsed.Meta, nil
}

// Save writes a session file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs secret values.
func Save(path string, tf *File) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}
