// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package tempfiles manages scoped on-disk buffers for image downloads.
package tempfiles

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"

	"mineskin.org/mineskin/skinimage"
)

// Error is the default tempfiles errs class.
var Error = errs.Class("tempfiles")

// Kind selects one of the well-known buffer roots.
type Kind string

const (
	// KindURL holds downloads of user supplied urls.
	KindURL Kind = "url"
	// KindUpload holds copies of direct uploads.
	KindUpload Kind = "upload"
	// KindMojang holds fetches from the upstream texture store.
	KindMojang Kind = "mojang"
)

// Manager creates the buffer roots once at startup and hands out handles
// inside them.
type Manager struct {
	root string
}

// NewManager creates the three buffer roots under the given directory.
func NewManager(root string) (*Manager, error) {
	for _, kind := range []Kind{KindURL, KindUpload, KindMojang} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0700); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return &Manager{root: root}, nil
}

// Handle is a single scoped buffer. Release must run on every exit path of
// the caller; releasing twice is harmless.
type Handle struct {
	path     string
	released bool
}

// Acquire creates a fresh buffer under the given root.
func (manager *Manager) Acquire(kind Kind) (*Handle, error) {
	file, err := os.CreateTemp(filepath.Join(manager.root, string(kind)), "skin-*.png")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, Error.Wrap(err)
	}
	return &Handle{path: path}, nil
}

// Path returns the on-disk location of the buffer.
func (handle *Handle) Path() string { return handle.path }

// Read returns the buffered bytes.
func (handle *Handle) Read() ([]byte, error) {
	data, err := os.ReadFile(handle.path)
	return data, Error.Wrap(err)
}

// Write replaces the buffer contents.
func (handle *Handle) Write(data []byte) error {
	return Error.Wrap(os.WriteFile(handle.path, data, 0600))
}

// Release removes the buffer.
func (handle *Handle) Release() error {
	if handle.released {
		return nil
	}
	handle.released = true
	return Error.Wrap(os.Remove(handle.path))
}

// DownloadTo streams a GET response into the handle. The response must be
// a png no larger than maxBytes once fully written.
func (manager *Manager) DownloadTo(ctx context.Context, client *http.Client, url string, handle *Handle, maxBytes int64) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Error.Wrap(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(resp.Body.Close())) }()

	if resp.StatusCode != http.StatusOK {
		return Error.New("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	file, err := os.OpenFile(handle.path, os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(file.Close())) }()

	n, err := io.Copy(file, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return Error.Wrap(err)
	}
	if n > maxBytes {
		return skinimage.ErrInvalidImage.New("download exceeds %d bytes", maxBytes)
	}

	data, err := handle.Read()
	if err != nil {
		return err
	}
	if mime := http.DetectContentType(data); mime != "image/png" {
		return skinimage.ErrInvalidImage.New("downloaded content type %q", mime)
	}
	return nil
}
