package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/techdocs/turbo/internal/apperr"
)

// LocalDriver stores files in a single upload directory and serves them
// back through this API.
type LocalDriver struct {
	dir        string
	publicBase string
}

// NewLocalDriver creates dir if needed. publicBase is the URL prefix that
// stored keys are appended to.
func NewLocalDriver(dir, publicBase string) (*LocalDriver, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalDriver{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

// Name implements Driver.
func (d *LocalDriver) Name() string { return "local" }

// Store writes to a temp file and renames it into place so a failed
// write never leaves a partial object under key.
func (d *LocalDriver) Store(ctx context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	full, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", apperr.Storage("failedUpload", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return "", apperr.Storage("failedUpload", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", apperr.Storage("failedUpload", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", apperr.Storage("failedUpload", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return "", apperr.Storage("failedUpload", err)
	}
	return d.publicBase + "/" + key, nil
}

// Delete implements Driver.
func (d *LocalDriver) Delete(_ context.Context, key string) error {
	full, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Storage("failedDelete", err)
	}
	return nil
}

// Presign is not available for local storage.
func (d *LocalDriver) Presign(context.Context, string, time.Duration) (string, error) {
	return "", apperr.Configuration("file", "presigned URLs require the minio storage driver")
}

// Key implements Driver.
func (d *LocalDriver) Key(location string) (string, bool) {
	return KeyUnder(d.publicBase, location)
}

// Exists implements Driver.
func (d *LocalDriver) Exists(_ context.Context, key string) (bool, error) {
	full, err := d.path(key)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("failedRead", err)
	}
	return info.Mode().IsRegular(), nil
}

// Open returns the stored file for key. The caller must close it.
func (d *LocalDriver) Open(key string) (*os.File, error) {
	full, err := d.path(key)
	if err != nil {
		return nil, apperr.NotFound("file", "file not found")
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("file", "file not found")
	}
	if err != nil {
		return nil, apperr.Storage("failedRead", err)
	}
	return f, nil
}

// path rejects keys that would escape the upload directory.
func (d *LocalDriver) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", apperr.Validation("key", "invalid object key")
	}
	return filepath.Join(d.dir, key), nil
}
