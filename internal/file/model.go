// Package file manages uploaded files: their bytes through a storage
// driver and their records in the files table.
package file

import (
	"errors"
	"io"
	"time"
)

// File is the stored record describing where a file's bytes live.
type File struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Upload is one inbound file. Size is -1 when unknown.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// DeleteResult mirrors the shape clients already consume.
type DeleteResult struct {
	Affected *int64 `json:"affected,omitempty"`
	Raw      []any  `json:"raw"`
}

// PresignedURL is returned by the presign endpoint.
type PresignedURL struct {
	PresignedURL string `json:"presignedUrl"`
	FileName     string `json:"fileName"`
}

// ErrNotFound is returned by the repository when a record does not exist.
var ErrNotFound = errors.New("file not found")
