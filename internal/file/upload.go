package file

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/storage"
)

// multipart overhead allowed on top of the file limit for headers and
// other form fields.
const formSlack = 1 << 20

// FormUploads parses a multipart request and returns the files sent under
// field. The returned func closes the opened parts and removes any temp
// files; callers must call it once the uploads have been consumed.
//
// maxFiles bounds the body to maxFiles*limit so oversized requests fail
// while reading instead of after buffering everything.
func FormUploads(w http.ResponseWriter, r *http.Request, field string, limit int64, maxFiles int) ([]Upload, func(), error) {
	noop := func() {}
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*limit+formSlack)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, noop, apperr.TooLarge(field, limit)
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, noop, apperr.MissingFile(field)
		}
		return nil, noop, apperr.Validation(field, fmt.Sprintf("malformed multipart body: %v", err))
	}

	headers := r.MultipartForm.File[field]
	opened := make([]multipart.File, 0, len(headers))
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		_ = r.MultipartForm.RemoveAll()
	}

	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			cleanup()
			return nil, noop, apperr.Storage("failedUpload", fmt.Errorf("open part %q: %w", fh.Filename, err))
		}
		opened = append(opened, f)
		uploads = append(uploads, uploadFromHeader(fh, f))
	}
	return uploads, cleanup, nil
}

func uploadFromHeader(fh *multipart.FileHeader, body io.Reader) Upload {
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = storage.OctetStream
	}
	return Upload{
		Filename:    fh.Filename,
		ContentType: ct,
		Size:        fh.Size,
		Body:        body,
	}
}
