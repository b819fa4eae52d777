package file

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/storage"
)

// AllowedExtensions and AllowedMimeTypes are the accepted upload types.
var (
	AllowedExtensions = []string{"jpg", "jpeg", "png", "avif", "webp", "pdf", "xlsx", "xls", "docx", "doc", "pptx", "ppt"}
	AllowedMimeTypes  = []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/avif",
		"image/webp",
		"application/pdf",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.ms-powerpoint",
	}
)

var allowedExtRe = regexp.MustCompile(`(?i)\.(` + strings.Join(AllowedExtensions, "|") + `)$`)

// Policy decides which uploads are accepted. The filename extension is
// checked first; the mime type only matters when the extension is not on
// the list.
type Policy struct {
	// AllowOctetStream lets application/octet-stream through with a
	// warning instead of rejecting it.
	AllowOctetStream bool
	logger           *slog.Logger
	mimes            map[string]bool
}

// NewPolicy builds a Policy.
func NewPolicy(allowOctetStream bool, logger *slog.Logger) *Policy {
	mimes := make(map[string]bool, len(AllowedMimeTypes))
	for _, m := range AllowedMimeTypes {
		mimes[m] = true
	}
	return &Policy{AllowOctetStream: allowOctetStream, logger: logger, mimes: mimes}
}

// Check returns an UnsupportedType error for rejected files.
func (p *Policy) Check(filename, mimeType string) error {
	if filename == "" {
		return apperr.UnsupportedType("file", "noFileProvided")
	}
	if allowedExtRe.MatchString(filename) {
		return nil
	}

	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == storage.OctetStream && p.AllowOctetStream:
		p.logger.Warn("accepting upload with generic mime type",
			slog.String("filename", filename),
			slog.String("mimeType", mimeType),
		)
		return nil
	case p.mimes[mt]:
		return nil
	default:
		return apperr.UnsupportedType("file", "cantUploadFileType")
	}
}
