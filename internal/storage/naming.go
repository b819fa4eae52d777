package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// OctetStream is the generic mime type clients send when they cannot tell.
const OctetStream = "application/octet-stream"

var mimeToExt = map[string]string{
	"image/jpeg":         "jpg",
	"image/jpg":          "jpg",
	"image/png":          "png",
	"image/avif":         "avif",
	"image/webp":         "webp",
	"application/pdf":    "pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-excel":                                                  "xls",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/msword":                                                        "doc",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.ms-powerpoint":                                             "ppt",
	OctetStream:                                                                 "bin",
}

var extToMime = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"avif": "image/avif",
	"webp": "image/webp",
	"pdf":  "application/pdf",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"xls":  "application/vnd.ms-excel",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"doc":  "application/msword",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"ppt":  "application/vnd.ms-powerpoint",
}

// placeholderNames are filenames tooling sends when the real name is lost.
var placeholderNames = map[string]bool{
	"filename": true,
	"file":     true,
	"blob":     true,
}

// ExtensionFor picks the object key extension. A known extension on the
// original filename wins; otherwise the mime type decides, defaulting to
// "bin". Unknown filename extensions never reach the key because the raw
// route derives Content-Type from it.
func ExtensionFor(originalName, mimeType string) string {
	name := strings.ToLower(strings.TrimSpace(originalName))
	if name != "" && !placeholderNames[name] {
		ext := strings.TrimPrefix(path.Ext(name), ".")
		if _, known := extToMime[ext]; known {
			return ext
		}
	}
	if ext, ok := mimeToExt[normalizeMime(mimeType)]; ok {
		return ext
	}
	return "bin"
}

// MimeForExtension is the inverse lookup, defaulting to OctetStream.
func MimeForExtension(ext string) string {
	if m, ok := extToMime[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return m
	}
	return OctetStream
}

// NewKey returns a random object key with the given extension. Collisions
// are not checked.
func NewKey(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return uuid.NewString()
	}
	return uuid.NewString() + "." + ext
}

// KeyFromPath returns the object key encoded in a record path: the segment
// after the last slash.
func KeyFromPath(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// KeyUnder returns the key of location when it is exactly one path
// segment below base.
func KeyUnder(base, location string) (string, bool) {
	key, ok := strings.CutPrefix(location, strings.TrimRight(base, "/")+"/")
	if !ok || key == "" || KeyFromPath(key) != key || strings.HasPrefix(key, ".") || strings.ContainsAny(key, "?#\\") {
		return "", false
	}
	return key, true
}

// normalizeMime strips parameters such as "; charset=utf-8".
func normalizeMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
