package file

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/middleware"
	"github.com/techdocs/turbo/internal/response"
	"github.com/techdocs/turbo/internal/storage"
)

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	svc     *Service
	opener  storage.Opener
	maxSize int64
	logger  *slog.Logger
}

// NewHandler creates a file Handler. opener may be nil when the active
// driver serves its own URLs.
func NewHandler(svc *Service, opener storage.Opener, maxSize int64, logger *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		opener:  opener,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "file_handler")),
	}
}

// Routes registers the file endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/upload", h.Upload)
	r.Post("/upload-multiple", h.UploadMultiple)
	r.Post("/from-url", h.FromURL)
	r.Get("/presigned/{type}", h.Presign)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// List handles GET /files.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	page, err := h.svc.List(r.Context(), q)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	page.Links = buildLinks(r.URL, page.Meta)
	response.OK(w, page)
}

// Get handles GET /files/{id}. An unknown id yields a null body.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}
	f, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.OK(w, f)
}

// Upload handles POST /files/upload with a single "file" part.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	uploads, done, err := FormUploads(w, r, "file", h.maxSize, 1)
	defer done()
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	if len(uploads) == 0 {
		response.FromError(w, h.logger, apperr.MissingFile("file"))
		return
	}

	f, err := h.svc.Upload(r.Context(), uploads[0])
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	h.logger.Info("file uploaded",
		slog.String("id", f.ID),
		slog.String("mimeType", f.MimeType),
		slog.String("user", middleware.UserID(r.Context())),
	)
	response.Created(w, f)
}

// UploadMultiple handles POST /files/upload-multiple with up to MaxBatch
// "files" parts.
func (h *Handler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	uploads, done, err := FormUploads(w, r, "files", h.maxSize, MaxBatch)
	defer done()
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	files, err := h.svc.UploadMany(r.Context(), uploads)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.Created(w, files)
}

// Update handles PUT /files/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}
	uploads, done, err := FormUploads(w, r, "file", h.maxSize, 1)
	defer done()
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	if len(uploads) == 0 {
		response.FromError(w, h.logger, apperr.MissingFile("file"))
		return
	}

	f, err := h.svc.Update(r.Context(), id, uploads[0])
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.OK(w, f)
}

// Delete handles DELETE /files/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fileID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	h.logger.Info("file deleted", slog.String("id", id), slog.String("user", middleware.UserID(r.Context())))
	response.OK(w, res)
}

// Presign handles GET /files/presigned/{type}.
func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Presign(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.OK(w, p)
}

type fromURLRequest struct {
	URL string `json:"url"`
}

// FromURL handles POST /files/from-url.
func (h *Handler) FromURL(w http.ResponseWriter, r *http.Request) {
	var req fromURLRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		response.FromError(w, h.logger, apperr.Validation("body", "invalid JSON body"))
		return
	}
	f, err := h.svc.CreateFromURL(r.Context(), req.URL)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.Created(w, f)
}

// Raw handles GET /files/raw/{key} for drivers that keep bytes locally.
func (h *Handler) Raw(w http.ResponseWriter, r *http.Request) {
	if h.opener == nil {
		response.Error(w, http.StatusNotFound, "key", "raw files are not served by this driver")
		return
	}
	f, err := h.opener.Open(chi.URLParam(r, "key"))
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.FromError(w, h.logger, apperr.Storage("failedRead", err))
		return
	}
	// Only the allow-listed types are named; everything else is served
	// as an opaque download.
	w.Header().Set("Content-Type", storage.MimeForExtension(path.Ext(info.Name())))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *Handler) fileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		response.FromError(w, h.logger, apperr.Validation("id", "id must be a UUID"))
		return "", false
	}
	return id, true
}

