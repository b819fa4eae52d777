package todo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/file"
	"github.com/techdocs/turbo/internal/response"
)

const maxJSONBody = 1 << 16

// Uploader stores an attachment; file.Service implements it.
type Uploader interface {
	Upload(ctx context.Context, u file.Upload) (*file.File, error)
}

// Attachment describes the file sent with POST /todos/with-file.
type Attachment struct {
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

// WithFile is a created todo plus its attachment, if any.
type WithFile struct {
	Todo
	File   *Attachment `json:"file"`
	FileID *string     `json:"fileId,omitempty"`
}

// Handler holds HTTP handlers for todo endpoints.
type Handler struct {
	store    *Store
	uploader Uploader
	maxSize  int64
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a todo Handler.
func NewHandler(store *Store, uploader Uploader, maxSize int64, logger *slog.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    store,
		uploader: uploader,
		maxSize:  maxSize,
		validate: v,
		logger:   logger.With(slog.String("component", "todo_handler")),
	}
}

// Routes registers the todo endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/with-file", h.CreateWithFile)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// List handles GET /todos.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.store.List())
}

// Get handles GET /todos/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.todoID(w, r)
	if !ok {
		return
	}
	t, err := h.store.Get(id)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.OK(w, t)
}

// Create handles POST /todos.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := h.decode(io.LimitReader(r.Body, maxJSONBody), &in); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.Created(w, h.store.Create(in))
}

// Update handles PUT /todos/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.todoID(w, r)
	if !ok {
		return
	}
	var in UpdateInput
	if err := h.decode(io.LimitReader(r.Body, maxJSONBody), &in); err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	t, err := h.store.Update(id, in)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.OK(w, t)
}

// Delete handles DELETE /todos/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.todoID(w, r)
	if !ok {
		return
	}
	res, err := h.store.Delete(id)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}
	response.OK(w, res)
}

// CreateWithFile handles POST /todos/with-file. The todo fields arrive as
// a JSON string in the "data" part; "file" is optional. The file is stored
// before the todo is created so a rejected file creates nothing.
func (h *Handler) CreateWithFile(w http.ResponseWriter, r *http.Request) {
	uploads, done, err := file.FormUploads(w, r, "file", h.maxSize, 1)
	defer done()
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	data := r.FormValue("data")
	if data == "" {
		response.FromError(w, h.logger, apperr.Validation("data", "data is required"))
		return
	}
	var in CreateInput
	if err := h.decode(strings.NewReader(data), &in); err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	out := WithFile{}
	if len(uploads) > 0 {
		u := uploads[0]
		f, err := h.uploader.Upload(r.Context(), u)
		if err != nil {
			response.FromError(w, h.logger, err)
			return
		}
		out.File = &Attachment{OriginalName: u.Filename, MimeType: u.ContentType, Size: u.Size}
		out.FileID = &f.ID
	}
	out.Todo = h.store.Create(in)
	response.Created(w, out)
}

func (h *Handler) decode(r io.Reader, dst any) error {
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return apperr.Validation("body", "invalid JSON body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return describe(err)
	}
	return nil
}

func (h *Handler) todoID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		response.FromError(w, h.logger, apperr.Validation("id", "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("body", err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validation(fe.Field(), fmt.Sprintf("%s is required", fe.Field()))
	case "min":
		return apperr.Validation(fe.Field(), fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
	case "max":
		return apperr.Validation(fe.Field(), fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	default:
		return apperr.Validation(fe.Field(), fmt.Sprintf("%s is invalid", fe.Field()))
	}
}
