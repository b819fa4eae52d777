package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/storage"
)

const (
	// MaxBatch is the most files accepted by UploadMany.
	MaxBatch = 10
	// PresignTTL is the lifetime of presigned upload URLs.
	PresignTTL = 3600 * time.Second

	sniffLen = 3072
)

var typeSuffixRe = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)

// Records is the persistence the service needs; Repository implements it.
type Records interface {
	Insert(ctx context.Context, f *File) error
	InsertMany(ctx context.Context, files []*File) error
	Get(ctx context.Context, id string) (*File, error)
	GetByPath(ctx context.Context, path string) (*File, error)
	Update(ctx context.Context, f *File) error
	Delete(ctx context.Context, id string) (int64, error)
	List(ctx context.Context, q ListQuery) ([]File, int, error)
}

// Options tune the service.
type Options struct {
	// MaxSize is the per-file byte limit; zero disables the check.
	MaxSize          int64
	AllowOctetStream bool
	// CacheSize is the number of records kept for Get; zero disables caching.
	CacheSize int
}

// Service moves bytes through the storage driver and keeps the records
// in step with them.
//
// An upload goes Received, Validated, Stored, Recorded. When recording
// fails after the bytes were stored, the stored objects are deleted again.
// Update deletes the old object before storing the new one; if that second
// store fails the record is left pointing at nothing.
type Service struct {
	records Records
	driver  storage.Driver
	policy  *Policy
	cache   *lru.Cache[string, File]
	maxSize int64
	logger  *slog.Logger

	// mu guards epoch and pending. A Get only fills the cache when no
	// write ran while it read the record.
	mu      sync.Mutex
	epoch   uint64
	pending int
}

// NewService creates a file Service.
func NewService(records Records, driver storage.Driver, opts Options, logger *slog.Logger) (*Service, error) {
	logger = logger.With(slog.String("component", "file_service"), slog.String("driver", driver.Name()))
	s := &Service{
		records: records,
		driver:  driver,
		policy:  NewPolicy(opts.AllowOctetStream, logger),
		maxSize: opts.MaxSize,
		logger:  logger,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, File](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create file cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Upload validates u, stores its bytes and records the result.
func (s *Service) Upload(ctx context.Context, u Upload) (*File, error) {
	key, body, err := s.prepare("file", u)
	if err != nil {
		return nil, err
	}

	location, err := s.store(ctx, key, body, u)
	if err != nil {
		return nil, err
	}

	f := &File{ID: uuid.NewString(), Path: location, MimeType: u.ContentType}
	if err := s.records.Insert(ctx, f); err != nil {
		s.discard(ctx, key)
		return nil, fmt.Errorf("record file: %w", err)
	}
	return f, nil
}

// UploadMany stores up to MaxBatch files and records them in a single
// transaction. Every file is validated before any is stored; on failure
// all objects stored by this call are deleted.
func (s *Service) UploadMany(ctx context.Context, uploads []Upload) ([]File, error) {
	if len(uploads) == 0 {
		return nil, apperr.MissingFile("files")
	}
	if len(uploads) > MaxBatch {
		return nil, apperr.Validation("files", fmt.Sprintf("at most %d files per request", MaxBatch))
	}

	keys := make([]string, len(uploads))
	bodies := make([]io.Reader, len(uploads))
	for i, u := range uploads {
		key, body, err := s.prepare("files", u)
		if err != nil {
			return nil, err
		}
		keys[i], bodies[i] = key, body
	}

	stored := make([]string, 0, len(uploads))
	files := make([]*File, 0, len(uploads))
	for i, u := range uploads {
		location, err := s.store(ctx, keys[i], bodies[i], u)
		if err != nil {
			s.discard(ctx, stored...)
			return nil, err
		}
		stored = append(stored, keys[i])
		files = append(files, &File{ID: uuid.NewString(), Path: location, MimeType: u.ContentType})
	}

	if err := s.records.InsertMany(ctx, files); err != nil {
		s.discard(ctx, stored...)
		return nil, fmt.Errorf("record files: %w", err)
	}

	out := make([]File, len(files))
	for i, f := range files {
		out[i] = *f
	}
	return out, nil
}

// Update replaces the bytes behind an existing record.
func (s *Service) Update(ctx context.Context, id string, u Upload) (*File, error) {
	existing, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	key, body, err := s.prepare("file", u)
	if err != nil {
		return nil, err
	}

	defer s.writing(id)()
	if err := s.removeFor(ctx, existing); err != nil {
		return nil, err
	}

	location, err := s.store(ctx, key, body, u)
	if err != nil {
		s.logger.Warn("record left without object after failed replace",
			slog.String("id", id),
			slog.String("path", existing.Path),
		)
		return nil, err
	}

	updated := *existing
	updated.Path = location
	updated.MimeType = u.ContentType
	if err := s.records.Update(ctx, &updated); err != nil {
		s.discard(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("update record: %w", err)
	}
	return &updated, nil
}

// Delete removes the stored object and then the record. A missing object
// is fine; any other storage failure stops before the record is touched.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	existing, err := s.find(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	defer s.writing(id)()
	if err := s.removeFor(ctx, existing); err != nil {
		return DeleteResult{}, err
	}

	affected, err := s.records.Delete(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete record: %w", err)
	}
	return DeleteResult{Affected: &affected, Raw: []any{}}, nil
}

// Get returns the record for id, or nil when there is none.
func (s *Service) Get(ctx context.Context, id string) (*File, error) {
	if s.cache == nil {
		return s.load(ctx, id)
	}
	if f, ok := s.cache.Get(id); ok {
		return &f, nil
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	f, err := s.load(ctx, id)
	if err != nil || f == nil {
		return f, err
	}

	s.mu.Lock()
	if s.epoch == epoch && s.pending == 0 {
		s.cache.Add(id, *f)
	}
	s.mu.Unlock()
	return f, nil
}

// List returns one page of records.
func (s *Service) List(ctx context.Context, q ListQuery) (*Page, error) {
	files, total, err := s.records.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Page{Data: files, Meta: newMeta(total, len(files), q)}, nil
}

// Presign issues a direct-upload URL for a new object named
// <uuid>.<typeSuffix>. No record is created; callers register the file
// with CreateFromURL once the upload is done.
func (s *Service) Presign(ctx context.Context, typeSuffix string) (*PresignedURL, error) {
	typeSuffix = strings.TrimPrefix(strings.TrimSpace(typeSuffix), ".")
	if !typeSuffixRe.MatchString(typeSuffix) {
		return nil, apperr.Validation("type", "type must be 1-16 letters or digits")
	}
	name := storage.NewKey(strings.ToLower(typeSuffix))
	u, err := s.driver.Presign(ctx, name, PresignTTL)
	if err != nil {
		return nil, err
	}
	return &PresignedURL{PresignedURL: u, FileName: name}, nil
}

// CreateFromURL records a file that was uploaded outside this service,
// typically through a presigned URL. The location must belong to the
// active driver and the object must already be stored.
func (s *Service) CreateFromURL(ctx context.Context, rawURL string) (*File, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Validation("url", "url must be an absolute http(s) URL")
	}
	location := u.String()

	key, ok := s.driver.Key(location)
	if !ok {
		return nil, apperr.Validation("url", "url does not point into the configured storage")
	}
	exists, err := s.driver.Exists(ctx, key)
	observe(s.driver.Name(), "stat", err)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.Validation("url", "fileNotFound")
	}

	_, err = s.records.GetByPath(ctx, location)
	switch {
	case err == nil:
		return nil, &apperr.Error{Kind: apperr.KindValidation, Field: "file", Message: "fileExists", Status: http.StatusPreconditionFailed}
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("check existing file: %w", err)
	}

	f := &File{
		ID:       uuid.NewString(),
		Path:     location,
		MimeType: storage.MimeForExtension(path.Ext(u.Path)),
	}
	if err := s.records.Insert(ctx, f); err != nil {
		return nil, fmt.Errorf("record file: %w", err)
	}
	return f, nil
}

// prepare validates u and returns the object key and the body to store.
// For octet-stream uploads the first bytes are sniffed so the key can
// still carry a meaningful extension.
func (s *Service) prepare(field string, u Upload) (string, io.Reader, error) {
	if u.Body == nil || u.Size == 0 {
		return "", nil, apperr.MissingFile(field)
	}
	if s.maxSize > 0 && u.Size > s.maxSize {
		return "", nil, apperr.TooLarge(field, s.maxSize)
	}
	if err := s.policy.Check(u.Filename, u.ContentType); err != nil {
		return "", nil, err
	}

	keyMime, body := u.ContentType, u.Body
	if strings.HasPrefix(strings.ToLower(u.ContentType), storage.OctetStream) {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(u.Body, head)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return "", nil, apperr.Storage("failedUpload", fmt.Errorf("read upload: %w", err))
		}
		head = head[:n]
		keyMime = mimetype.Detect(head).String()
		s.logger.Debug("sniffed generic upload", slog.String("filename", u.Filename), slog.String("detected", keyMime))
		body = io.MultiReader(bytes.NewReader(head), u.Body)
	}
	return storage.NewKey(storage.ExtensionFor(u.Filename, keyMime)), body, nil
}

func (s *Service) store(ctx context.Context, key string, body io.Reader, u Upload) (string, error) {
	location, err := s.driver.Store(ctx, key, body, u.Size, u.ContentType)
	observe(s.driver.Name(), "store", err)
	if err != nil {
		return "", err
	}
	return location, nil
}

// removeFor deletes the object behind f. Paths the driver does not own
// are left untouched so a record can never delete someone else's key.
func (s *Service) removeFor(ctx context.Context, f *File) error {
	key, ok := s.driver.Key(f.Path)
	if !ok {
		s.logger.Warn("record path outside storage, object not deleted",
			slog.String("id", f.ID),
			slog.String("path", f.Path),
		)
		return nil
	}
	return s.remove(ctx, key)
}

func (s *Service) remove(ctx context.Context, key string) error {
	err := s.driver.Delete(ctx, key)
	observe(s.driver.Name(), "delete", err)
	return err
}

// discard deletes objects whose records were never written. It outlives
// the request context so a cancelled request still cleans up.
func (s *Service) discard(ctx context.Context, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.remove(ctx, key); err != nil {
			s.logger.Error("orphaned object after failed upload",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Service) load(ctx context.Context, id string) (*File, error) {
	f, err := s.records.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *Service) find(ctx context.Context, id string) (*File, error) {
	f, err := s.records.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// writing evicts id and keeps Gets from refilling the cache until the
// returned func runs.
func (s *Service) writing(id string) func() {
	if s.cache == nil {
		return func() {}
	}
	s.mu.Lock()
	s.pending++
	s.epoch++
	s.cache.Remove(id)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.pending--
		s.epoch++
		s.cache.Remove(id)
		s.mu.Unlock()
	}
}

func notFound(id string) error {
	return apperr.NotFound("id", fmt.Sprintf("file %s not found", id))
}
