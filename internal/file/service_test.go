package file

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/storage"
)

var pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func newTestService(t *testing.T, opts Options) (*Service, *memDriver, *memRecords) {
	t.Helper()
	d, recs := newMemDriver(), newMemRecords()
	if opts.MaxSize == 0 {
		opts.MaxSize = 5 << 20
	}
	svc, err := NewService(recs, d, opts, discardLogger)
	require.NoError(t, err)
	return svc, d, recs
}

func upload(name, mime, body string) Upload {
	return Upload{Filename: name, ContentType: mime, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae), "expected *apperr.Error, got %v", err)
	return ae.HTTPStatus()
}

func TestUpload_StoresAndRecords(t *testing.T) {
	svc, d, recs := newTestService(t, Options{AllowOctetStream: true})

	f, err := svc.Upload(context.Background(), upload("report.pdf", "application/pdf", "%PDF-1.7"))
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", f.MimeType)
	assert.True(t, strings.HasSuffix(f.Path, ".pdf"))
	assert.False(t, f.CreatedAt.IsZero())

	key := storage.KeyFromPath(f.Path)
	assert.Equal(t, []string{key}, d.keys())
	assert.Equal(t, "%PDF-1.7", string(d.objects[key]))
	assert.Equal(t, 1, recs.count())
}

func TestUpload_OctetStreamIsSniffed(t *testing.T) {
	svc, d, _ := newTestService(t, Options{AllowOctetStream: true})

	f, err := svc.Upload(context.Background(), upload("upload", storage.OctetStream, pngHeader))
	require.NoError(t, err)

	assert.Equal(t, storage.OctetStream, f.MimeType)
	assert.True(t, strings.HasSuffix(f.Path, ".png"), f.Path)
	assert.Equal(t, pngHeader, string(d.objects[storage.KeyFromPath(f.Path)]))
}

func TestUpload_Rejections(t *testing.T) {
	svc, d, recs := newTestService(t, Options{MaxSize: 4, AllowOctetStream: true})
	ctx := context.Background()

	_, err := svc.Upload(ctx, upload("notes.txt", "text/plain", "hi"))
	assert.True(t, apperr.Is(err, apperr.KindUnsupportedType))
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(t, err))

	_, err = svc.Upload(ctx, Upload{Filename: "a.png", ContentType: "image/png"})
	assert.Equal(t, http.StatusPreconditionFailed, statusOf(t, err))

	_, err = svc.Upload(ctx, upload("a.png", "image/png", "too large"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusOf(t, err))

	assert.Empty(t, d.keys())
	assert.Zero(t, recs.count())
}

func TestUpload_InsertFailureDiscardsObject(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	recs.insertErr = errors.New("db down")

	_, err := svc.Upload(context.Background(), upload("a.png", "image/png", "png"))
	require.Error(t, err)

	assert.Empty(t, d.keys())
	assert.Len(t, d.deletes, 1)
}

func TestUploadMany(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})

	files, err := svc.UploadMany(context.Background(), []Upload{
		upload("a.png", "image/png", "a"),
		upload("b.jpg", "image/jpeg", "b"),
		upload("c.pdf", "application/pdf", "c"),
	})
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Len(t, d.keys(), 3)
	assert.Equal(t, 3, recs.count())
	assert.NotEqual(t, files[0].ID, files[1].ID)
}

func TestUploadMany_StoreFailureCompensates(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	d.failOn = 2

	_, err := svc.UploadMany(context.Background(), []Upload{
		upload("a.png", "image/png", "a"),
		upload("b.png", "image/png", "b"),
		upload("c.png", "image/png", "c"),
	})
	assert.True(t, apperr.Is(err, apperr.KindStorage))
	assert.Empty(t, d.keys())
	assert.Zero(t, recs.count())
}

func TestUploadMany_InsertFailureCompensates(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	recs.insertErr = errors.New("constraint violation")

	_, err := svc.UploadMany(context.Background(), []Upload{
		upload("a.png", "image/png", "a"),
		upload("b.png", "image/png", "b"),
	})
	require.Error(t, err)
	assert.Empty(t, d.keys())
	assert.Len(t, d.deletes, 2)
}

func TestUploadMany_ValidatesBeforeStoring(t *testing.T) {
	svc, d, _ := newTestService(t, Options{})

	_, err := svc.UploadMany(context.Background(), []Upload{
		upload("a.png", "image/png", "a"),
		upload("b.txt", "text/plain", "b"),
	})
	assert.True(t, apperr.Is(err, apperr.KindUnsupportedType))
	assert.Zero(t, d.stores)
}

func TestUploadMany_Bounds(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.UploadMany(ctx, nil)
	assert.Equal(t, http.StatusPreconditionFailed, statusOf(t, err))

	many := make([]Upload, MaxBatch+1)
	for i := range many {
		many[i] = upload("a.png", "image/png", "a")
	}
	_, err = svc.UploadMany(ctx, many)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdate_ReplacesObject(t *testing.T) {
	svc, d, _ := newTestService(t, Options{CacheSize: 8})
	ctx := context.Background()

	orig, err := svc.Upload(ctx, upload("a.png", "image/png", "old"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, orig.ID)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, orig.ID, upload("b.pdf", "application/pdf", "new"))
	require.NoError(t, err)

	assert.Equal(t, orig.ID, updated.ID)
	assert.Equal(t, "application/pdf", updated.MimeType)
	assert.NotEqual(t, orig.Path, updated.Path)
	assert.Equal(t, []string{storage.KeyFromPath(updated.Path)}, d.keys())

	got, err := svc.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Path, got.Path)
}

func TestUpdate_NotFound(t *testing.T) {
	svc, d, _ := newTestService(t, Options{})

	_, err := svc.Update(context.Background(), "3f1c3c57-5e0e-4a36-9b7a-0a8a4b1f3e11", upload("a.png", "image/png", "x"))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Zero(t, d.stores)
}

func TestUpdate_InvalidFileKeepsOldObject(t *testing.T) {
	svc, d, _ := newTestService(t, Options{})
	ctx := context.Background()

	orig, err := svc.Upload(ctx, upload("a.png", "image/png", "old"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, orig.ID, upload("b.txt", "text/plain", "new"))
	assert.True(t, apperr.Is(err, apperr.KindUnsupportedType))
	assert.Equal(t, []string{storage.KeyFromPath(orig.Path)}, d.keys())
}

func TestDelete(t *testing.T) {
	svc, d, recs := newTestService(t, Options{CacheSize: 8})
	ctx := context.Background()

	f, err := svc.Upload(ctx, upload("a.png", "image/png", "x"))
	require.NoError(t, err)
	_, _ = svc.Get(ctx, f.ID)

	res, err := svc.Delete(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Affected)
	assert.EqualValues(t, 1, *res.Affected)
	assert.Equal(t, []any{}, res.Raw)
	assert.Empty(t, d.keys())
	assert.Zero(t, recs.count())

	got, err := svc.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = svc.Delete(ctx, f.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDelete_MissingObjectStillDeletesRecord(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	ctx := context.Background()

	f, err := svc.Upload(ctx, upload("a.png", "image/png", "x"))
	require.NoError(t, err)
	delete(d.objects, storage.KeyFromPath(f.Path))

	_, err = svc.Delete(ctx, f.ID)
	require.NoError(t, err)
	assert.Zero(t, recs.count())
}

func TestDelete_StorageFailureKeepsRecord(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	ctx := context.Background()

	f, err := svc.Upload(ctx, upload("a.png", "image/png", "x"))
	require.NoError(t, err)
	d.delErr = apperr.Storage("failedDelete", errors.New("permission denied"))

	_, err = svc.Delete(ctx, f.ID)
	assert.Equal(t, http.StatusExpectationFailed, statusOf(t, err))
	assert.Equal(t, 1, recs.count())
}

func TestGet_UsesCache(t *testing.T) {
	svc, _, recs := newTestService(t, Options{CacheSize: 8})
	ctx := context.Background()

	f, err := svc.Upload(ctx, upload("a.png", "image/png", "x"))
	require.NoError(t, err)

	for range 3 {
		got, err := svc.Get(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, f.ID, got.ID)
	}
	assert.Equal(t, 1, recs.gets)

	missing, err := svc.Get(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestList(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	for range 3 {
		_, err := svc.Upload(ctx, upload("a.png", "image/png", "x"))
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, ListQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, Meta{TotalItems: 3, ItemCount: 1, ItemsPerPage: 2, TotalPages: 2, CurrentPage: 2}, page.Meta)
}

func TestPresign(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Presign(ctx, "png")
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))

	d.presign = true
	p, err := svc.Presign(ctx, ".PNG")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p.FileName, ".png"))
	assert.Len(t, p.FileName, 36+len(".png"))
	assert.Contains(t, p.PresignedURL, p.FileName)
	assert.Contains(t, p.PresignedURL, "1h0m0s")
	assert.Zero(t, recs.count())

	for _, bad := range []string{"", "p/ng", "averyveryverylongsuffix"} {
		_, err := svc.Presign(ctx, bad)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "suffix %q", bad)
	}
}

func TestCreateFromURL(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	ctx := context.Background()

	loc := d.put("abc.pdf", "%PDF-1.7")
	f, err := svc.CreateFromURL(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.MimeType)
	assert.Equal(t, loc, f.Path)

	_, err = svc.CreateFromURL(ctx, loc)
	assert.Equal(t, http.StatusPreconditionFailed, statusOf(t, err))

	for _, bad := range []string{
		"",
		"ftp://host/a.pdf",
		"/relative/a.pdf",
		"::",
		"https://attacker.example/whatever/abc.pdf",
		memBase + "/nested/abc.pdf",
		memBase + "/never-uploaded.pdf",
	} {
		_, err := svc.CreateFromURL(ctx, bad)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "url %q", bad)
	}
	assert.Equal(t, 1, recs.count())
}

func TestDelete_ForeignPathLeavesObjectsAlone(t *testing.T) {
	svc, d, recs := newTestService(t, Options{})
	ctx := context.Background()

	victim, err := svc.Upload(ctx, upload("a.png", "image/png", "x"))
	require.NoError(t, err)
	victimKey, ok := d.Key(victim.Path)
	require.True(t, ok)

	_, err = svc.CreateFromURL(ctx, "https://attacker.example/whatever/"+victimKey)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	// A row that predates the ownership check still must not reach into
	// the bucket.
	legacy := &File{ID: "6c1d2a77-1e0a-4d1c-9a0b-2f3e4d5c6b7a", Path: "https://attacker.example/whatever/" + victimKey, MimeType: "image/png"}
	require.NoError(t, recs.Insert(ctx, legacy))

	_, err = svc.Delete(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{victimKey}, d.keys())
	assert.Empty(t, d.deletes)
}

func TestUpdate_ConcurrentGetDoesNotCacheOldRecord(t *testing.T) {
	svc, d, _ := newTestService(t, Options{CacheSize: 8})
	ctx := context.Background()

	orig, err := svc.Upload(ctx, upload("a.png", "image/png", "old"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, orig.ID)
	require.NoError(t, err)

	d.block = make(chan struct{})
	d.entered = make(chan struct{})

	done := make(chan *File, 1)
	go func() {
		f, err := svc.Update(ctx, orig.ID, upload("b.png", "image/png", "new"))
		assert.NoError(t, err)
		done <- f
	}()

	<-d.entered
	during, err := svc.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig.Path, during.Path)
	close(d.block)

	updated := <-done
	require.NotNil(t, updated)
	got, err := svc.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Path, got.Path)
}
