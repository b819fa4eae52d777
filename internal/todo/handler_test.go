package todo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/file"
)

type fakeUploader struct {
	got []file.Upload
	err error
}

func (f *fakeUploader) Upload(_ context.Context, u file.Upload) (*file.File, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(u.Body)
	u.Body = bytes.NewReader(b)
	f.got = append(f.got, u)
	return &file.File{ID: "9a3c2d1e-0000-4000-8000-000000000001", Path: "http://h/b/x.png", MimeType: u.ContentType}, nil
}

func newTestHandler(up Uploader) http.Handler {
	h := NewHandler(NewStore(), up, 5<<20, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Route("/todos", h.Routes)
	return r
}

func send(t *testing.T, h http.Handler, method, target, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateDeleteScenario(t *testing.T) {
	h := newTestHandler(&fakeUploader{})

	rec := send(t, h, http.MethodPost, "/todos", `{"title":"Buy milk","completed":false}`, "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.EqualValues(t, 1, created["id"])
	assert.Equal(t, "Buy milk", created["title"])
	assert.Equal(t, false, created["completed"])
	assert.NotEmpty(t, created["createdAt"])
	assert.NotContains(t, created, "description")

	rec = send(t, h, http.MethodDelete, "/todos/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"id":1}`, rec.Body.String())

	rec = send(t, h, http.MethodGet, "/todos/1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":404,"errors":{"id":"Todo with ID 1 not found"}}`, rec.Body.String())
}

func TestHandler_ListAndUpdate(t *testing.T) {
	h := newTestHandler(&fakeUploader{})
	send(t, h, http.MethodPost, "/todos", `{"title":"A","description":"B"}`, "application/json")
	send(t, h, http.MethodPost, "/todos", `{"title":"C"}`, "application/json")

	rec := send(t, h, http.MethodPut, "/todos/1", `{"completed":true}`, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var td Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &td))
	assert.Equal(t, "A", td.Title)
	assert.Equal(t, "B", *td.Description)
	assert.True(t, td.Completed)

	rec = send(t, h, http.MethodGet, "/todos", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ID)
	assert.Equal(t, 2, list[1].ID)
}

func TestHandler_Validation(t *testing.T) {
	h := newTestHandler(&fakeUploader{})

	cases := []struct {
		method, target, body, field string
	}{
		{http.MethodPost, "/todos", `{"title":""}`, "title"},
		{http.MethodPost, "/todos", `{}`, "title"},
		{http.MethodPost, "/todos", `{"title":"` + strings.Repeat("a", 201) + `"}`, "title"},
		{http.MethodPost, "/todos", `{"title":"ok","description":"` + strings.Repeat("d", 1001) + `"}`, "description"},
		{http.MethodPost, "/todos", `{"title":`, "body"},
		{http.MethodGet, "/todos/abc", "", "id"},
		{http.MethodGet, "/todos/0", "", "id"},
	}
	for _, tc := range cases {
		rec := send(t, h, tc.method, tc.target, tc.body, "application/json")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "%s %s", tc.method, tc.target)
		var body struct {
			Errors map[string]string `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body.Errors, tc.field, "%s %s", tc.method, tc.target)
	}

	send(t, h, http.MethodPost, "/todos", `{"title":"A"}`, "application/json")
	rec := send(t, h, http.MethodPut, "/todos/1", `{"title":""}`, "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func withFileBody(t *testing.T, data string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != "" {
		require.NoError(t, mw.WriteField("data", data))
	}
	if withFile {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, "receipt.png"))
		h.Set("Content-Type", "image/png")
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, _ = w.Write([]byte("png-bytes"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandler_CreateWithFile(t *testing.T) {
	up := &fakeUploader{}
	h := newTestHandler(up)

	body, ct := withFileBody(t, `{"title":"Expense","description":"lunch"}`, true)
	rec := send(t, h, http.MethodPost, "/todos/with-file", body.String(), ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out WithFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.ID)
	assert.Equal(t, "Expense", out.Title)
	require.NotNil(t, out.File)
	assert.Equal(t, Attachment{OriginalName: "receipt.png", MimeType: "image/png", Size: 9}, *out.File)
	require.NotNil(t, out.FileID)
	assert.Equal(t, "9a3c2d1e-0000-4000-8000-000000000001", *out.FileID)
	require.Len(t, up.got, 1)

	body, ct = withFileBody(t, `{"title":"No file"}`, false)
	rec = send(t, h, http.MethodPost, "/todos/with-file", body.String(), ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "file")
	assert.Nil(t, raw["file"])
	assert.NotContains(t, raw, "fileId")
}

func TestHandler_CreateWithFileErrors(t *testing.T) {
	up := &fakeUploader{err: apperr.UnsupportedType("file", "cantUploadFileType")}
	h := newTestHandler(up)

	body, ct := withFileBody(t, "", true)
	rec := send(t, h, http.MethodPost, "/todos/with-file", body.String(), ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data"`)

	body, ct = withFileBody(t, `{"title":"x"}`, true)
	rec = send(t, h, http.MethodPost, "/todos/with-file", body.String(), ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "cantUploadFileType")

	// The rejected upload must not leave a todo behind.
	rec = send(t, h, http.MethodGet, "/todos", "", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	up.err = errors.New("boom")
	body, ct = withFileBody(t, `{"title":"x"}`, true)
	rec = send(t, h, http.MethodPost, "/todos/with-file", body.String(), ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
