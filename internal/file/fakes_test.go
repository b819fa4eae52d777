package file

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/techdocs/turbo/internal/apperr"
	"github.com/techdocs/turbo/internal/storage"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const memBase = "http://files.test/bucket"

// memDriver is an in-memory storage.Driver.
type memDriver struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  int // fail the n-th Store (1-based); 0 never fails
	stores  int
	delErr  error
	presign bool
	deletes []string
	// When block is set, Store signals entered and waits on block.
	block   chan struct{}
	entered chan struct{}
}

func newMemDriver() *memDriver {
	return &memDriver{objects: make(map[string][]byte)}
}

func (d *memDriver) Name() string { return "mem" }

func (d *memDriver) Store(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if d.block != nil {
		d.entered <- struct{}{}
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stores++
	if d.failOn > 0 && d.stores == d.failOn {
		return "", apperr.Storage("failedUpload", errors.New("disk full"))
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", apperr.Storage("failedUpload", err)
	}
	d.objects[key] = b
	return memBase + "/" + key, nil
}

func (d *memDriver) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes = append(d.deletes, key)
	if d.delErr != nil {
		return d.delErr
	}
	delete(d.objects, key)
	return nil
}

func (d *memDriver) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	if !d.presign {
		return "", apperr.Configuration("file", "presigned URLs require the minio storage driver")
	}
	return memBase + "/" + key + "?X-Amz-Expires=" + ttl.String(), nil
}

func (d *memDriver) Key(location string) (string, bool) {
	return storage.KeyUnder(memBase, location)
}

func (d *memDriver) Exists(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[key]
	return ok, nil
}

func (d *memDriver) put(key, body string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[key] = []byte(body)
	return memBase + "/" + key
}

func (d *memDriver) keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.objects))
	for k := range d.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// memRecords is an in-memory Records.
type memRecords struct {
	mu        sync.Mutex
	files     map[string]File
	insertErr error
	updateErr error
	gets      int
}

func newMemRecords() *memRecords {
	return &memRecords{files: make(map[string]File)}
}

func (m *memRecords) Insert(_ context.Context, f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	f.CreatedAt = time.Now().UTC()
	f.UpdatedAt = f.CreatedAt
	m.files[f.ID] = *f
	return nil
}

func (m *memRecords) InsertMany(ctx context.Context, files []*File) error {
	m.mu.Lock()
	if m.insertErr != nil {
		m.mu.Unlock()
		return m.insertErr
	}
	m.mu.Unlock()
	for _, f := range files {
		if err := m.Insert(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRecords) Get(_ context.Context, id string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (m *memRecords) GetByPath(_ context.Context, path string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.Path == path {
			return &f, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRecords) Update(_ context.Context, f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.files[f.ID]; !ok {
		return ErrNotFound
	}
	f.UpdatedAt = time.Now().UTC()
	m.files[f.ID] = *f
	return nil
}

func (m *memRecords) Delete(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return 0, nil
	}
	delete(m.files, id)
	return 1, nil
}

func (m *memRecords) List(_ context.Context, q ListQuery) ([]File, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]File, 0, len(m.files))
	for _, f := range m.files {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start := min(q.Offset(), len(all))
	end := min(start+q.Limit, len(all))
	return all[start:end], len(all), nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
