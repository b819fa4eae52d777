package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const fileColumns = `id, path, mime_type, created_at, updated_at`

// Repository handles all file record database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert stores f and fills its timestamps.
func (r *Repository) Insert(ctx context.Context, f *File) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO files (id, path, mime_type)
		 VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		f.ID, f.Path, f.MimeType,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// InsertMany stores all records in one transaction. Either every row is
// written or none is.
func (r *Repository) InsertMany(ctx context.Context, files []*File) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, f := range files {
		err := tx.QueryRow(ctx,
			`INSERT INTO files (id, path, mime_type)
			 VALUES ($1, $2, $3)
			 RETURNING created_at, updated_at`,
			f.ID, f.Path, f.MimeType,
		).Scan(&f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert file %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit files: %w", err)
	}
	return nil
}

// Get fetches a record by id.
func (r *Repository) Get(ctx context.Context, id string) (*File, error) {
	return r.getBy(ctx, "id", id)
}

// GetByPath fetches a record by its exact path.
func (r *Repository) GetByPath(ctx context.Context, path string) (*File, error) {
	return r.getBy(ctx, "path", path)
}

func (r *Repository) getBy(ctx context.Context, column, value string) (*File, error) {
	f := &File{}
	err := r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE `+column+` = $1 LIMIT 1`,
		value,
	).Scan(&f.ID, &f.Path, &f.MimeType, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file by %s: %w", column, err)
	}
	return f, nil
}

// Update rewrites path and mime type of an existing record.
func (r *Repository) Update(ctx context.Context, f *File) error {
	err := r.db.QueryRow(ctx,
		`UPDATE files SET path = $2, mime_type = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		f.ID, f.Path, f.MimeType,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

// Delete removes a record and reports the number of rows affected.
func (r *Repository) Delete(ctx context.Context, id string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete file: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns one page of records and the total matching count.
func (r *Repository) List(ctx context.Context, q ListQuery) ([]File, int, error) {
	where, args, orderBy := buildListSQL(q)
	if where != "" {
		where = " WHERE " + where
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	n := len(args)
	args = append(args, q.Limit, q.Offset())
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM files%s ORDER BY %s LIMIT $%d OFFSET $%d`,
			fileColumns, where, orderBy, n+1, n+2),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]File, 0, q.Limit)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Path, &f.MimeType, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate files: %w", err)
	}
	return files, total, nil
}
