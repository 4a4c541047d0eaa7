package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"review_server/server/review/domain"
	"review_server/server/review/overlay"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// translateError maps constraint violations onto the package sentinels.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}

// validID filters out keys that can never match a UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) CreateProject(ctx context.Context, item domain.Project) (domain.Project, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO projects(id, name, description)
		VALUES($1, $2, $3)
		RETURNING created_at
	`, item.ID, item.Name, item.Description).Scan(&item.CreatedAt)
	return item, err
}

func (r *PostgresRepository) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	if !validID(projectID) {
		return domain.Project{}, ErrNotFound
	}
	var item domain.Project
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Project{}, ErrNotFound
		}
		return domain.Project{}, err
	}
	return item, nil
}

func (r *PostgresRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, created_at
		FROM projects
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Project, 0)
	for rows.Next() {
		var item domain.Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) CreateFile(ctx context.Context, item domain.File) (domain.File, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO files(id, project_id, original_name, object_key, content_type, file_type, file_size, url, thumbnail_url)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, item.ID, item.ProjectID, item.OriginalName, item.ObjectKey, item.ContentType, string(item.Kind), item.SizeBytes, item.URL, item.ThumbnailURL).Scan(&item.CreatedAt)
	return item, translateError(err)
}

const fileColumns = `id, project_id, original_name, object_key, content_type, file_type, file_size, url, thumbnail_url, created_at`

func scanFile(row pgx.Row) (domain.File, error) {
	var item domain.File
	var kind string
	err := row.Scan(&item.ID, &item.ProjectID, &item.OriginalName, &item.ObjectKey, &item.ContentType, &kind, &item.SizeBytes, &item.URL, &item.ThumbnailURL, &item.CreatedAt)
	item.Kind = domain.MediaKind(kind)
	return item, err
}

func (r *PostgresRepository) GetFile(ctx context.Context, fileID string) (domain.File, error) {
	if !validID(fileID) {
		return domain.File{}, ErrNotFound
	}
	item, err := scanFile(r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.File{}, ErrNotFound
		}
		return domain.File{}, err
	}
	return item, nil
}

func (r *PostgresRepository) ListFilesByProject(ctx context.Context, projectID string) ([]domain.File, error) {
	if !validID(projectID) {
		return []domain.File{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE project_id=$1
		ORDER BY created_at DESC, id DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.File, 0)
	for rows.Next() {
		item, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) CreateComment(ctx context.Context, item domain.Comment) (domain.Comment, error) {
	fields := item.Anchor.Fields()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO comments(id, file_id, user_name, content, timestamp_seconds, x_position, y_position)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, item.ID, item.FileID, item.UserName, item.Content, fields.Timestamp, fields.X, fields.Y).Scan(&item.CreatedAt)
	return item, translateError(err)
}

func (r *PostgresRepository) CreateOverlay(ctx context.Context, item domain.Overlay) (domain.Overlay, error) {
	raw, err := item.Document.Marshal()
	if err != nil {
		return item, fmt.Errorf("marshal overlay: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO annotations(id, comment_id, drawing_data)
		VALUES($1, $2, $3)
		RETURNING created_at
	`, item.ID, item.CommentID, raw).Scan(&item.CreatedAt)
	return item, translateError(err)
}

func (r *PostgresRepository) ListCommentsByFile(ctx context.Context, fileID string) ([]domain.Comment, error) {
	if !validID(fileID) {
		return []domain.Comment{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.file_id, c.user_name, c.content, c.timestamp_seconds, c.x_position, c.y_position, c.created_at,
		       a.id, a.drawing_data, a.created_at
		FROM comments c
		LEFT JOIN annotations a ON a.comment_id = c.id
		WHERE c.file_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Comment, 0)
	for rows.Next() {
		var (
			c                domain.Comment
			ts, x, y         *float64
			overlayID        *string
			drawing          []byte
			overlayCreatedAt *time.Time
		)
		if err := rows.Scan(&c.ID, &c.FileID, &c.UserName, &c.Content, &ts, &x, &y, &c.CreatedAt, &overlayID, &drawing, &overlayCreatedAt); err != nil {
			return nil, err
		}
		c.Anchor = domain.AnchorFromColumns(ts, x, y)
		if overlayID != nil {
			var doc overlay.Document
			if err := json.Unmarshal(drawing, &doc); err != nil {
				return nil, fmt.Errorf("decode overlay %s: %w", *overlayID, err)
			}
			o := &domain.Overlay{ID: *overlayID, CommentID: c.ID, Document: doc}
			if overlayCreatedAt != nil {
				o.CreatedAt = *overlayCreatedAt
			}
			c.Overlay = o
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
