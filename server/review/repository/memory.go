package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"review_server/server/review/domain"
	"review_server/server/review/overlay"
)

// MemoryRepository keeps review data in-process. It backs tests and local runs
// without Postgres; nothing survives a restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	now      func() time.Time
	projects map[string]domain.Project
	files    map[string]domain.File
	comments map[string][]domain.Comment // file ID -> insertion order
	overlays map[string]domain.Overlay   // comment ID -> overlay
}

func NewMemoryRepository() *MemoryRepository {
	return NewMemoryRepositoryWithClock(func() time.Time { return time.Now().UTC() })
}

func NewMemoryRepositoryWithClock(now func() time.Time) *MemoryRepository {
	return &MemoryRepository{
		now:      now,
		projects: map[string]domain.Project{},
		files:    map[string]domain.File{},
		comments: map[string][]domain.Comment{},
		overlays: map[string]domain.Overlay{},
	}
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryRepository) CreateProject(ctx context.Context, item domain.Project) (domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return item, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.now()
	m.projects[item.ID] = item
	return item, nil
}

func (m *MemoryRepository) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return domain.Project{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.projects[projectID]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return item, nil
}

func (m *MemoryRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	items := make([]domain.Project, 0, len(m.projects))
	for _, item := range m.projects {
		items = append(items, item)
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (m *MemoryRepository) CreateFile(ctx context.Context, item domain.File) (domain.File, error) {
	if err := ctx.Err(); err != nil {
		return item, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = m.now()
	m.files[item.ID] = item
	return item, nil
}

func (m *MemoryRepository) GetFile(ctx context.Context, fileID string) (domain.File, error) {
	if err := ctx.Err(); err != nil {
		return domain.File{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.files[fileID]
	if !ok {
		return domain.File{}, ErrNotFound
	}
	return item, nil
}

func (m *MemoryRepository) ListFilesByProject(ctx context.Context, projectID string) ([]domain.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	items := make([]domain.File, 0)
	for _, item := range m.files {
		if item.ProjectID == projectID {
			items = append(items, item)
		}
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (m *MemoryRepository) CreateComment(ctx context.Context, item domain.Comment) (domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return item, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[item.FileID]; !ok {
		return item, ErrNotFound
	}
	item.CreatedAt = m.now()
	item.Overlay = nil
	m.comments[item.FileID] = append(m.comments[item.FileID], item)
	return item, nil
}

func (m *MemoryRepository) CreateOverlay(ctx context.Context, item domain.Overlay) (domain.Overlay, error) {
	if err := ctx.Err(); err != nil {
		return item, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.commentExistsLocked(item.CommentID) {
		return item, ErrNotFound
	}
	if _, ok := m.overlays[item.CommentID]; ok {
		return item, ErrConflict
	}
	item.CreatedAt = m.now()
	item.Document = overlay.Document{Version: item.Document.Version, Strokes: overlay.Decode(item.Document)}
	m.overlays[item.CommentID] = item
	return item, nil
}

func (m *MemoryRepository) ListCommentsByFile(ctx context.Context, fileID string) ([]domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.comments[fileID]
	items := make([]domain.Comment, 0, len(stored))
	for _, c := range stored {
		if o, ok := m.overlays[c.ID]; ok {
			o.Document = overlay.Document{Version: o.Document.Version, Strokes: overlay.Decode(o.Document)}
			c.Overlay = &o
		}
		items = append(items, c)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (m *MemoryRepository) commentExistsLocked(commentID string) bool {
	for _, list := range m.comments {
		for _, c := range list {
			if c.ID == commentID {
				return true
			}
		}
	}
	return false
}
