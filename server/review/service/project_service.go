package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	commonlog "review_server/server/common/log"
	"review_server/server/review/domain"
	"review_server/server/review/repository"
)

const (
	thumbnailSize        = 320
	thumbnailContentType = "image/jpeg"
	mediaKeyPrefix       = "projects/"
)

type projectStore interface {
	CreateProject(ctx context.Context, item domain.Project) (domain.Project, error)
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateFile(ctx context.Context, item domain.File) (domain.File, error)
	ListFilesByProject(ctx context.Context, projectID string) ([]domain.File, error)
	GetFile(ctx context.Context, fileID string) (domain.File, error)
}

type objectStore interface {
	Put(ctx context.Context, objectKey, contentType string, body io.Reader, size int64) error
	PresignDownload(ctx context.Context, objectKey string) (string, error)
	PublicURL(objectKey string) string
}

type globalPublisher interface {
	PublishGlobal(event domain.Event)
}

type ProjectService struct {
	store   projectStore
	objects objectStore
	hub     globalPublisher
	mirror  eventMirror
	newID   func() string
}

func NewProjectService(store projectStore, objects objectStore, hub globalPublisher) *ProjectService {
	return &ProjectService{store: store, objects: objects, hub: hub, newID: uuid.NewString}
}

func (s *ProjectService) UseMirror(mirror eventMirror) {
	s.mirror = mirror
}

func (s *ProjectService) CreateProject(ctx context.Context, name, description string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	created, err := s.store.CreateProject(ctx, domain.Project{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("%w: create project: %w", ErrPersistence, err)
	}
	commonlog.Infof("event=review_project action=create status=ok project_id=%s", created.ID)
	return created, nil
}

func (s *ProjectService) ListProjects(ctx context.Context) ([]domain.Project, error) {
	items, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list projects: %w", ErrPersistence, err)
	}
	if items == nil {
		items = []domain.Project{}
	}
	return items, nil
}

func (s *ProjectService) GetProject(ctx context.Context, projectID string) (domain.ProjectDetail, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return domain.ProjectDetail{}, err
	}
	files, err := s.store.ListFilesByProject(ctx, project.ID)
	if err != nil {
		return domain.ProjectDetail{}, fmt.Errorf("%w: list files: %w", ErrPersistence, err)
	}
	if files == nil {
		files = []domain.File{}
	}
	return domain.ProjectDetail{Project: project, Files: files}, nil
}

// UploadFile stores the media object, a thumbnail for images, and the file
// record, then announces the file to every connected viewer.
func (s *ProjectService) UploadFile(ctx context.Context, input domain.FileUploadInput, body io.Reader) (domain.File, error) {
	startedAt := time.Now()
	project, err := s.loadProject(ctx, input.ProjectID)
	if err != nil {
		return domain.File{}, err
	}
	originalName := strings.TrimSpace(filepath.Base(input.OriginalName))
	if originalName == "" || originalName == "." || originalName == "/" {
		return domain.File{}, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	kind := domain.MediaKindFromContentType(contentType)

	id := s.newID()
	objectKey := mediaObjectKey(project.ID, id, originalName)
	item := domain.File{
		ID:           id,
		ProjectID:    project.ID,
		OriginalName: originalName,
		ObjectKey:    objectKey,
		ContentType:  contentType,
		Kind:         kind,
		SizeBytes:    input.SizeBytes,
		URL:          s.objects.PublicURL(objectKey),
	}

	if kind == domain.MediaKindImage {
		data, err := io.ReadAll(body)
		if err != nil {
			return domain.File{}, fmt.Errorf("%w: read upload: %v", ErrInvalidInput, err)
		}
		item.SizeBytes = int64(len(data))
		if err := s.objects.Put(ctx, objectKey, contentType, bytes.NewReader(data), item.SizeBytes); err != nil {
			return domain.File{}, fmt.Errorf("%w: store object: %w", ErrPersistence, err)
		}
		thumbKey, err := s.storeThumbnail(ctx, objectKey, data)
		if err != nil {
			commonlog.Warnf("event=review_file_upload action=thumbnail status=failed project_id=%s file_id=%s error=%v", project.ID, id, err)
		} else {
			item.ThumbnailURL = s.objects.PublicURL(thumbKey)
		}
	} else if err := s.objects.Put(ctx, objectKey, contentType, body, input.SizeBytes); err != nil {
		return domain.File{}, fmt.Errorf("%w: store object: %w", ErrPersistence, err)
	}

	created, err := s.store.CreateFile(ctx, item)
	if err != nil {
		commonlog.Errorf("event=review_file_upload action=create status=failed project_id=%s file_id=%s error=%v", project.ID, id, err)
		return domain.File{}, fmt.Errorf("%w: create file: %w", ErrPersistence, err)
	}
	commonlog.Infof("event=review_file_upload action=create status=ok project_id=%s file_id=%s file_type=%s size_bytes=%d latency_ms=%d", project.ID, created.ID, created.Kind, created.SizeBytes, time.Since(startedAt).Milliseconds())

	event := domain.FileUploadedEvent(created)
	s.hub.PublishGlobal(event)
	mirrorEvent(ctx, s.mirror, event)
	return created, nil
}

// DownloadURL returns a short-lived URL for the file's stored object.
func (s *ProjectService) DownloadURL(ctx context.Context, fileID string) (string, error) {
	file, err := s.store.GetFile(ctx, strings.TrimSpace(fileID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, fileID)
		}
		return "", fmt.Errorf("%w: load file: %w", ErrPersistence, err)
	}
	return s.presign(ctx, file.ObjectKey)
}

// MediaURL presigns an object key under the media prefix, as stored in file
// and thumbnail URLs.
func (s *ProjectService) MediaURL(ctx context.Context, objectKey string) (string, error) {
	objectKey = strings.TrimPrefix(strings.TrimSpace(objectKey), "/")
	if !strings.HasPrefix(objectKey, mediaKeyPrefix) || strings.Contains(objectKey, "..") {
		return "", fmt.Errorf("%w: media %s", ErrNotFound, objectKey)
	}
	return s.presign(ctx, objectKey)
}

func (s *ProjectService) presign(ctx context.Context, objectKey string) (string, error) {
	u, err := s.objects.PresignDownload(ctx, objectKey)
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %w", ErrPersistence, objectKey, err)
	}
	return u, nil
}

func (s *ProjectService) loadProject(ctx context.Context, projectID string) (domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Project{}, fmt.Errorf("%w: project %q", ErrNotFound, projectID)
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		return domain.Project{}, fmt.Errorf("%w: load project: %w", ErrPersistence, err)
	}
	return project, nil
}

func (s *ProjectService) storeThumbnail(ctx context.Context, objectKey string, data []byte) (string, error) {
	thumb, err := makeThumbnail(data)
	if err != nil {
		return "", err
	}
	thumbKey := strings.TrimSuffix(objectKey, filepath.Ext(objectKey)) + "_thumb.jpg"
	if err := s.objects.Put(ctx, thumbKey, thumbnailContentType, bytes.NewReader(thumb), int64(len(thumb))); err != nil {
		return "", fmt.Errorf("upload thumb: %w", err)
	}
	return thumbKey, nil
}

func makeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mediaObjectKey(projectID, fileID, originalName string) string {
	return mediaKeyPrefix + projectID + "/" + fileID + strings.ToLower(filepath.Ext(originalName))
}
