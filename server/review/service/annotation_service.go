package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	commonlog "review_server/server/common/log"
	"review_server/server/review/domain"
	"review_server/server/review/overlay"
	"review_server/server/review/repository"
)

const (
	anonymousUserName  = "Anonymous"
	eventMirrorTimeout = 5 * time.Second
)

type annotationStore interface {
	GetFile(ctx context.Context, fileID string) (domain.File, error)
	CreateComment(ctx context.Context, item domain.Comment) (domain.Comment, error)
	CreateOverlay(ctx context.Context, item domain.Overlay) (domain.Overlay, error)
	ListCommentsByFile(ctx context.Context, fileID string) ([]domain.Comment, error)
}

type filePublisher interface {
	PublishToFile(fileID string, event domain.Event)
}

// eventMirror forwards committed events to an external broker.
type eventMirror interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type commentGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

type AnnotationService struct {
	store  annotationStore
	hub    filePublisher
	mirror eventMirror
	guard  commentGuard
	newID  func() string
}

func NewAnnotationService(store annotationStore, hub filePublisher) *AnnotationService {
	return &AnnotationService{store: store, hub: hub, newID: uuid.NewString}
}

func (s *AnnotationService) UseMirror(mirror eventMirror) {
	s.mirror = mirror
}

func (s *AnnotationService) UseGuard(guard commentGuard) {
	s.guard = guard
}

// CreateComment stores a comment with its resolved anchor, then its overlay
// if one was drawn, and announces it to viewers of the file. The overlay is
// best effort: the comment is kept even when the overlay write fails.
func (s *AnnotationService) CreateComment(ctx context.Context, input domain.CommentCreateInput) (domain.Comment, error) {
	startedAt := time.Now()
	fileID := strings.TrimSpace(input.FileID)
	if fileID == "" {
		return domain.Comment{}, fmt.Errorf("%w: file_id is required", ErrInvalidInput)
	}
	file, err := s.GetFile(ctx, fileID)
	if err != nil {
		return domain.Comment{}, err
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return domain.Comment{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	userName := strings.TrimSpace(input.UserName)
	if userName == "" {
		userName = anonymousUserName
	}

	idempotencyKey := ""
	if clientID := strings.TrimSpace(input.ClientCommentID); clientID != "" && s.guard != nil {
		idempotencyKey = commentIdempotencyKey(fileID, clientID)
		ok, err := s.guard.Claim(ctx, idempotencyKey)
		if err != nil {
			return domain.Comment{}, fmt.Errorf("%w: claim client_comment_id: %w", ErrPersistence, err)
		}
		if !ok {
			return domain.Comment{}, fmt.Errorf("%w: client_comment_id %s", ErrDuplicate, clientID)
		}
	}

	created, err := s.store.CreateComment(ctx, domain.Comment{
		ID:       s.newID(),
		FileID:   file.ID,
		UserName: userName,
		Content:  content,
		Anchor:   domain.ResolveAnchor(file.Kind, input.Anchor),
	})
	if err != nil {
		commonlog.Errorf("event=review_comment_persist action=create status=failed file_id=%s client_comment_id_present=%t latency_ms=%d error=%v", fileID, idempotencyKey != "", time.Since(startedAt).Milliseconds(), err)
		if idempotencyKey != "" {
			s.guard.Release(context.WithoutCancel(ctx), idempotencyKey)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Comment{}, fmt.Errorf("%w: file %s", ErrNotFound, fileID)
		}
		return domain.Comment{}, fmt.Errorf("%w: create comment: %w", ErrPersistence, err)
	}

	if input.Drawing != nil {
		if doc := overlay.Encode(input.Drawing.Strokes); doc != nil {
			stored, err := s.store.CreateOverlay(ctx, domain.Overlay{
				ID:        s.newID(),
				CommentID: created.ID,
				Document:  *doc,
			})
			if err != nil {
				commonlog.Warnf("event=review_overlay_persist action=create status=failed file_id=%s comment_id=%s stroke_count=%d error=%v", fileID, created.ID, len(doc.Strokes), err)
			} else {
				created.Overlay = &stored
			}
		}
	}
	commonlog.Infof("event=review_comment_persist action=create status=ok file_id=%s comment_id=%s anchor=%s overlay=%t latency_ms=%d", fileID, created.ID, created.Anchor, created.Overlay != nil, time.Since(startedAt).Milliseconds())

	event := domain.CommentAddedEvent(created)
	s.hub.PublishToFile(created.FileID, event)
	mirrorEvent(ctx, s.mirror, event)
	return created, nil
}

// ListComments returns the file's comments oldest first with overlays inlined.
func (s *AnnotationService) ListComments(ctx context.Context, fileID string) ([]domain.Comment, error) {
	file, err := s.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListCommentsByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list comments: %w", ErrPersistence, err)
	}
	if items == nil {
		items = []domain.Comment{}
	}
	return items, nil
}

func (s *AnnotationService) GetFile(ctx context.Context, fileID string) (domain.File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return domain.File{}, fmt.Errorf("%w: file %q", ErrNotFound, fileID)
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.File{}, fmt.Errorf("%w: file %s", ErrNotFound, fileID)
		}
		return domain.File{}, fmt.Errorf("%w: load file: %w", ErrPersistence, err)
	}
	return file, nil
}

func (s *AnnotationService) GetFileWithComments(ctx context.Context, fileID string) (domain.FileWithComments, error) {
	file, err := s.GetFile(ctx, fileID)
	if err != nil {
		return domain.FileWithComments{}, err
	}
	items, err := s.store.ListCommentsByFile(ctx, file.ID)
	if err != nil {
		return domain.FileWithComments{}, fmt.Errorf("%w: list comments: %w", ErrPersistence, err)
	}
	if items == nil {
		items = []domain.Comment{}
	}
	return domain.FileWithComments{File: file, Comments: items}, nil
}

func mirrorEvent(ctx context.Context, mirror eventMirror, event domain.Event) {
	if mirror == nil {
		return
	}
	mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventMirrorTimeout)
	defer cancel()
	if err := mirror.Publish(mirrorCtx, event.Type, event); err != nil {
		commonlog.Warnf("event=review_event_mirror action=publish status=failed type=%s file_id=%s error=%v", event.Type, event.FileID, err)
	}
}
