package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	commonlog "review_server/server/common/log"
	"review_server/server/review/domain"
	"review_server/server/review/repository"
)

func TestMain(m *testing.M) {
	commonlog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type receivedEvent struct {
	Type    string          `json:"type"`
	FileID  string          `json:"file_id"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

type fakeSubscriber struct {
	id     string
	reject bool
	mu     sync.Mutex
	got    [][]byte
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) ID() string {
	return f.id
}

func (f *fakeSubscriber) Deliver(payload []byte) bool {
	if f.reject {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, append([]byte(nil), payload...))
	return true
}

func (f *fakeSubscriber) events(t *testing.T) []receivedEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]receivedEvent, 0, len(f.got))
	for _, raw := range f.got {
		var ev receivedEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

// flush waits until every operation queued on the hub so far has run.
func flush(hub *Hub) {
	hub.MemberCount("")
}

func seedFile(t *testing.T, repo *repository.MemoryRepository, kind domain.MediaKind) domain.File {
	t.Helper()
	ctx := context.Background()
	project, err := repo.CreateProject(ctx, domain.Project{ID: uuid.NewString(), Name: "spring campaign"})
	require.NoError(t, err)
	file, err := repo.CreateFile(ctx, domain.File{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		OriginalName: "asset",
		ObjectKey:    "projects/" + project.ID + "/asset",
		ContentType:  string(kind) + "/x",
		Kind:         kind,
		SizeBytes:    10,
	})
	require.NoError(t, err)
	return file
}

func ptr(v float64) *float64 {
	return &v
}

type failingOverlayStore struct {
	*repository.MemoryRepository
}

func (s failingOverlayStore) CreateOverlay(ctx context.Context, item domain.Overlay) (domain.Overlay, error) {
	return domain.Overlay{}, errors.New("disk full")
}

type failingCommentStore struct {
	*repository.MemoryRepository
	fail bool
}

func (s *failingCommentStore) CreateComment(ctx context.Context, item domain.Comment) (domain.Comment, error) {
	if s.fail {
		return domain.Comment{}, errors.New("connection reset")
	}
	return s.MemoryRepository.CreateComment(ctx, item)
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *fakeMirror) Publish(ctx context.Context, routingKey string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, routingKey)
	return m.err
}

func (m *fakeMirror) routingKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

type storedObject struct {
	contentType string
	data        []byte
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	putErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string]storedObject{}}
}

func (s *fakeObjectStore) Put(ctx context.Context, objectKey, contentType string, body io.Reader, size int64) error {
	if s.putErr != nil {
		return s.putErr
	}
	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, body); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey] = storedObject{contentType: contentType, data: buf.Bytes()}
	return nil
}

func (s *fakeObjectStore) PresignDownload(ctx context.Context, objectKey string) (string, error) {
	return "https://objects.example/" + objectKey + "?sig=test&expires=" + time.Now().Add(15*time.Minute).Format("150405"), nil
}

func (s *fakeObjectStore) PublicURL(objectKey string) string {
	return "http://review.example/media/" + objectKey
}

func (s *fakeObjectStore) get(objectKey string) (storedObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectKey]
	return obj, ok
}

func (s *fakeObjectStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
