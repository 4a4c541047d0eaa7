package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonlog "review_server/server/common/log"
	"review_server/server/common/transport/httpresp"
	"review_server/server/review/domain"
	"review_server/server/review/repository"
	"review_server/server/review/service"
)

func TestMain(m *testing.M) {
	commonlog.SetOutput(io.Discard)
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memoryObjects) Put(ctx context.Context, objectKey, contentType string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey] = data
	return nil
}

func (s *memoryObjects) PresignDownload(ctx context.Context, objectKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[objectKey]; !ok {
		return "", errors.New("no such key")
	}
	return "https://objects.example/" + objectKey + "?X-Amz-Signature=test", nil
}

func (s *memoryObjects) PublicURL(objectKey string) string {
	return "http://review.example/media/" + objectKey
}

type apiFixture struct {
	router *gin.Engine
	hub    *service.Hub
	repo   *repository.MemoryRepository
}

func newAPIFixture(t *testing.T, maxUploadBytes int64) apiFixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	hub := service.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	objects := &memoryObjects{objects: map[string][]byte{}}
	projects := service.NewProjectService(repo, objects, hub)
	comments := service.NewAnnotationService(repo, hub)
	comments.UseGuard(service.NewRedisCommentGuard(redisClient))
	realtime := service.NewRealtimeService(hub, comments, nil)

	h := NewHandler(projects, comments, realtime, maxUploadBytes)
	h.UseReadiness(repo.Ping)
	r := gin.New()
	h.RegisterRoutes(r)
	return apiFixture{router: r, hub: hub, repo: repo}
}

func (fx apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func (fx apiFixture) upload(t *testing.T, projectID, name, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	mw := multipart.NewWriter(buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+projectID+"/files", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (fx apiFixture) seedFile(t *testing.T, name, contentType string) domain.File {
	t.Helper()
	w := fx.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "campaign"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	project := decode[domain.Project](t, w)

	w = fx.upload(t, project.ID, name, contentType, []byte("media bytes"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[domain.File](t, w)
}

func TestHealthAndReadiness(t *testing.T) {
	fx := newAPIFixture(t, 0)

	w := fx.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[httpresp.HealthResponse](t, w).Status)

	w = fx.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProjectRoutes(t *testing.T) {
	fx := newAPIFixture(t, 0)

	w := fx.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"description": "missing name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = fx.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Launch", "description": "v2 cut"})
	require.Equal(t, http.StatusCreated, w.Code)
	project := decode[domain.Project](t, w)
	assert.Equal(t, "Launch", project.Name)

	w = fx.do(t, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[httpresp.ListResponse[domain.Project]](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, project.ID, list.Items[0].ID)

	w = fx.do(t, http.MethodGet, "/api/v1/projects/"+project.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[domain.ProjectDetail](t, w)
	assert.Equal(t, project.ID, detail.ID)
	assert.Empty(t, detail.Files)

	w = fx.do(t, http.MethodGet, "/api/v1/projects/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, httpresp.ErrProjectNotFound, decode[httpresp.ErrorResponse](t, w).Error)
}

func TestUploadRoutes(t *testing.T) {
	fx := newAPIFixture(t, 1024)
	file := fx.seedFile(t, "cut.mp4", "video/mp4")
	assert.Equal(t, domain.MediaKindVideo, file.Kind)
	assert.Equal(t, "cut.mp4", file.OriginalName)
	assert.Equal(t, int64(len("media bytes")), file.SizeBytes)

	w := fx.upload(t, uuid.NewString(), "a.pdf", "application/pdf", []byte("%PDF"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = fx.upload(t, file.ProjectID, "big.mov", "video/quicktime", bytes.Repeat([]byte("x"), 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, httpresp.ErrFileTooLarge, decode[httpresp.ErrorResponse](t, w).Error)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+file.ProjectID+"/files", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httpresp.ErrFileRequired, decode[httpresp.ErrorResponse](t, rec).Error)
}

func TestDownloadAndMediaRedirect(t *testing.T) {
	fx := newAPIFixture(t, 0)
	file := fx.seedFile(t, "brief.pdf", "application/pdf")

	w := fx.do(t, http.MethodGet, "/api/v1/files/"+file.ID+"/download", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "https://objects.example/"+file.ObjectKey))

	w = fx.do(t, http.MethodGet, "/media/"+file.ObjectKey, nil)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)

	w = fx.do(t, http.MethodGet, "/api/v1/files/"+uuid.NewString()+"/download", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = fx.do(t, http.MethodGet, "/media/etc/passwd", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateCommentOnVideo(t *testing.T) {
	fx := newAPIFixture(t, 0)
	file := fx.seedFile(t, "cut.mp4", "video/mp4")

	w := fx.do(t, http.MethodPost, "/api/v1/files/"+file.ID+"/comments", map[string]any{
		"user_name":  "Ann",
		"content":    "nice cut",
		"timestamp":  12.5,
		"x_position": 40,
		"y_position": 50,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[domain.Comment](t, w)
	assert.Equal(t, domain.Temporal(12.5), created.Anchor)
	assert.Equal(t, "Ann", created.UserName)

	w = fx.do(t, http.MethodGet, "/api/v1/files/"+file.ID+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[httpresp.ListResponse[domain.Comment]](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, created.ID, list.Items[0].ID)

	w = fx.do(t, http.MethodGet, "/api/v1/files/"+file.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	withComments := decode[domain.FileWithComments](t, w)
	assert.Equal(t, file.ID, withComments.ID)
	assert.Len(t, withComments.Comments, 1)
}

func TestCreateCommentErrors(t *testing.T) {
	fx := newAPIFixture(t, 0)
	file := fx.seedFile(t, "still.png", "image/png")
	path := "/api/v1/files/" + file.ID + "/comments"

	w := fx.do(t, http.MethodPost, "/api/v1/files/"+uuid.NewString()+"/comments", map[string]any{"content": "hello"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, httpresp.ErrFileNotFound, decode[httpresp.ErrorResponse](t, w).Error)

	missingPath := "/api/v1/files/" + uuid.NewString() + "/comments"
	w = fx.do(t, http.MethodPost, missingPath, map[string]any{"content": "  "})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = fx.do(t, http.MethodPost, missingPath, map[string]any{"content": "bad drawing", "drawing_data": map[string]any{"shapes": []int{1}}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, httpresp.ErrFileNotFound, decode[httpresp.ErrorResponse](t, w).Error)

	w = fx.do(t, http.MethodPost, path, map[string]any{"user_name": "Ann", "content": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = fx.do(t, http.MethodPost, path, map[string]any{"content": "bad drawing", "drawing_data": map[string]any{"shapes": []int{1}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, httpresp.ErrInvalidDrawing, decode[httpresp.ErrorResponse](t, w).Error)

	body := map[string]any{"content": "once", "client_comment_id": "retry-1"}
	w = fx.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, w.Code)
	w = fx.do(t, http.MethodPost, path, body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = fx.do(t, http.MethodGet, "/api/v1/files/"+uuid.NewString()+"/comments", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateCommentWithDrawing(t *testing.T) {
	fx := newAPIFixture(t, 0)
	file := fx.seedFile(t, "still.png", "image/png")
	path := "/api/v1/files/" + file.ID + "/comments"
	drawing := `{"version":1,"strokes":[` +
		`{"color":"#667eea","width":3,"points":[{"x":1,"y":1},{"x":5,"y":5}]},` +
		`{"color":"#ff0000","width":4,"points":[{"x":9,"y":9}]},` +
		`{"color":"#ffffff","width":20,"points":[{"x":2,"y":2}]}]}`

	// Object form.
	w := fx.do(t, http.MethodPost, path, map[string]any{
		"user_name":    "Bo",
		"content":      "move this",
		"x_position":   100,
		"y_position":   200,
		"drawing_data": json.RawMessage(drawing),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[domain.Comment](t, w)
	assert.Equal(t, domain.Spatial(100, 200), created.Anchor)
	require.NotNil(t, created.Overlay)
	assert.Len(t, created.Overlay.Document.Strokes, 3)

	// Serialized string form.
	w = fx.do(t, http.MethodPost, path, map[string]any{
		"content":      "again",
		"drawing_data": drawing,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	again := decode[domain.Comment](t, w)
	require.NotNil(t, again.Overlay)
	assert.Equal(t, created.Overlay.Document.Strokes, again.Overlay.Document.Strokes)
	assert.Equal(t, domain.NoAnchor(), again.Anchor)
}
