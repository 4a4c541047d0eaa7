package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	commonlog "review_server/server/common/log"
	"review_server/server/common/transport/httpresp"
	"review_server/server/review/domain"
	"review_server/server/review/overlay"
	"review_server/server/review/service"
)

const defaultMaxUploadBytes = 500 << 20

type Handler struct {
	projects       *service.ProjectService
	comments       *service.AnnotationService
	realtime       *service.RealtimeService
	ready          func(ctx context.Context) error
	maxUploadBytes int64
}

func NewHandler(projects *service.ProjectService, comments *service.AnnotationService, realtime *service.RealtimeService, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		projects:       projects,
		comments:       comments,
		realtime:       realtime,
		maxUploadBytes: maxUploadBytes,
	}
}

// UseReadiness sets the check behind /ready, typically a storage ping.
func (h *Handler) UseReadiness(check func(ctx context.Context) error) {
	h.ready = check
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpresp.NewHealthResponse("ok"))
	})
	r.GET("/ready", h.readiness)
	r.GET("/ws", h.realtime.HandleWS)
	r.GET("/media/*key", h.media)

	api := r.Group("/api/v1")
	{
		api.POST("/projects", h.createProject)
		api.GET("/projects", h.listProjects)
		api.GET("/projects/:id", h.getProject)
		api.POST("/projects/:id/files", h.uploadFile)

		api.GET("/files/:id", h.getFile)
		api.GET("/files/:id/download", h.downloadFile)
		api.POST("/files/:id/comments", h.createComment)
		api.GET("/files/:id/comments", h.listComments)
	}
}

func (h *Handler) readiness(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			commonlog.Warnf("event=review_ready action=check status=failed error=%v", err)
			c.JSON(http.StatusServiceUnavailable, httpresp.NewHealthResponse("unavailable"))
			return
		}
	}
	c.JSON(http.StatusOK, httpresp.NewHealthResponse("ok"))
}

func (h *Handler) createProject(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	project, err := h.projects.CreateProject(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		writeError(c, err, httpresp.ErrProjectNotFound)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *Handler) listProjects(c *gin.Context) {
	items, err := h.projects.ListProjects(c.Request.Context())
	if err != nil {
		writeError(c, err, httpresp.ErrProjectNotFound)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewListResponse(items))
}

func (h *Handler) getProject(c *gin.Context) {
	detail, err := h.projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, httpresp.ErrProjectNotFound)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, httpresp.NewErrorResponse(httpresp.ErrFileTooLarge))
			return
		}
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileRequired))
		return
	}
	body, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileRequired))
		return
	}
	defer body.Close()

	file, err := h.projects.UploadFile(c.Request.Context(), domain.FileUploadInput{
		ProjectID:    c.Param("id"),
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		SizeBytes:    header.Size,
	}, body)
	if err != nil {
		writeError(c, err, httpresp.ErrProjectNotFound)
		return
	}
	c.JSON(http.StatusCreated, file)
}

func (h *Handler) getFile(c *gin.Context) {
	file, err := h.comments.GetFileWithComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, httpresp.ErrFileNotFound)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *Handler) downloadFile(c *gin.Context) {
	u, err := h.projects.DownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, httpresp.ErrFileNotFound)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, u)
}

func (h *Handler) media(c *gin.Context) {
	u, err := h.projects.MediaURL(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err, httpresp.ErrFileNotFound)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, u)
}

type createCommentRequest struct {
	UserName        string          `json:"user_name"`
	Content         string          `json:"content"`
	Timestamp       *float64        `json:"timestamp"`
	XPosition       *float64        `json:"x_position"`
	YPosition       *float64        `json:"y_position"`
	DrawingData     json.RawMessage `json:"drawing_data"`
	ClientCommentID string          `json:"client_comment_id"`
}

func (h *Handler) createComment(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	drawing, err := parseDrawing(req.DrawingData)
	if err != nil {
		// An unknown file is reported before a malformed drawing.
		if _, lookupErr := h.comments.GetFile(c.Request.Context(), c.Param("id")); lookupErr != nil {
			writeError(c, lookupErr, httpresp.ErrFileNotFound)
			return
		}
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidDrawing))
		return
	}
	created, err := h.comments.CreateComment(c.Request.Context(), domain.CommentCreateInput{
		FileID:          c.Param("id"),
		ClientCommentID: req.ClientCommentID,
		UserName:        req.UserName,
		Content:         req.Content,
		Anchor: domain.AnchorFields{
			Timestamp: req.Timestamp,
			X:         req.XPosition,
			Y:         req.YPosition,
		},
		Drawing: drawing,
	})
	if err != nil {
		writeError(c, err, httpresp.ErrFileNotFound)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listComments(c *gin.Context) {
	items, err := h.comments.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, httpresp.ErrFileNotFound)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewListResponse(items))
}

// parseDrawing accepts the drawing either as a JSON object or as a string
// holding the serialized document.
func parseDrawing(raw json.RawMessage) (*overlay.Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil, err
		}
		trimmed = []byte(strings.TrimSpace(encoded))
	}
	return overlay.Parse(trimmed)
}

func writeError(c *gin.Context, err error, notFoundMessage string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(notFoundMessage))
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
	case errors.Is(err, service.ErrDuplicate):
		c.JSON(http.StatusConflict, httpresp.NewErrorResponse(httpresp.ErrDuplicateComment))
	default:
		commonlog.Errorf("event=review_api action=request status=failed method=%s route=%s error=%v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
	}
}
