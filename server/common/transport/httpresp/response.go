package httpresp

const (
	ErrProjectNotFound  = "project not found"
	ErrFileNotFound     = "file not found"
	ErrFileRequired     = "file is required"
	ErrFileTooLarge     = "file exceeds upload limit"
	ErrDuplicateComment = "duplicate client_comment_id"
	ErrInvalidDrawing   = "invalid drawing_data"
	ErrInternal         = "internal error"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items}
}
