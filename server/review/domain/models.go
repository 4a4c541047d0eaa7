package domain

import (
	"time"

	"review_server/server/review/overlay"
)

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProjectDetail struct {
	Project
	Files []File `json:"files"`
}

// File is a reviewable media asset. Files are immutable once uploaded.
type File struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	OriginalName string    `json:"original_name"`
	ObjectKey    string    `json:"object_key"`
	ContentType  string    `json:"content_type"`
	Kind         MediaKind `json:"file_type"`
	SizeBytes    int64     `json:"file_size"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Comment is append-only feedback on a file.
type Comment struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Anchor    Anchor    `json:"anchor"`
	Overlay   *Overlay  `json:"overlay,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Overlay is the drawing attached to exactly one comment.
type Overlay struct {
	ID        string           `json:"id"`
	CommentID string           `json:"comment_id"`
	Document  overlay.Document `json:"drawing_data"`
	CreatedAt time.Time        `json:"created_at"`
}

type FileWithComments struct {
	File
	Comments []Comment `json:"comments"`
}

type CommentCreateInput struct {
	FileID          string
	ClientCommentID string
	UserName        string
	Content         string
	Anchor          AnchorFields
	Drawing         *overlay.Document
}

type FileUploadInput struct {
	ProjectID    string
	OriginalName string
	ContentType  string
	SizeBytes    int64
}
