package domain

const (
	EventFileUploaded = "file.uploaded"
	EventCommentAdded = "comment.added"
	EventFileJoined   = "file.joined"
	EventFileLeft     = "file.left"
	EventError        = "error"
)

// Event is the envelope written to websocket clients and mirrored to the
// message broker.
type Event struct {
	Type    string `json:"type"`
	FileID  string `json:"file_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func FileUploadedEvent(file File) Event {
	return Event{Type: EventFileUploaded, FileID: file.ID, Payload: file}
}

func CommentAddedEvent(comment Comment) Event {
	return Event{Type: EventCommentAdded, FileID: comment.FileID, Payload: comment}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}
