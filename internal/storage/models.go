package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Upload is the local record of a transcript submitted to the remote
// knowledge base. Only the remote content id and the last observed
// processing status are kept; the transcript itself is not stored.
type Upload struct {
	ContentID string    `json:"content_id"`
	MeetingID string    `json:"meeting_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
