package models

import "time"

// SessionState tracks where a user is in the upload/submit flow.
type SessionState string

const (
	StateAwaitingUpload     SessionState = "awaiting_upload"
	StateAwaitingSubmission SessionState = "awaiting_submission"
)

// Session holds the UI state for one browser session.
type Session struct {
	ID        string       `json:"id"`
	State     SessionState `json:"state"`
	FileName  string       `json:"file_name,omitempty"`
	FileSize  int64        `json:"file_size,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
