package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run records the outcome of one summarize submission. The query and the
// generated text are not kept.
type Run struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	FileName   string     `json:"file_name"`
	FileSize   int64      `json:"file_size"`
	RemoteName string     `json:"remote_name,omitempty"`
	Status     RunStatus  `json:"status"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Polls      int        `json:"polls"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
