package models

// FileState is the processing status reported by the provider for an uploaded file.
type FileState string

const (
	FileStateUnspecified FileState = "STATE_UNSPECIFIED"
	FileStateProcessing  FileState = "PROCESSING"
	FileStateActive      FileState = "ACTIVE"
	FileStateFailed      FileState = "FAILED"
)

// Pending reports whether the provider is still preparing the file.
func (s FileState) Pending() bool {
	return s == FileStateProcessing || s == FileStateUnspecified || s == ""
}

// RemoteFile is a handle to a file held by the provider.
type RemoteFile struct {
	Name     string    `json:"name"`
	URI      string    `json:"uri"`
	MIMEType string    `json:"mime_type"`
	State    FileState `json:"state"`
	// Reason carries the provider's message for a failed file.
	Reason string `json:"reason,omitempty"`
}
