package assistant

import (
	"context"
	"errors"

	"videosummarizer/internal/service/video"
)

// Kind classifies why an analysis did not produce a result.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindTempFile     Kind = "temp_file"
	KindUpload       Kind = "upload"
	KindRemoteFailed Kind = "remote_failed"
	KindTimeout      Kind = "timeout"
	KindCanceled     Kind = "canceled"
	KindAgent        Kind = "agent"
	KindBusy         Kind = "busy"
	KindNotes        Kind = "notes"
)

var (
	ErrEmptyQuery       = errors.New("Please provide a query to summarize the video")
	ErrNoVideo          = errors.New("Upload a video file to begin analysis")
	ErrUnsupportedVideo = errors.New("unsupported video type, use mp4, mov, avi, mkv or webm")
	ErrVideoTooLarge    = errors.New("video exceeds the upload size limit")
	ErrUnsupportedNotes = errors.New("unsupported notes type, use txt, md, srt or vtt")
	ErrSessionNotFound  = errors.New("session not found")
)

// AnalysisError is the typed failure of a summarize request.
type AnalysisError struct {
	Kind Kind
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *AnalysisError) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an AnalysisError.
func KindOf(err error) Kind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// classify maps a failed step to a kind. Context errors win over the step's own kind.
func classify(step Kind, err error) *AnalysisError {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.Canceled):
		return newError(KindCanceled, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, video.ErrProcessingTimeout):
		return newError(KindTimeout, err)
	case errors.Is(err, video.ErrRemoteFileFailed):
		return newError(KindRemoteFailed, err)
	}
	var upErr *video.UploadError
	if errors.As(err, &upErr) {
		return newError(KindUpload, err)
	}
	return newError(step, err)
}

// UserMessage is the text shown in place of a result.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindInvalidInput:
		return err.Error()
	case KindBusy:
		return "The summarizer is busy right now. Please try again in a moment."
	case KindCanceled:
		return "Analysis was cancelled."
	case KindTimeout:
		return "An error occurred during analysis: the video took too long to process. Please try again later."
	case KindRemoteFailed:
		return "An error occurred during analysis: the video could not be processed (" + err.Error() + ")"
	}
	return "An error occurred during analysis: " + err.Error()
}
