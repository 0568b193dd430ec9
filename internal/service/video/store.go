package video

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"videosummarizer/internal/models"
)

// FileStore is the remote file service a video is handed to.
type FileStore interface {
	Upload(ctx context.Context, path, mimeType, displayName string) (*models.RemoteFile, error)
	Get(ctx context.Context, name string) (*models.RemoteFile, error)
	Delete(ctx context.Context, name string) error
}

// ClientSource yields the shared Gemini client.
type ClientSource interface {
	Client(ctx context.Context) (*genai.Client, error)
}

// GeminiStore implements FileStore over the Gemini Files API.
type GeminiStore struct {
	source ClientSource
}

func NewGeminiStore(source ClientSource) *GeminiStore {
	return &GeminiStore{source: source}
}

func (s *GeminiStore) Upload(ctx context.Context, path, mimeType, displayName string) (*models.RemoteFile, error) {
	client, err := s.source.Client(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, err
	}
	return toRemoteFile(f), nil
}

func (s *GeminiStore) Get(ctx context.Context, name string) (*models.RemoteFile, error) {
	client, err := s.source.Client(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return toRemoteFile(f), nil
}

func (s *GeminiStore) Delete(ctx context.Context, name string) error {
	client, err := s.source.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete remote file %s: %w", name, err)
	}
	return nil
}

func toRemoteFile(f *genai.File) *models.RemoteFile {
	if f == nil {
		return nil
	}
	rf := &models.RemoteFile{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
		State:    models.FileState(f.State),
	}
	if f.Error != nil {
		rf.Reason = f.Error.Message
	}
	return rf
}
