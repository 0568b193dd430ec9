// Package gemini builds the shared Gemini API client on first use.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"videosummarizer/internal/config"
)

// Provider lazily constructs one *genai.Client for the whole process.
// A construction error is kept and returned to every caller.
type Provider struct {
	apiKey  string
	baseURL string

	once   sync.Once
	client *genai.Client
	err    error
}

func NewProvider(cfg *config.Config) *Provider {
	return &Provider{
		apiKey:  cfg.APIKey(),
		baseURL: cfg.Provider.BaseURL,
	}
}

// HasKey reports whether a key was configured. The key itself is never validated.
func (p *Provider) HasKey() bool {
	return p.apiKey != ""
}

func (p *Provider) Client(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if p.baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
		}
		client, err := genai.NewClient(context.WithoutCancel(ctx), cc)
		if err != nil {
			p.err = fmt.Errorf("create gemini client: %w", err)
			return
		}
		p.client = client
	})
	return p.client, p.err
}
