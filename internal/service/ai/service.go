package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"videosummarizer/internal/config"
	"videosummarizer/internal/models"
)

// CapabilityWebSearch is the only capability the agent carries.
const CapabilityWebSearch = "web_search"

const defaultMaxStep = 12

// AgentConfig is fixed when the agent is created.
type AgentConfig struct {
	Name         string
	Model        string
	Capabilities []string
	Markdown     bool
	Instructions string
	Timeout      time.Duration
}

// RunResult is the agent's answer.
type RunResult struct {
	Content string
}

// Generator is the part of a react agent that Run drives.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...agent.AgentOption) (*schema.Message, error)
}

// BuildFunc constructs the runtime behind an agent.
type BuildFunc func(ctx context.Context, cfg AgentConfig) (Generator, error)

// ClientSource yields the shared Gemini client.
type ClientSource interface {
	Client(ctx context.Context) (*genai.Client, error)
}

// Agent is the configured video summarizer. Its runtime is built on first Run.
type Agent struct {
	cfg   AgentConfig
	build BuildFunc

	once   sync.Once
	runner Generator
	err    error
}

// Config returns a copy of the agent configuration.
func (a *Agent) Config() AgentConfig {
	cfg := a.cfg
	cfg.Capabilities = append([]string(nil), a.cfg.Capabilities...)
	return cfg
}

// Run sends the prompt and the ready videos to the model in one call.
func (a *Agent) Run(ctx context.Context, prompt string, videos ...*models.RemoteFile) (*RunResult, error) {
	a.once.Do(func() {
		a.runner, a.err = a.build(context.WithoutCancel(ctx), a.Config())
	})
	if a.err != nil {
		return nil, a.err
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt(a.cfg)),
		userMessage(prompt, videos),
	}
	out, err := a.runner.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("generate analysis: %w", err)
	}
	if out == nil {
		return nil, errors.New("generate analysis: empty response")
	}
	return &RunResult{Content: strings.TrimSpace(out.Content)}, nil
}

// The gemini adapter only turns file URIs into parts on the MultiContent
// path, and that path replaces Content, so the prompt goes in as a part too.
func userMessage(prompt string, videos []*models.RemoteFile) *schema.Message {
	parts := []schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: prompt}}
	for _, v := range videos {
		if v == nil || v.URI == "" {
			continue
		}
		parts = append(parts, schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeVideoURL,
			VideoURL: &schema.ChatMessageVideoURL{URI: v.URI, MIMEType: v.MIMEType},
		})
	}
	if len(parts) == 1 {
		return schema.UserMessage(prompt)
	}
	return &schema.Message{Role: schema.User, MultiContent: parts}
}

// Factory hands out the one shared Agent.
type Factory struct {
	cfg   AgentConfig
	build BuildFunc

	once  sync.Once
	agent *Agent
}

// NewFactory prepares the agent from config. Nothing remote is touched here.
func NewFactory(cfg *config.Config, clients ClientSource, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	googleKey, engineID := cfg.GoogleSearchCredentials()
	search := SearchConfig{
		GoogleAPIKey:   googleKey,
		GoogleEngineID: engineID,
		DuckMaxResults: cfg.Search.DuckMaxResults,
		DuckTimeout:    time.Duration(cfg.Search.DuckTimeoutSec) * time.Second,
	}
	logger = logger.With(zap.String("component", "agent"))
	return NewFactoryWithBuilder(AgentConfig{
		Name:         cfg.Agent.Name,
		Model:        cfg.Provider.Model,
		Capabilities: []string{CapabilityWebSearch},
		Markdown:     cfg.MarkdownEnabled(),
		Instructions: cfg.Agent.Instructions,
		Timeout:      cfg.AgentTimeout(),
	}, ReactBuilder(clients, search, logger))
}

func NewFactoryWithBuilder(cfg AgentConfig, build BuildFunc) *Factory {
	return &Factory{cfg: cfg, build: build}
}

// Agent returns the shared agent, creating it on the first call.
func (f *Factory) Agent() *Agent {
	f.once.Do(func() {
		cfg := f.cfg
		cfg.Capabilities = append([]string(nil), f.cfg.Capabilities...)
		f.agent = &Agent{cfg: cfg, build: f.build}
	})
	return f.agent
}

// ReactBuilder builds a react agent over the Gemini chat model with the web search tool.
func ReactBuilder(clients ClientSource, search SearchConfig, logger *zap.Logger) BuildFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, cfg AgentConfig) (Generator, error) {
		client, err := clients.Client(ctx)
		if err != nil {
			return nil, err
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini model %s: %w", cfg.Model, err)
		}

		var tools []tool.BaseTool
		for _, capability := range cfg.Capabilities {
			switch capability {
			case CapabilityWebSearch:
				ws, err := NewWebSearchTool(ctx, search, logger)
				if err != nil {
					return nil, err
				}
				tools = append(tools, ws)
			default:
				return nil, fmt.Errorf("unknown capability %q", capability)
			}
		}

		reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
			MaxStep: defaultMaxStep,
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		logger.Info("agent runtime ready", zap.String("agent", cfg.Name), zap.String("model", cfg.Model), zap.Int("tools", len(tools)))
		return reactAgent, nil
	}
}
