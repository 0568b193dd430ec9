package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// SearchConfig selects the search providers behind web_search.
type SearchConfig struct {
	GoogleAPIKey   string
	GoogleEngineID string
	DuckMaxResults int
	DuckTimeout    time.Duration
}

// NewWebSearchTool builds the web_search tool: Google Custom Search when
// credentials exist, DuckDuckGo as fallback, direct fetch for URLs.
func NewWebSearchTool(ctx context.Context, cfg SearchConfig, logger *zap.Logger) (tool.InvokableTool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	googleTool, err := newGoogleSearch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	duckTool, err := newDuckSearch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if googleTool == nil {
		logger.Info("google search disabled: missing api key or engine id")
	}
	ws := &webSearchTool{
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		limiter:    newToolRateLimiter(SearchRateLimit, SearchRateBurst),
		logger:     logger,
	}

	info := &schema.ToolInfo{
		Name: CapabilityWebSearch,
		Desc: "Search the web for information that complements the video; " +
			"automatically falls back to another provider if needed; " +
			"fetches the page directly when given a URL.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run), nil
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiter    *toolRateLimiter
	logger     *zap.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	key := "global"
	if sessionID, ok := ToolSessionFromContext(ctx); ok {
		key = "session:" + sessionID
	}
	if !w.limiter.Allow(key) {
		return "", errors.New("web search rate limit exceeded, answer from the video alone")
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		w.logger.Warn("web url loader failed", zap.String("url", query), zap.Error(err))
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.logger.Warn("google search failed", zap.Error(err))
	}
	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.logger.Warn("duckduckgo search failed", zap.Error(err))
	}
	return "", errors.New("no search provider succeeded")
}

func newDuckSearch(ctx context.Context, cfg SearchConfig) (tool.InvokableTool, error) {
	maxResults := cfg.DuckMaxResults
	if maxResults <= 0 {
		maxResults = 3
	}
	timeout := cfg.DuckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: maxResults,
		Region:     duckduckgo.RegionWT,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init duckduckgo search: %w", err)
	}
	return duckTool, nil
}

// newGoogleSearch returns nil without credentials.
func newGoogleSearch(ctx context.Context, cfg SearchConfig) (tool.InvokableTool, error) {
	if cfg.GoogleAPIKey == "" || cfg.GoogleEngineID == "" {
		return nil, nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		return nil, fmt.Errorf("init google search: %w", err)
	}
	return googleTool, nil
}
