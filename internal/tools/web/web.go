// Package web implements the HTTP-backed tools: rss_fetch and web_fetch.
//
// Security:
//   - DNS resolution checked: private/internal IPs blocked (SSRF protection)
//   - Response body capped to prevent OOM
//   - Only GET requests issued
//   - Timeout enforced via context
package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

// Config configures the web tools.
type Config struct {
	MaxResponseBytes int64 // Maximum response body size. 0 = 5 MB default.
	TimeoutSeconds   int   // HTTP timeout. 0 = 10s default.
}

const (
	defaultMaxResponseBytes = 5 << 20 // 5 MB
	defaultTimeoutSeconds   = 10
)

func (c Config) maxBytes() int64 {
	if c.MaxResponseBytes > 0 {
		return c.MaxResponseBytes
	}
	return defaultMaxResponseBytes
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeoutSeconds * time.Second
}

// FetchTool fetches a single URL. Gated on WEB_FETCH (medium risk).
type FetchTool struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewFetchTool creates a web_fetch tool.
func NewFetchTool(cfg Config, logger *slog.Logger) *FetchTool {
	return &FetchTool{
		config: cfg,
		client: &http.Client{Timeout: cfg.timeout()},
		logger: logger,
	}
}

func (t *FetchTool) Name() string        { return "web_fetch" }
func (t *FetchTool) Description() string { return "Fetch content from a URL with SSRF protection" }
func (t *FetchTool) IsLLM() bool         { return false }

func (t *FetchTool) PermissionKey() permission.Key { return permission.KeyWebFetch }
func (t *FetchTool) RiskTier() permission.RiskTier { return permission.TierMedium }

func (t *FetchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	return fetch(ctx, t.client, t.config, t.logger, params)
}

// RSSTool fetches a bot's RSS feed URL. Gated on WEB_RSS (low risk).
// Feed parsing happens in the external collector; this tool only retrieves
// the raw document.
type RSSTool struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewRSSTool creates an rss_fetch tool.
func NewRSSTool(cfg Config, logger *slog.Logger) *RSSTool {
	return &RSSTool{
		config: cfg,
		client: &http.Client{Timeout: cfg.timeout()},
		logger: logger,
	}
}

func (t *RSSTool) Name() string                  { return "rss_fetch" }
func (t *RSSTool) Description() string           { return "Fetch the raw content of an RSS feed URL" }
func (t *RSSTool) PermissionKey() permission.Key { return permission.KeyWebRSS }
func (t *RSSTool) RiskTier() permission.RiskTier { return permission.TierLow }
func (t *RSSTool) IsLLM() bool                   { return false }

func (t *RSSTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	return fetch(ctx, t.client, t.config, t.logger, params)
}

func fetch(ctx context.Context, client *http.Client, cfg Config, logger *slog.Logger, params map[string]any) (*tools.Result, error) {
	rawURL, ok := params["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("parameter %q is required", "url")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme)
	}
	if err := CheckSSRF(parsed.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "feedhive/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.maxBytes()))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	logger.DebugContext(ctx, "fetched url",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
	)

	return &tools.Result{
		Output:  tools.TruncateOutput(string(body), tools.MaxOutputBytes),
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
		},
	}, nil
}
