// Package httpapi implements the HTTP API gateway for Feedhive.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/feedhive/feedhive/internal/agentrun"
	"github.com/feedhive/feedhive/internal/confirm"
	"github.com/feedhive/feedhive/internal/observability"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/ratelimit"
	"github.com/feedhive/feedhive/internal/storage"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway. All command handling goes through the
// confirmation engine, so the same permission gates apply here as in chat.
type Gateway struct {
	config  Config
	engine  *confirm.Engine
	perms   *permission.Engine
	grants  *permission.OneTimeGrants
	runner  *agentrun.Runner
	runs    agentrun.RunStore
	store   storage.Store
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(
	cfg Config,
	engine *confirm.Engine,
	perms *permission.Engine,
	grants *permission.OneTimeGrants,
	runner *agentrun.Runner,
	store storage.Store,
	rl *ratelimit.Limiter,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		config:  cfg,
		engine:  engine,
		perms:   perms,
		grants:  grants,
		runner:  runner,
		runs:    store.AgentRuns(),
		store:   store,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Feedhive",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", middlewares...)

	// Command endpoints.
	g.group.Post("/commands", g.handleCommand,
		okapi.DocSummary("Submit a chat command"),
		okapi.DocTags("Commands"),
		okapi.DocRequestBody(CommandRequest{}),
		okapi.DocResponse(CommandResponse{}),
		okapi.DocResponse(http.StatusAccepted, CommandResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/confirm", g.handleConfirm,
		okapi.DocSummary("Approve or deny a pending confirmation"),
		okapi.DocTags("Commands"),
		okapi.DocRequestBody(ConfirmRequest{}),
		okapi.DocResponse(CommandResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Permission endpoints.
	g.group.Get("/permissions", g.handlePermissionList,
		okapi.DocSummary("List effective permissions"),
		okapi.DocTags("Permissions"),
		okapi.DocResponse([]PermissionResponse{}),
	)
	g.group.Put("/permissions", g.handlePermissionSet,
		okapi.DocSummary("Set a permission override"),
		okapi.DocTags("Permissions"),
		okapi.DocRequestBody(OverrideRequest{}),
		okapi.DocResponse(okapi.M{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Delete("/permissions", g.handlePermissionClear,
		okapi.DocSummary("Clear a permission override"),
		okapi.DocTags("Permissions"),
		okapi.DocRequestBody(OverrideRequest{}),
		okapi.DocResponse(okapi.M{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Post("/permissions/grant", g.handlePermissionGrant,
		okapi.DocSummary("Issue a one-time approval grant for a permission key"),
		okapi.DocTags("Permissions"),
		okapi.DocRequestBody(GrantRequest{}),
		okapi.DocResponse(okapi.M{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)

	// Agent run endpoints.
	g.group.Post("/agent/runs", g.handleAgentRunSubmit,
		okapi.DocSummary("Execute a bounded agent run"),
		okapi.DocTags("Agent"),
		okapi.DocRequestBody(AgentRunRequest{}),
		okapi.DocResponse(AgentRunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/agent/runs", g.handleAgentRunList,
		okapi.DocSummary("List recent agent runs"),
		okapi.DocTags("Agent"),
		okapi.DocResponse([]AgentRunResponse{}),
	)
	g.group.Get("/agent/runs/{id}", g.handleAgentRunGet,
		okapi.DocSummary("Get an agent run with its step records"),
		okapi.DocTags("Agent"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse(AgentRunDetailResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Bot read endpoints.
	g.group.Get("/bots/{key}/sources", g.handleSourceList,
		okapi.DocSummary("List a bot's RSS sources"),
		okapi.DocTags("Bots"),
		okapi.DocPathParam("key", "string", "Bot key"),
		okapi.DocResponse([]SourceResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/bots/{key}/reports", g.handleReportList,
		okapi.DocSummary("List a bot's published reports"),
		okapi.DocTags("Bots"),
		okapi.DocPathParam("key", "string", "Bot key"),
		okapi.DocResponse([]ReportResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/bots/{key}/jobs", g.handleJobRunList,
		okapi.DocSummary("List a bot's scheduled job runs"),
		okapi.DocTags("Bots"),
		okapi.DocPathParam("key", "string", "Bot key"),
		okapi.DocResponse([]JobRunResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/bots/{key}/memory", g.handleMemoryList,
		okapi.DocSummary("List a bot's durable memory entries"),
		okapi.DocTags("Bots"),
		okapi.DocPathParam("key", "string", "Bot key"),
		okapi.DocResponse([]MemoryResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID in the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// rateLimit applies the per-user token bucket. Returns a non-nil response
// error when the bucket is empty.
func (g *Gateway) rateLimit(c *okapi.Context, userID string) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Allow(userID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	return nil
}

// --- Health ---

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		if err := g.store.Ping(c.Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "unavailable"})
		}
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Helpers ---

// limitParam parses the "limit" query parameter, bounded to [1, 200].
func limitParam(c *okapi.Context, fallback int) int {
	raw := c.Request().URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	if n > 200 {
		return 200
	}
	return n
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
