// Package httpapi implements the HTTP API gateway for the shopping
// assistant.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 64 KB)
//   - Per-shopper rate limiting enforced by the chat service
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/observability"
	"github.com/dukahq/duka/internal/ratelimit"
)

const defaultMaxRequestSize = 1 << 16 // 64 KB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// RateLimitBody is the 429 response, carrying the seconds until the
// shopper's window resets.
type RateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKey         string // Storefront API key. Empty disables authentication.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 64 KB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config Config
	svc    *chat.Service
	logger *slog.Logger
	server *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway serving the given chat service.
func NewGateway(cfg Config, svc *chat.Service, logger *slog.Logger) *Gateway {
	maxBody := cfg.MaxRequestSize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestSize
	}
	return &Gateway{
		config: cfg,
		svc:    svc,
		logger: logger,
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(maxBody)),
	}
}

// WithOpenAPIDocs enables interactive OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Duka Shopping Assistant API",
			Version: "v1",
		},
	)
	return g
}

// WithHandler mounts an extra http.Handler (e.g., the WebSocket chat
// endpoint) on the gateway's mux.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// The /v1 group carries the metrics middleware and, when an API key
	// is configured, authentication.
	var middlewares []okapi.Middleware
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}
	if g.config.APIKey != "" {
		middlewares = append(middlewares, g.authenticate)
	}
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Send a shopper message to the assistant"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, RateLimitBody{}),
	)
	g.group.Get("/conversations/{id}", g.handleConversation,
		okapi.DocSummary("Get a conversation with its recent messages"),
		okapi.DocTags("Chat"),
		okapi.DocPathParam("id", "string", "Conversation ID (UUID)"),
		okapi.DocResponse(ConversationResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Extra handlers (e.g., the WebSocket chat endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

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

// --- Handlers ---

// ChatRequest is the JSON body for POST /v1/chat.
type ChatRequest struct {
	Message        string            `json:"message"`
	ConversationID string            `json:"conversation_id,omitempty"` // Empty = new conversation.
	SessionID      string            `json:"session_id,omitempty"`      // Anonymous browsing session.
	PageContext    *chat.PageContext `json:"page_context,omitempty"`
}

// ChatResponse is the JSON response for POST /v1/chat. It echoes the
// session ID so a widget that let the gateway mint one can persist it.
type ChatResponse struct {
	chat.Response
	SessionID string `json:"session_id"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.AbortBadRequest("message is required")
	}

	correlationID := newCorrelationID()
	userID := c.GetString("userID")
	sessionID := resolveSessionID(c, req.SessionID)

	svcReq := &chat.Request{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		UserID:         userID,
		SessionID:      sessionID,
		Identity:       identityKey(c, userID, sessionID),
	}
	if req.PageContext != nil {
		svcReq.PageContext = *req.PageContext
	}

	g.logger.Info("http chat",
		slog.String("correlation_id", correlationID),
		slog.String("session_id", sessionID),
		slog.String("conversation_id", req.ConversationID),
	)

	resp, err := g.svc.Chat(c.Context(), svcReq)
	if err != nil {
		return g.chatError(c, correlationID, err)
	}

	return c.OK(ChatResponse{Response: *resp, SessionID: sessionID})
}

// chatError maps chat service errors to HTTP responses. Provider
// failures never reach here: the service folds them into an apology
// reply with a 200.
func (g *Gateway) chatError(c *okapi.Context, correlationID string, err error) error {
	var limitErr *ratelimit.LimitError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return c.AbortBadRequest("message is required")
	case errors.As(err, &limitErr):
		retryAfter := int(limitErr.RetryAfter.Seconds()) + 1
		return c.JSON(http.StatusTooManyRequests, RateLimitBody{
			Error:      "rate limit exceeded",
			RetryAfter: retryAfter,
		})
	case errors.Is(err, chat.ErrConversationOwner):
		return c.JSON(http.StatusForbidden, okapi.M{"error": "conversation belongs to another shopper"})
	case errors.Is(err, chat.ErrConversationNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
	default:
		g.logger.Error("chat turn failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("processing failed")
	}
}

// ConversationResponse is the JSON response for GET /v1/conversations/{id}.
type ConversationResponse struct {
	ID           string                `json:"id"`
	Active       bool                  `json:"active"`
	MessageCount int                   `json:"message_count"`
	Messages     []ConversationMessage `json:"messages"`
}

// ConversationMessage is one transcript entry, oldest first.
type ConversationMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name,omitempty"`
}

func (g *Gateway) handleConversation(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid conversation ID")
	}

	conv, msgs, err := g.svc.History(c.Context(), id, 0)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		g.logger.Error("conversation lookup failed",
			slog.String("conversation_id", id.String()),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("lookup failed")
	}

	resp := ConversationResponse{
		ID:           conv.ID.String(),
		Active:       conv.Active,
		MessageCount: conv.MessageCount,
		Messages:     make([]ConversationMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, ConversationMessage{
			Role:     string(m.Role),
			Content:  m.Content,
			ToolName: m.ToolName,
		})
	}
	return c.OK(resp)
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the storefront API key. The shopper identity,
// when the storefront has one, arrives in the X-User-ID header; the key
// itself authenticates the frontend, not the shopper.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.config.APIKey)) != 1 {
			return c.AbortUnauthorized("invalid API key")
		}
		if userID := c.Header("X-User-ID"); userID != "" {
			c.Set("userID", userID)
		}
		return next(c)
	}
}

// --- Helpers ---

// resolveSessionID picks the shopper's session: request body, then the
// X-Session-ID header, then a freshly minted one.
func resolveSessionID(c *okapi.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if sid := c.Header("X-Session-ID"); sid != "" {
		return sid
	}
	return uuid.New().String()
}

// identityKey is the rate-limit key for the request: the authenticated
// user when present, the session otherwise, the remote address as a
// last resort.
func identityKey(c *okapi.Context, userID, sessionID string) string {
	if userID != "" {
		return "user:" + userID
	}
	if sessionID != "" {
		return "session:" + sessionID
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		host = c.Request().RemoteAddr
	}
	return "addr:" + host
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
