// Package ws implements the WebSocket chat endpoint for the storefront
// widget. One connection carries one shopper's session: every incoming
// frame is a chat turn, and the reply is written back on the same
// connection instead of a fresh HTTP round trip.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/config"
	"github.com/dukahq/duka/internal/ratelimit"
)

const turnTimeout = 2 * time.Minute

// Frame types exchanged with the widget.
const (
	FrameChat  = "chat"
	FrameReply = "reply"
	FrameError = "error"
)

// ChatFrame is an incoming turn from the widget.
type ChatFrame struct {
	Type           string            `json:"type"`
	Message        string            `json:"message"`
	ConversationID string            `json:"conversation_id,omitempty"`
	PageContext    *chat.PageContext `json:"page_context,omitempty"`
}

// ReplyFrame is the assistant's answer to one turn.
type ReplyFrame struct {
	Type string `json:"type"`
	chat.Response
	SessionID string `json:"session_id"`
}

// ErrorFrame reports a turn that could not be processed. The connection
// stays open; the widget may retry.
type ErrorFrame struct {
	Type       string `json:"type"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// Server is the WebSocket chat server.
type Server struct {
	svc    *chat.Service
	cfg    *config.WebSocketGatewayConfig
	apiKey string
	logger *slog.Logger
}

// NewServer creates a WebSocket chat server backed by the given chat service.
func NewServer(svc *chat.Service, cfg *config.WebSocketGatewayConfig, apiKey string, logger *slog.Logger) *Server {
	return &Server{
		svc:    svc,
		cfg:    cfg,
		apiKey: apiKey,
		logger: logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Authenticate the storefront via token.
	if s.apiKey != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"duka-chat-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	// The session binds the whole connection; the widget passes one in
	// via query, or the server mints one and echoes it on every reply.
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	userID := r.Header.Get("X-User-ID")

	s.handleConnection(r.Context(), conn, userID, sessionID)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, userID, sessionID string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	s.logger.Info("websocket session opened", slog.String("session_id", sessionID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket session closed", slog.String("session_id", sessionID))
			} else if ctx.Err() == nil {
				s.logger.Warn("websocket connection error",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var frame ChatFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeFrame(ctx, conn, ErrorFrame{Type: FrameError, Error: "invalid frame"})
			continue
		}
		if frame.Type != "" && frame.Type != FrameChat {
			s.writeFrame(ctx, conn, ErrorFrame{Type: FrameError, Error: "unknown frame type"})
			continue
		}

		s.handleTurn(ctx, conn, userID, sessionID, &frame)
	}
}

func (s *Server) handleTurn(ctx context.Context, conn *websocket.Conn, userID, sessionID string, frame *ChatFrame) {
	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	req := &chat.Request{
		Message:        frame.Message,
		ConversationID: frame.ConversationID,
		UserID:         userID,
		SessionID:      sessionID,
		Identity:       identityKey(userID, sessionID),
	}
	if frame.PageContext != nil {
		req.PageContext = *frame.PageContext
	}

	resp, err := s.svc.Chat(turnCtx, req)
	if err != nil {
		s.writeFrame(ctx, conn, turnError(err))
		return
	}

	s.writeFrame(ctx, conn, ReplyFrame{
		Type:      FrameReply,
		Response:  *resp,
		SessionID: sessionID,
	})
}

// turnError maps chat service errors onto error frames. Provider
// failures never reach here; the service folds them into an apology
// reply.
func turnError(err error) ErrorFrame {
	var limitErr *ratelimit.LimitError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return ErrorFrame{Type: FrameError, Error: "message is required"}
	case errors.As(err, &limitErr):
		return ErrorFrame{
			Type:       FrameError,
			Error:      "rate limit exceeded",
			RetryAfter: int(limitErr.RetryAfter.Seconds()) + 1,
		}
	case errors.Is(err, chat.ErrConversationOwner):
		return ErrorFrame{Type: FrameError, Error: "conversation belongs to another shopper"}
	default:
		return ErrorFrame{Type: FrameError, Error: "processing failed"}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil && ctx.Err() == nil {
		s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
	}
}

func identityKey(userID, sessionID string) string {
	if strings.TrimSpace(userID) != "" {
		return "user:" + userID
	}
	return "session:" + sessionID
}
