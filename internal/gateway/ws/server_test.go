package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/config"
	"github.com/dukahq/duka/internal/llm"
	"github.com/dukahq/duka/internal/ratelimit"
	"github.com/dukahq/duka/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticProvider struct{}

func (staticProvider) SendMessage(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: "hello shopper", StopReason: llm.StopEndTurn}, nil
}

func (staticProvider) Name() string { return "static" }

func testServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	logger := discardLogger()
	reg := tools.NewRegistry()
	orch := chat.NewOrchestrator(staticProvider{}, reg, tools.NewExecutor(reg, logger), logger)
	limiter := ratelimit.NewLimiter(ratelimit.Config{MaxRequests: 20, Window: time.Minute})
	svc := chat.NewService(chat.NewInMemoryStore(), limiter, chat.NewContextBuilder(""), orch, logger)

	srv := NewServer(svc, &config.WebSocketGatewayConfig{Enabled: true}, apiKey, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleUpgrade_RejectsBadToken(t *testing.T) {
	ts := testServer(t, "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if conn, _, err := websocket.Dial(ctx, ts.URL+"?token=wrong", nil); err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("expected the upgrade to be rejected")
	}
	if conn, _, err := websocket.Dial(ctx, ts.URL, nil); err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("expected a tokenless upgrade to be rejected")
	}
}

func TestHandleUpgrade_TokenAccepted(t *testing.T) {
	ts := testServer(t, "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, ts.URL+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	frame, _ := json.Marshal(ChatFrame{Type: FrameChat, Message: "hi"})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var reply ReplyFrame
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Type != FrameReply || reply.Reply != "hello shopper" {
		t.Errorf("unexpected reply frame: %+v", reply)
	}
	if reply.SessionID == "" {
		t.Error("reply must echo the session ID")
	}
}
