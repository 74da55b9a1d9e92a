package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubProvider struct {
	name string
	resp *Response
	err  error
}

func (s *stubProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	return s.resp, s.err
}

func (s *stubProvider) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackProvider_PrimarySucceeds(t *testing.T) {
	primary := &stubProvider{name: "openai", resp: &Response{Content: "hi", StopReason: StopEndTurn}}
	backup := &stubProvider{name: "ollama", err: errors.New("should not be called")}

	fp := NewFallbackProvider([]Provider{primary, backup}, discardLogger())
	resp, err := fp.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("expected primary response, got %q", resp.Content)
	}
	if fp.Name() != "openai+fallback" {
		t.Errorf("unexpected name %q", fp.Name())
	}
}

func TestFallbackProvider_FallsThrough(t *testing.T) {
	primary := &stubProvider{name: "openai", err: errors.New("overloaded")}
	backup := &stubProvider{name: "ollama", resp: &Response{Content: "backup", StopReason: StopEndTurn}}

	fp := NewFallbackProvider([]Provider{primary, backup}, discardLogger())
	resp, err := fp.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "backup" {
		t.Errorf("expected backup response, got %q", resp.Content)
	}
}

func TestFallbackProvider_AllFail(t *testing.T) {
	boom := errors.New("boom")
	fp := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: errors.New("first")},
		&stubProvider{name: "b", err: boom},
	}, discardLogger())

	_, err := fp.SendMessage(context.Background(), &Request{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}
}
