// Package cli implements an interactive terminal gateway for the
// shopping assistant. Useful for trying prompts and tool behavior
// without a storefront in front of the service.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/ratelimit"
)

// Gateway is the interactive command-line interface.
type Gateway struct {
	svc            *chat.Service
	logger         *slog.Logger
	done           chan struct{} // closed by Stop to signal shutdown
	sessionID      string        // one shopper session for the whole REPL
	conversationID string        // assigned by the first turn
}

// NewGateway creates a CLI gateway backed by the given chat service.
func NewGateway(svc *chat.Service, logger *slog.Logger) *Gateway {
	return &Gateway{
		svc:       svc,
		logger:    logger,
		done:      make(chan struct{}),
		sessionID: uuid.New().String(),
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Duka — conversational shopping assistant")
	fmt.Println("Type your message (or \"exit\" to quit).")
	fmt.Println()

	for {
		fmt.Print("duka> ")

		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			return nil
		case <-g.done:
			fmt.Println("\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye.")
			return nil
		}

		resp, err := g.svc.Chat(ctx, &chat.Request{
			Message:        line,
			ConversationID: g.conversationID,
			SessionID:      g.sessionID,
			Identity:       "cli:" + g.sessionID,
		})
		if err != nil {
			var limitErr *ratelimit.LimitError
			if errors.As(err, &limitErr) {
				fmt.Fprintf(os.Stderr, "Slow down — try again in %s.\n", limitErr.RetryAfter.Round(time.Second))
				continue
			}
			g.logger.ErrorContext(ctx, "chat turn failed", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		g.conversationID = resp.ConversationID

		fmt.Println()
		fmt.Println(resp.Reply)
		for _, card := range resp.Cards {
			stock := "in stock"
			if !card.InStock {
				stock = "out of stock"
			}
			fmt.Printf("  [%d] %s — %.2f %s (%s)\n", card.ID, card.Title, card.Price, card.Currency, stock)
		}
		if len(resp.Suggestions) > 0 {
			fmt.Printf("  try: %s\n", strings.Join(resp.Suggestions, " | "))
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// Stop signals the REPL to exit at the next prompt.
func (g *Gateway) Stop(context.Context) error {
	close(g.done)
	return nil
}
