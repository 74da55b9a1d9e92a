package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackProvider chains model endpoints: every chat completion goes to
// the primary first and walks down the list until one answers. A shopper
// turn only fails when no endpoint is reachable.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider builds the chain from an ordered provider list.
// At least one provider is required.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{
		providers: providers,
		logger:    logger,
	}
}

// SendMessage returns the first successful completion in chain order.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for i, p := range f.providers {
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "completion served by fallback endpoint",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		lastErr = err
		f.logger.WarnContext(ctx, "model endpoint failed, trying next",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("attempt", i+1),
			slog.Int("remaining", len(f.providers)-i-1),
		)
	}
	return nil, fmt.Errorf("no model endpoint answered (%d tried), last error: %w", len(f.providers), lastErr)
}

// Name is the primary's name tagged with the fallback suffix, so logs and
// metrics show which chain served a turn.
func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}
