// Package gateway defines the interface every user-facing surface
// (HTTP API, WebSocket, CLI chat) implements so the server can manage
// them uniformly.
package gateway

import "context"

// Gateway is a user-facing transport for the shopping assistant.
type Gateway interface {
	// Start launches the gateway's event loop and blocks until the
	// gateway exits or the context is canceled.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown, draining in-flight requests.
	Stop(ctx context.Context) error
}
