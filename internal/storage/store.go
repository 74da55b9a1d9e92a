// Package storage defines the unified Store interface that abstracts all
// persistence operations. Two backends are provided: SQLite (default,
// zero-config) and PostgreSQL (production).
package storage

import (
	"context"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/commerce"
)

// Store is the unified persistence interface for Duka.
// It provides access to domain-specific sub-stores through accessor methods.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Sub-store accessors — each returns a domain-specific interface.
	// The returned stores share the same underlying connection.
	Conversations() chat.ConversationStore
	Catalog() commerce.Catalog
	Cart() commerce.Cart

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
