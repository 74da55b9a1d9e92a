package postgres

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/commerce"
	"github.com/dukahq/duka/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *DB

	// Sub-store instances (created lazily on first access).
	mu            sync.Mutex
	conversations chat.ConversationStore
	catalog       commerce.Catalog
	cart          commerce.Cart
}

// NewStore wraps an open connection as a storage.Store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Migrate creates/updates tables in FK-dependency order.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.GormDB().AutoMigrate(
		&ConversationModel{},
		&ConversationMessageModel{},
		&ConversationContextModel{},
		&ProductModel{},
		&ReviewSummaryModel{},
		&CartItemModel{},
	)
}

// Ping checks the database connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB exposes the underlying GORM handle for callers that need
// direct access (e.g. catalog seeding).
func (s *Store) GormDB() *gorm.DB {
	return s.db.GormDB()
}

func (s *Store) Conversations() chat.ConversationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations == nil {
		s.conversations = NewConversationRepository(s.db.GormDB())
	}
	return s.conversations
}

func (s *Store) Catalog() commerce.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil {
		s.catalog = NewProductRepository(s.db.GormDB())
	}
	return s.catalog
}

func (s *Store) Cart() commerce.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		s.cart = NewCartRepository(s.db.GormDB())
	}
	return s.cart
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
