// Package commerce defines the storefront domain: products, reviews, stock
// and carts. The assistant's tools depend on the Catalog and Cart ports
// declared here, never on a concrete backend.
package commerce

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a product or cart does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientStock is returned when a cart operation would exceed the
// available stock.
var ErrInsufficientStock = errors.New("insufficient stock")

// Product is a single catalog entry.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	StockCount  int     `json:"stock_count"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// InStock reports whether the product can currently be ordered.
func (p *Product) InStock() bool { return p.StockCount > 0 }

// Availability is the stock position of a single product.
type Availability struct {
	ProductID  int64 `json:"product_id"`
	InStock    bool  `json:"in_stock"`
	StockCount int   `json:"stock_count"`
}

// ReviewsSummary aggregates customer reviews for one product.
type ReviewsSummary struct {
	ProductID     int64    `json:"product_id"`
	AverageRating float64  `json:"average_rating"`
	ReviewCount   int      `json:"review_count"`
	Highlights    []string `json:"highlights,omitempty"` // most helpful positive remarks
	Complaints    []string `json:"complaints,omitempty"` // most common negative remarks
}

// Sort orders accepted by catalog searches.
const (
	SortRelevance = "relevance" // default: best rating first
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortRating    = "rating"
)

// SearchQuery narrows a catalog search. Zero values mean "no constraint".
type SearchQuery struct {
	Text        string
	Category    string
	MinPrice    float64
	MaxPrice    float64
	MinRating   float64
	InStockOnly bool
	Sort        string // one of the Sort* values; empty = SortRelevance
	Limit       int
}

// CartItem is one line of a shopping cart.
type CartItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// CartSummary is the cart state returned after mutations.
type CartSummary struct {
	OwnerID   string     `json:"owner_id"`
	Items     []CartItem `json:"items"`
	ItemCount int        `json:"item_count"`
	Subtotal  float64    `json:"subtotal"`
	Currency  string     `json:"currency"`
}

// Catalog is the read side of the storefront.
type Catalog interface {
	SearchProducts(ctx context.Context, q SearchQuery) ([]Product, error)
	// GetProduct returns ErrNotFound for unknown IDs.
	GetProduct(ctx context.Context, id int64) (*Product, error)
	Availability(ctx context.Context, id int64) (*Availability, error)
	ReviewsSummary(ctx context.Context, id int64) (*ReviewsSummary, error)
	SimilarProducts(ctx context.Context, id int64, limit int) ([]Product, error)
}

// Cart mutates and reads per-owner shopping carts. The owner is the
// authenticated user when present, otherwise the anonymous session.
type Cart interface {
	// AddItem adds quantity units of a product and returns the updated cart.
	// Returns ErrNotFound for unknown products and ErrInsufficientStock when
	// the requested quantity exceeds available stock.
	AddItem(ctx context.Context, ownerID string, productID int64, quantity int) (*CartSummary, error)
	Summary(ctx context.Context, ownerID string) (*CartSummary, error)
}
