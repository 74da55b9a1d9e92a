package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dukahq/duka/internal/commerce"
)

// Compile-time interface check.
var _ commerce.Cart = (*CartRepository)(nil)

// CartRepository implements commerce.Cart with PostgreSQL.
type CartRepository struct {
	db *gorm.DB
}

// NewCartRepository creates a CartRepository.
func NewCartRepository(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

// AddItem adds quantity units of a product to the owner's cart and returns
// the updated cart. The stock check covers the merged line quantity, so
// repeated adds cannot oversell.
func (r *CartRepository) AddItem(ctx context.Context, ownerID string, productID int64, quantity int) (*commerce.CartSummary, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product ProductModel
		err := tx.Where("id = ?", productID).First(&product).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return commerce.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up product %d: %w", productID, err)
		}

		var existing CartItemModel
		have := 0
		err = tx.Where("owner_key = ? AND product_id = ?", ownerID, productID).First(&existing).Error
		switch {
		case err == nil:
			have = existing.Quantity
		case errors.Is(err, gorm.ErrRecordNotFound):
			// new line
		default:
			return fmt.Errorf("looking up cart line: %w", err)
		}

		if have+quantity > product.StockCount {
			return commerce.ErrInsufficientStock
		}

		now := time.Now().UTC()
		if have > 0 {
			return tx.Model(&CartItemModel{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{
					"quantity":   have + quantity,
					"updated_at": now,
				}).Error
		}
		return tx.Create(&CartItemModel{
			ID:        uuid.New(),
			OwnerKey:  ownerID,
			ProductID: productID,
			Quantity:  quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	return r.Summary(ctx, ownerID)
}

// Summary returns the owner's current cart state.
func (r *CartRepository) Summary(ctx context.Context, ownerID string) (*commerce.CartSummary, error) {
	type line struct {
		ProductID int64
		Name      string
		Quantity  int
		Price     float64
		Currency  string
	}

	var lines []line
	err := r.db.WithContext(ctx).
		Model(&CartItemModel{}).
		Select("cart_items.product_id, products.name, cart_items.quantity, products.price, products.currency").
		Joins("JOIN products ON products.id = cart_items.product_id").
		Where("cart_items.owner_key = ?", ownerID).
		Order("cart_items.created_at ASC").
		Scan(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("loading cart for %s: %w", ownerID, err)
	}

	summary := &commerce.CartSummary{
		OwnerID:  ownerID,
		Items:    make([]commerce.CartItem, 0, len(lines)),
		Currency: "USD",
	}
	for _, l := range lines {
		summary.Items = append(summary.Items, commerce.CartItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Price,
		})
		summary.ItemCount += l.Quantity
		summary.Subtotal += float64(l.Quantity) * l.Price
		if l.Currency != "" {
			summary.Currency = l.Currency
		}
	}
	return summary, nil
}
