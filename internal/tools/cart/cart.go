// Package cart implements the assistant's cart mutation tool. The cart
// owner comes from the request context, never from model arguments, so the
// model cannot write into another shopper's cart.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukahq/duka/internal/commerce"
	"github.com/dukahq/duka/internal/tools"
)

const maxQuantity = 20

// AddTool adds a product to the shopper's cart.
type AddTool struct {
	cart   commerce.Cart
	logger *slog.Logger
}

// NewAddTool creates an add-to-cart tool.
func NewAddTool(cart commerce.Cart, logger *slog.Logger) *AddTool {
	return &AddTool{cart: cart, logger: logger}
}

// Register adds the cart tools to the registry.
func Register(reg *tools.Registry, cart commerce.Cart, logger *slog.Logger) {
	reg.Register(NewAddTool(cart, logger))
}

func (t *AddTool) Name() string { return "add_to_cart" }
func (t *AddTool) Description() string {
	return "Add a product to the shopper's cart. Returns the updated cart summary. " +
		"Only call this after the shopper clearly asked to add the item."
}

func (t *AddTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Param{Name: "product_id", Kind: tools.KindID, Required: true,
			Description: "The product's numeric identifier"},
		tools.Param{Name: "quantity", Kind: tools.KindInt, Min: 1, Max: maxQuantity, Default: 1,
			Description: "How many units to add"},
	)
}

func (t *AddTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	owner := tools.OwnerFromContext(ctx)
	if owner == "" {
		// Wiring bug, not a model mistake.
		return nil, fmt.Errorf("no cart owner in context")
	}

	id := args["product_id"].(int64)
	qty := args["quantity"].(int)

	summary, err := t.cart.AddItem(ctx, owner, id, qty)
	switch {
	case errors.Is(err, commerce.ErrNotFound):
		return tools.Fail("product %d not found", id), nil
	case errors.Is(err, commerce.ErrInsufficientStock):
		return tools.Fail("not enough stock to add %d units of product %d", qty, id), nil
	case err != nil:
		return nil, fmt.Errorf("adding product %d to cart: %w", id, err)
	}

	t.logger.InfoContext(ctx, "added to cart",
		slog.Int64("product_id", id),
		slog.Int("quantity", qty),
		slog.Int("cart_items", summary.ItemCount),
	)
	return tools.Ok(summary), nil
}
