// Package catalog implements the read-only storefront tools the assistant
// can call: product search, details, availability, review summaries and
// similar-product lookups.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukahq/duka/internal/commerce"
	"github.com/dukahq/duka/internal/tools"
)

const (
	defaultSearchLimit  = 5
	maxSearchLimit      = 10
	defaultSimilarLimit = 4
	maxSimilarLimit     = 8
	maxPriceCeiling     = 1_000_000
)

// Register adds all catalog tools to the registry.
func Register(reg *tools.Registry, cat commerce.Catalog, logger *slog.Logger) {
	reg.Register(NewSearchTool(cat, logger))
	reg.Register(NewDetailsTool(cat, logger))
	reg.Register(NewAvailabilityTool(cat, logger))
	reg.Register(NewReviewsTool(cat, logger))
	reg.Register(NewSimilarTool(cat, logger))
}

// SearchTool searches the product catalog by free text with optional
// category, price, rating and stock filters. All parameters are optional:
// a category-only browse is as valid as a keyword search.
type SearchTool struct {
	catalog commerce.Catalog
	logger  *slog.Logger
}

// NewSearchTool creates a product search tool.
func NewSearchTool(cat commerce.Catalog, logger *slog.Logger) *SearchTool {
	return &SearchTool{catalog: cat, logger: logger}
}

func (t *SearchTool) Name() string { return "search_products" }
func (t *SearchTool) Description() string {
	return "Search the product catalog. Supports keywords plus optional category, price range, " +
		"minimum rating and in-stock filters, and a sort order."
}

func (t *SearchTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Param{Name: "query", Kind: tools.KindString,
			Description: "Search keywords, e.g. 'trail running shoes'"},
		tools.Param{Name: "category", Kind: tools.KindString,
			Description: "Restrict results to one category"},
		tools.Param{Name: "min_price", Kind: tools.KindNumber, Min: 0, Max: maxPriceCeiling,
			Description: "Only return products at or above this price"},
		tools.Param{Name: "max_price", Kind: tools.KindNumber, Min: 0, Max: maxPriceCeiling,
			Description: "Only return products at or below this price"},
		tools.Param{Name: "min_rating", Kind: tools.KindNumber, Min: 0, Max: 5,
			Description: "Only return products rated at or above this value"},
		tools.Param{Name: "in_stock_only", Kind: tools.KindBool,
			Description: "Only return products currently in stock"},
		tools.Param{Name: "sort", Kind: tools.KindString, Default: commerce.SortRelevance,
			Enum:        []string{commerce.SortRelevance, commerce.SortPriceAsc, commerce.SortPriceDesc, commerce.SortRating},
			Description: "Result order: relevance, price_asc, price_desc or rating"},
		tools.Param{Name: "limit", Kind: tools.KindInt, Min: 1, Max: maxSearchLimit, Default: defaultSearchLimit,
			Description: "Maximum number of results"},
	)
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	q := commerce.SearchQuery{
		Limit: args["limit"].(int),
	}
	if v, ok := args["query"].(string); ok {
		q.Text = v
	}
	if v, ok := args["category"].(string); ok {
		q.Category = v
	}
	if v, ok := args["min_price"].(float64); ok {
		q.MinPrice = v
	}
	if v, ok := args["max_price"].(float64); ok {
		q.MaxPrice = v
	}
	if v, ok := args["min_rating"].(float64); ok {
		q.MinRating = v
	}
	if v, ok := args["in_stock_only"].(bool); ok {
		q.InStockOnly = v
	}
	if v, ok := args["sort"].(string); ok {
		q.Sort = v
	}

	products, err := t.catalog.SearchProducts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}

	t.logger.DebugContext(ctx, "product search",
		slog.String("query", q.Text),
		slog.Int("results", len(products)),
	)
	return tools.Ok(products), nil
}

// DetailsTool fetches a single product by ID.
type DetailsTool struct {
	catalog commerce.Catalog
	logger  *slog.Logger
}

// NewDetailsTool creates a product details tool.
func NewDetailsTool(cat commerce.Catalog, logger *slog.Logger) *DetailsTool {
	return &DetailsTool{catalog: cat, logger: logger}
}

func (t *DetailsTool) Name() string { return "get_product_details" }
func (t *DetailsTool) Description() string {
	return "Get the full details of one product: description, price, rating and stock."
}

func (t *DetailsTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Param{Name: "product_id", Kind: tools.KindID, Required: true,
			Description: "The product's numeric identifier"},
	)
}

func (t *DetailsTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	id := args["product_id"].(int64)
	p, err := t.catalog.GetProduct(ctx, id)
	if errors.Is(err, commerce.ErrNotFound) {
		return tools.Fail("product %d not found", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching product %d: %w", id, err)
	}
	return tools.Ok(p), nil
}

// AvailabilityTool reports the stock position of one product.
type AvailabilityTool struct {
	catalog commerce.Catalog
	logger  *slog.Logger
}

// NewAvailabilityTool creates a stock check tool.
func NewAvailabilityTool(cat commerce.Catalog, logger *slog.Logger) *AvailabilityTool {
	return &AvailabilityTool{catalog: cat, logger: logger}
}

func (t *AvailabilityTool) Name() string { return "check_availability" }
func (t *AvailabilityTool) Description() string {
	return "Check whether a product is in stock and how many units remain."
}

func (t *AvailabilityTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Param{Name: "product_id", Kind: tools.KindID, Required: true,
			Description: "The product's numeric identifier"},
	)
}

func (t *AvailabilityTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	id := args["product_id"].(int64)
	av, err := t.catalog.Availability(ctx, id)
	if errors.Is(err, commerce.ErrNotFound) {
		return tools.Fail("product %d not found", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking availability of %d: %w", id, err)
	}
	return tools.Ok(av), nil
}

// ReviewsTool returns the aggregated review summary for one product.
type ReviewsTool struct {
	catalog commerce.Catalog
	logger  *slog.Logger
}

// NewReviewsTool creates a review summary tool.
func NewReviewsTool(cat commerce.Catalog, logger *slog.Logger) *ReviewsTool {
	return &ReviewsTool{catalog: cat, logger: logger}
}

func (t *ReviewsTool) Name() string { return "get_reviews_summary" }
func (t *ReviewsTool) Description() string {
	return "Get the aggregated customer review summary for a product: average rating, " +
		"review count, and the most common praise and complaints."
}

func (t *ReviewsTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Param{Name: "product_id", Kind: tools.KindID, Required: true,
			Description: "The product's numeric identifier"},
	)
}

func (t *ReviewsTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	id := args["product_id"].(int64)
	summary, err := t.catalog.ReviewsSummary(ctx, id)
	if errors.Is(err, commerce.ErrNotFound) {
		return tools.Fail("product %d not found", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("summarizing reviews of %d: %w", id, err)
	}
	return tools.Ok(summary), nil
}

// SimilarTool finds alternatives to a given product.
type SimilarTool struct {
	catalog commerce.Catalog
	logger  *slog.Logger
}

// NewSimilarTool creates a similar-products tool.
func NewSimilarTool(cat commerce.Catalog, logger *slog.Logger) *SimilarTool {
	return &SimilarTool{catalog: cat, logger: logger}
}

func (t *SimilarTool) Name() string { return "find_similar_products" }
func (t *SimilarTool) Description() string {
	return "Find products similar to a given one, useful when an item is out of stock " +
		"or the shopper wants alternatives."
}

func (t *SimilarTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Param{Name: "product_id", Kind: tools.KindID, Required: true,
			Description: "The reference product's numeric identifier"},
		tools.Param{Name: "limit", Kind: tools.KindInt, Min: 1, Max: maxSimilarLimit, Default: defaultSimilarLimit,
			Description: "Maximum number of alternatives"},
	)
}

func (t *SimilarTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	id := args["product_id"].(int64)
	similar, err := t.catalog.SimilarProducts(ctx, id, args["limit"].(int))
	if errors.Is(err, commerce.ErrNotFound) {
		return tools.Fail("product %d not found", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding similar products for %d: %w", id, err)
	}
	return tools.Ok(similar), nil
}
