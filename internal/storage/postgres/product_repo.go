package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dukahq/duka/internal/commerce"
)

// Compile-time interface check.
var _ commerce.Catalog = (*ProductRepository)(nil)

// ProductRepository implements commerce.Catalog with PostgreSQL.
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a ProductRepository.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// SearchProducts returns catalog entries matching the query in the
// requested sort order, best-rated first by default.
func (r *ProductRepository) SearchProducts(ctx context.Context, q commerce.SearchQuery) ([]commerce.Product, error) {
	tx := r.db.WithContext(ctx).Model(&ProductModel{})

	if q.Category != "" {
		tx = tx.Where("LOWER(category) = ?", strings.ToLower(q.Category))
	}
	if q.MinPrice > 0 {
		tx = tx.Where("price >= ?", q.MinPrice)
	}
	if q.MaxPrice > 0 {
		tx = tx.Where("price <= ?", q.MaxPrice)
	}
	if q.MinRating > 0 {
		tx = tx.Where("rating >= ?", q.MinRating)
	}
	if q.InStockOnly {
		tx = tx.Where("stock_count > 0")
	}
	if q.Text != "" {
		pattern := "%" + strings.ToLower(q.Text) + "%"
		tx = tx.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	order := "rating DESC, id ASC"
	switch q.Sort {
	case commerce.SortPriceAsc:
		order = "price ASC, id ASC"
	case commerce.SortPriceDesc:
		order = "price DESC, id ASC"
	}

	var models []ProductModel
	if err := tx.Order(order).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}

	products := make([]commerce.Product, len(models))
	for i := range models {
		products[i] = toProduct(&models[i])
	}
	return products, nil
}

// GetProduct returns commerce.ErrNotFound for unknown IDs.
func (r *ProductRepository) GetProduct(ctx context.Context, id int64) (*commerce.Product, error) {
	var model ProductModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, commerce.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up product %d: %w", id, err)
	}
	p := toProduct(&model)
	return &p, nil
}

// Availability returns the stock position of a single product.
func (r *ProductRepository) Availability(ctx context.Context, id int64) (*commerce.Availability, error) {
	p, err := r.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return &commerce.Availability{
		ProductID:  p.ID,
		InStock:    p.InStock(),
		StockCount: p.StockCount,
	}, nil
}

// ReviewsSummary returns the aggregated review summary for a product.
// Products without a summary row fall back to the catalog's running
// rating with no highlights.
func (r *ProductRepository) ReviewsSummary(ctx context.Context, id int64) (*commerce.ReviewsSummary, error) {
	p, err := r.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	var model ReviewSummaryModel
	err = r.db.WithContext(ctx).Where("product_id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &commerce.ReviewsSummary{
			ProductID:     p.ID,
			AverageRating: p.Rating,
			ReviewCount:   p.ReviewCount,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading review summary for product %d: %w", id, err)
	}

	return &commerce.ReviewsSummary{
		ProductID:     model.ProductID,
		AverageRating: model.AverageRating,
		ReviewCount:   model.ReviewCount,
		Highlights:    decodeStrings(model.Highlights),
		Complaints:    decodeStrings(model.Complaints),
	}, nil
}

// SimilarProducts returns other products in the same category, best-rated first.
func (r *ProductRepository) SimilarProducts(ctx context.Context, id int64, limit int) ([]commerce.Product, error) {
	p, err := r.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	tx := r.db.WithContext(ctx).Model(&ProductModel{}).
		Where("LOWER(category) = ? AND id <> ?", strings.ToLower(p.Category), id).
		Order("rating DESC, id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var models []ProductModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("finding similar products: %w", err)
	}

	products := make([]commerce.Product, len(models))
	for i := range models {
		products[i] = toProduct(&models[i])
	}
	return products, nil
}

// UpsertProducts seeds or refreshes catalog entries. Used by catalog import.
func (r *ProductRepository) UpsertProducts(ctx context.Context, products []commerce.Product) error {
	if len(products) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]ProductModel, 0, len(products))
	for _, p := range products {
		m := toProductModel(p)
		m.CreatedAt = now
		m.UpdatedAt = now
		models = append(models, m)
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&models).Error
	if err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}

// UpsertReviewSummaries loads curated review summaries, replacing any
// existing row per product.
func (r *ProductRepository) UpsertReviewSummaries(ctx context.Context, summaries []commerce.ReviewsSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]ReviewSummaryModel, 0, len(summaries))
	for _, s := range summaries {
		m := toReviewSummaryModel(s)
		m.UpdatedAt = now
		models = append(models, m)
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			UpdateAll: true,
		}).
		Create(&models).Error
	if err != nil {
		return fmt.Errorf("upserting review summaries: %w", err)
	}
	return nil
}
