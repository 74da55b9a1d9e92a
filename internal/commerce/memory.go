package commerce

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Catalog and Cart implementation. Used by the
// demo CLI and by tests; production deployments use the database-backed
// repositories instead.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[int64]Product
	reviews  map[int64]ReviewsSummary
	carts    map[string][]CartItem
}

var (
	_ Catalog = (*MemoryStore)(nil)
	_ Cart    = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]Product),
		reviews:  make(map[int64]ReviewsSummary),
		carts:    make(map[string][]CartItem),
	}
}

// AddProduct inserts or replaces a catalog entry.
func (s *MemoryStore) AddProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// AddReviews attaches a review summary to a product.
func (s *MemoryStore) AddReviews(r ReviewsSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[r.ProductID] = r
}

func (s *MemoryStore) SearchProducts(ctx context.Context, q SearchQuery) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	text := strings.ToLower(q.Text)
	var out []Product
	for _, p := range s.products {
		if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
			continue
		}
		if q.MinPrice > 0 && p.Price < q.MinPrice {
			continue
		}
		if q.MaxPrice > 0 && p.Price > q.MaxPrice {
			continue
		}
		if q.MinRating > 0 && p.Rating < q.MinRating {
			continue
		}
		if q.InStockOnly && p.StockCount <= 0 {
			continue
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(p.Name), text) &&
			!strings.Contains(strings.ToLower(p.Description), text) {
			continue
		}
		out = append(out, p)
	}

	// Requested order, ties broken by ID for stable output. Relevance and
	// rating coincide here: the store has no text-match scoring.
	sort.Slice(out, func(i, j int) bool {
		switch q.Sort {
		case SortPriceAsc:
			if out[i].Price != out[j].Price {
				return out[i].Price < out[j].Price
			}
		case SortPriceDesc:
			if out[i].Price != out[j].Price {
				return out[i].Price > out[j].Price
			}
		default:
			if out[i].Rating != out[j].Rating {
				return out[i].Rating > out[j].Rating
			}
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Availability(ctx context.Context, id int64) (*Availability, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Availability{ProductID: id, InStock: p.InStock(), StockCount: p.StockCount}, nil
}

func (s *MemoryStore) ReviewsSummary(ctx context.Context, id int64) (*ReviewsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[id]; !ok {
		return nil, ErrNotFound
	}
	r, ok := s.reviews[id]
	if !ok {
		return &ReviewsSummary{ProductID: id}, nil
	}
	return &r, nil
}

func (s *MemoryStore) SimilarProducts(ctx context.Context, id int64, limit int) ([]Product, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := s.SearchProducts(ctx, SearchQuery{Category: p.Category, Limit: limit + 1})
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, candidate := range results {
		if candidate.ID != id {
			out = append(out, candidate)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AddItem(ctx context.Context, ownerID string, productID int64, quantity int) (*CartSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, ErrNotFound
	}

	items := s.carts[ownerID]
	idx := -1
	for i, it := range items {
		if it.ProductID == productID {
			idx = i
			break
		}
	}

	have := 0
	if idx >= 0 {
		have = items[idx].Quantity
	}
	if have+quantity > p.StockCount {
		return nil, ErrInsufficientStock
	}

	if idx >= 0 {
		items[idx].Quantity += quantity
	} else {
		items = append(items, CartItem{
			ProductID: productID,
			Name:      p.Name,
			Quantity:  quantity,
			UnitPrice: p.Price,
		})
	}
	s.carts[ownerID] = items

	return s.summaryLocked(ownerID), nil
}

func (s *MemoryStore) Summary(ctx context.Context, ownerID string) (*CartSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryLocked(ownerID), nil
}

func (s *MemoryStore) summaryLocked(ownerID string) *CartSummary {
	sum := &CartSummary{OwnerID: ownerID, Currency: "USD"}
	for _, it := range s.carts[ownerID] {
		sum.Items = append(sum.Items, it)
		sum.ItemCount += it.Quantity
		sum.Subtotal += float64(it.Quantity) * it.UnitPrice
	}
	return sum
}
