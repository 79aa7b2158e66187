package inventory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

type memoryRecord struct {
	mu      sync.Mutex
	product Product
}

// MemoryStore keeps products in process. Each product record has its own
// lock, which gives the same single-document atomicity a database row update
// does; callers never see or take these locks.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[uuid.UUID]*memoryRecord{}}
}

func (s *MemoryStore) record(id uuid.UUID) *memoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// locate must be called with rec.mu held.
func locate(rec *memoryRecord, key StockKey) (*Variant, *SizeStock, error) {
	v := rec.product.Variant(key.VariantID)
	if v == nil {
		return nil, nil, ErrVariantNotFound(key)
	}
	sz := v.Size(key.Size)
	if sz == nil {
		return nil, nil, ErrSizeNotFound(key)
	}
	return v, sz, nil
}

func (s *MemoryStore) ReserveStock(ctx context.Context, key StockKey, quantity int) (Reservation, error) {
	if err := CheckQuantity(quantity); err != nil {
		return Reservation{}, err
	}
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}
	rec := s.record(key.ProductID)
	if rec == nil {
		return Reservation{}, ErrProductNotFound(key)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	v, sz, err := locate(rec, key)
	if err != nil {
		return Reservation{}, err
	}
	if sz.Stock < quantity {
		return Reservation{}, ErrInsufficientStock(key, quantity, sz.Stock)
	}
	*sz = NewSizeStock(sz.Size, sz.Stock-quantity)

	return Reservation{
		Key:        key,
		Quantity:   quantity,
		NewStock:   sz.Stock,
		OutOfStock: sz.OutOfStock,
		UnitPrice:  v.Price,
		ColorName:  v.Color.Name,
	}, nil
}

func (s *MemoryStore) ReleaseStock(_ context.Context, key StockKey, quantity int) (int, error) {
	if err := CheckQuantity(quantity); err != nil {
		return 0, err
	}
	rec := s.record(key.ProductID)
	if rec == nil {
		return 0, ErrProductNotFound(key)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	_, sz, err := locate(rec, key)
	if err != nil {
		return 0, err
	}
	*sz = NewSizeStock(sz.Size, sz.Stock+quantity)
	return sz.Stock, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[p.ID]; ok {
		return apperr.Newf(apperr.CodeConflict, "product %s already exists", p.ID)
	}
	for _, rec := range s.records {
		if rec.product.Reference == p.Reference {
			return apperr.Newf(apperr.CodeConflict, "product reference %q already exists", p.Reference)
		}
	}
	s.records[p.ID] = &memoryRecord{product: cloneProduct(*p)}
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id uuid.UUID) (*Product, error) {
	rec := s.record(id)
	if rec == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "product %s not found", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p := cloneProduct(rec.product)
	return &p, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]Product, error) {
	s.mu.RLock()
	out := make([]Product, 0, len(s.records))
	for _, rec := range s.records {
		rec.mu.Lock()
		out = append(out, cloneProduct(rec.product))
		rec.mu.Unlock()
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Product) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *MemoryStore) ProductCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		rec.mu.Lock()
		found := false
		for _, v := range rec.product.Variants {
			if v.ProductCode == code {
				found = true
				break
			}
		}
		rec.mu.Unlock()
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ReferenceExists(_ context.Context, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.product.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func cloneProduct(p Product) Product {
	out := p
	out.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		v.Sizes = append([]SizeStock(nil), v.Sizes...)
		out.Variants[i] = v
	}
	return out
}
