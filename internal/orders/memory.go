package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

// MemoryRepository keeps orders in process. Used with the in-memory
// inventory when no database is configured, and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]Order
	codes  map[string]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: map[uuid.UUID]Order{},
		codes:  map[string]uuid.UUID{},
	}
}

func (r *MemoryRepository) CreateOrder(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return apperr.Newf(apperr.CodeConflict, "order %s already exists", o.ID)
	}
	if _, ok := r.codes[o.Code]; ok {
		return apperr.Wrap(apperr.CodeConflict, ErrOrderCodeTaken, fmt.Sprintf("order code %s already exists", o.Code))
	}
	r.orders[o.ID] = cloneOrder(*o)
	r.codes[o.Code] = o.ID
	return nil
}

func (r *MemoryRepository) OrderCodeExists(_ context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codes[code]
	return ok, nil
}

func (r *MemoryRepository) GetOrder(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound(id)
	}
	out := cloneOrder(o)
	return &out, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code > out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound(id)
	}
	if o.Status != from {
		return nil, ErrStatusChanged(id, from, o.Status)
	}
	o.Status = to
	o.UpdatedAt = at
	r.orders[id] = o
	out := cloneOrder(o)
	return &out, nil
}

func cloneOrder(o Order) Order {
	o.Items = append([]LineItem(nil), o.Items...)
	return o
}

// ErrOrderNotFound builds the NOT_FOUND error for a missing order.
func ErrOrderNotFound(id uuid.UUID) error {
	return apperr.Newf(apperr.CodeNotFound, "order %s not found", id).
		WithDetails(map[string]string{"order_id": id.String()})
}

// ErrStatusChanged reports a lost race on a conditional status write.
func ErrStatusChanged(id uuid.UUID, expected, actual Status) error {
	return apperr.Newf(apperr.CodeStateConflict, "order %s status changed concurrently: expected %s, found %s", id, expected, actual).
		WithDetails(map[string]string{"order_id": id.String(), "expected": string(expected), "actual": string(actual)})
}
