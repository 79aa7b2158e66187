package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// ErrOrderCodeTaken is wrapped by CreateOrder when another order already holds the code.
var ErrOrderCodeTaken = errors.New("order code taken")

// Repository persists orders. Implementations return apperr NOT_FOUND for
// missing orders and STATE_CONFLICT when UpdateStatus finds a status other than from.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	OrderCodeExists(ctx context.Context, code string) (bool, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Order, error)
}

// Stores is the pair of stores one placement writes to.
type Stores struct {
	Inventory inventory.Store
	Orders    Repository
}

// TxRunner is the optional atomic multi-write capability of a backing store.
// fn runs against stores bound to one transaction; a non-nil return rolls it back.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Publisher hands order events to a broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}
