package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// LineItem is a point-in-time copy of what was bought. It never changes after the order exists.
type LineItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	VariantID uuid.UUID       `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	ColorName string          `json:"colorName"`
	Size      string          `json:"size"`
}

func (li LineItem) Key() inventory.StockKey {
	return inventory.StockKey{ProductID: li.ProductID, VariantID: li.VariantID, Size: li.Size}
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Order struct {
	ID        uuid.UUID       `json:"id"`
	Code      string          `json:"orderCode"`
	UserID    uuid.UUID       `json:"user_id"`
	Items     []LineItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ItemInput struct {
	ProductID string          `json:"product_id" validate:"required,uuid"`
	VariantID string          `json:"variant_id" validate:"required,uuid"`
	Quantity  int             `json:"quantity" validate:"gt=0,max=2147483647"`
	Price     decimal.Decimal `json:"price" validate:"gt=0"`
	ColorName string          `json:"colorName" validate:"required"`
	Size      string          `json:"size" validate:"required"`
}

type PlaceOrderInput struct {
	UserID string          `json:"user_id" validate:"required,uuid"`
	Items  []ItemInput     `json:"items" validate:"required,min=1,dive"`
	Total  decimal.Decimal `json:"total" validate:"gt=0"`
	// Only Pending is accepted; new orders always start there.
	Status string `json:"status,omitempty" validate:"omitempty,eq=Pending"`
}

type UpdateStatusInput struct {
	OrderID string `json:"orderId" validate:"required,uuid"`
	Status  string `json:"status" validate:"required,oneof=Pending Shipped Delivered Cancelled"`
}
