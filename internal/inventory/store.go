package inventory

import (
	"context"

	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

// Store owns the stock counters. It is the only way stock changes.
type Store interface {
	// ReserveStock decrements the counter by quantity only if it still covers
	// quantity, as one atomic conditional write.
	ReserveStock(ctx context.Context, key StockKey, quantity int) (Reservation, error)
	// ReleaseStock adds quantity back. Used for compensation.
	ReleaseStock(ctx context.Context, key StockKey, quantity int) (int, error)
}

// Catalog persists product documents.
type Catalog interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	// ListProducts returns every product, newest first.
	ListProducts(ctx context.Context) ([]Product, error)
	ProductCodeExists(ctx context.Context, code string) (bool, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

func keyDetails(key StockKey) map[string]any {
	return map[string]any{
		"product_id": key.ProductID.String(),
		"variant_id": key.VariantID.String(),
		"size":       key.Size,
	}
}

// ErrProductNotFound, ErrVariantNotFound and ErrSizeNotFound build NOT_FOUND errors for a stock key.
func ErrProductNotFound(key StockKey) error {
	return apperr.Newf(apperr.CodeNotFound, "product %s not found", key.ProductID).WithDetails(keyDetails(key))
}

func ErrVariantNotFound(key StockKey) error {
	return apperr.Newf(apperr.CodeNotFound, "variant %s not found in product %s", key.VariantID, key.ProductID).
		WithDetails(keyDetails(key))
}

func ErrSizeNotFound(key StockKey) error {
	return apperr.Newf(apperr.CodeNotFound, "size %q not found in variant %s", key.Size, key.VariantID).
		WithDetails(keyDetails(key))
}

func ErrInsufficientStock(key StockKey, requested, available int) error {
	d := keyDetails(key)
	d["requested"] = requested
	d["available"] = available
	return apperr.Newf(apperr.CodeInsufficientStock,
		"insufficient stock for size %q of variant %s: requested %d, available %d",
		key.Size, key.VariantID, requested, available).WithDetails(d)
}

// CheckQuantity rejects non-positive quantities before any store access.
func CheckQuantity(quantity int) error {
	if quantity <= 0 {
		return apperr.Validation("quantity", "must be greater than 0")
	}
	return nil
}
