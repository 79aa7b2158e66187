package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID         uuid.UUID `json:"id"`
	Reference  string    `json:"product_reference"`
	Collection string    `json:"collection"`
	Brand      string    `json:"brand"`
	Type       string    `json:"type"`
	Gender     string    `json:"gender"`
	NewArrival bool      `json:"new_arrival"`
	Featured   bool      `json:"featured"`
	Variants   []Variant `json:"variants"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Color struct {
	Name    string `json:"colorName"`
	HexCode string `json:"hexCode,omitempty"`
}

type Variant struct {
	ID          uuid.UUID       `json:"variant_id"`
	ProductCode string          `json:"product_code"`
	Name        string          `json:"name"`
	Color       Color           `json:"color"`
	Price       decimal.Decimal `json:"price"`
	Sizes       []SizeStock     `json:"sizes"`
}

// SizeStock is one stock counter. OutOfStock mirrors Stock <= 0 after every write.
type SizeStock struct {
	Size       string `json:"size"`
	Stock      int    `json:"stock"`
	OutOfStock bool   `json:"out_of_stock"`
}

func NewSizeStock(size string, stock int) SizeStock {
	return SizeStock{Size: size, Stock: stock, OutOfStock: stock <= 0}
}

func (p *Product) Variant(id uuid.UUID) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}

func (v *Variant) Size(label string) *SizeStock {
	for i := range v.Sizes {
		if v.Sizes[i].Size == label {
			return &v.Sizes[i]
		}
	}
	return nil
}

// StockKey addresses one (product, variant, size) counter.
type StockKey struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID uuid.UUID `json:"variant_id"`
	Size      string    `json:"size"`
}

// Reservation is the outcome of a successful conditional decrement.
type Reservation struct {
	Key        StockKey
	Quantity   int
	NewStock   int
	OutOfStock bool
	UnitPrice  decimal.Decimal // catalog price of the variant at reservation time
	ColorName  string
}
