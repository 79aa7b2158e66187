package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

func seedProduct(t *testing.T, s *MemoryStore, stock map[string]int) (*Product, StockKey) {
	t.Helper()
	v := Variant{
		ID:          uuid.New(),
		ProductCode: "PROD-" + uuid.NewString()[:8],
		Name:        "Runner",
		Color:       Color{Name: "Black", HexCode: "#000000"},
		Price:       decimal.RequireFromString("49.90"),
	}
	for size, n := range stock {
		v.Sizes = append(v.Sizes, NewSizeStock(size, n))
	}
	p := &Product{ID: uuid.New(), Reference: "REF-" + uuid.NewString()[:8], Variants: []Variant{v}}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p, StockKey{ProductID: p.ID, VariantID: v.ID, Size: "M"}
}

func sizeOf(t *testing.T, s *MemoryStore, key StockKey) SizeStock {
	t.Helper()
	p, err := s.GetProduct(context.Background(), key.ProductID)
	require.NoError(t, err)
	sz := p.Variant(key.VariantID).Size(key.Size)
	require.NotNil(t, sz)
	return *sz
}

func TestReserveStockDecrements(t *testing.T) {
	s := NewMemoryStore()
	_, key := seedProduct(t, s, map[string]int{"M": 5})

	res, err := s.ReserveStock(context.Background(), key, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewStock)
	assert.False(t, res.OutOfStock)
	assert.True(t, res.UnitPrice.Equal(decimal.RequireFromString("49.9")))
	assert.Equal(t, "Black", res.ColorName)
	assert.Equal(t, 2, sizeOf(t, s, key).Stock)
}

func TestReserveStockToZeroMarksOutOfStock(t *testing.T) {
	s := NewMemoryStore()
	_, key := seedProduct(t, s, map[string]int{"M": 2})

	res, err := s.ReserveStock(context.Background(), key, 2)
	require.NoError(t, err)
	assert.True(t, res.OutOfStock)
	assert.True(t, sizeOf(t, s, key).OutOfStock)

	stock, err := s.ReleaseStock(context.Background(), key, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
	assert.False(t, sizeOf(t, s, key).OutOfStock)
}

func TestReserveStockInsufficientLeavesStock(t *testing.T) {
	s := NewMemoryStore()
	_, key := seedProduct(t, s, map[string]int{"M": 2})

	_, err := s.ReserveStock(context.Background(), key, 4)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientStock))
	details := apperr.As(err).Details().(map[string]any)
	assert.Equal(t, 4, details["requested"])
	assert.Equal(t, 2, details["available"])
	assert.Equal(t, 2, sizeOf(t, s, key).Stock)
}

func TestReserveStockNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, key := seedProduct(t, s, map[string]int{"M": 2})

	cases := map[string]StockKey{
		"product": {ProductID: uuid.New(), VariantID: key.VariantID, Size: "M"},
		"variant": {ProductID: key.ProductID, VariantID: uuid.New(), Size: "M"},
		"size":    {ProductID: key.ProductID, VariantID: key.VariantID, Size: "XXL"},
	}
	for name, k := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReserveStock(context.Background(), k, 1)
			assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
			_, err = s.ReleaseStock(context.Background(), k, 1)
			assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
		})
	}
}

func TestReserveStockRejectsNonPositiveQuantity(t *testing.T) {
	s := NewMemoryStore()
	_, key := seedProduct(t, s, map[string]int{"M": 2})

	for _, q := range []int{0, -1} {
		_, err := s.ReserveStock(context.Background(), key, q)
		assert.True(t, apperr.Is(err, apperr.CodeValidation))
	}
	assert.Equal(t, 2, sizeOf(t, s, key).Stock)
}

func TestReserveStockConcurrentNeverOversells(t *testing.T) {
	s := NewMemoryStore()
	_, key := seedProduct(t, s, map[string]int{"M": 20})

	var wg sync.WaitGroup
	var won, lost atomic.Int32
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReserveStock(context.Background(), key, 1)
			if err == nil {
				won.Add(1)
				return
			}
			if apperr.Is(err, apperr.CodeInsufficientStock) {
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 20, won.Load())
	assert.EqualValues(t, 44, lost.Load())
	sz := sizeOf(t, s, key)
	assert.Equal(t, 0, sz.Stock)
	assert.True(t, sz.OutOfStock)
}

func TestCreateProductRejectsDuplicateReference(t *testing.T) {
	s := NewMemoryStore()
	p, _ := seedProduct(t, s, map[string]int{"M": 1})

	dup := &Product{ID: uuid.New(), Reference: p.Reference}
	err := s.CreateProduct(context.Background(), dup)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	exists, err := s.ReferenceExists(context.Background(), p.Reference)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.ProductCodeExists(context.Background(), p.Variants[0].ProductCode)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetProductReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	_, key := seedProduct(t, s, map[string]int{"M": 3})

	p, err := s.GetProduct(context.Background(), key.ProductID)
	require.NoError(t, err)
	p.Variants[0].Sizes[0].Stock = 99

	assert.Equal(t, 3, sizeOf(t, s, key).Stock)
}
