package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"Pending", "Shipped", "Delivered", "Cancelled"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), st)
	}

	_, err := ParseStatus("shipped")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestMemoryRepositoryConditionalStatusWrite(t *testing.T) {
	f := newFixture(t, map[string]int{"M": 1})
	o, err := f.coordinator().PlaceOrder(t.Context(), f.order(f.item("M", 1)))
	require.NoError(t, err)

	_, err = f.repo.UpdateStatus(t.Context(), o.ID, StatusShipped, StatusDelivered, o.CreatedAt)
	assert.True(t, apperr.Is(err, apperr.CodeStateConflict))

	updated, err := f.repo.UpdateStatus(t.Context(), o.ID, StatusPending, StatusShipped, o.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, updated.Status)
}
