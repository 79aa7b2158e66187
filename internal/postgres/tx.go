package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// WithinTx runs fn against a Store bound to one transaction. Reservations and
// the order insert commit together or not at all.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, st orders.Stores) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	bound := &Store{pool: s.pool, q: tx}
	if err := fn(ctx, orders.Stores{Inventory: bound, Orders: bound}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
