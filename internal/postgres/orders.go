package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

const orderColumns = `id, order_code, user_id, total::text, status, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, o *orders.Order) error {
	err := inTx(ctx, s.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO orders (id, order_code, user_id, total, status, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
			o.ID, o.Code, o.UserID, o.Total.String(), string(o.Status), o.CreatedAt, o.UpdatedAt); err != nil {
			return err
		}
		for i, it := range o.Items {
			if _, err := tx.Exec(ctx, `
INSERT INTO order_items (order_id, position, product_id, variant_id, size, color_name, quantity, price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)`,
				o.ID, i, it.ProductID, it.VariantID, it.Size, it.ColorName, it.Quantity, it.Price.String()); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, "orders_order_code_key"):
		return apperr.Wrap(apperr.CodeConflict, orders.ErrOrderCodeTaken, fmt.Sprintf("order code %s already exists", o.Code))
	default:
		return fmt.Errorf("insert order: %w", err)
	}
}

func (s *Store) OrderCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_code = $1)`, code).Scan(&exists)
	return exists, err
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	o, err := scanOrder(s.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	items, err := s.loadItems(ctx, []uuid.UUID{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID) ([]orders.Order, error) {
	rows, err := s.q.Query(ctx, `SELECT `+orderColumns+`
FROM orders WHERE user_id = $1 ORDER BY created_at DESC, order_code DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]orders.Order, 0)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

// UpdateStatus writes to only while the stored status still is from.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to orders.Status, at time.Time) (*orders.Order, error) {
	tag, err := s.q.Exec(ctx, `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrOrderNotFound(id)
		}
		if err != nil {
			return nil, fmt.Errorf("load order status: %w", err)
		}
		return nil, orders.ErrStatusChanged(id, from, orders.Status(current))
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) loadItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]orders.LineItem, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	rows, err := s.q.Query(ctx, `
SELECT order_id, product_id, variant_id, size, color_name, quantity, price::text
FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`, strIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]orders.LineItem, len(ids))
	for rows.Next() {
		var orderID uuid.UUID
		var it orders.LineItem
		var price string
		if err := rows.Scan(&orderID, &it.ProductID, &it.VariantID, &it.Size, &it.ColorName, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse item price %q: %w", price, err)
		}
		out[orderID] = append(out[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	var total, status string
	if err := row.Scan(&o.ID, &o.Code, &o.UserID, &total, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return orders.Order{}, err
	}
	var err error
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return orders.Order{}, fmt.Errorf("parse order total %q: %w", total, err)
	}
	o.Status = orders.Status(status)
	return o, nil
}
