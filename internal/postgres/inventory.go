package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// Store implements the inventory store, the product catalog and the order
// repository on PostgreSQL. A Store made by WithinTx is bound to one transaction.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// reserveSQL is the conditional decrement: the row only changes while its
// stock still covers the quantity. Concurrent writers re-check the predicate
// against the newest row version.
const reserveSQL = `
UPDATE variant_sizes vs
SET stock = vs.stock - $4,
    out_of_stock = (vs.stock - $4) <= 0,
    updated_at = now()
FROM product_variants pv
WHERE vs.variant_id = pv.id
  AND pv.product_id = $1
  AND vs.variant_id = $2
  AND vs.size = $3
  AND vs.stock >= $4
RETURNING vs.stock, vs.out_of_stock, pv.price::text, pv.color_name`

const releaseSQL = `
UPDATE variant_sizes vs
SET stock = vs.stock + $4,
    out_of_stock = (vs.stock + $4) <= 0,
    updated_at = now()
FROM product_variants pv
WHERE vs.variant_id = pv.id
  AND pv.product_id = $1
  AND vs.variant_id = $2
  AND vs.size = $3
RETURNING vs.stock`

func (s *Store) ReserveStock(ctx context.Context, key inventory.StockKey, quantity int) (inventory.Reservation, error) {
	if err := inventory.CheckQuantity(quantity); err != nil {
		return inventory.Reservation{}, err
	}
	res := inventory.Reservation{Key: key, Quantity: quantity}
	var price string
	err := s.q.QueryRow(ctx, reserveSQL, key.ProductID, key.VariantID, key.Size, quantity).
		Scan(&res.NewStock, &res.OutOfStock, &price, &res.ColorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Reservation{}, s.classify(ctx, key, quantity)
	}
	if err != nil {
		return inventory.Reservation{}, fmt.Errorf("reserve stock: %w", err)
	}
	if res.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return inventory.Reservation{}, fmt.Errorf("parse variant price %q: %w", price, err)
	}
	return res, nil
}

func (s *Store) ReleaseStock(ctx context.Context, key inventory.StockKey, quantity int) (int, error) {
	if err := inventory.CheckQuantity(quantity); err != nil {
		return 0, err
	}
	var stock int
	err := s.q.QueryRow(ctx, releaseSQL, key.ProductID, key.VariantID, key.Size, quantity).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.classify(ctx, key, quantity)
	}
	if err != nil {
		return 0, fmt.Errorf("release stock: %w", err)
	}
	return stock, nil
}

// classify explains why a conditional write matched no row. It only reads.
func (s *Store) classify(ctx context.Context, key inventory.StockKey, quantity int) error {
	var productOK, variantOK bool
	var stock *int
	err := s.q.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM products WHERE id = $1),
       EXISTS (SELECT 1 FROM product_variants WHERE id = $2 AND product_id = $1),
       (SELECT stock FROM variant_sizes WHERE variant_id = $2 AND size = $3)`,
		key.ProductID, key.VariantID, key.Size).Scan(&productOK, &variantOK, &stock)
	switch {
	case err != nil:
		return fmt.Errorf("classify stock key: %w", err)
	case !productOK:
		return inventory.ErrProductNotFound(key)
	case !variantOK:
		return inventory.ErrVariantNotFound(key)
	case stock == nil:
		return inventory.ErrSizeNotFound(key)
	default:
		return inventory.ErrInsufficientStock(key, quantity, *stock)
	}
}

func (s *Store) CreateProduct(ctx context.Context, p *inventory.Product) error {
	err := inTx(ctx, s.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO products (id, reference, collection, brand, type, gender, new_arrival, featured, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.ID, p.Reference, p.Collection, p.Brand, p.Type, p.Gender, p.NewArrival, p.Featured, p.CreatedAt, p.UpdatedAt); err != nil {
			return err
		}
		for vi, v := range p.Variants {
			if _, err := tx.Exec(ctx, `
INSERT INTO product_variants (id, product_id, position, product_code, name, color_name, hex_code, price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)`,
				v.ID, p.ID, vi, v.ProductCode, v.Name, v.Color.Name, v.Color.HexCode, v.Price.String()); err != nil {
				return err
			}
			for si, sz := range v.Sizes {
				if _, err := tx.Exec(ctx, `
INSERT INTO variant_sizes (variant_id, position, size, stock, out_of_stock)
VALUES ($1, $2, $3, $4, $5)`,
					v.ID, si, sz.Size, sz.Stock, sz.OutOfStock); err != nil {
					return err
				}
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, "products_reference_key"):
		return apperr.Newf(apperr.CodeConflict, "product reference %q already exists", p.Reference)
	case isUniqueViolation(err, "products_pkey"):
		return apperr.Newf(apperr.CodeConflict, "product %s already exists", p.ID)
	default:
		return fmt.Errorf("create product: %w", err)
	}
}

const productColumns = `id, reference, collection, brand, type, gender, new_arrival, featured, created_at, updated_at`

func scanProduct(row pgx.Row, p *inventory.Product) error {
	return row.Scan(&p.ID, &p.Reference, &p.Collection, &p.Brand, &p.Type, &p.Gender,
		&p.NewArrival, &p.Featured, &p.CreatedAt, &p.UpdatedAt)
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error) {
	var p inventory.Product
	err := scanProduct(s.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id), &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.CodeNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	list := []inventory.Product{p}
	if err := s.loadVariants(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ListProducts returns the whole catalog, newest first.
func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.q.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out := []inventory.Product{}
	for rows.Next() {
		var p inventory.Product
		if err := scanProduct(rows, &p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if err := s.loadVariants(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

type variantRef struct {
	product int
	variant int
}

// loadVariants fills Variants and their sizes for every product in two queries.
func (s *Store) loadVariants(ctx context.Context, products []inventory.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(products))
	byProduct := make(map[uuid.UUID]int, len(products))
	for i := range products {
		ids[i] = products[i].ID
		byProduct[products[i].ID] = i
		products[i].Variants = []inventory.Variant{}
	}

	rows, err := s.q.Query(ctx, `
SELECT product_id, id, product_code, name, color_name, hex_code, price::text
FROM product_variants WHERE product_id = ANY($1) ORDER BY product_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}
	index := map[uuid.UUID]variantRef{}
	for rows.Next() {
		var productID uuid.UUID
		var v inventory.Variant
		var price string
		if err := rows.Scan(&productID, &v.ID, &v.ProductCode, &v.Name, &v.Color.Name, &v.Color.HexCode, &price); err != nil {
			rows.Close()
			return fmt.Errorf("scan variant: %w", err)
		}
		if v.Price, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return fmt.Errorf("parse variant price %q: %w", price, err)
		}
		v.Sizes = []inventory.SizeStock{}
		pi := byProduct[productID]
		index[v.ID] = variantRef{product: pi, variant: len(products[pi].Variants)}
		products[pi].Variants = append(products[pi].Variants, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load variants: %w", err)
	}

	rows, err = s.q.Query(ctx, `
SELECT vs.variant_id, vs.size, vs.stock, vs.out_of_stock
FROM variant_sizes vs JOIN product_variants pv ON pv.id = vs.variant_id
WHERE pv.product_id = ANY($1) ORDER BY pv.product_id, pv.position, vs.position`, ids)
	if err != nil {
		return fmt.Errorf("load sizes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var variantID uuid.UUID
		var sz inventory.SizeStock
		if err := rows.Scan(&variantID, &sz.Size, &sz.Stock, &sz.OutOfStock); err != nil {
			return fmt.Errorf("scan size: %w", err)
		}
		if ref, ok := index[variantID]; ok {
			v := &products[ref.product].Variants[ref.variant]
			v.Sizes = append(v.Sizes, sz)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load sizes: %w", err)
	}
	return nil
}

func (s *Store) ProductCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM product_variants WHERE product_code = $1)`, code).Scan(&exists)
	return exists, err
}

func (s *Store) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE reference = $1)`, reference).Scan(&exists)
	return exists, err
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
