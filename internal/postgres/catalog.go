package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type CatalogRepo struct{ s *Store }

func (r *CatalogRepo) UpsertMerchant(ctx context.Context, m *catalog.Merchant) error {
	_, err := r.s.pool.Exec(ctx, `
		INSERT INTO merchants(id, name, commission_rate, created_at, updated_at)
		VALUES ($1,$2,$3::numeric,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, commission_rate = EXCLUDED.commission_rate, updated_at = EXCLUDED.updated_at`,
		m.ID, m.Name, m.CommissionRate.String(), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *CatalogRepo) GetMerchant(ctx context.Context, id string) (*catalog.Merchant, error) {
	var (
		m    catalog.Merchant
		rate string
	)
	err := r.s.pool.QueryRow(ctx, `
		SELECT id, name, commission_rate::text, created_at, updated_at FROM merchants WHERE id=$1`, id).
		Scan(&m.ID, &m.Name, &rate, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrMerchantNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.CommissionRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	return &m, nil
}

func (r *CatalogRepo) CreateProduct(ctx context.Context, p *catalog.Product) error {
	_, err := r.s.pool.Exec(ctx, `
		INSERT INTO products(id, merchant_id, name, price, discount_price, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.MerchantID, p.Name, p.Price, p.DiscountPrice, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

const productCols = `id, merchant_id, name, price, discount_price, active, created_at, updated_at`

func (r *CatalogRepo) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.s.pool.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.MerchantID, &p.Name, &p.Price, &p.DiscountPrice, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *CatalogRepo) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	ct, err := r.s.pool.Exec(ctx, `
		UPDATE products SET name=$2, price=$3, discount_price=$4, active=$5, updated_at=$6 WHERE id=$1`,
		p.ID, p.Name, p.Price, p.DiscountPrice, p.Active, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return catalog.ErrProductNotFound
	}
	return nil
}

func (r *CatalogRepo) ListProducts(ctx context.Context, merchantID string) ([]catalog.Product, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT `+productCols+` FROM products WHERE merchant_id=$1 AND active ORDER BY name`, merchantID)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (r *CatalogRepo) ProductsByID(ctx context.Context, ids []string) ([]catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.s.pool.Query(ctx, `SELECT `+productCols+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func scanProducts(rows pgx.Rows) ([]catalog.Product, error) {
	defer rows.Close()
	out := []catalog.Product{}
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.MerchantID, &p.Name, &p.Price, &p.DiscountPrice, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
