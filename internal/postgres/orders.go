package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type OrdersRepo struct{ s *Store }

func (r *OrdersRepo) CreateOrder(ctx context.Context, o *orders.Order) error {
	return r.s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders(id, buyer_id, ordered_at, delivery_fee) VALUES ($1,$2,$3,$4)`,
			o.ID, o.BuyerID, o.OrderedAt, o.DeliveryFee); err != nil {
			return err
		}
		for i := range o.SubOrders {
			so := &o.SubOrders[i]
			if _, err := tx.Exec(ctx, `
				INSERT INTO sub_orders(id, order_id, vendor_id, buyer_id, status, commission_rate,
				                       cancel_reason, settlement_tx_id, items, history, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12)`,
				so.ID, so.OrderID, so.VendorID, so.BuyerID, string(so.Status), so.CommissionRate.String(),
				so.CancelReason, so.SettlementTxID, so.Items, so.History, so.CreatedAt, so.UpdatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

const subOrderCols = `id, order_id, vendor_id, buyer_id, status, commission_rate::text,
	cancel_reason, settlement_tx_id, items, history, created_at, updated_at`

func scanSubOrder(row pgx.Row) (*orders.SubOrder, error) {
	var (
		so     orders.SubOrder
		status string
		rate   string
	)
	if err := row.Scan(&so.ID, &so.OrderID, &so.VendorID, &so.BuyerID, &status, &rate,
		&so.CancelReason, &so.SettlementTxID, &so.Items, &so.History, &so.CreatedAt, &so.UpdatedAt); err != nil {
		return nil, err
	}
	so.Status = orders.Status(status)
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	so.CommissionRate = r
	return &so, nil
}

func (r *OrdersRepo) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	o := &orders.Order{}
	err := r.s.pool.QueryRow(ctx, `SELECT id, buyer_id, ordered_at, delivery_fee FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.BuyerID, &o.OrderedAt, &o.DeliveryFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.s.pool.Query(ctx, `SELECT `+subOrderCols+` FROM sub_orders WHERE order_id=$1 ORDER BY vendor_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		so, err := scanSubOrder(rows)
		if err != nil {
			return nil, err
		}
		o.SubOrders = append(o.SubOrders, *so)
	}
	return o, rows.Err()
}

func (r *OrdersRepo) GetSubOrder(ctx context.Context, id string) (*orders.SubOrder, error) {
	so, err := scanSubOrder(r.s.pool.QueryRow(ctx, `SELECT `+subOrderCols+` FROM sub_orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrSubOrderNotFound
	}
	return so, err
}

func (r *OrdersRepo) ListVendorSubOrders(ctx context.Context, vendorID string, status orders.Status, p pagination.Params) ([]orders.SubOrder, pagination.Page, error) {
	p = p.Normalize()
	at, cid, err := keyset(p)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	rows, err := r.s.pool.Query(ctx, `
		SELECT `+subOrderCols+`
		FROM sub_orders
		WHERE vendor_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3, $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`, vendorID, string(status), at, cid, p.Limit+1)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	defer rows.Close()
	var out []orders.SubOrder
	for rows.Next() {
		so, err := scanSubOrder(rows)
		if err != nil {
			return nil, pagination.Page{}, err
		}
		out = append(out, *so)
	}
	if err := rows.Err(); err != nil {
		return nil, pagination.Page{}, err
	}
	items, page := pagination.Slice(out, p.Limit, func(so orders.SubOrder) pagination.Cursor { return so.Cursor() })
	return items, page, nil
}

// UpdateSubOrder locks the row, lets fn mutate it and writes the row and fn's
// ledger transaction in the same commit. Account holders in that transaction
// are locked after the row, matching the settlement lock.
func (r *OrdersRepo) UpdateSubOrder(ctx context.Context, id string, fn orders.MutateFunc) (*orders.SubOrder, error) {
	var out *orders.SubOrder
	err := r.s.inTx(ctx, func(tx pgx.Tx) error {
		so, err := scanSubOrder(tx.QueryRow(ctx, `SELECT `+subOrderCols+` FROM sub_orders WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.ErrSubOrderNotFound
		}
		if err != nil {
			return err
		}
		t, err := fn(ctx, txReader{tx}, so)
		if err != nil {
			return err
		}
		if t != nil {
			for _, a := range t.Holders() {
				if err := lockActor(ctx, tx, a); err != nil {
					return err
				}
			}
			if err := postTx(ctx, tx, *t); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE sub_orders
			SET status=$2, cancel_reason=$3, settlement_tx_id=$4, history=$5, updated_at=$6
			WHERE id=$1`,
			so.ID, string(so.Status), so.CancelReason, so.SettlementTxID, so.History, so.UpdatedAt,
		); err != nil {
			return err
		}
		out = so
		return nil
	})
	return out, err
}
