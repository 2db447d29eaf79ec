package memstore

import (
	"context"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
)

type OrdersRepo struct{ s *Store }

func (r *OrdersRepo) CreateOrder(_ context.Context, o *orders.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.orders[o.ID]; dup {
		return apperr.ErrConflict.Withf("order %s exists", o.ID)
	}
	row := orderRow{ID: o.ID, BuyerID: o.BuyerID, OrderedAt: o.OrderedAt, DeliveryFee: o.DeliveryFee}
	for _, so := range o.SubOrders {
		row.SubOrderIDs = append(row.SubOrderIDs, so.ID)
		r.s.subOrders[so.ID] = copySubOrder(so)
	}
	r.s.orders[o.ID] = row
	return nil
}

func (r *OrdersRepo) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	row, ok := r.s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	o := &orders.Order{ID: row.ID, BuyerID: row.BuyerID, OrderedAt: row.OrderedAt, DeliveryFee: row.DeliveryFee}
	for _, sid := range row.SubOrderIDs {
		o.SubOrders = append(o.SubOrders, copySubOrder(r.s.subOrders[sid]))
	}
	return o, nil
}

func (r *OrdersRepo) GetSubOrder(_ context.Context, id string) (*orders.SubOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	so, ok := r.s.subOrders[id]
	if !ok {
		return nil, orders.ErrSubOrderNotFound
	}
	cp := copySubOrder(so)
	return &cp, nil
}

func (r *OrdersRepo) ListVendorSubOrders(_ context.Context, vendorID string, status orders.Status, p pagination.Params) ([]orders.SubOrder, pagination.Page, error) {
	r.s.mu.RLock()
	var mine []orders.SubOrder
	for _, so := range r.s.subOrders {
		if so.VendorID != vendorID || (status != "" && so.Status != status) {
			continue
		}
		mine = append(mine, copySubOrder(so))
	}
	r.s.mu.RUnlock()
	return page(mine, p, func(so orders.SubOrder) pagination.Cursor { return so.Cursor() })
}

func (r *OrdersRepo) UpdateSubOrder(ctx context.Context, id string, fn orders.MutateFunc) (*orders.SubOrder, error) {
	unlock := r.s.locks.Lock("suborder:" + id)
	defer unlock()

	r.s.mu.RLock()
	cur, ok := r.s.subOrders[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, orders.ErrSubOrderNotFound
	}
	so := copySubOrder(cur)
	t, err := fn(ctx, r.s.Ledger(), &so)
	if err != nil {
		return nil, err
	}
	if t != nil {
		for _, a := range t.Holders() {
			release := r.s.locks.Lock(actorKey(a))
			defer release()
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t != nil {
		ts := []ledger.Transaction{*t}
		if err := r.s.checkPostings(ts); err != nil {
			return nil, err
		}
		r.s.applyPostings(ts)
	}
	r.s.subOrders[id] = copySubOrder(so)
	return &so, nil
}

func copySubOrder(so orders.SubOrder) orders.SubOrder {
	so.Items = append([]orders.LineItem(nil), so.Items...)
	so.History = append([]orders.Transition{}, so.History...)
	return so
}
