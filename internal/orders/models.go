package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound    = apperr.ErrNotFound.Withf("order not found")
	ErrSubOrderNotFound = apperr.ErrNotFound.Withf("sub-order not found")
)

// LineItem captures the price at checkout; it is never re-read from the catalog.
type LineItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

func (l LineItem) Total() int64 { return l.UnitPrice * int64(l.Quantity) }

type Transition struct {
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	At    time.Time `json:"at"`
	Actor string    `json:"actor"`
}

type SubOrder struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	VendorID       string          `json:"vendorId"`
	BuyerID        string          `json:"buyerId"`
	Items          []LineItem      `json:"items"`
	Status         Status          `json:"status"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	CancelReason   string          `json:"cancelReason,omitempty"`
	// SettlementTxID is the ledger transaction posted on delivery, empty until then.
	SettlementTxID string       `json:"settlementTxId,omitempty"`
	History        []Transition `json:"history"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

func (s *SubOrder) Subtotal() int64 {
	var t int64
	for _, it := range s.Items {
		t += it.Total()
	}
	return t
}

// Commission is the platform's share at the captured rate, rounded half away
// from zero to whole currency units.
func (s *SubOrder) Commission() int64 {
	return decimal.NewFromInt(s.Subtotal()).Mul(s.CommissionRate).Round(0).IntPart()
}

func (s *SubOrder) Net() int64 { return s.Subtotal() - s.Commission() }

func (s *SubOrder) Cursor() pagination.Cursor {
	return pagination.Cursor{At: s.CreatedAt, ID: s.ID}
}

// apply moves the sub-order to `to`, recording the transition.
func (s *SubOrder) apply(to Status, actor string, at time.Time) error {
	if s.Status.Terminal() {
		return apperr.ErrInvalidTransition.Withf("sub-order %s is already %s", s.ID, s.Status)
	}
	if !CanTransition(s.Status, to) {
		return apperr.ErrInvalidTransition.Withf("sub-order %s: %s -> %s", s.ID, s.Status, to)
	}
	s.History = append(s.History, Transition{From: s.Status, To: to, At: at, Actor: actor})
	s.Status = to
	s.UpdatedAt = at
	return nil
}

type Order struct {
	ID          string     `json:"id"`
	BuyerID     string     `json:"buyerId"`
	OrderedAt   time.Time  `json:"orderedAt"`
	DeliveryFee int64      `json:"deliveryFee"`
	SubOrders   []SubOrder `json:"subOrders"`
}

// Status is computed from the sub-orders on every read.
func (o *Order) Status() Status {
	ss := make([]Status, 0, len(o.SubOrders))
	for _, so := range o.SubOrders {
		ss = append(ss, so.Status)
	}
	return Aggregate(ss)
}

func (o *Order) Total() int64 {
	t := o.DeliveryFee
	for i := range o.SubOrders {
		t += o.SubOrders[i].Subtotal()
	}
	return t
}

// SubOrderTx reads ledger state inside a sub-order's unit of work.
type SubOrderTx interface {
	// Transaction loads a committed ledger transaction.
	Transaction(ctx context.Context, id string) (ledger.Transaction, error)
}

// MutateFunc changes a locked sub-order and optionally returns a ledger
// transaction to commit with it.
type MutateFunc func(ctx context.Context, tx SubOrderTx, so *SubOrder) (*ledger.Transaction, error)

type Repo interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetSubOrder(ctx context.Context, id string) (*SubOrder, error)
	ListVendorSubOrders(ctx context.Context, vendorID string, status Status, p pagination.Params) ([]SubOrder, pagination.Page, error)
	// UpdateSubOrder locks the sub-order, runs fn and persists the mutated
	// sub-order together with fn's ledger transaction, or nothing if fn fails.
	// Balances of the account holders in that transaction are locked after
	// the sub-order and before posting.
	UpdateSubOrder(ctx context.Context, id string, fn MutateFunc) (*SubOrder, error)
}
