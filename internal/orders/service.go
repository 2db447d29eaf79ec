package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Catalog is the price source used at checkout.
type Catalog interface {
	ProductsByID(ctx context.Context, ids []string) ([]catalog.Product, error)
	Merchant(ctx context.Context, id string) (*catalog.Merchant, error)
}

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Service struct {
	repo      Repo
	catalog   Catalog
	publisher events.Publisher
	log       *zap.Logger
	name      string
	now       func() time.Time
}

func NewService(repo Repo, cat Catalog, pub events.Publisher, log *zap.Logger, serviceName string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, catalog: cat, publisher: pub, log: log, name: serviceName, now: time.Now}
}

// Checkout captures prices and commission rates and splits the cart into one
// sub-order per store.
func (s *Service) Checkout(ctx context.Context, by auth.Actor, items []ItemInput, deliveryFee int64) (*Order, error) {
	if by.Role != auth.RoleBuyer {
		return nil, apperr.ErrForbidden
	}
	if len(items) == 0 {
		return nil, apperr.Validation("order must have at least one item")
	}
	if deliveryFee < 0 {
		return nil, apperr.Validation("deliveryFee must be >= 0")
	}
	qty := map[string]int{}
	var ids []string
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, apperr.Validation("productId is required")
		}
		if it.Quantity < 1 {
			return nil, apperr.Validation("invalid quantity for product %s", id)
		}
		if _, seen := qty[id]; !seen {
			ids = append(ids, id)
		}
		qty[id] += it.Quantity
	}

	products, err := s.catalog.ProductsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := s.now().UTC()
	order := &Order{ID: uuid.NewString(), BuyerID: by.ID, OrderedAt: now, DeliveryFee: deliveryFee}
	perVendor := map[string]*SubOrder{}
	var vendors []string
	for _, id := range ids {
		p, ok := byID[id]
		if !ok || !p.Active {
			return nil, apperr.Validation("product not available: %s", id)
		}
		so, ok := perVendor[p.MerchantID]
		if !ok {
			m, err := s.catalog.Merchant(ctx, p.MerchantID)
			if err != nil {
				return nil, fmt.Errorf("merchant %s: %w", p.MerchantID, err)
			}
			so = &SubOrder{
				ID:             uuid.NewString(),
				OrderID:        order.ID,
				VendorID:       p.MerchantID,
				BuyerID:        by.ID,
				Status:         StatusPendingConfirmation,
				CommissionRate: m.CommissionRate,
				History:        []Transition{},
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			perVendor[p.MerchantID] = so
			vendors = append(vendors, p.MerchantID)
		}
		so.Items = append(so.Items, LineItem{ProductID: p.ID, Name: p.Name, Quantity: qty[id], UnitPrice: p.EffectivePrice()})
	}
	sort.Strings(vendors)
	for _, v := range vendors {
		order.SubOrders = append(order.SubOrders, *perVendor[v])
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.log.Info("order placed",
		zap.String("order", order.ID),
		zap.String("buyer", by.ID),
		zap.Int("sub_orders", len(order.SubOrders)),
		zap.Int64("total", order.Total()),
	)
	for i := range order.SubOrders {
		s.announce(ctx, &order.SubOrders[i], "")
	}
	return order, nil
}

// GetOrder returns the order with its computed status. Vendors only see their
// own sub-orders.
func (s *Service) GetOrder(ctx context.Context, by auth.Actor, id string) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case by.Privileged(), by.Role == auth.RoleDriver:
		return o, nil
	case by.Role == auth.RoleBuyer && by.ID == o.BuyerID:
		return o, nil
	case by.Role == auth.RoleVendor:
		var mine []SubOrder
		for _, so := range o.SubOrders {
			if so.VendorID == by.ID {
				mine = append(mine, so)
			}
		}
		if len(mine) == 0 {
			return nil, apperr.ErrForbidden
		}
		o.SubOrders = mine
		return o, nil
	default:
		return nil, apperr.ErrForbidden
	}
}

// GetSubOrder returns one sub-order to its store, drivers and operators.
func (s *Service) GetSubOrder(ctx context.Context, by auth.Actor, id string) (*SubOrder, error) {
	so, err := s.repo.GetSubOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case by.Privileged(), by.Role == auth.RoleDriver:
		return so, nil
	case by.Role == auth.RoleVendor:
		if err := ownedByVendor(by, so); err != nil {
			return nil, err
		}
		return so, nil
	default:
		return nil, apperr.ErrForbidden
	}
}

func (s *Service) ListVendorSubOrders(ctx context.Context, by auth.Actor, vendorID string, status Status, p pagination.Params) ([]SubOrder, pagination.Page, error) {
	switch {
	case by.Role == auth.RoleVendor:
		vendorID = by.ID
	case by.Privileged():
		if vendorID == "" {
			return nil, pagination.Page{}, apperr.Validation("vendorId is required")
		}
	default:
		return nil, pagination.Page{}, apperr.ErrForbidden
	}
	if status != "" && !status.Valid() {
		return nil, pagination.Page{}, apperr.Validation("unknown status %q", status)
	}
	return s.repo.ListVendorSubOrders(ctx, vendorID, status, p.Normalize())
}

// VendorAccept moves a sub-order from pending_confirmation to preparing.
func (s *Service) VendorAccept(ctx context.Context, by auth.Actor, subOrderID string) (*SubOrder, error) {
	return s.transition(ctx, by, subOrderID, StatusPreparing, func(so *SubOrder) error {
		if err := ownedByVendor(by, so); err != nil {
			return err
		}
		if so.Status != StatusPendingConfirmation {
			return apperr.ErrInvalidTransition.Withf("sub-order %s: accept from %s", so.ID, so.Status)
		}
		return nil
	}, nil)
}

// VendorCancel cancels a sub-order that has not left the store. No ledger
// entries: nothing was settled to the vendor yet.
func (s *Service) VendorCancel(ctx context.Context, by auth.Actor, subOrderID, reason string) (*SubOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	return s.transition(ctx, by, subOrderID, StatusCancelled, func(so *SubOrder) error {
		return ownedByVendor(by, so)
	}, func(_ context.Context, _ SubOrderTx, so *SubOrder) (*ledger.Transaction, error) {
		so.CancelReason = reason
		return nil, nil
	})
}

// FlagForReview holds a pending sub-order for platform review.
func (s *Service) FlagForReview(ctx context.Context, by auth.Actor, subOrderID string) (*SubOrder, error) {
	return s.transition(ctx, by, subOrderID, StatusUnderReview, requirePrivileged(by), nil)
}

// ApproveReview releases a reviewed sub-order to the store for preparation.
func (s *Service) ApproveReview(ctx context.Context, by auth.Actor, subOrderID string) (*SubOrder, error) {
	return s.transition(ctx, by, subOrderID, StatusPreparing, func(so *SubOrder) error {
		if !by.Privileged() {
			return apperr.ErrForbidden
		}
		if so.Status != StatusUnderReview {
			return apperr.ErrInvalidTransition.Withf("sub-order %s: approve from %s", so.ID, so.Status)
		}
		return nil
	}, nil)
}

// AdvanceDelivery applies a dispatch update. Only preparing -> out_for_delivery
// and out_for_delivery -> delivered are accepted; delivery settles the vendor.
func (s *Service) AdvanceDelivery(ctx context.Context, by auth.Actor, subOrderID string, to Status) (*SubOrder, error) {
	if !by.Is(auth.RoleDriver, auth.RoleOperator, auth.RoleSystem) {
		return nil, apperr.ErrForbidden
	}
	if to != StatusOutForDelivery && to != StatusDelivered {
		if !to.Valid() {
			return nil, apperr.Validation("unknown status %q", to)
		}
		return nil, apperr.ErrInvalidTransition.Withf("dispatch cannot set %s", to)
	}
	var mutate MutateFunc
	if to == StatusDelivered {
		mutate = s.settle
	}
	return s.transition(ctx, by, subOrderID, to, nil, mutate)
}

// MarkReturned records a return and reverses the vendor settlement if one
// was posted.
func (s *Service) MarkReturned(ctx context.Context, by auth.Actor, subOrderID string) (*SubOrder, error) {
	return s.transition(ctx, by, subOrderID, StatusReturned, func(so *SubOrder) error {
		switch {
		case by.Is(auth.RoleDriver, auth.RoleOperator, auth.RoleSystem):
			return nil
		case by.Role == auth.RoleVendor:
			return ownedByVendor(by, so)
		default:
			return apperr.ErrForbidden
		}
	}, s.reverseSettlement)
}

// settle posts the vendor's net share on delivery: the clearing account is
// debited and the vendor credited, so the pair sums to zero.
func (s *Service) settle(_ context.Context, _ SubOrderTx, so *SubOrder) (*ledger.Transaction, error) {
	net := so.Net()
	if net <= 0 {
		return nil, nil
	}
	t, err := ledger.NewTransaction(so.ID, so.UpdatedAt,
		ledger.Leg{ActorID: ledger.AccountClearing, Amount: -net, Reason: ledger.ReasonCommission},
		ledger.Leg{ActorID: so.VendorID, Amount: net, Reason: ledger.ReasonOrderSettlement},
	)
	if err != nil {
		return nil, err
	}
	so.SettlementTxID = t.ID
	return &t, nil
}

// reverseSettlement mirrors the settlement exactly as it was posted.
func (s *Service) reverseSettlement(ctx context.Context, tx SubOrderTx, so *SubOrder) (*ledger.Transaction, error) {
	if so.SettlementTxID == "" {
		return nil, nil
	}
	orig, err := tx.Transaction(ctx, so.SettlementTxID)
	if err != nil {
		return nil, fmt.Errorf("load settlement %s: %w", so.SettlementTxID, err)
	}
	t, err := ledger.Reverse(orig, so.ID+":return", so.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) transition(
	ctx context.Context,
	by auth.Actor,
	id string,
	to Status,
	guard func(so *SubOrder) error,
	mutate MutateFunc,
) (*SubOrder, error) {
	var (
		from   Status
		posted *ledger.Transaction
	)
	so, err := s.repo.UpdateSubOrder(ctx, id, func(ctx context.Context, tx SubOrderTx, so *SubOrder) (*ledger.Transaction, error) {
		if guard != nil {
			if err := guard(so); err != nil {
				return nil, err
			}
		}
		from = so.Status
		if err := so.apply(to, by.ID, s.now().UTC()); err != nil {
			return nil, err
		}
		if mutate == nil {
			return nil, nil
		}
		t, err := mutate(ctx, tx, so)
		posted = t
		return t, err
	})
	if err != nil {
		return nil, err
	}

	metrics.SubOrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.log.Info("sub-order transitioned",
		zap.String("sub_order", so.ID),
		zap.String("vendor", so.VendorID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", by.ID),
	)
	s.announce(ctx, so, from)
	if posted != nil {
		ledger.Announce(ctx, s.publisher, s.name, *posted)
	}
	return so, nil
}

func (s *Service) announce(ctx context.Context, so *SubOrder, from Status) {
	ev, err := events.New(events.EventSubOrderTransitioned, s.name, so.ID, events.SubOrderTransitionedPayload{
		SubOrderID: so.ID,
		OrderID:    so.OrderID,
		VendorID:   so.VendorID,
		From:       string(from),
		To:         string(so.Status),
		At:         so.UpdatedAt,
	})
	if err != nil {
		s.log.Warn("encode event", zap.Error(err))
		return
	}
	s.publisher.Publish(ctx, events.TopicSubOrders, ev)
}

func ownedByVendor(by auth.Actor, so *SubOrder) error {
	if by.Role != auth.RoleVendor || by.ID != so.VendorID {
		return apperr.ErrForbidden
	}
	return nil
}

func requirePrivileged(by auth.Actor) func(*SubOrder) error {
	return func(*SubOrder) error {
		if !by.Privileged() {
			return apperr.ErrForbidden
		}
		return nil
	}
}
