package kenz

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	repo      Repo
	feeRate   decimal.Decimal
	publisher events.Publisher
	log       *zap.Logger
	name      string
	now       func() time.Time
}

func NewService(repo Repo, escrowFeeRate decimal.Decimal, pub events.Publisher, log *zap.Logger, serviceName string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, feeRate: escrowFeeRate, publisher: pub, log: log, name: serviceName, now: time.Now}
}

func (s *Service) CreateListing(ctx context.Context, by auth.Actor, title, description string, price int64) (*Listing, error) {
	if !by.Is(auth.RoleBuyer, auth.RoleVendor) {
		return nil, apperr.ErrForbidden
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if price <= 0 {
		return nil, apperr.Validation("price must be positive")
	}
	now := s.now().UTC()
	l := &Listing{
		ID:          uuid.NewString(),
		OwnerID:     by.ID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Price:       price,
		Status:      ListingActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateListing(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) GetListing(ctx context.Context, id string) (*Listing, error) {
	return s.repo.GetListing(ctx, id)
}

func (s *Service) ListListings(ctx context.Context, status ListingStatus, p pagination.Params) ([]Listing, pagination.Page, error) {
	switch status {
	case "", ListingActive, ListingReserved, ListingSold:
	default:
		return nil, pagination.Page{}, apperr.Validation("unknown status %q", status)
	}
	return s.repo.ListListings(ctx, status, p.Normalize())
}

// ListBids returns a listing's bids, highest first.
func (s *Service) ListBids(ctx context.Context, listingID string) ([]Bid, error) {
	if _, err := s.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.repo.ListBids(ctx, listingID)
}

func (s *Service) GetDeal(ctx context.Context, by auth.Actor, id string) (*Deal, error) {
	d, err := s.repo.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if !by.Privileged() && by.ID != d.BuyerID && by.ID != d.SellerID {
		return nil, apperr.ErrForbidden
	}
	return d, nil
}

// PlaceBid records a bid strictly above the current highest one. No funds
// move until the owner accepts.
func (s *Service) PlaceBid(ctx context.Context, by auth.Actor, listingID string, amount int64) (*Bid, error) {
	if !by.Is(auth.RoleBuyer, auth.RoleVendor) {
		return nil, apperr.ErrForbidden
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}

	var bid *Bid
	err := s.repo.WithListing(ctx, listingID, func(tx ListingTx) error {
		l := tx.Listing()
		if l.OwnerID == by.ID {
			return apperr.ErrForbidden.Withf("cannot bid on own listing")
		}
		if l.Status != ListingActive {
			return apperr.ErrListingUnavailable
		}
		if amount <= l.TopBidAmount {
			return apperr.ErrBidTooLow.Withf("bid %d must exceed %d", amount, l.TopBidAmount)
		}
		now := s.now().UTC()
		b := &Bid{ID: uuid.NewString(), ListingID: l.ID, BidderID: by.ID, Amount: amount, CreatedAt: now}
		if err := tx.InsertBid(ctx, b); err != nil {
			return err
		}
		expected := l.Version
		l.TopBidID, l.TopBidAmount = b.ID, b.Amount
		l.BidCount++
		l.UpdatedAt = now
		if err := tx.SaveListing(ctx, &l, expected); err != nil {
			return err
		}
		bid = b
		return nil
	})
	if err != nil {
		metrics.BidOutcomes.WithLabelValues("place", outcome(err)).Inc()
		return nil, err
	}
	metrics.BidOutcomes.WithLabelValues("place", "ok").Inc()
	s.publish(ctx, events.EventBidPlaced, listingID, events.BidPlacedPayload{
		ListingID: listingID, BidID: bid.ID, BidderID: bid.BidderID, Amount: bid.Amount,
	})
	return bid, nil
}

// AcceptBid turns the current highest bid into a held escrow deal. The bid is
// re-validated under the listing lock and the listing write is guarded by its
// version; a superseded bid yields StaleBid.
func (s *Service) AcceptBid(ctx context.Context, by auth.Actor, listingID, bidID string) (*Deal, error) {
	if bidID == "" {
		return nil, apperr.Validation("bidId is required")
	}
	var (
		deal *Deal
		hold ledger.Transaction
	)
	err := s.repo.WithListing(ctx, listingID, func(tx ListingTx) error {
		l := tx.Listing()
		if l.OwnerID != by.ID {
			return apperr.ErrForbidden
		}
		if l.Status != ListingActive {
			return apperr.ErrListingUnavailable
		}
		b, err := tx.Bid(ctx, bidID)
		if err != nil {
			return err
		}
		if b.ListingID != l.ID {
			return ErrBidNotFound
		}
		if l.TopBidID != b.ID {
			return apperr.ErrStaleBid.Withf("bid %s superseded by %s", b.ID, l.TopBidID)
		}
		d, t, err := s.capture(ctx, tx, &l, b.BidderID, b.Amount, SourceBid, b.ID)
		if err != nil {
			return err
		}
		deal, hold = d, t
		return nil
	})
	if err != nil {
		metrics.BidOutcomes.WithLabelValues("accept", outcome(err)).Inc()
		return nil, err
	}
	metrics.BidOutcomes.WithLabelValues("accept", "ok").Inc()
	s.afterHold(ctx, deal, hold)
	return deal, nil
}

// BuyWithEscrow purchases an active listing directly, holding amount from the
// buyer's balance.
func (s *Service) BuyWithEscrow(ctx context.Context, by auth.Actor, listingID string, amount int64) (*Deal, error) {
	if !by.Is(auth.RoleBuyer, auth.RoleVendor) {
		return nil, apperr.ErrForbidden
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	var (
		deal *Deal
		hold ledger.Transaction
	)
	err := s.repo.WithListing(ctx, listingID, func(tx ListingTx) error {
		l := tx.Listing()
		if l.OwnerID == by.ID {
			return apperr.ErrForbidden.Withf("cannot buy own listing")
		}
		if l.Status != ListingActive {
			return apperr.ErrListingUnavailable
		}
		if amount < l.Price {
			return apperr.Validation("amount %d is below the asking price %d", amount, l.Price)
		}
		d, t, err := s.capture(ctx, tx, &l, by.ID, amount, SourceEscrowBuy, "")
		if err != nil {
			return err
		}
		deal, hold = d, t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterHold(ctx, deal, hold)
	return deal, nil
}

// capture moves amount from buyer into the escrow account, opens a held deal
// and reserves the listing. Runs inside the listing transaction.
func (s *Service) capture(ctx context.Context, tx ListingTx, l *Listing, buyerID string, amount int64, src DealSource, bidID string) (*Deal, ledger.Transaction, error) {
	available, err := tx.LockBalance(ctx, buyerID)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}
	if available < amount {
		return nil, ledger.Transaction{}, apperr.ErrInsufficientBalance.Withf("available %d < %d", available, amount)
	}

	now := s.now().UTC()
	d := &Deal{
		ID:        uuid.NewString(),
		ListingID: l.ID,
		BuyerID:   buyerID,
		SellerID:  l.OwnerID,
		Amount:    amount,
		Fee:       s.fee(amount),
		Source:    src,
		BidID:     bidID,
		Status:    DealHeld,
		CreatedAt: now,
	}
	t, err := ledger.NewTransaction(d.ID, now,
		ledger.Leg{ActorID: buyerID, Amount: -amount, Reason: ledger.ReasonEscrowHold},
		ledger.Leg{ActorID: ledger.AccountEscrow, Amount: amount, Reason: ledger.ReasonEscrowHold},
	)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}
	if err := tx.Post(ctx, t); err != nil {
		return nil, ledger.Transaction{}, err
	}
	if err := tx.CreateDeal(ctx, d); err != nil {
		return nil, ledger.Transaction{}, err
	}
	expected := l.Version
	l.Status = ListingReserved
	l.UpdatedAt = now
	if err := tx.SaveListing(ctx, l, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) && src == SourceBid {
			return nil, ledger.Transaction{}, apperr.ErrStaleBid.Wrap(err)
		}
		return nil, ledger.Transaction{}, err
	}
	return d, t, nil
}

// MarkSold closes a listing. A reserved listing needs a held escrow deal; an
// active one is closed without escrow for off-platform settlement.
func (s *Service) MarkSold(ctx context.Context, by auth.Actor, listingID string) (*Listing, error) {
	var (
		sold   Listing
		dealID string
	)
	err := s.repo.WithListing(ctx, listingID, func(tx ListingTx) error {
		l := tx.Listing()
		if l.OwnerID != by.ID {
			return apperr.ErrForbidden
		}
		switch l.Status {
		case ListingActive:
		case ListingReserved:
			d, err := tx.HeldDeal(ctx)
			if err != nil {
				if errors.Is(err, ErrDealNotFound) {
					return apperr.ErrInvalidTransition.Withf("listing %s has no held escrow deal", l.ID)
				}
				return err
			}
			dealID = d.ID
		default:
			return apperr.ErrInvalidTransition.Withf("listing %s is already %s", l.ID, l.Status)
		}
		expected := l.Version
		l.Status = ListingSold
		l.UpdatedAt = s.now().UTC()
		if err := tx.SaveListing(ctx, &l, expected); err != nil {
			return err
		}
		sold = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dealID == "" {
		s.log.Info("listing sold without escrow", zap.String("listing", listingID))
	}
	s.publish(ctx, events.EventListingSold, listingID, events.ListingSoldPayload{
		ListingID: listingID, OwnerID: sold.OwnerID, DealID: dealID,
	})
	return &sold, nil
}

// ReleaseEscrow pays the seller the held amount minus the platform fee. The
// buyer confirms receipt; operators and the auto-release policy may also release.
func (s *Service) ReleaseEscrow(ctx context.Context, by auth.Actor, dealID string) (*Deal, error) {
	return s.settleDeal(ctx, dealID, DealReleased, func(d *Deal) error {
		if by.Privileged() || by.ID == d.BuyerID {
			return nil
		}
		return apperr.ErrForbidden
	})
}

// RefundEscrow returns the full held amount to the buyer. The seller may back
// out; operators resolve disputes.
func (s *Service) RefundEscrow(ctx context.Context, by auth.Actor, dealID string) (*Deal, error) {
	return s.settleDeal(ctx, dealID, DealRefunded, func(d *Deal) error {
		if by.Privileged() || by.ID == d.SellerID {
			return nil
		}
		return apperr.ErrForbidden
	})
}

func (s *Service) settleDeal(ctx context.Context, dealID string, to DealStatus, authorize func(*Deal) error) (*Deal, error) {
	head, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	var (
		out *Deal
		t   ledger.Transaction
	)
	err = s.repo.WithListing(ctx, head.ListingID, func(tx ListingTx) error {
		d, err := tx.Deal(ctx, dealID)
		if err != nil {
			return err
		}
		if err := authorize(d); err != nil {
			return err
		}
		if d.Status != DealHeld {
			return apperr.ErrInvalidTransition.Withf("escrow deal %s is %s", d.ID, d.Status)
		}
		now := s.now().UTC()
		if to == DealReleased {
			t, err = releaseTx(d, now)
		} else {
			t, err = refundTx(d, now)
		}
		if err != nil {
			return err
		}
		if err := tx.Post(ctx, t); err != nil {
			return err
		}
		d.Status = to
		d.SettledAt = &now
		if err := tx.UpdateDeal(ctx, d); err != nil {
			return err
		}

		l := tx.Listing()
		expected := l.Version
		switch {
		case to == DealReleased && l.Status == ListingReserved:
			l.Status = ListingSold
		case to == DealRefunded && l.Status == ListingReserved:
			l.Status = ListingActive
		default:
			out = d
			return nil
		}
		l.UpdatedAt = now
		if err := tx.SaveListing(ctx, &l, expected); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EscrowDeals.WithLabelValues(string(to)).Inc()
	evType := events.EventEscrowReleased
	if to == DealRefunded {
		evType = events.EventEscrowRefunded
	}
	s.log.Info("escrow settled", zap.String("deal", out.ID), zap.String("status", string(to)), zap.Int64("amount", out.Amount))
	s.publish(ctx, evType, out.ListingID, dealPayload(out))
	ledger.Announce(ctx, s.publisher, s.name, t)
	return out, nil
}

// AutoRelease releases held deals older than window on behalf of the platform.
func (s *Service) AutoRelease(ctx context.Context, window time.Duration, batch int) (int, error) {
	cutoff := s.now().UTC().Add(-window)
	deals, err := s.repo.HeldDealsBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, d := range deals {
		if _, err := s.ReleaseEscrow(ctx, auth.System, d.ID); err != nil {
			if errors.Is(err, apperr.ErrInvalidTransition) {
				continue
			}
			s.log.Warn("auto-release failed", zap.String("deal", d.ID), zap.Error(err))
			continue
		}
		released++
	}
	return released, nil
}

func releaseTx(d *Deal, at time.Time) (ledger.Transaction, error) {
	legs := []ledger.Leg{
		{ActorID: ledger.AccountEscrow, Amount: -d.Amount, Reason: ledger.ReasonEscrowRelease},
		{ActorID: d.SellerID, Amount: d.Amount - d.Fee, Reason: ledger.ReasonEscrowRelease},
	}
	if d.Fee > 0 {
		legs = append(legs, ledger.Leg{ActorID: ledger.AccountFees, Amount: d.Fee, Reason: ledger.ReasonCommission})
	}
	return ledger.NewTransaction(d.ID, at, legs...)
}

func refundTx(d *Deal, at time.Time) (ledger.Transaction, error) {
	return ledger.NewTransaction(d.ID, at,
		ledger.Leg{ActorID: ledger.AccountEscrow, Amount: -d.Amount, Reason: ledger.ReasonEscrowRefund},
		ledger.Leg{ActorID: d.BuyerID, Amount: d.Amount, Reason: ledger.ReasonEscrowRefund},
	)
}

func (s *Service) fee(amount int64) int64 {
	f := decimal.NewFromInt(amount).Mul(s.feeRate).Round(0).IntPart()
	if f < 0 {
		return 0
	}
	if f >= amount {
		return amount - 1
	}
	return f
}

func (s *Service) afterHold(ctx context.Context, d *Deal, t ledger.Transaction) {
	metrics.EscrowDeals.WithLabelValues(string(DealHeld)).Inc()
	s.log.Info("escrow held",
		zap.String("deal", d.ID),
		zap.String("listing", d.ListingID),
		zap.String("buyer", d.BuyerID),
		zap.Int64("amount", d.Amount),
		zap.String("source", string(d.Source)),
	)
	s.publish(ctx, events.EventEscrowHeld, d.ListingID, dealPayload(d))
	ledger.Announce(ctx, s.publisher, s.name, t)
}

func (s *Service) publish(ctx context.Context, eventType, listingID string, payload any) {
	ev, err := events.New(eventType, s.name, listingID, payload)
	if err != nil {
		s.log.Warn("encode event", zap.Error(err))
		return
	}
	s.publisher.Publish(ctx, events.TopicKenz, ev)
}

func dealPayload(d *Deal) events.EscrowPayload {
	return events.EscrowPayload{
		DealID:    d.ID,
		ListingID: d.ListingID,
		BuyerID:   d.BuyerID,
		SellerID:  d.SellerID,
		Amount:    d.Amount,
		Fee:       d.Fee,
		Status:    string(d.Status),
	}
}

func outcome(err error) string {
	return strings.ToLower(apperr.From(err).Code)
}
