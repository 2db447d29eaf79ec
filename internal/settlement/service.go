package settlement

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMinimum is the smallest withdrawal a vendor may request.
const DefaultMinimum int64 = 30000

type Service struct {
	repo      Repo
	ledger    ledger.Repo
	cache     StatementCache
	minimum   int64
	publisher events.Publisher
	log       *zap.Logger
	name      string
	now       func() time.Time
}

type Options struct {
	Minimum int64
	Cache   StatementCache
}

func NewService(repo Repo, ledgerRepo ledger.Repo, pub events.Publisher, log *zap.Logger, serviceName string, opts Options) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Minimum <= 0 {
		opts.Minimum = DefaultMinimum
	}
	if opts.Cache == nil {
		opts.Cache = NopCache{}
	}
	return &Service{
		repo:      repo,
		ledger:    ledgerRepo,
		cache:     opts.Cache,
		minimum:   opts.Minimum,
		publisher: pub,
		log:       log,
		name:      serviceName,
		now:       time.Now,
	}
}

// RequestSettlement reserves amount from the vendor's available balance.
// Requests for one vendor are serialized so two of them can never reserve the
// same money.
func (s *Service) RequestSettlement(ctx context.Context, by auth.Actor, amount int64, bankAccount string) (*Request, error) {
	if by.Role != auth.RoleVendor {
		return nil, apperr.ErrForbidden
	}
	bankAccount = strings.TrimSpace(bankAccount)
	if bankAccount == "" {
		return nil, apperr.Validation("bankAccount is required")
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	if amount < s.minimum {
		return nil, apperr.ErrBelowMinimum.Withf("amount %d is below minimum %d", amount, s.minimum)
	}

	var req *Request
	err := s.repo.WithVendor(ctx, by.ID, func(tx VendorTx) error {
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		pending, err := tx.PendingTotal(ctx)
		if err != nil {
			return err
		}
		if available := balance - pending; amount > available {
			return apperr.ErrInsufficientBalance.Withf("amount %d exceeds available %d", amount, available)
		}
		r := &Request{
			ID:          uuid.NewString(),
			VendorID:    by.ID,
			Amount:      amount,
			BankAccount: bankAccount,
			Status:      StatusPending,
			RequestedAt: s.now().UTC(),
		}
		if err := tx.Create(ctx, r); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Settlements.WithLabelValues(string(StatusPending)).Inc()
	s.log.Info("settlement requested", zap.String("request", req.ID), zap.String("vendor", req.VendorID), zap.Int64("amount", req.Amount))
	s.cache.Invalidate(ctx, req.VendorID)
	s.publish(ctx, events.EventSettlementRequested, req)
	return req, nil
}

// ProcessSettlement closes a pending request. Completing it debits the vendor
// and credits the payouts account; rejecting it only frees the reservation.
func (s *Service) ProcessSettlement(ctx context.Context, by auth.Actor, id string, outcome Status, note string) (*Request, error) {
	if !by.Privileged() {
		return nil, apperr.ErrForbidden
	}
	if outcome != StatusCompleted && outcome != StatusRejected {
		return nil, apperr.Validation("outcome must be completed or rejected")
	}
	head, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		out    *Request
		posted *ledger.Transaction
	)
	err = s.repo.WithVendor(ctx, head.VendorID, func(tx VendorTx) error {
		r, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return apperr.ErrInvalidTransition.Withf("settlement %s is %s", r.ID, r.Status)
		}
		now := s.now().UTC()
		if outcome == StatusCompleted {
			balance, err := tx.Balance(ctx)
			if err != nil {
				return err
			}
			if balance < r.Amount {
				return apperr.ErrInsufficientBalance.Withf("vendor balance %d below request %d", balance, r.Amount)
			}
			t, err := ledger.NewTransaction(r.ID, now,
				ledger.Leg{ActorID: r.VendorID, Amount: -r.Amount, Reason: ledger.ReasonWithdrawal},
				ledger.Leg{ActorID: ledger.AccountPayouts, Amount: r.Amount, Reason: ledger.ReasonWithdrawal},
			)
			if err != nil {
				return err
			}
			if err := tx.Post(ctx, t); err != nil {
				return err
			}
			r.LedgerTxID = t.ID
			posted = &t
		}
		r.Status = outcome
		r.Note = strings.TrimSpace(note)
		r.ProcessedAt = &now
		if err := tx.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Settlements.WithLabelValues(string(outcome)).Inc()
	s.log.Info("settlement processed",
		zap.String("request", out.ID),
		zap.String("vendor", out.VendorID),
		zap.String("outcome", string(outcome)),
		zap.String("operator", by.ID),
	)
	s.cache.Invalidate(ctx, out.VendorID)
	s.publish(ctx, events.EventSettlementProcessed, out)
	if posted != nil {
		ledger.Announce(ctx, s.publisher, s.name, *posted)
	}
	return out, nil
}

// GetStatement returns balance, reserved and available amounts with a page of
// ledger entries, newest first.
func (s *Service) GetStatement(ctx context.Context, by auth.Actor, vendorID string, p pagination.Params) (*Statement, error) {
	vendorID, err := s.scope(by, vendorID)
	if err != nil {
		return nil, err
	}
	p = p.Normalize()
	if _, _, err := pagination.Decode(p.Cursor); err != nil {
		return nil, err
	}
	key := p.Cursor + ":" + strconv.Itoa(p.Limit)
	if st, ok := s.cache.Get(ctx, vendorID, key); ok {
		return st, nil
	}

	balance, err := s.ledger.Balance(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.PendingTotal(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	entries, page, err := s.ledger.Entries(ctx, vendorID, p)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	st := &Statement{
		VendorID:        vendorID,
		Balance:         balance,
		PendingReserved: pending,
		Available:       balance - pending,
		Entries:         entries,
		Page:            page,
	}
	s.cache.Put(ctx, vendorID, key, st)
	return st, nil
}

func (s *Service) ListSettlements(ctx context.Context, by auth.Actor, vendorID string) ([]Request, error) {
	vendorID, err := s.scope(by, vendorID)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, vendorID)
}

func (s *Service) scope(by auth.Actor, vendorID string) (string, error) {
	switch {
	case by.Role == auth.RoleVendor:
		return by.ID, nil
	case by.Privileged():
		if vendorID == "" {
			return "", apperr.Validation("vendorId is required")
		}
		return vendorID, nil
	default:
		return "", apperr.ErrForbidden
	}
}

func (s *Service) publish(ctx context.Context, eventType string, r *Request) {
	ev, err := events.New(eventType, s.name, r.ID, events.SettlementPayload{
		RequestID: r.ID,
		VendorID:  r.VendorID,
		Amount:    r.Amount,
		Status:    string(r.Status),
	})
	if err != nil {
		s.log.Warn("encode event", zap.Error(err))
		return
	}
	s.publisher.Publish(ctx, events.TopicSettlements, ev)
}
