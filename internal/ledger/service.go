package ledger

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/metrics"
	"go.uber.org/zap"
)

// Service exposes wallet funding and balance reads. Business postings are
// written by the engines inside their own transactions.
type Service struct {
	repo      Repo
	publisher events.Publisher
	log       *zap.Logger
	name      string
	now       func() time.Time
}

func NewService(repo Repo, pub events.Publisher, log *zap.Logger, serviceName string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, publisher: pub, log: log, name: serviceName, now: time.Now}
}

// Deposit credits actorID with money that entered the platform through the
// payment gateway. Operator only.
func (s *Service) Deposit(ctx context.Context, by auth.Actor, actorID string, amount int64) (Transaction, error) {
	if !by.Privileged() {
		return Transaction{}, apperr.ErrForbidden
	}
	if actorID == "" {
		return Transaction{}, apperr.Validation("actorId is required")
	}
	if amount <= 0 {
		return Transaction{}, apperr.Validation("amount must be positive")
	}
	t, err := NewTransaction("deposit:"+actorID, s.now().UTC(),
		Leg{ActorID: AccountGateway, Amount: -amount, Reason: ReasonDeposit},
		Leg{ActorID: actorID, Amount: amount, Reason: ReasonDeposit},
	)
	if err != nil {
		return Transaction{}, err
	}
	if err := s.repo.Post(ctx, t); err != nil {
		return Transaction{}, err
	}
	s.log.Info("wallet deposit", zap.String("actor", actorID), zap.Int64("amount", amount), zap.String("tx", t.ID))
	Announce(ctx, s.publisher, s.name, t)
	return t, nil
}

func (s *Service) Balance(ctx context.Context, actorID string) (int64, error) {
	return s.repo.Balance(ctx, actorID)
}

// Announce publishes a LedgerPosted event for a committed transaction and
// records the posting metrics.
func Announce(ctx context.Context, pub events.Publisher, producer string, t Transaction) {
	for _, e := range t.Entries {
		metrics.LedgerEntries.WithLabelValues(string(e.Reason)).Inc()
	}
	ev, err := events.New(events.EventLedgerPosted, producer, t.ReferenceID, events.LedgerPostedPayload{
		TransactionID: t.ID,
		ReferenceID:   t.ReferenceID,
		Actors:        t.Actors(),
		Reasons:       t.Reasons(),
	})
	if err != nil {
		return
	}
	pub.Publish(ctx, events.TopicLedger, ev)
}
