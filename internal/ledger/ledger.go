// Package ledger is the append-only, double-entry record of every
// balance-affecting event. Balances are never stored; they are the sum of an
// actor's entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/google/uuid"
)

type Reason string

const (
	ReasonOrderSettlement Reason = "order_settlement"
	ReasonCommission      Reason = "commission"
	ReasonEscrowHold      Reason = "escrow_hold"
	ReasonEscrowRelease   Reason = "escrow_release"
	ReasonEscrowRefund    Reason = "escrow_refund"
	ReasonWithdrawal      Reason = "withdrawal"
	ReasonDeposit         Reason = "deposit"
)

// Platform accounts. Each is an ordinary ledger actor.
const (
	AccountClearing = "platform:clearing" // buyer payments awaiting vendor settlement
	AccountEscrow   = "platform:escrow"   // funds held for escrow deals
	AccountFees     = "platform:fees"     // escrow fees earned
	AccountPayouts  = "platform:payouts"  // withdrawals sent to vendor banks
	AccountGateway  = "platform:gateway"  // external money entering wallets
)

var ErrUnbalanced = errors.New("ledger transaction does not sum to zero")

const platformPrefix = "platform:"

func IsPlatform(actorID string) bool { return strings.HasPrefix(actorID, platformPrefix) }

type Entry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	ActorID       string    `json:"actorId"`
	Amount        int64     `json:"amount"`
	Reason        Reason    `json:"reason"`
	ReferenceID   string    `json:"referenceId"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (e Entry) Cursor() pagination.Cursor {
	return pagination.Cursor{At: e.CreatedAt, ID: e.ID}
}

// Leg is one side of a transaction before ids are assigned.
type Leg struct {
	ActorID string
	Amount  int64
	Reason  Reason
}

// Transaction groups the entries written by one logical operation.
type Transaction struct {
	ID          string  `json:"id"`
	ReferenceID string  `json:"referenceId"`
	Entries     []Entry `json:"entries"`
}

// NewTransaction assigns ids and timestamps to legs and rejects any set that
// does not sum to zero.
func NewTransaction(referenceID string, at time.Time, legs ...Leg) (Transaction, error) {
	if len(legs) < 2 {
		return Transaction{}, fmt.Errorf("%w: need at least two legs", ErrUnbalanced)
	}
	txID := uuid.NewString()
	t := Transaction{ID: txID, ReferenceID: referenceID, Entries: make([]Entry, 0, len(legs))}
	var sum int64
	for _, l := range legs {
		if l.ActorID == "" || l.Amount == 0 {
			return Transaction{}, fmt.Errorf("invalid ledger leg %+v", l)
		}
		sum += l.Amount
		t.Entries = append(t.Entries, Entry{
			ID:            uuid.NewString(),
			TransactionID: txID,
			ActorID:       l.ActorID,
			Amount:        l.Amount,
			Reason:        l.Reason,
			ReferenceID:   referenceID,
			CreatedAt:     at,
		})
	}
	if sum != 0 {
		return Transaction{}, fmt.Errorf("%w: sum=%d", ErrUnbalanced, sum)
	}
	return t, nil
}

// Reverse builds the mirror transaction of t, used when a settled order comes back.
func Reverse(t Transaction, referenceID string, at time.Time) (Transaction, error) {
	legs := make([]Leg, 0, len(t.Entries))
	for _, e := range t.Entries {
		legs = append(legs, Leg{ActorID: e.ActorID, Amount: -e.Amount, Reason: e.Reason})
	}
	return NewTransaction(referenceID, at, legs...)
}

func (t Transaction) Sum() int64 {
	var s int64
	for _, e := range t.Entries {
		s += e.Amount
	}
	return s
}

func (t Transaction) Actors() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range t.Entries {
		if !seen[e.ActorID] {
			seen[e.ActorID] = true
			out = append(out, e.ActorID)
		}
	}
	return out
}

// Holders returns the non-platform actors of t in lock order.
func (t Transaction) Holders() []string {
	var out []string
	for _, a := range t.Actors() {
		if !IsPlatform(a) {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

func (t Transaction) Reasons() []string {
	seen := map[Reason]bool{}
	var out []string
	for _, e := range t.Entries {
		if !seen[e.Reason] {
			seen[e.Reason] = true
			out = append(out, string(e.Reason))
		}
	}
	return out
}

// Repo is the durable ledger store.
type Repo interface {
	Post(ctx context.Context, t Transaction) error
	Balance(ctx context.Context, actorID string) (int64, error)
	Entries(ctx context.Context, actorID string, p pagination.Params) ([]Entry, pagination.Page, error)
	Transaction(ctx context.Context, id string) (Transaction, error)
}
