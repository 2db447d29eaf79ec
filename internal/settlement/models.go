// Package settlement handles vendor withdrawals against their ledger balance
// and the vendor account statement.
package settlement

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

var ErrRequestNotFound = apperr.ErrNotFound.Withf("settlement request not found")

type Request struct {
	ID          string     `json:"id"`
	VendorID    string     `json:"vendorId"`
	Amount      int64      `json:"amount"`
	BankAccount string     `json:"bankAccount"`
	Status      Status     `json:"status"`
	Note        string     `json:"note,omitempty"`
	LedgerTxID  string     `json:"ledgerTxId,omitempty"`
	RequestedAt time.Time  `json:"requestedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Statement is a vendor's account view. Available is what a new withdrawal
// request may ask for.
type Statement struct {
	VendorID        string          `json:"vendorId"`
	Balance         int64           `json:"balance"`
	PendingReserved int64           `json:"pendingReserved"`
	Available       int64           `json:"available"`
	Entries         []ledger.Entry  `json:"entries"`
	Page            pagination.Page `json:"page"`
}

// VendorTx is a unit of work holding the vendor's balance lock.
type VendorTx interface {
	Balance(ctx context.Context) (int64, error)
	PendingTotal(ctx context.Context) (int64, error)
	Get(ctx context.Context, id string) (*Request, error)
	Create(ctx context.Context, r *Request) error
	Update(ctx context.Context, r *Request) error
	Post(ctx context.Context, t ledger.Transaction) error
}

type Repo interface {
	Get(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, vendorID string) ([]Request, error)
	PendingTotal(ctx context.Context, vendorID string) (int64, error)
	WithVendor(ctx context.Context, vendorID string, fn func(tx VendorTx) error) error
}

// StatementCache holds recently built statements per vendor. Implementations
// may drop anything at any time.
type StatementCache interface {
	Get(ctx context.Context, vendorID, page string) (*Statement, bool)
	Put(ctx context.Context, vendorID, page string, st *Statement)
	Invalidate(ctx context.Context, vendorID string)
}

type NopCache struct{}

func (NopCache) Get(context.Context, string, string) (*Statement, bool) { return nil, false }
func (NopCache) Put(context.Context, string, string, *Statement)        {}
func (NopCache) Invalidate(context.Context, string)                     {}
