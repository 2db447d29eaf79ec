// Package kenz is the peer-to-peer marketplace: listings that sell either by
// direct escrow purchase or to the highest bidder, with funds held in escrow
// until release or refund.
package kenz

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
)

type ListingStatus string

const (
	ListingActive   ListingStatus = "active"
	ListingReserved ListingStatus = "reserved"
	ListingSold     ListingStatus = "sold"
)

type DealStatus string

const (
	DealHeld     DealStatus = "held"
	DealReleased DealStatus = "released"
	DealRefunded DealStatus = "refunded"
)

type DealSource string

const (
	SourceEscrowBuy DealSource = "escrow_buy"
	SourceBid       DealSource = "bid"
)

var (
	ErrListingNotFound = apperr.ErrNotFound.Withf("listing not found")
	ErrBidNotFound     = apperr.ErrNotFound.Withf("bid not found")
	ErrDealNotFound    = apperr.ErrNotFound.Withf("escrow deal not found")
	// ErrVersionConflict is returned by SaveListing when the compare-and-swap
	// guard fails.
	ErrVersionConflict = apperr.ErrConflict.Withf("listing version changed")
)

// Listing is a Kenz item. OwnerID is always a plain identifier.
type Listing struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"ownerId"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Price        int64         `json:"price"`
	Status       ListingStatus `json:"status"`
	TopBidID     string        `json:"topBidId,omitempty"`
	TopBidAmount int64         `json:"topBidAmount"`
	BidCount     int           `json:"bidCount"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (l *Listing) Cursor() pagination.Cursor {
	return pagination.Cursor{At: l.CreatedAt, ID: l.ID}
}

type Bid struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listingId"`
	BidderID  string    `json:"bidderId"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

type Deal struct {
	ID        string     `json:"id"`
	ListingID string     `json:"listingId"`
	BuyerID   string     `json:"buyerId"`
	SellerID  string     `json:"sellerId"`
	Amount    int64      `json:"amount"`
	Fee       int64      `json:"fee"`
	Source    DealSource `json:"source"`
	BidID     string     `json:"bidId,omitempty"`
	Status    DealStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	SettledAt *time.Time `json:"settledAt,omitempty"`
}

// ListingTx is a unit of work scoped to one locked listing. Writes become
// visible only if the enclosing function returns nil.
type ListingTx interface {
	Listing() Listing
	Bid(ctx context.Context, id string) (*Bid, error)
	Deal(ctx context.Context, id string) (*Deal, error)
	HeldDeal(ctx context.Context) (*Deal, error)
	// LockBalance serializes on the actor's balance aggregate and returns the
	// spendable amount: ledger balance minus pending settlement reservations.
	LockBalance(ctx context.Context, actorID string) (int64, error)
	InsertBid(ctx context.Context, b *Bid) error
	CreateDeal(ctx context.Context, d *Deal) error
	UpdateDeal(ctx context.Context, d *Deal) error
	// SaveListing stores l only if the stored version still equals
	// expectedVersion, bumping it; ErrVersionConflict otherwise.
	SaveListing(ctx context.Context, l *Listing, expectedVersion int64) error
	Post(ctx context.Context, t ledger.Transaction) error
}

type Repo interface {
	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, id string) (*Listing, error)
	ListListings(ctx context.Context, status ListingStatus, p pagination.Params) ([]Listing, pagination.Page, error)
	ListBids(ctx context.Context, listingID string) ([]Bid, error)
	GetDeal(ctx context.Context, id string) (*Deal, error)
	HeldDealsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Deal, error)
	WithListing(ctx context.Context, listingID string, fn func(tx ListingTx) error) error
}
