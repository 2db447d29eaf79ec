package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/jackc/pgx/v5"
)

type KenzRepo struct{ s *Store }

const listingCols = `id, owner_id, title, description, price, status, top_bid_id, top_bid_amount,
	bid_count, version, created_at, updated_at`

func scanListing(row pgx.Row) (*kenz.Listing, error) {
	var (
		l      kenz.Listing
		status string
	)
	if err := row.Scan(&l.ID, &l.OwnerID, &l.Title, &l.Description, &l.Price, &status, &l.TopBidID,
		&l.TopBidAmount, &l.BidCount, &l.Version, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Status = kenz.ListingStatus(status)
	return &l, nil
}

const dealCols = `id, listing_id, buyer_id, seller_id, amount, fee, source, bid_id, status, created_at, settled_at`

func scanDeal(row pgx.Row) (*kenz.Deal, error) {
	var (
		d              kenz.Deal
		source, status string
	)
	if err := row.Scan(&d.ID, &d.ListingID, &d.BuyerID, &d.SellerID, &d.Amount, &d.Fee, &source,
		&d.BidID, &status, &d.CreatedAt, &d.SettledAt); err != nil {
		return nil, err
	}
	d.Source, d.Status = kenz.DealSource(source), kenz.DealStatus(status)
	return &d, nil
}

func (r *KenzRepo) CreateListing(ctx context.Context, l *kenz.Listing) error {
	_, err := r.s.pool.Exec(ctx, `
		INSERT INTO kenz_listings(id, owner_id, title, description, price, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		l.ID, l.OwnerID, l.Title, l.Description, l.Price, string(l.Status), l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *KenzRepo) GetListing(ctx context.Context, id string) (*kenz.Listing, error) {
	l, err := scanListing(r.s.pool.QueryRow(ctx, `SELECT `+listingCols+` FROM kenz_listings WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kenz.ErrListingNotFound
	}
	return l, err
}

func (r *KenzRepo) ListListings(ctx context.Context, status kenz.ListingStatus, p pagination.Params) ([]kenz.Listing, pagination.Page, error) {
	p = p.Normalize()
	at, cid, err := keyset(p)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	rows, err := r.s.pool.Query(ctx, `
		SELECT `+listingCols+`
		FROM kenz_listings
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, string(status), at, cid, p.Limit+1)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	defer rows.Close()
	var out []kenz.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, pagination.Page{}, err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, pagination.Page{}, err
	}
	items, page := pagination.Slice(out, p.Limit, func(l kenz.Listing) pagination.Cursor { return l.Cursor() })
	return items, page, nil
}

func (r *KenzRepo) ListBids(ctx context.Context, listingID string) ([]kenz.Bid, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT id, listing_id, bidder_id, amount, created_at
		FROM kenz_bids WHERE listing_id=$1 ORDER BY amount DESC, created_at`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []kenz.Bid{}
	for rows.Next() {
		var b kenz.Bid
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *KenzRepo) GetDeal(ctx context.Context, id string) (*kenz.Deal, error) {
	d, err := scanDeal(r.s.pool.QueryRow(ctx, `SELECT `+dealCols+` FROM kenz_deals WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kenz.ErrDealNotFound
	}
	return d, err
}

func (r *KenzRepo) HeldDealsBefore(ctx context.Context, cutoff time.Time, limit int) ([]kenz.Deal, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT `+dealCols+` FROM kenz_deals
		WHERE status='held' AND created_at < $1
		ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []kenz.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// WithListing locks the listing row and runs fn; actor balances fn touches are
// locked after the row.
func (r *KenzRepo) WithListing(ctx context.Context, listingID string, fn func(tx kenz.ListingTx) error) error {
	return r.s.inTx(ctx, func(tx pgx.Tx) error {
		l, err := scanListing(tx.QueryRow(ctx, `SELECT `+listingCols+` FROM kenz_listings WHERE id=$1 FOR UPDATE`, listingID))
		if errors.Is(err, pgx.ErrNoRows) {
			return kenz.ErrListingNotFound
		}
		if err != nil {
			return err
		}
		return fn(&listingTx{tx: tx, listing: *l, locked: map[string]bool{}})
	})
}

type listingTx struct {
	tx      pgx.Tx
	listing kenz.Listing
	locked  map[string]bool
}

func (t *listingTx) Listing() kenz.Listing { return t.listing }

func (t *listingTx) Bid(ctx context.Context, id string) (*kenz.Bid, error) {
	var b kenz.Bid
	err := t.tx.QueryRow(ctx, `
		SELECT id, listing_id, bidder_id, amount, created_at FROM kenz_bids WHERE id=$1 AND listing_id=$2`,
		id, t.listing.ID).Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kenz.ErrBidNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *listingTx) Deal(ctx context.Context, id string) (*kenz.Deal, error) {
	d, err := scanDeal(t.tx.QueryRow(ctx, `
		SELECT `+dealCols+` FROM kenz_deals WHERE id=$1 AND listing_id=$2 FOR UPDATE`, id, t.listing.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kenz.ErrDealNotFound
	}
	return d, err
}

func (t *listingTx) HeldDeal(ctx context.Context) (*kenz.Deal, error) {
	d, err := scanDeal(t.tx.QueryRow(ctx, `
		SELECT `+dealCols+` FROM kenz_deals WHERE listing_id=$1 AND status='held' FOR UPDATE`, t.listing.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kenz.ErrDealNotFound
	}
	return d, err
}

func (t *listingTx) LockBalance(ctx context.Context, actorID string) (int64, error) {
	if !t.locked[actorID] {
		if err := lockActor(ctx, t.tx, actorID); err != nil {
			return 0, err
		}
		t.locked[actorID] = true
	}
	bal, err := balanceOf(ctx, t.tx, actorID)
	if err != nil {
		return 0, err
	}
	pending, err := pendingTotal(ctx, t.tx, actorID)
	if err != nil {
		return 0, err
	}
	return bal - pending, nil
}

func (t *listingTx) InsertBid(ctx context.Context, b *kenz.Bid) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO kenz_bids(id, listing_id, bidder_id, amount, created_at) VALUES ($1,$2,$3,$4,$5)`,
		b.ID, b.ListingID, b.BidderID, b.Amount, b.CreatedAt)
	return err
}

func (t *listingTx) CreateDeal(ctx context.Context, d *kenz.Deal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO kenz_deals(id, listing_id, buyer_id, seller_id, amount, fee, source, bid_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.ListingID, d.BuyerID, d.SellerID, d.Amount, d.Fee, string(d.Source), d.BidID, string(d.Status), d.CreatedAt)
	if isUniqueViolation(err) {
		return kenz.ErrVersionConflict
	}
	return err
}

func (t *listingTx) UpdateDeal(ctx context.Context, d *kenz.Deal) error {
	ct, err := t.tx.Exec(ctx, `UPDATE kenz_deals SET status=$2, settled_at=$3 WHERE id=$1`,
		d.ID, string(d.Status), d.SettledAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return kenz.ErrDealNotFound
	}
	return nil
}

// SaveListing is a compare-and-swap on version; the row is already locked, so
// a miss means the caller worked from a stale copy.
func (t *listingTx) SaveListing(ctx context.Context, l *kenz.Listing, expectedVersion int64) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE kenz_listings
		SET status=$3, top_bid_id=$4, top_bid_amount=$5, bid_count=$6, updated_at=$7, version=version+1
		WHERE id=$1 AND version=$2`,
		l.ID, expectedVersion, string(l.Status), l.TopBidID, l.TopBidAmount, l.BidCount, l.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return kenz.ErrVersionConflict
	}
	l.Version = expectedVersion + 1
	t.listing = *l
	return nil
}

func (t *listingTx) Post(ctx context.Context, tr ledger.Transaction) error {
	return postTx(ctx, t.tx, tr)
}
