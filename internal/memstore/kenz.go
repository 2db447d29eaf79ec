package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
)

type KenzRepo struct{ s *Store }

func (r *KenzRepo) CreateListing(_ context.Context, l *kenz.Listing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.listings[l.ID]; dup {
		return apperr.ErrConflict.Withf("listing %s exists", l.ID)
	}
	r.s.listings[l.ID] = *l
	return nil
}

func (r *KenzRepo) GetListing(_ context.Context, id string) (*kenz.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.listings[id]
	if !ok {
		return nil, kenz.ErrListingNotFound
	}
	return &l, nil
}

func (r *KenzRepo) ListListings(_ context.Context, status kenz.ListingStatus, p pagination.Params) ([]kenz.Listing, pagination.Page, error) {
	r.s.mu.RLock()
	var out []kenz.Listing
	for _, l := range r.s.listings {
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	r.s.mu.RUnlock()
	return page(out, p, func(l kenz.Listing) pagination.Cursor { return l.Cursor() })
}

func (r *KenzRepo) ListBids(_ context.Context, listingID string) ([]kenz.Bid, error) {
	r.s.mu.RLock()
	out := []kenz.Bid{}
	for _, b := range r.s.bids {
		if b.ListingID == listingID {
			out = append(out, b)
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount == out[j].Amount {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Amount > out[j].Amount
	})
	return out, nil
}

func (r *KenzRepo) GetDeal(_ context.Context, id string) (*kenz.Deal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.deals[id]
	if !ok {
		return nil, kenz.ErrDealNotFound
	}
	return copyDeal(d), nil
}

func (r *KenzRepo) HeldDealsBefore(_ context.Context, cutoff time.Time, limit int) ([]kenz.Deal, error) {
	r.s.mu.RLock()
	var out []kenz.Deal
	for _, d := range r.s.deals {
		if d.Status == kenz.DealHeld && d.CreatedAt.Before(cutoff) {
			out = append(out, *copyDeal(d))
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *KenzRepo) WithListing(ctx context.Context, listingID string, fn func(tx kenz.ListingTx) error) error {
	unlock := r.s.locks.Lock("listing:" + listingID)
	defer unlock()

	r.s.mu.RLock()
	l, ok := r.s.listings[listingID]
	r.s.mu.RUnlock()
	if !ok {
		return kenz.ErrListingNotFound
	}

	tx := &listingTx{s: r.s, base: l.Version, listing: l, bids: map[string]kenz.Bid{}, deals: map[string]kenz.Deal{}}
	defer tx.releaseActors()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type listingTx struct {
	s       *Store
	base    int64
	listing kenz.Listing
	dirty   bool
	bids    map[string]kenz.Bid
	deals   map[string]kenz.Deal
	posts   []ledger.Transaction
	actors  map[string]func()
}

func (t *listingTx) Listing() kenz.Listing { return t.listing }

func (t *listingTx) Bid(_ context.Context, id string) (*kenz.Bid, error) {
	if b, ok := t.bids[id]; ok {
		return &b, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.bids[id]
	if !ok || b.ListingID != t.listing.ID {
		return nil, kenz.ErrBidNotFound
	}
	return &b, nil
}

func (t *listingTx) Deal(_ context.Context, id string) (*kenz.Deal, error) {
	if d, ok := t.deals[id]; ok {
		return copyDeal(d), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	d, ok := t.s.deals[id]
	if !ok || d.ListingID != t.listing.ID {
		return nil, kenz.ErrDealNotFound
	}
	return copyDeal(d), nil
}

func (t *listingTx) HeldDeal(_ context.Context) (*kenz.Deal, error) {
	for _, d := range t.deals {
		if d.Status == kenz.DealHeld {
			return copyDeal(d), nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, d := range t.s.deals {
		if _, staged := t.deals[id]; staged {
			continue
		}
		if d.ListingID == t.listing.ID && d.Status == kenz.DealHeld {
			return copyDeal(d), nil
		}
	}
	return nil, kenz.ErrDealNotFound
}

func (t *listingTx) LockBalance(_ context.Context, actorID string) (int64, error) {
	if t.actors == nil {
		t.actors = map[string]func(){}
	}
	if _, held := t.actors[actorID]; !held {
		t.actors[actorID] = t.s.locks.Lock(actorKey(actorID))
	}
	t.s.mu.RLock()
	bal := t.s.balances[actorID] - t.s.pendingTotal(actorID, nil)
	t.s.mu.RUnlock()
	for _, p := range t.posts {
		for _, e := range p.Entries {
			if e.ActorID == actorID {
				bal += e.Amount
			}
		}
	}
	return bal, nil
}

func (t *listingTx) InsertBid(_ context.Context, b *kenz.Bid) error {
	t.bids[b.ID] = *b
	return nil
}

func (t *listingTx) CreateDeal(_ context.Context, d *kenz.Deal) error {
	t.deals[d.ID] = *copyDeal(*d)
	return nil
}

func (t *listingTx) UpdateDeal(ctx context.Context, d *kenz.Deal) error {
	if _, err := t.Deal(ctx, d.ID); err != nil {
		return err
	}
	t.deals[d.ID] = *copyDeal(*d)
	return nil
}

func (t *listingTx) SaveListing(_ context.Context, l *kenz.Listing, expectedVersion int64) error {
	if l.ID != t.listing.ID || t.listing.Version != expectedVersion {
		return kenz.ErrVersionConflict
	}
	l.Version = expectedVersion + 1
	t.listing = *l
	t.dirty = true
	return nil
}

func (t *listingTx) Post(_ context.Context, tr ledger.Transaction) error {
	if tr.Sum() != 0 {
		return ledger.ErrUnbalanced
	}
	t.posts = append(t.posts, copyTx(tr))
	return nil
}

func (t *listingTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.checkPostings(t.posts); err != nil {
		return err
	}
	if t.dirty {
		if cur := t.s.listings[t.listing.ID]; cur.Version != t.base {
			return kenz.ErrVersionConflict
		}
		t.s.listings[t.listing.ID] = t.listing
	}
	for id, b := range t.bids {
		t.s.bids[id] = b
	}
	for id, d := range t.deals {
		t.s.deals[id] = d
	}
	t.s.applyPostings(t.posts)
	return nil
}

func (t *listingTx) releaseActors() {
	for _, unlock := range t.actors {
		unlock()
	}
}

func copyDeal(d kenz.Deal) *kenz.Deal {
	if d.SettledAt != nil {
		at := *d.SettledAt
		d.SettledAt = &at
	}
	return &d
}
