package memstore

import (
	"context"
	"sort"

	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
)

type SettlementRepo struct{ s *Store }

func (r *SettlementRepo) Get(_ context.Context, id string) (*settlement.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, settlement.ErrRequestNotFound
	}
	return copyRequest(req), nil
}

func (r *SettlementRepo) List(_ context.Context, vendorID string) ([]settlement.Request, error) {
	r.s.mu.RLock()
	out := []settlement.Request{}
	for _, req := range r.s.requests {
		if req.VendorID == vendorID {
			out = append(out, *copyRequest(req))
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

func (r *SettlementRepo) PendingTotal(_ context.Context, vendorID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.pendingTotal(vendorID, nil), nil
}

func (r *SettlementRepo) WithVendor(_ context.Context, vendorID string, fn func(tx settlement.VendorTx) error) error {
	unlock := r.s.locks.Lock(actorKey(vendorID))
	defer unlock()

	tx := &vendorTx{s: r.s, vendorID: vendorID, staged: map[string]settlement.Request{}}
	if err := fn(tx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkPostings(tx.posts); err != nil {
		return err
	}
	for id, req := range tx.staged {
		r.s.requests[id] = req
	}
	r.s.applyPostings(tx.posts)
	return nil
}

// pendingTotal sums pending requests, with staged overriding stored rows.
// Caller holds s.mu.
func (s *Store) pendingTotal(vendorID string, staged map[string]settlement.Request) int64 {
	var total int64
	for id, req := range s.requests {
		if _, ok := staged[id]; ok {
			continue
		}
		if req.VendorID == vendorID && req.Status == settlement.StatusPending {
			total += req.Amount
		}
	}
	for _, req := range staged {
		if req.VendorID == vendorID && req.Status == settlement.StatusPending {
			total += req.Amount
		}
	}
	return total
}

type vendorTx struct {
	s        *Store
	vendorID string
	staged   map[string]settlement.Request
	posts    []ledger.Transaction
}

func (t *vendorTx) Balance(_ context.Context) (int64, error) {
	t.s.mu.RLock()
	bal := t.s.balances[t.vendorID]
	t.s.mu.RUnlock()
	for _, p := range t.posts {
		for _, e := range p.Entries {
			if e.ActorID == t.vendorID {
				bal += e.Amount
			}
		}
	}
	return bal, nil
}

func (t *vendorTx) PendingTotal(_ context.Context) (int64, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.pendingTotal(t.vendorID, t.staged), nil
}

func (t *vendorTx) Get(_ context.Context, id string) (*settlement.Request, error) {
	if req, ok := t.staged[id]; ok {
		return copyRequest(req), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	req, ok := t.s.requests[id]
	if !ok || req.VendorID != t.vendorID {
		return nil, settlement.ErrRequestNotFound
	}
	return copyRequest(req), nil
}

func (t *vendorTx) Create(_ context.Context, req *settlement.Request) error {
	t.staged[req.ID] = *copyRequest(*req)
	return nil
}

func (t *vendorTx) Update(ctx context.Context, req *settlement.Request) error {
	if _, err := t.Get(ctx, req.ID); err != nil {
		return err
	}
	t.staged[req.ID] = *copyRequest(*req)
	return nil
}

func (t *vendorTx) Post(_ context.Context, tr ledger.Transaction) error {
	if tr.Sum() != 0 {
		return ledger.ErrUnbalanced
	}
	t.posts = append(t.posts, copyTx(tr))
	return nil
}

func copyRequest(r settlement.Request) *settlement.Request {
	if r.ProcessedAt != nil {
		at := *r.ProcessedAt
		r.ProcessedAt = &at
	}
	return &r
}
