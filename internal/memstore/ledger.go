package memstore

import (
	"context"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
)

type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) Post(_ context.Context, t ledger.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ts := []ledger.Transaction{t}
	if err := r.s.checkPostings(ts); err != nil {
		return err
	}
	r.s.applyPostings(ts)
	return nil
}

func (r *LedgerRepo) Balance(_ context.Context, actorID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.balances[actorID], nil
}

func (r *LedgerRepo) Entries(_ context.Context, actorID string, p pagination.Params) ([]ledger.Entry, pagination.Page, error) {
	r.s.mu.RLock()
	var mine []ledger.Entry
	for _, e := range r.s.entries {
		if e.ActorID == actorID {
			mine = append(mine, e)
		}
	}
	r.s.mu.RUnlock()
	return page(mine, p, ledger.Entry.Cursor)
}

func (r *LedgerRepo) Transaction(_ context.Context, id string) (ledger.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.txs[id]
	if !ok {
		return ledger.Transaction{}, apperr.ErrNotFound.Withf("ledger transaction %s not found", id)
	}
	return copyTx(t), nil
}
