// Package memstore is an in-process implementation of every repository. It
// keeps the locking contract of the Postgres store (entity lock first, then
// actor balance locks) and applies a unit of work only when it succeeds, so
// tests and STORE=memory runs see the same concurrency behaviour.
package memstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/catalog"
	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
)

type Store struct {
	locks keyedMutex

	mu        sync.RWMutex
	entries   []ledger.Entry
	balances  map[string]int64
	txs       map[string]ledger.Transaction
	merchants map[string]catalog.Merchant
	products  map[string]catalog.Product
	orders    map[string]orderRow
	subOrders map[string]orders.SubOrder
	listings  map[string]kenz.Listing
	bids      map[string]kenz.Bid
	deals     map[string]kenz.Deal
	requests  map[string]settlement.Request
}

type orderRow struct {
	ID          string
	BuyerID     string
	OrderedAt   time.Time
	DeliveryFee int64
	SubOrderIDs []string
}

func New() *Store {
	return &Store{
		locks:     keyedMutex{m: map[string]*lockEntry{}},
		balances:  map[string]int64{},
		txs:       map[string]ledger.Transaction{},
		merchants: map[string]catalog.Merchant{},
		products:  map[string]catalog.Product{},
		orders:    map[string]orderRow{},
		subOrders: map[string]orders.SubOrder{},
		listings:  map[string]kenz.Listing{},
		bids:      map[string]kenz.Bid{},
		deals:     map[string]kenz.Deal{},
		requests:  map[string]settlement.Request{},
	}
}

func (s *Store) Ledger() *LedgerRepo          { return &LedgerRepo{s} }
func (s *Store) Catalog() *CatalogRepo        { return &CatalogRepo{s} }
func (s *Store) Orders() *OrdersRepo          { return &OrdersRepo{s} }
func (s *Store) Kenz() *KenzRepo              { return &KenzRepo{s} }
func (s *Store) Settlements() *SettlementRepo { return &SettlementRepo{s} }

// checkPostings validates transactions before any of them is applied.
// Caller holds s.mu.
func (s *Store) checkPostings(ts []ledger.Transaction) error {
	for _, t := range ts {
		if t.Sum() != 0 {
			return fmt.Errorf("%w: transaction %s", ledger.ErrUnbalanced, t.ID)
		}
		if _, dup := s.txs[t.ID]; dup {
			return fmt.Errorf("ledger transaction %s already posted", t.ID)
		}
	}
	return nil
}

// applyPostings appends entries. Caller holds s.mu and has run checkPostings.
func (s *Store) applyPostings(ts []ledger.Transaction) {
	for _, t := range ts {
		s.txs[t.ID] = copyTx(t)
		for _, e := range t.Entries {
			s.entries = append(s.entries, e)
			s.balances[e.ActorID] += e.Amount
		}
	}
}

func copyTx(t ledger.Transaction) ledger.Transaction {
	t.Entries = append([]ledger.Entry(nil), t.Entries...)
	return t
}

// page sorts items newest first, skips past the cursor and trims to the limit.
func page[T any](items []T, p pagination.Params, key func(T) pagination.Cursor) ([]T, pagination.Page, error) {
	p = p.Normalize()
	cur, ok, err := pagination.Decode(p.Cursor)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := key(items[i]), key(items[j])
		if a.At.Equal(b.At) {
			return a.ID > b.ID
		}
		return a.At.After(b.At)
	})
	out := make([]T, 0, p.Limit+1)
	for _, it := range items {
		if ok {
			k := key(it)
			if !cur.After(k.At, k.ID) {
				continue
			}
		}
		out = append(out, it)
		if len(out) > p.Limit {
			break
		}
	}
	res, pg := pagination.Slice(out, p.Limit, key)
	return res, pg, nil
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.m[key]
	if !ok {
		e = &lockEntry{}
		k.m[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}

func actorKey(id string) string { return "actor:" + id }
