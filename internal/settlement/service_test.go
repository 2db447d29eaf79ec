package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/memstore"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/ariefcatur/go-marketplace-ledger/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	operator = auth.Actor{ID: "op-1", Role: auth.RoleOperator}
	vendor   = auth.Actor{ID: "store-a", Role: auth.RoleVendor}
	other    = auth.Actor{ID: "store-b", Role: auth.RoleVendor}
)

// mapCache is an in-memory StatementCache that counts hits.
type mapCache struct {
	mu          sync.Mutex
	pages       map[string]map[string]*settlement.Statement
	hits        int
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{pages: map[string]map[string]*settlement.Statement{}}
}

func (c *mapCache) Get(_ context.Context, vendorID, page string) (*settlement.Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.pages[vendorID][page]
	if ok {
		c.hits++
	}
	return st, ok
}

func (c *mapCache) Put(_ context.Context, vendorID, page string, st *settlement.Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pages[vendorID] == nil {
		c.pages[vendorID] = map[string]*settlement.Statement{}
	}
	c.pages[vendorID][page] = st
}

func (c *mapCache) Invalidate(_ context.Context, vendorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, vendorID)
	c.invalidated = append(c.invalidated, vendorID)
}

type fixture struct {
	svc    *settlement.Service
	ledger *memstore.LedgerRepo
	cache  *mapCache
	pub    *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	cache := newMapCache()
	pub := &events.Recorder{}
	return &fixture{
		svc:    settlement.NewService(st.Settlements(), st.Ledger(), pub, nil, "test", settlement.Options{Cache: cache}),
		ledger: st.Ledger(),
		cache:  cache,
		pub:    pub,
	}
}

// credit settles a delivered order of net amount to the vendor.
func (f *fixture) credit(t *testing.T, vendorID string, net int64) {
	t.Helper()
	tx, err := ledger.NewTransaction("so-"+vendorID, time.Now(),
		ledger.Leg{ActorID: ledger.AccountClearing, Amount: -net, Reason: ledger.ReasonCommission},
		ledger.Leg{ActorID: vendorID, Amount: net, Reason: ledger.ReasonOrderSettlement},
	)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Post(context.Background(), tx))
}

func (f *fixture) balance(t *testing.T, actorID string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), actorID)
	require.NoError(t, err)
	return b
}

func TestRequestSettlement_ExactlyAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, vendor.ID, 90000)

	r, err := f.svc.RequestSettlement(ctx, vendor, 90000, "BCA-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPending, r.Status)
	// reservation only; the ledger is untouched until processing
	assert.Equal(t, int64(90000), f.balance(t, vendor.ID))

	_, err = f.svc.RequestSettlement(ctx, vendor, 30000, "BCA-1")
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Contains(t, f.pub.Types(), events.EventSettlementRequested)
}

func TestRequestSettlement_AvailablePlusOne(t *testing.T) {
	f := newFixture(t)
	f.credit(t, vendor.ID, 50000)

	_, err := f.svc.RequestSettlement(context.Background(), vendor, 50001, "BCA-1")
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
}

func TestRequestSettlement_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, vendor.ID, 100000)

	_, err := f.svc.RequestSettlement(ctx, vendor, 29999, "BCA-1")
	assert.ErrorIs(t, err, apperr.ErrBelowMinimum)

	_, err = f.svc.RequestSettlement(ctx, vendor, 40000, " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.RequestSettlement(ctx, vendor, -5, "BCA-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.RequestSettlement(ctx, operator, 40000, "BCA-1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestRequestSettlement_ConcurrentNeverOverReserves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, vendor.ID, 100000)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestSettlement(ctx, vendor, 30000, "BCA-1")
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, apperr.ErrInsufficientBalance), err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)

	st, err := f.svc.GetStatement(ctx, vendor, "", pagination.Params{})
	require.NoError(t, err)
	assert.Equal(t, int64(90000), st.PendingReserved)
	assert.Equal(t, int64(10000), st.Available)
}

func TestProcessSettlement_Completed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, vendor.ID, 90000)
	r, err := f.svc.RequestSettlement(ctx, vendor, 60000, "BCA-1")
	require.NoError(t, err)

	_, err = f.svc.ProcessSettlement(ctx, vendor, r.ID, settlement.StatusCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.ProcessSettlement(ctx, operator, r.ID, settlement.StatusPending, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	done, err := f.svc.ProcessSettlement(ctx, operator, r.ID, settlement.StatusCompleted, "transferred")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.LedgerTxID)
	require.NotNil(t, done.ProcessedAt)
	assert.Equal(t, int64(30000), f.balance(t, vendor.ID))
	assert.Equal(t, int64(60000), f.balance(t, ledger.AccountPayouts))

	_, err = f.svc.ProcessSettlement(ctx, operator, r.ID, settlement.StatusRejected, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	st, err := f.svc.GetStatement(ctx, vendor, "", pagination.Params{})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), st.Balance)
	assert.Zero(t, st.PendingReserved)
	require.Len(t, st.Entries, 2)
	assert.Equal(t, ledger.ReasonWithdrawal, st.Entries[0].Reason)
}

func TestProcessSettlement_RejectedFreesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, vendor.ID, 40000)
	r, err := f.svc.RequestSettlement(ctx, vendor, 40000, "BCA-1")
	require.NoError(t, err)

	got, err := f.svc.ProcessSettlement(ctx, operator, r.ID, settlement.StatusRejected, "bank account closed")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusRejected, got.Status)
	assert.Empty(t, got.LedgerTxID)
	assert.Equal(t, int64(40000), f.balance(t, vendor.ID))

	_, err = f.svc.RequestSettlement(ctx, vendor, 40000, "BCA-2")
	assert.NoError(t, err)

	_, err = f.svc.ProcessSettlement(ctx, operator, "missing", settlement.StatusRejected, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetStatement_CacheAndScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, vendor.ID, 50000)

	st, err := f.svc.GetStatement(ctx, vendor, other.ID, pagination.Params{})
	require.NoError(t, err)
	assert.Equal(t, vendor.ID, st.VendorID, "vendors only see their own statement")
	assert.Equal(t, int64(50000), st.Available)

	_, err = f.svc.GetStatement(ctx, vendor, "", pagination.Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)

	_, err = f.svc.RequestSettlement(ctx, vendor, 30000, "BCA-1")
	require.NoError(t, err)
	assert.Contains(t, f.cache.invalidated, vendor.ID)

	st, err = f.svc.GetStatement(ctx, operator, vendor.ID, pagination.Params{})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), st.Available)

	_, err = f.svc.GetStatement(ctx, operator, "", pagination.Params{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.GetStatement(ctx, vendor, "", pagination.Params{Cursor: "%%%"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListSettlements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.credit(t, vendor.ID, 100000)
	_, err := f.svc.RequestSettlement(ctx, vendor, 30000, "BCA-1")
	require.NoError(t, err)
	_, err = f.svc.RequestSettlement(ctx, vendor, 40000, "BCA-1")
	require.NoError(t, err)

	list, err := f.svc.ListSettlements(ctx, vendor, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.svc.ListSettlements(ctx, other, vendor.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
