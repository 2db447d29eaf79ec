package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/kenz"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/orders"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deposit(t *testing.T, actor string, amount int64) ledger.Transaction {
	t.Helper()
	tx, err := ledger.NewTransaction("deposit:"+actor, time.Now(),
		ledger.Leg{ActorID: ledger.AccountGateway, Amount: -amount, Reason: ledger.ReasonDeposit},
		ledger.Leg{ActorID: actor, Amount: amount, Reason: ledger.ReasonDeposit},
	)
	require.NoError(t, err)
	return tx
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := keyedMutex{m: map[string]*lockEntry{}}
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.m, "entries are dropped when unused")
}

func TestLedger_PostRejectsDuplicateAndUnbalanced(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx := deposit(t, "buyer-1", 500)

	require.NoError(t, s.Ledger().Post(ctx, tx))
	assert.Error(t, s.Ledger().Post(ctx, tx))

	bad := deposit(t, "buyer-1", 100)
	bad.Entries[0].Amount = -99
	assert.ErrorIs(t, s.Ledger().Post(ctx, bad), ledger.ErrUnbalanced)

	bal, err := s.Ledger().Balance(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)
}

func TestLedger_EntriesPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Ledger().Post(ctx, deposit(t, "v", int64(i+1))))
	}

	first, pg, err := s.Ledger().Entries(ctx, "v", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, pg.HasMore)

	var all []ledger.Entry
	all = append(all, first...)
	for pg.HasMore {
		var next []ledger.Entry
		next, pg, err = s.Ledger().Entries(ctx, "v", pagination.Params{Cursor: pg.NextCursor, Limit: 2})
		require.NoError(t, err)
		all = append(all, next...)
	}
	assert.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
	}
}

func TestOrders_UpdateSubOrderRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Orders().CreateOrder(ctx, &orders.Order{
		ID: "o-1", BuyerID: "b", OrderedAt: now,
		SubOrders: []orders.SubOrder{{ID: "so-1", OrderID: "o-1", VendorID: "v", Status: orders.StatusPendingConfirmation, CreatedAt: now}},
	}))

	boom := errors.New("boom")
	_, err := s.Orders().UpdateSubOrder(ctx, "so-1", func(_ context.Context, _ orders.SubOrderTx, so *orders.SubOrder) (*ledger.Transaction, error) {
		so.Status = orders.StatusCancelled
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Orders().GetSubOrder(ctx, "so-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingConfirmation, got.Status)

	_, err = s.Orders().UpdateSubOrder(ctx, "missing", func(context.Context, orders.SubOrderTx, *orders.SubOrder) (*ledger.Transaction, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestOrders_UpdateSubOrderLocksHolders(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Orders().CreateOrder(ctx, &orders.Order{
		ID: "o-1", BuyerID: "b", OrderedAt: now,
		SubOrders: []orders.SubOrder{{ID: "so-1", OrderID: "o-1", VendorID: "v", Status: orders.StatusOutForDelivery, CreatedAt: now}},
	}))

	unlock := s.locks.Lock(actorKey("v"))
	done := make(chan error, 1)
	go func() {
		_, err := s.Orders().UpdateSubOrder(ctx, "so-1", func(_ context.Context, _ orders.SubOrderTx, so *orders.SubOrder) (*ledger.Transaction, error) {
			so.Status = orders.StatusDelivered
			tx, err := ledger.NewTransaction("so-1", time.Now(),
				ledger.Leg{ActorID: ledger.AccountClearing, Amount: -100, Reason: ledger.ReasonCommission},
				ledger.Leg{ActorID: "v", Amount: 100, Reason: ledger.ReasonOrderSettlement},
			)
			return &tx, err
		})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("posted while the vendor balance was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	bal, err := s.Ledger().Balance(ctx, "v")
	require.NoError(t, err)
	assert.Zero(t, bal)

	unlock()
	require.NoError(t, <-done)
	bal, err = s.Ledger().Balance(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
}

func TestKenz_WithListingStagesUntilSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Ledger().Post(ctx, deposit(t, "buyer-1", 1000)))
	require.NoError(t, s.Kenz().CreateListing(ctx, &kenz.Listing{ID: "l-1", OwnerID: "seller", Price: 500, Status: kenz.ListingActive, CreatedAt: time.Now()}))

	boom := errors.New("boom")
	err := s.Kenz().WithListing(ctx, "l-1", func(tx kenz.ListingTx) error {
		bal, err := tx.LockBalance(ctx, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), bal)
		hold, err := ledger.NewTransaction("d-1", time.Now(),
			ledger.Leg{ActorID: "buyer-1", Amount: -500, Reason: ledger.ReasonEscrowHold},
			ledger.Leg{ActorID: ledger.AccountEscrow, Amount: 500, Reason: ledger.ReasonEscrowHold},
		)
		require.NoError(t, err)
		require.NoError(t, tx.Post(ctx, hold))
		bal, err = tx.LockBalance(ctx, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, int64(500), bal, "staged postings are visible inside the unit")

		l := tx.Listing()
		l.Status = kenz.ListingReserved
		require.NoError(t, tx.SaveListing(ctx, &l, 0))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, err := s.Ledger().Balance(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)
	l, err := s.Kenz().GetListing(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, kenz.ListingActive, l.Status)
	assert.Zero(t, l.Version)
}

func TestKenz_SaveListingVersionGuard(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Kenz().CreateListing(ctx, &kenz.Listing{ID: "l-1", OwnerID: "seller", Price: 500, Status: kenz.ListingActive, CreatedAt: time.Now()}))

	err := s.Kenz().WithListing(ctx, "l-1", func(tx kenz.ListingTx) error {
		l := tx.Listing()
		require.NoError(t, tx.SaveListing(ctx, &l, 0))
		assert.Equal(t, int64(1), l.Version)
		// a second save must present the version just written
		stale := tx.Listing()
		stale.Version = 0
		return tx.SaveListing(ctx, &stale, 0)
	})
	assert.ErrorIs(t, err, kenz.ErrVersionConflict)
}
