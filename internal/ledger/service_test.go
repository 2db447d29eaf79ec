package ledger_test

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	operator = auth.Actor{ID: "op-1", Role: auth.RoleOperator}
	buyer    = auth.Actor{ID: "buyer-1", Role: auth.RoleBuyer}
)

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	pub := &events.Recorder{}
	svc := ledger.NewService(memstore.New().Ledger(), pub, nil, "test")

	tx, err := svc.Deposit(ctx, operator, buyer.ID, 50000)
	require.NoError(t, err)
	assert.Zero(t, tx.Sum())
	assert.ElementsMatch(t, []string{ledger.AccountGateway, buyer.ID}, tx.Actors())

	_, err = svc.Deposit(ctx, operator, buyer.ID, 25000)
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(75000), bal)

	gw, err := svc.Balance(ctx, ledger.AccountGateway)
	require.NoError(t, err)
	assert.Equal(t, int64(-75000), gw)

	assert.Equal(t, []string{events.EventLedgerPosted, events.EventLedgerPosted}, pub.Types())
}

func TestDeposit_Rules(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memstore.New().Ledger(), nil, nil, "test")

	_, err := svc.Deposit(ctx, buyer, buyer.ID, 1000)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Deposit(ctx, operator, "", 1000)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Deposit(ctx, operator, buyer.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bal, err := svc.Balance(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Zero(t, bal)
}
