package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction_Balanced(t *testing.T) {
	at := time.Now()
	tx, err := NewTransaction("ref-1", at,
		Leg{ActorID: AccountClearing, Amount: -900, Reason: ReasonCommission},
		Leg{ActorID: "store-1", Amount: 900, Reason: ReasonOrderSettlement},
	)

	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Len(t, tx.Entries, 2)
	assert.Zero(t, tx.Sum())
	for _, e := range tx.Entries {
		assert.Equal(t, tx.ID, e.TransactionID)
		assert.Equal(t, "ref-1", e.ReferenceID)
		assert.NotEmpty(t, e.ID)
	}
}

func TestNewTransaction_Unbalanced(t *testing.T) {
	_, err := NewTransaction("ref-1", time.Now(),
		Leg{ActorID: "a", Amount: -100, Reason: ReasonDeposit},
		Leg{ActorID: "b", Amount: 99, Reason: ReasonDeposit},
	)
	assert.ErrorIs(t, err, ErrUnbalanced)
}

func TestNewTransaction_SingleLeg(t *testing.T) {
	_, err := NewTransaction("ref-1", time.Now(), Leg{ActorID: "a", Amount: 0, Reason: ReasonDeposit})
	assert.ErrorIs(t, err, ErrUnbalanced)
}

func TestNewTransaction_ZeroLeg(t *testing.T) {
	_, err := NewTransaction("ref-1", time.Now(),
		Leg{ActorID: "a", Amount: 0, Reason: ReasonDeposit},
		Leg{ActorID: "b", Amount: 0, Reason: ReasonDeposit},
	)
	assert.Error(t, err)
}

func TestReverse(t *testing.T) {
	orig, err := NewTransaction("so-1", time.Now(),
		Leg{ActorID: AccountClearing, Amount: -900, Reason: ReasonCommission},
		Leg{ActorID: "store-1", Amount: 900, Reason: ReasonOrderSettlement},
	)
	require.NoError(t, err)

	rev, err := Reverse(orig, "so-1:return", time.Now())
	require.NoError(t, err)

	assert.NotEqual(t, orig.ID, rev.ID)
	assert.Equal(t, int64(900), rev.Entries[0].Amount)
	assert.Equal(t, int64(-900), rev.Entries[1].Amount)
	assert.Zero(t, rev.Sum())
}

func TestTransaction_ActorsAndReasons(t *testing.T) {
	tx, err := NewTransaction("d-1", time.Now(),
		Leg{ActorID: AccountEscrow, Amount: -1000, Reason: ReasonEscrowRelease},
		Leg{ActorID: "seller", Amount: 950, Reason: ReasonEscrowRelease},
		Leg{ActorID: AccountFees, Amount: 50, Reason: ReasonCommission},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{AccountEscrow, "seller", AccountFees}, tx.Actors())
	assert.Equal(t, []string{"escrow_release", "commission"}, tx.Reasons())
}

func TestTransaction_Holders(t *testing.T) {
	tx, err := NewTransaction("x-1", time.Now(),
		Leg{ActorID: "vendor-b", Amount: -300, Reason: ReasonWithdrawal},
		Leg{ActorID: AccountPayouts, Amount: 100, Reason: ReasonWithdrawal},
		Leg{ActorID: "vendor-a", Amount: 200, Reason: ReasonWithdrawal},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"vendor-a", "vendor-b"}, tx.Holders())
	assert.True(t, IsPlatform(AccountClearing))
	assert.False(t, IsPlatform("vendor-a"))
}
