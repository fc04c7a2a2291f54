package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletReserve(t *testing.T) {
	for _, amount := range []int64{1, 2999, 3000, 3001, 5000} {
		w := &Wallet{Balance: 3000, AvailableBalance: 3000}
		err := w.Reserve(amount)
		if amount > 3000 {
			var ibe *InsufficientBalanceError
			require.True(t, errors.As(err, &ibe))
			assert.ErrorIs(t, err, ErrInsufficientBalance)
			assert.Equal(t, int64(3000), ibe.Available)
			assert.Equal(t, int64(3000), w.AvailableBalance, "no partial reservation")
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, 3000-amount, w.AvailableBalance)
		assert.Equal(t, int64(3000), w.Balance)
	}
}

func TestWalletLifecycle(t *testing.T) {
	w := &Wallet{}
	require.NoError(t, w.Credit(10000))
	require.NoError(t, w.Reserve(3000))
	assert.Equal(t, int64(3000), w.Reserved())

	t.Run("release more than reserved", func(t *testing.T) {
		assert.ErrorIs(t, w.Release(3001), ErrReservationMismatch)
	})

	require.NoError(t, w.Release(3000))
	assert.Equal(t, int64(10000), w.AvailableBalance)

	require.NoError(t, w.Reserve(4000))
	require.NoError(t, w.SettleReservation(4000))
	assert.Equal(t, int64(6000), w.Balance)
	assert.Equal(t, int64(6000), w.AvailableBalance)

	require.NoError(t, w.Debit(1000))
	assert.Equal(t, int64(5000), w.Balance)
	assert.ErrorIs(t, w.Debit(6000), ErrInsufficientBalance)
}

func TestWalletRejectsNonPositive(t *testing.T) {
	w := &Wallet{Balance: 100, AvailableBalance: 100}
	assert.ErrorIs(t, w.Credit(0), ErrInvalidAmount)
	assert.ErrorIs(t, w.Reserve(-5), ErrInvalidAmount)
	assert.ErrorIs(t, w.Debit(0), ErrInvalidAmount)
}

func TestValidateAmount(t *testing.T) {
	assert.ErrorIs(t, ValidateAmount(EntryTypeCredit, 0), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(EntryTypeCredit, -1), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(EntryTypeWithdrawal, 5), ErrInvalidAmount)
	assert.NoError(t, ValidateAmount(EntryTypeWithdrawal, -5))
	assert.NoError(t, ValidateAmount(EntryTypeReversal, 5))
	assert.NoError(t, ValidateAmount(EntryTypeTopUpPending, 5))
}

func TestSignedSumSkipsMarkers(t *testing.T) {
	entries := []*Entry{
		{EntryType: EntryTypeCredit, Amount: 5000},
		{EntryType: EntryTypeTopUpPending, Amount: 2000},
		{EntryType: EntryTypeWithdrawal, Amount: -3000},
		{EntryType: EntryTypeReversal, Amount: 3000},
	}
	assert.Equal(t, int64(5000), SignedSum(entries))
}
