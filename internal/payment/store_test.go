package payment_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/payment"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

var transactionCols = []string{
	"id", "merchant_id", "amount", "currency", "processor", "reference", "status",
	"payment_url", "processor_reference", "callback_url", "customer_email", "metadata",
	"created_at", "updated_at",
}

func newPostgresStore(t *testing.T) (*payment.PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	db := database.NewWithPool(mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return payment.NewPostgresStore(db, 3), mock
}

func TestPostgresGet(t *testing.T) {
	s, mock := newPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery("FROM transactions").
		WithArgs("GTP_1", "m1").
		WillReturnRows(pgxmock.NewRows(transactionCols).AddRow(
			"01HX", "m1", int64(5000), "NGN", "paystack", "GTP_1", "pending",
			"https://checkout.paystack.com/x", "", "", "a@b.co", []byte(`{"order":"42"}`),
			now, now,
		))

	txn, err := s.Get(context.Background(), "m1", "GTP_1")
	require.NoError(t, err)
	assert.Equal(t, providers.Paystack, txn.Processor)
	assert.Equal(t, payment.StatusPending, txn.Status)
	assert.Equal(t, "42", txn.Metadata["order"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissing(t *testing.T) {
	s, mock := newPostgresStore(t)

	mock.ExpectQuery("FROM transactions").WithArgs("GTP_2", "m1").WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "m1", "GTP_2")
	assert.ErrorIs(t, err, payment.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWalletCurrency(t *testing.T) {
	s, mock := newPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT currency FROM wallets").
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"currency"}).AddRow("USD"))
	mock.ExpectQuery("SELECT currency FROM wallets").
		WithArgs("m2").
		WillReturnError(pgx.ErrNoRows)

	currency, err := s.WalletCurrency(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, money.USD, currency)

	currency, err = s.WalletCurrency(ctx, "m2")
	require.NoError(t, err)
	assert.Empty(t, currency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStatusChangeInUnit(t *testing.T) {
	s, mock := newPostgresStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	mock.ExpectQuery("FROM transactions\\s+WHERE reference = \\$1\\s+FOR UPDATE").
		WithArgs("GTP_1").
		WillReturnRows(pgxmock.NewRows(transactionCols).AddRow(
			"01HX", "m1", int64(5000), "NGN", "paystack", "GTP_1", "pending",
			"", "", "", "", []byte(`{}`), now, now,
		))
	mock.ExpectExec("UPDATE transactions").
		WithArgs("GTP_1", "failed", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.InTx(ctx, func(tx payment.Tx) error {
		txn, err := tx.LockTransaction(ctx, "GTP_1")
		if err != nil {
			return err
		}
		if err := txn.TransitionTo(payment.StatusFailed); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, txn)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
