package store_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/store"
)

var txOpts = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

var walletCols = []string{"merchant_id", "balance", "available_balance", "currency", "version", "updated_at"}

func newStore(t *testing.T) (*store.Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	db := database.NewWithPool(mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return store.New(db, 3), mock
}

func credit(ctx context.Context, s *store.Store) (*ledger.Posted, error) {
	var posted *ledger.Posted
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		var err error
		posted, err = ledger.Credit(ctx, tx, ledger.Posting{
			MerchantID: "m1",
			Amount:     5000,
			Currency:   money.NGN,
			Reference:  "FLW-123",
		})
		return err
	})
	return posted, err
}

func TestCreditUnit(t *testing.T) {
	ctx := context.Background()
	s, mock := newStore(t)

	mock.ExpectBeginTx(txOpts)
	mock.ExpectExec("INSERT INTO wallets").
		WithArgs("m1", "NGN").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM wallets WHERE merchant_id = \\$1 FOR UPDATE").
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows(walletCols).AddRow("m1", int64(0), int64(0), "NGN", int64(1), time.Now()))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(pgxmock.AnyArg(), "m1", "CREDIT", int64(5000), "FLW-123", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(int64(5000), int64(5000), pgxmock.AnyArg(), "m1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "wallet.credited", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	posted, err := credit(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), posted.Wallet.Balance)
	assert.Equal(t, int64(5000), posted.Entry.Amount)
	assert.Equal(t, int64(2), posted.Wallet.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateReferenceRollsBack(t *testing.T) {
	ctx := context.Background()
	s, mock := newStore(t)

	mock.ExpectBeginTx(txOpts)
	mock.ExpectExec("INSERT INTO wallets").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(pgxmock.NewRows(walletCols).AddRow("m1", int64(5000), int64(5000), "NGN", int64(2), time.Now()))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_reference_type_key"})
	mock.ExpectRollback()

	_, err := credit(ctx, s)
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaleVersionIsConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	s, mock := newStore(t)

	mock.ExpectBeginTx(txOpts)
	mock.ExpectExec("INSERT INTO wallets").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(pgxmock.NewRows(walletCols).AddRow("m1", int64(0), int64(0), "NGN", int64(7), time.Now()))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE wallets").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := credit(ctx, s)
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveWithoutWalletIsInsufficient(t *testing.T) {
	ctx := context.Background()
	s, mock := newStore(t)

	mock.ExpectBeginTx(txOpts)
	mock.ExpectQuery("FOR UPDATE").WithArgs("m1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := ledger.Reserve(ctx, tx, ledger.Posting{MerchantID: "m1", Amount: 3000, Reference: "WD_1"})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWallet(t *testing.T) {
	ctx := context.Background()
	s, mock := newStore(t)

	mock.ExpectQuery("FROM wallets WHERE merchant_id = \\$1").
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows(walletCols).AddRow("m1", int64(10000), int64(7000), "NGN", int64(4), time.Now()))
	mock.ExpectQuery("FROM wallets WHERE merchant_id = \\$1").
		WithArgs("m2").
		WillReturnError(pgx.ErrNoRows)

	w, err := s.GetWallet(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), w.Reserved())
	assert.Equal(t, money.NGN, w.Currency)

	_, err = s.GetWallet(ctx, "m2")
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestListEntriesWithCursor(t *testing.T) {
	ctx := context.Background()
	s, mock := newStore(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM ledger_entries").
		WithArgs("m1", []string{"CREDIT"}, at, "01HX", 11).
		WillReturnRows(pgxmock.NewRows([]string{"id", "merchant_id", "entry_type", "amount", "reference", "metadata", "created_at"}).
			AddRow("01HW", "m1", "CREDIT", int64(5000), "FLW-1", []byte(`{"processor":"flutterwave"}`), at.Add(-time.Minute)))

	entries, err := s.ListEntries(ctx, ledger.EntryQuery{
		MerchantID: "m1",
		Types:      []domain.EntryType{domain.EntryTypeCredit},
		After:      &ledger.Cursor{CreatedAt: at, ID: "01HX"},
		Limit:      11,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryTypeCredit, entries[0].EntryType)
	assert.Equal(t, "flutterwave", entries[0].Metadata["processor"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryLookupsAreMerchantScoped(t *testing.T) {
	ctx := context.Background()
	s, mock := newStore(t)
	entryCols := []string{"id", "merchant_id", "entry_type", "amount", "reference", "metadata", "created_at"}

	mock.ExpectBeginTx(txOpts)
	mock.ExpectQuery("WHERE merchant_id = \\$1 AND reference = \\$2 AND entry_type = ANY").
		WithArgs("m2", "FLW-123", []string{"CREDIT"}).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("FROM ledger_entries").
		WithArgs("m1", "TOPUP_m1_01J", "TOPUP_PENDING").
		WillReturnRows(pgxmock.NewRows(entryCols).AddRow("e1", "m1", "TOPUP_PENDING", int64(20000), "TOPUP_m1_01J", []byte(`{"processor":"flutterwave"}`), time.Now()))
	mock.ExpectQuery("FROM ledger_entries").
		WithArgs("m2", "TOPUP_m1_01J", "TOPUP_PENDING").
		WillReturnRows(pgxmock.NewRows(entryCols))
	mock.ExpectCommit()

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		exists, err := tx.EntryExists(ctx, "m2", "FLW-123", domain.EntryTypeCredit)
		require.NoError(t, err)
		assert.False(t, exists)

		marker, err := tx.FindEntry(ctx, "m1", "TOPUP_m1_01J", domain.EntryTypeTopUpPending)
		require.NoError(t, err)
		assert.Equal(t, int64(20000), marker.Amount)
		assert.Equal(t, "flutterwave", marker.Metadata["processor"])

		_, err = tx.FindEntry(ctx, "m2", "TOPUP_m1_01J", domain.EntryTypeTopUpPending)
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
