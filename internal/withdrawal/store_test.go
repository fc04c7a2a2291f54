package withdrawal_test

import (
	"context"
	"errors"
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
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal"
)

var withdrawalCols = []string{
	"id", "merchant_id", "amount", "currency", "status", "reference", "flw_transfer_id", "processor",
	"bank_code", "account_number", "account_name", "failure_reason", "created_at", "updated_at",
}

func newPostgresStore(t *testing.T) (*withdrawal.PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	db := database.NewWithPool(mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return withdrawal.NewPostgresStore(db, 3), mock
}

func withdrawalRow(ref, status string, created time.Time) []any {
	return []any{
		"01HW" + ref, "m1", int64(3000), "NGN", status, ref, "", "flutterwave",
		"058", "0123456789", "ADA OKAFOR", "", created, created,
	}
}

func TestPostgresGetWithdrawal(t *testing.T) {
	s, mock := newPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery("FROM withdrawals").
		WithArgs("WD_1", "m1").
		WillReturnRows(pgxmock.NewRows(withdrawalCols).AddRow(withdrawalRow("WD_1", "pending", now)...))

	w, err := s.Get(context.Background(), "m1", "WD_1")
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusPending, w.Status)
	assert.Equal(t, money.NGN, w.Currency)
	assert.Equal(t, "058", w.BankCode)

	mock.ExpectQuery("FROM withdrawals").WithArgs("WD_2", "m1").WillReturnError(pgx.ErrNoRows)
	_, err = s.Get(context.Background(), "m1", "WD_2")
	assert.ErrorIs(t, err, withdrawal.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListWithdrawals(t *testing.T) {
	s, mock := newPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT").WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("ORDER BY created_at DESC").WithArgs("m1", 2, 0).
		WillReturnRows(pgxmock.NewRows(withdrawalCols).
			AddRow(withdrawalRow("WD_3", "pending", now)...).
			AddRow(withdrawalRow("WD_2", "success", now.Add(-time.Minute))...))

	list, total, err := s.List(context.Background(), "m1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, list, 2)
	assert.Equal(t, "WD_3", list[0].Reference)
	assert.Equal(t, withdrawal.StatusSuccess, list[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListPending(t *testing.T) {
	s, mock := newPostgresStore(t)
	cutoff := time.Now().Add(-time.Hour)

	mock.ExpectQuery("status = 'pending'").WithArgs(cutoff, 50).
		WillReturnRows(pgxmock.NewRows(withdrawalCols).AddRow(withdrawalRow("WD_9", "pending", cutoff.Add(-time.Hour))...))

	list, err := s.ListPending(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "WD_9", list[0].Reference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveTransfer(t *testing.T) {
	s, mock := newPostgresStore(t)

	mock.ExpectExec("UPDATE withdrawals SET flw_transfer_id").
		WithArgs("WD_1", "trf_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SaveTransfer(context.Background(), "WD_1", "trf_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveInUnit(t *testing.T) {
	s, mock := newPostgresStore(t)
	now := time.Now()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	mock.ExpectQuery("FROM withdrawals\\s+WHERE reference = \\$1\\s+FOR UPDATE").
		WithArgs("WD_1").
		WillReturnRows(pgxmock.NewRows(withdrawalCols).AddRow(withdrawalRow("WD_1", "pending", now)...))
	mock.ExpectExec("UPDATE withdrawals").
		WithArgs("WD_1", "failed", "", "declined", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(tx withdrawal.Tx) error {
		w, err := tx.LockWithdrawal(context.Background(), "WD_1")
		if err != nil {
			return err
		}
		if err := w.TransitionTo(withdrawal.StatusFailed); err != nil {
			return err
		}
		w.FailureReason = "declined"
		return tx.UpdateStatus(context.Background(), w)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUnitRollsBackOnError(t *testing.T) {
	s, mock := newPostgresStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	mock.ExpectQuery("FOR UPDATE").WithArgs("WD_404").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx withdrawal.Tx) error {
		_, err := tx.LockWithdrawal(context.Background(), "WD_404")
		return err
	})
	assert.True(t, errors.Is(err, withdrawal.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
