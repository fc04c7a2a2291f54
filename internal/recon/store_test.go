package recon_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/recon"
)

func newPostgresStore(t *testing.T) (*recon.PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return recon.NewPostgresStore(database.NewWithPool(mock, slog.New(slog.NewTextHandler(io.Discard, nil)))), mock
}

func TestPostgresMerchantIDs(t *testing.T) {
	s, mock := newPostgresStore(t)

	mock.ExpectQuery("SELECT merchant_id FROM wallets").WithArgs("m1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"merchant_id"}).AddRow("m2").AddRow("m3"))

	ids, err := s.MerchantIDs(context.Background(), "m1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshot(t *testing.T) {
	s, mock := newPostgresStore(t)
	cols := []string{"merchant_id", "currency", "balance", "available_balance", "ledger_sum", "pending"}

	mock.ExpectQuery("FROM wallets w").WithArgs("m1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("m1", "NGN", int64(10000), int64(7000), int64(7000), int64(3000)))

	snap, err := s.Snapshot(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, money.NGN, snap.Currency)
	assert.Equal(t, int64(3000), snap.PendingWithdrawals)
	assert.False(t, recon.Compare(snap).Drifted)

	mock.ExpectQuery("FROM wallets w").WithArgs("ghost", pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)
	_, err = s.Snapshot(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
