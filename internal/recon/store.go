package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) MerchantIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT merchant_id FROM wallets
		WHERE merchant_id > $1
		ORDER BY merchant_id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing wallets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Snapshot reads the wallet and both sums in one statement so they share a
// snapshot.
func (s *PostgresStore) Snapshot(ctx context.Context, merchantID string) (*Snapshot, error) {
	var (
		snap     Snapshot
		currency string
	)
	err := s.db.QueryRow(ctx, `
		SELECT w.merchant_id, w.currency, w.balance, w.available_balance,
		       COALESCE((
		           SELECT SUM(e.amount) FROM ledger_entries e
		           WHERE e.merchant_id = w.merchant_id AND e.entry_type = ANY($2)
		       ), 0)::BIGINT,
		       COALESCE((
		           SELECT SUM(d.amount) FROM withdrawals d
		           WHERE d.merchant_id = w.merchant_id AND d.status = 'pending'
		       ), 0)::BIGINT
		FROM wallets w
		WHERE w.merchant_id = $1
	`, merchantID, balanceTypeNames()).Scan(
		&snap.MerchantID, &currency, &snap.Balance, &snap.AvailableBalance,
		&snap.LedgerSum, &snap.PendingWithdrawals,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("reading wallet snapshot: %w", err)
	}
	snap.Currency = money.Currency(currency)
	return &snap, nil
}

func balanceTypeNames() []string {
	names := make([]string, len(domain.BalanceTypes))
	for i, t := range domain.BalanceTypes {
		names[i] = string(t)
	}
	return names
}
