package virtualaccount

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
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

const accountColumns = `id, merchant_id, account_number, bank_name, account_name, currency, order_ref, processor, created_at`

func (s *PostgresStore) Insert(ctx context.Context, va *VirtualAccount) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO virtual_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		va.ID, va.MerchantID, va.AccountNumber, va.BankName, va.AccountName,
		string(va.Currency), va.OrderRef, string(va.Processor), va.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrExists, database.ConstraintName(err))
		}
		return fmt.Errorf("inserting virtual account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*VirtualAccount, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM virtual_accounts WHERE id = $1`, id))
}

func (s *PostgresStore) FindByCurrency(ctx context.Context, merchantID string, currency money.Currency) (*VirtualAccount, error) {
	return scanAccount(s.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM virtual_accounts
		WHERE merchant_id = $1 AND currency = $2
	`, merchantID, string(currency)))
}

// FindByAccountNumber is the reconciler's routing lookup.
func (s *PostgresStore) FindByAccountNumber(ctx context.Context, accountNumber string) (*VirtualAccount, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM virtual_accounts WHERE account_number = $1`, accountNumber))
}

func (s *PostgresStore) ListByMerchant(ctx context.Context, merchantID string) ([]*VirtualAccount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM virtual_accounts
		WHERE merchant_id = $1
		ORDER BY created_at ASC
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("listing virtual accounts: %w", err)
	}
	defer rows.Close()

	var list []*VirtualAccount
	for rows.Next() {
		va, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, va)
	}
	return list, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM virtual_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting virtual account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*VirtualAccount, error) {
	var (
		va                  VirtualAccount
		currency, processor string
	)
	err := row.Scan(
		&va.ID, &va.MerchantID, &va.AccountNumber, &va.BankName, &va.AccountName,
		&currency, &va.OrderRef, &processor, &va.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning virtual account: %w", err)
	}
	va.Currency = money.Currency(currency)
	va.Processor = providers.Name(processor)
	return &va, nil
}
