package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
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

// Get retrieves a merchant by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Merchant, error) {
	query := `
		SELECT ` + merchantColumns + `
		FROM merchants
		WHERE id = $1
	`
	m, err := scanMerchant(s.db.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("getting merchant: %w", err)
	}
	return m, err
}

const merchantColumns = `id, email, business_name, phone, bvn, virtual_account_name,
		       bank_code, bank_name, account_number, resolved_account_name,
		       created_at, updated_at`

func scanMerchant(row pgx.Row) (*Merchant, error) {
	var m Merchant
	err := row.Scan(
		&m.ID, &m.Email, &m.BusinessName, &m.Phone, &m.BVN, &m.VirtualAccountName,
		&m.Payout.BankCode, &m.Payout.BankName, &m.Payout.AccountNumber, &m.Payout.AccountName,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a new merchant.
func (s *PostgresStore) Create(ctx context.Context, m *Merchant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO merchants (id, email, business_name, phone, bvn, virtual_account_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.Email, m.BusinessName, m.Phone, m.BVN, m.VirtualAccountName, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("creating merchant: %w", err)
	}
	return nil
}

// UpdateProfile changes the non-empty profile fields and returns the result.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, p Profile) (*Merchant, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE merchants
		SET business_name = COALESCE(NULLIF($2, ''), business_name),
		    phone = COALESCE(NULLIF($3, ''), phone),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+merchantColumns, id, p.BusinessName, p.Phone)
	m, err := scanMerchant(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("updating merchant profile: %w", err)
	}
	return m, err
}

// UpsertProcessorCredentials stores a credential set, replacing any earlier
// one for the same processor.
func (s *PostgresStore) UpsertProcessorCredentials(ctx context.Context, c *ProcessorCredentials) error {
	creds, err := json.Marshal(c.Credentials)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO processor_credentials (merchant_id, processor, credentials, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (merchant_id, processor)
		DO UPDATE SET credentials = EXCLUDED.credentials, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
	`, c.MerchantID, c.Processor, creds, c.Active, c.UpdatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("saving processor credentials: %w", err)
	}
	return nil
}

// SavePayoutAccount stores the verified payout account.
func (s *PostgresStore) SavePayoutAccount(ctx context.Context, id string, account PayoutAccount) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE merchants
		SET bank_code = $2, bank_name = $3, account_number = $4, resolved_account_name = $5, updated_at = now()
		WHERE id = $1
	`, id, account.BankCode, account.BankName, account.AccountNumber, account.AccountName)
	if err != nil {
		return fmt.Errorf("saving payout account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
