package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	ledgerstore "github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/store"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db            *database.DB
	retryAttempts int
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB, retryAttempts int) *PostgresStore {
	return &PostgresStore{db: db, retryAttempts: retryAttempts}
}

var _ Store = (*PostgresStore)(nil)

const transactionColumns = `
	id, merchant_id, amount, currency, processor, reference, status,
	payment_url, processor_reference, callback_url, customer_email, metadata,
	created_at, updated_at`

// Create inserts a new transaction.
func (s *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encoding transaction metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		t.ID, t.MerchantID, t.Amount, string(t.Currency), string(t.Processor), t.Reference, string(t.Status),
		t.PaymentURL, t.ProcessorReference, t.CallbackURL, t.CustomerEmail, metadata,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating transaction: %w", err)
	}
	return nil
}

// Get retrieves a merchant's transaction by reference.
func (s *PostgresStore) Get(ctx context.Context, merchantID, reference string) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE reference = $1 AND merchant_id = $2
	`, reference, merchantID)
	return scanTransaction(row)
}

// WalletCurrency reads the currency of the merchant's wallet.
func (s *PostgresStore) WalletCurrency(ctx context.Context, merchantID string) (money.Currency, error) {
	var currency string
	err := s.db.QueryRow(ctx, `SELECT currency FROM wallets WHERE merchant_id = $1`, merchantID).Scan(&currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading wallet currency: %w", err)
	}
	return money.Currency(currency), nil
}

// SaveCheckout stores the checkout link of a pending transaction.
func (s *PostgresStore) SaveCheckout(ctx context.Context, t *Transaction) error {
	t.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		UPDATE transactions
		SET payment_url = $2, processor_reference = $3, updated_at = $4
		WHERE reference = $1
	`, t.Reference, t.PaymentURL, t.ProcessorReference, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving checkout: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction shared with the ledger.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return ledgerstore.RunInTx(ctx, s.db, s.retryAttempts, func(tx pgx.Tx) error {
		return fn(&pgTx{Tx: ledgerstore.NewTx(tx), tx: tx})
	})
}

type pgTx struct {
	*ledgerstore.Tx
	tx pgx.Tx
}

func (t *pgTx) LockTransaction(ctx context.Context, reference string) (*Transaction, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE reference = $1
		FOR UPDATE
	`, reference)
	return scanTransaction(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, txn *Transaction) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2, processor_reference = $3, updated_at = $4
		WHERE reference = $1
	`, txn.Reference, string(txn.Status), txn.ProcessorReference, txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating transaction status: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t                           Transaction
		currency, processor, status string
		metadata                    []byte
	)
	err := row.Scan(
		&t.ID, &t.MerchantID, &t.Amount, &currency, &processor, &t.Reference, &status,
		&t.PaymentURL, &t.ProcessorReference, &t.CallbackURL, &t.CustomerEmail, &metadata,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	t.Currency = money.Currency(currency)
	t.Processor = providers.Name(processor)
	t.Status = Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decoding transaction metadata: %w", err)
		}
	}
	return &t, nil
}
