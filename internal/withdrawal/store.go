package withdrawal

import (
	"context"
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

const withdrawalColumns = `
	id, merchant_id, amount, currency, status, reference, flw_transfer_id, processor,
	bank_code, account_number, account_name, failure_reason, created_at, updated_at`

// Get retrieves a merchant's withdrawal by reference.
func (s *PostgresStore) Get(ctx context.Context, merchantID, reference string) (*Withdrawal, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE reference = $1 AND merchant_id = $2
	`, reference, merchantID)
	return scanWithdrawal(row)
}

// List returns a page of withdrawals and the merchant's total.
func (s *PostgresStore) List(ctx context.Context, merchantID string, limit, offset int) ([]*Withdrawal, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawals WHERE merchant_id = $1`, merchantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting withdrawals: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE merchant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, merchantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing withdrawals: %w", err)
	}
	defer rows.Close()

	list, err := scanWithdrawals(rows)
	return list, total, err
}

// ListPending lists pending withdrawals created before the cutoff.
func (s *PostgresStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Withdrawal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending withdrawals: %w", err)
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

// SaveTransfer records the processor's transfer id.
func (s *PostgresStore) SaveTransfer(ctx context.Context, reference, transferID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE withdrawals SET flw_transfer_id = $2, updated_at = now()
		WHERE reference = $1 AND flw_transfer_id = ''
	`, reference, transferID)
	if err != nil {
		return fmt.Errorf("saving transfer id: %w", err)
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

func (t *pgTx) Insert(ctx context.Context, w *Withdrawal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		w.ID, w.MerchantID, w.Amount, string(w.Currency), string(w.Status), w.Reference, w.TransferID, string(w.Processor),
		w.BankCode, w.AccountNumber, w.AccountName, w.FailureReason, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting withdrawal: %w", err)
	}
	return nil
}

func (t *pgTx) LockWithdrawal(ctx context.Context, reference string) (*Withdrawal, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE reference = $1
		FOR UPDATE
	`, reference)
	return scanWithdrawal(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, w *Withdrawal) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, flw_transfer_id = $3, failure_reason = $4, updated_at = $5
		WHERE reference = $1
	`, w.Reference, string(w.Status), w.TransferID, w.FailureReason, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating withdrawal status: %w", err)
	}
	return nil
}

func scanWithdrawal(row pgx.Row) (*Withdrawal, error) {
	var (
		w                           Withdrawal
		currency, status, processor string
	)
	err := row.Scan(
		&w.ID, &w.MerchantID, &w.Amount, &currency, &status, &w.Reference, &w.TransferID, &processor,
		&w.BankCode, &w.AccountNumber, &w.AccountName, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning withdrawal: %w", err)
	}
	w.Currency = money.Currency(currency)
	w.Status = Status(status)
	w.Processor = providers.Name(processor)
	return &w, nil
}

func scanWithdrawals(rows pgx.Rows) ([]*Withdrawal, error) {
	var list []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}
