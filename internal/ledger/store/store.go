package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
)

// Store provides ledger data access
type Store struct {
	db            *database.DB
	retryAttempts int
}

// New creates a new ledger store
func New(db *database.DB, retryAttempts int) *Store {
	return &Store{db: db, retryAttempts: retryAttempts}
}

var _ ledger.Store = (*Store)(nil)

// InTx runs fn in a read-committed transaction and re-runs it on
// serialization failures and deadlocks.
func (s *Store) InTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return RunInTx(ctx, s.db, s.retryAttempts, func(tx pgx.Tx) error {
		return fn(NewTx(tx))
	})
}

// RunInTx is the transaction runner shared by every store that embeds Tx.
func RunInTx(ctx context.Context, db *database.DB, attempts int, fn func(pgx.Tx) error) error {
	return database.Retry(ctx, attempts, func() error {
		return db.WithTx(ctx, fn)
	})
}

const walletColumns = `merchant_id, balance, available_balance, currency, version, updated_at`

// GetWallet reads the committed wallet row
func (s *Store) GetWallet(ctx context.Context, merchantID string) (*domain.Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE merchant_id = $1`, merchantID)
	return scanWallet(row)
}

// ListEntries returns a page of entries, newest first
func (s *Store) ListEntries(ctx context.Context, q ledger.EntryQuery) ([]*domain.Entry, error) {
	var (
		where = []string{"merchant_id = $1"}
		args  = []any{q.MerchantID}
	)

	if len(q.Types) > 0 {
		args = append(args, typeNames(q.Types))
		where = append(where, fmt.Sprintf("entry_type = ANY($%d)", len(args)))
	}
	if q.After != nil {
		args = append(args, q.After.CreatedAt, q.After.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`
		SELECT id, merchant_id, entry_type, amount, reference, metadata, created_at
		FROM ledger_entries
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SumByTypeSince aggregates entries per type
func (s *Store) SumByTypeSince(ctx context.Context, merchantID string, types []domain.EntryType, since *time.Time) ([]ledger.TypeTotal, error) {
	query := `
		SELECT entry_type, COUNT(*), COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE merchant_id = $1
		  AND entry_type = ANY($2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		GROUP BY entry_type
		ORDER BY entry_type
	`

	rows, err := s.db.Query(ctx, query, merchantID, typeNames(types), since)
	if err != nil {
		return nil, fmt.Errorf("summing entries: %w", err)
	}
	defer rows.Close()

	var totals []ledger.TypeTotal
	for rows.Next() {
		var t ledger.TypeTotal
		var entryType string
		if err := rows.Scan(&entryType, &t.Count, &t.Total); err != nil {
			return nil, fmt.Errorf("scanning entry totals: %w", err)
		}
		t.EntryType = domain.EntryType(entryType)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// Tx implements ledger.Tx on a pgx transaction. Stores for other aggregates
// embed it so their status changes share the wallet's unit.
type Tx struct {
	tx pgx.Tx
}

// NewTx wraps tx
func NewTx(tx pgx.Tx) *Tx {
	return &Tx{tx: tx}
}

var _ ledger.Tx = (*Tx)(nil)

func (t *Tx) EnsureWallet(ctx context.Context, merchantID string, currency money.Currency) (*domain.Wallet, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (merchant_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (merchant_id) DO NOTHING
	`, merchantID, string(currency))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown merchant %s", domain.ErrWalletNotFound, merchantID)
		}
		return nil, fmt.Errorf("creating wallet: %w", err)
	}
	return t.LockWallet(ctx, merchantID)
}

func (t *Tx) LockWallet(ctx context.Context, merchantID string) (*domain.Wallet, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE merchant_id = $1 FOR UPDATE`, merchantID)
	return scanWallet(row)
}

func (t *Tx) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	now := time.Now().UTC()
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets
		SET balance = $1, available_balance = $2, version = version + 1, updated_at = $3
		WHERE merchant_id = $4 AND version = $5
	`, w.Balance, w.AvailableBalance, now, w.MerchantID, w.Version)
	if err != nil {
		return fmt.Errorf("updating wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrentUpdate
	}
	w.Version++
	w.UpdatedAt = now
	return nil
}

func (t *Tx) InsertEntry(ctx context.Context, e *domain.Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding entry metadata: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, merchant_id, entry_type, amount, reference, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.MerchantID, string(e.EntryType), e.Amount, e.Reference, metadata, e.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrDuplicateReference, e.EntryType, e.Reference)
		}
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

func (t *Tx) EntryExists(ctx context.Context, merchantID, reference string, types ...domain.EntryType) (bool, error) {
	if len(types) == 0 {
		types = domain.AllTypes
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE merchant_id = $1 AND reference = $2 AND entry_type = ANY($3)
		)
	`, merchantID, reference, typeNames(types)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking entry: %w", err)
	}
	return exists, nil
}

func (t *Tx) FindEntry(ctx context.Context, merchantID, reference string, entryType domain.EntryType) (*domain.Entry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, merchant_id, entry_type, amount, reference, metadata, created_at
		FROM ledger_entries
		WHERE merchant_id = $1 AND reference = $2 AND entry_type = $3
	`, merchantID, reference, string(entryType))
	if err != nil {
		return nil, fmt.Errorf("finding entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrEntryNotFound
	}
	return entries[0], nil
}

func (t *Tx) Emit(ctx context.Context, evt *events.Event) error {
	if evt.CorrelationID == "" {
		evt.WithCorrelation(middleware.GetCorrelationID(ctx))
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO outbox (id, event_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ulid.Make().String(), evt.ID, evt.Type, payload, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("writing outbox: %w", err)
	}
	return nil
}

func typeNames(types []domain.EntryType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	var currency string
	err := row.Scan(&w.MerchantID, &w.Balance, &w.AvailableBalance, &currency, &w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("scanning wallet: %w", err)
	}
	w.Currency = money.Currency(currency)
	return &w, nil
}

func scanEntries(rows pgx.Rows) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var entryType string
		var metadata []byte
		err := rows.Scan(&e.ID, &e.MerchantID, &entryType, &e.Amount, &e.Reference, &metadata, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.EntryType = domain.EntryType(entryType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding entry metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
