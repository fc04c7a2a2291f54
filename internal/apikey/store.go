package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const keyColumns = `id, merchant_id, key_prefix, key_hash, is_active, last_used_at, created_at`

const insertKey = `
	INSERT INTO api_keys (` + keyColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (s *PostgresStore) Insert(ctx context.Context, k *Key) error {
	_, err := s.db.Exec(ctx, insertKey, k.ID, k.MerchantID, k.Prefix, k.Hash, k.Active, k.LastUsedAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, merchantID string) ([]*Key, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE merchant_id = $1
		ORDER BY created_at DESC
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) Rotate(ctx context.Context, merchantID, oldID string, next *Key) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE api_keys SET is_active = false
			WHERE id = $1 AND merchant_id = $2 AND is_active
		`, oldID, merchantID)
		if err != nil {
			return fmt.Errorf("deactivating api key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, insertKey, next.ID, next.MerchantID, next.Prefix, next.Hash, next.Active, next.LastUsedAt, next.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting api key: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Deactivate(ctx context.Context, merchantID, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys SET is_active = false
		WHERE id = $1 AND merchant_id = $2 AND is_active
	`, id, merchantID)
	if err != nil {
		return fmt.Errorf("deactivating api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindActive(ctx context.Context, hash string) (*Key, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE key_hash = $1 AND is_active
	`, hash)
	k, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return k, err
}

func (s *PostgresStore) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

func scanKey(row pgx.Row) (*Key, error) {
	var k Key
	if err := row.Scan(&k.ID, &k.MerchantID, &k.Prefix, &k.Hash, &k.Active, &k.LastUsedAt, &k.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning api key: %w", err)
	}
	return &k, nil
}
