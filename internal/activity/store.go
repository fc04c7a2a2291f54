package activity

import (
	"context"
	"encoding/json"
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

const entryColumns = `id, merchant_id, action, resource_type, resource_id, ip_address, metadata, created_at`

func (s *PostgresStore) Insert(ctx context.Context, e *Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding activity metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO activity_logs (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.MerchantID, e.Action, e.ResourceType, e.ResourceID, e.IPAddress, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, merchantID string, limit, offset int) ([]*Entry, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM activity_logs WHERE merchant_id = $1`, merchantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting activity: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM activity_logs
		WHERE merchant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, merchantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	list, err := scanEntries(rows)
	return list, total, err
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var list []*Entry
	for rows.Next() {
		var e Entry
		var metadata []byte
		err := rows.Scan(&e.ID, &e.MerchantID, &e.Action, &e.ResourceType, &e.ResourceID, &e.IPAddress, &metadata, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding activity metadata: %w", err)
			}
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
