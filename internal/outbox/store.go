package outbox

import (
	"context"
	"fmt"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
)

// PostgresStore implements Store over the outbox table.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Pending(ctx context.Context, limit, maxAttempts int) ([]events.OutboxEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_id, event_type, payload, created_at, attempts
		FROM outbox
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY created_at ASC
		LIMIT $1
	`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var entries []events.OutboxEntry
	for rows.Next() {
		var e events.OutboxEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Payload, &e.CreatedAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`, id, reason)
	return err
}

func (s *PostgresStore) Backlog(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	return n, err
}
