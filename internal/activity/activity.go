// Package activity keeps the audit trail merchants see for changes to their
// account: profile edits, credentials, API keys and payout requests.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
)

// Actions
const (
	ActionMerchantProvisioned = "merchant.provisioned"
	ActionProfileUpdated      = "merchant.profile_updated"
	ActionCredentialsSaved    = "processor_credentials.saved"
	ActionAPIKeyCreated       = "api_key.created"
	ActionAPIKeyRotated       = "api_key.rotated"
	ActionAPIKeyRevoked       = "api_key.revoked"
	ActionPayoutRequested     = "payout.requested"
)

// Entry is one recorded action
type Entry struct {
	ID           string         `json:"id"`
	MerchantID   string         `json:"merchant_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store persists entries
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	// List returns a page of the merchant's entries, newest first, and the total.
	List(ctx context.Context, merchantID string, limit, offset int) ([]*Entry, int64, error)
}

// Log records activity. A failed write is logged and never fails the action
// it describes.
type Log struct {
	store  Store
	logger *slog.Logger
}

// NewLog creates a log over store
func NewLog(store Store, logger *slog.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// Record stores e with a fresh id, the current time and, when unset, the
// caller's address from ctx. A nil Log records nothing.
func (l *Log) Record(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	e.ID = ulid.Make().String()
	e.CreatedAt = time.Now().UTC()
	if e.IPAddress == "" {
		e.IPAddress = middleware.GetClientIP(ctx)
	}
	if err := l.store.Insert(ctx, &e); err != nil {
		l.logger.Warn("recording activity failed",
			"merchant_id", e.MerchantID,
			"action", e.Action,
			"error", err,
		)
	}
}

// List returns a page of a merchant's activity
func (l *Log) List(ctx context.Context, merchantID string, limit, offset int) ([]*Entry, int64, error) {
	return l.store.List(ctx, merchantID, limit, offset)
}
