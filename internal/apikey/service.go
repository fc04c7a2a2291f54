package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity"
)

// Service issues and validates merchant API keys
type Service struct {
	store    Store
	activity *activity.Log
	logger   *slog.Logger
}

// NewService creates an API key service
func NewService(store Store, activity *activity.Log, logger *slog.Logger) *Service {
	return &Service{store: store, activity: activity, logger: logger}
}

func newKey(merchantID string) (*Key, string, error) {
	secret, err := Generate()
	if err != nil {
		return nil, "", err
	}
	return &Key{
		ID:         ulid.Make().String(),
		MerchantID: merchantID,
		Prefix:     DisplayPrefix(secret),
		Hash:       Hash(secret),
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}, secret, nil
}

// Create issues a new key for the merchant
func (s *Service) Create(ctx context.Context, merchantID string) (*Issued, error) {
	k, secret, err := newKey(merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, k); err != nil {
		return nil, err
	}

	s.logger.Info("api key created", "merchant_id", merchantID, "key_id", k.ID, "key_prefix", k.Prefix)
	s.activity.Record(ctx, activity.Entry{
		MerchantID:   merchantID,
		Action:       activity.ActionAPIKeyCreated,
		ResourceType: "api_key",
		ResourceID:   k.ID,
	})
	return &Issued{Key: k, Secret: secret}, nil
}

// Rotate replaces the merchant's key id with a new one. The old key stops
// working immediately.
func (s *Service) Rotate(ctx context.Context, merchantID, id string) (*Issued, error) {
	k, secret, err := newKey(merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Rotate(ctx, merchantID, id, k); err != nil {
		return nil, err
	}

	s.logger.Info("api key rotated", "merchant_id", merchantID, "old_key_id", id, "key_id", k.ID)
	s.activity.Record(ctx, activity.Entry{
		MerchantID:   merchantID,
		Action:       activity.ActionAPIKeyRotated,
		ResourceType: "api_key",
		ResourceID:   k.ID,
		Metadata:     map[string]any{"replaced": id},
	})
	return &Issued{Key: k, Secret: secret}, nil
}

// Revoke deactivates a key
func (s *Service) Revoke(ctx context.Context, merchantID, id string) error {
	if err := s.store.Deactivate(ctx, merchantID, id); err != nil {
		return err
	}
	s.logger.Info("api key revoked", "merchant_id", merchantID, "key_id", id)
	s.activity.Record(ctx, activity.Entry{
		MerchantID:   merchantID,
		Action:       activity.ActionAPIKeyRevoked,
		ResourceType: "api_key",
		ResourceID:   id,
	})
	return nil
}

// List returns the merchant's keys, active and revoked
func (s *Service) List(ctx context.Context, merchantID string) ([]*Key, error) {
	return s.store.List(ctx, merchantID)
}

// Validate resolves a plaintext key to its merchant. It has the shape of
// middleware.APIKeyValidator.
func (s *Service) Validate(ctx context.Context, secret string) (string, error) {
	if !strings.HasPrefix(secret, Prefix) {
		return "", ErrInvalidKey
	}
	k, err := s.store.FindActive(ctx, Hash(secret))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidKey
		}
		return "", fmt.Errorf("looking up api key: %w", err)
	}
	if err := s.store.Touch(ctx, k.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("recording api key use failed", "key_id", k.ID, "error", err)
	}
	return k.MerchantID, nil
}
