// Package merchanttest provides an in-memory merchant store for tests.
package merchanttest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Store is an in-memory merchant.Store
type Store struct {
	mu          sync.Mutex
	merchants   map[string]merchant.Merchant
	credentials map[string]merchant.ProcessorCredentials
}

var _ merchant.Store = (*Store)(nil)

// NewStore returns a store seeded with merchants
func NewStore(merchants ...merchant.Merchant) *Store {
	s := &Store{
		merchants:   map[string]merchant.Merchant{},
		credentials: map[string]merchant.ProcessorCredentials{},
	}
	for _, m := range merchants {
		s.merchants[m.ID] = m
	}
	return s
}

func (s *Store) Get(_ context.Context, id string) (*merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, merchant.ErrNotFound
	}
	return &m, nil
}

func (s *Store) SavePayoutAccount(_ context.Context, id string, account merchant.PayoutAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return merchant.ErrNotFound
	}
	m.Payout = account
	s.merchants[id] = m
	return nil
}

func (s *Store) Create(_ context.Context, m *merchant.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.merchants {
		if existing.ID == m.ID || strings.EqualFold(existing.Email, m.Email) {
			return merchant.ErrAlreadyExists
		}
	}
	s.merchants[m.ID] = *m
	return nil
}

func (s *Store) UpdateProfile(_ context.Context, id string, p merchant.Profile) (*merchant.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, merchant.ErrNotFound
	}
	if p.BusinessName != "" {
		m.BusinessName = p.BusinessName
	}
	if p.Phone != "" {
		m.Phone = p.Phone
	}
	m.UpdatedAt = time.Now().UTC()
	s.merchants[id] = m
	return &m, nil
}

func (s *Store) UpsertProcessorCredentials(_ context.Context, c *merchant.ProcessorCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.merchants[c.MerchantID]; !ok {
		return merchant.ErrNotFound
	}
	s.credentials[c.MerchantID+"/"+string(c.Processor)] = *c
	return nil
}

// Credentials returns the stored credential set for a processor
func (s *Store) Credentials(merchantID string, processor providers.Name) (merchant.ProcessorCredentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[merchantID+"/"+string(processor)]
	return c, ok
}
