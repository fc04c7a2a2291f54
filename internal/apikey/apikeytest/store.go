// Package apikeytest provides an in-memory API key store for tests.
package apikeytest

import (
	"context"
	"sync"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/apikey"
)

// Store is an in-memory apikey.Store
type Store struct {
	mu   sync.Mutex
	keys []*apikey.Key
}

var _ apikey.Store = (*Store)(nil)

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{}
}

func (s *Store) Insert(_ context.Context, k *apikey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *k
	s.keys = append(s.keys, &c)
	return nil
}

func (s *Store) List(_ context.Context, merchantID string) ([]*apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*apikey.Key
	for i := len(s.keys) - 1; i >= 0; i-- {
		if s.keys[i].MerchantID == merchantID {
			c := *s.keys[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) active(merchantID, id string) *apikey.Key {
	for _, k := range s.keys {
		if k.ID == id && k.MerchantID == merchantID && k.Active {
			return k
		}
	}
	return nil
}

func (s *Store) Rotate(_ context.Context, merchantID, oldID string, next *apikey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.active(merchantID, oldID)
	if old == nil {
		return apikey.ErrNotFound
	}
	old.Active = false
	c := *next
	s.keys = append(s.keys, &c)
	return nil
}

func (s *Store) Deactivate(_ context.Context, merchantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.active(merchantID, id)
	if k == nil {
		return apikey.ErrNotFound
	}
	k.Active = false
	return nil
}

func (s *Store) FindActive(_ context.Context, hash string) (*apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Hash == hash && k.Active {
			c := *k
			return &c, nil
		}
	}
	return nil, apikey.ErrNotFound
}

func (s *Store) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id {
			t := at
			k.LastUsedAt = &t
		}
	}
	return nil
}
