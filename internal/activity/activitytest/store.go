// Package activitytest provides an in-memory activity store for tests.
package activitytest

import (
	"context"
	"sync"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity"
)

// Store is an in-memory activity.Store
type Store struct {
	mu      sync.Mutex
	entries []activity.Entry
	// Err, when set, fails every Insert.
	Err error
}

var _ activity.Store = (*Store)(nil)

// Actions lists recorded actions in order
func (s *Store) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

// Entries returns a copy of the recorded entries in order
func (s *Store) Entries() []activity.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]activity.Entry(nil), s.entries...)
}

func (s *Store) Insert(_ context.Context, e *activity.Entry) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *Store) List(_ context.Context, merchantID string, limit, offset int) ([]*activity.Entry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []*activity.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].MerchantID == merchantID {
			e := s.entries[i]
			mine = append(mine, &e)
		}
	}
	total := int64(len(mine))
	if offset >= len(mine) {
		return nil, total, nil
	}
	mine = mine[offset:]
	if len(mine) > limit {
		mine = mine[:limit]
	}
	return mine, total, nil
}
