// Package virtualaccounttest provides an in-memory virtual account store.
package virtualaccounttest

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/virtualaccount"
)

// Store is an in-memory virtualaccount.Store
type Store struct {
	mu       sync.Mutex
	accounts map[string]virtualaccount.VirtualAccount
}

var _ virtualaccount.Store = (*Store)(nil)

// NewStore returns a store seeded with accounts
func NewStore(accounts ...virtualaccount.VirtualAccount) *Store {
	s := &Store{accounts: map[string]virtualaccount.VirtualAccount{}}
	for _, va := range accounts {
		s.accounts[va.ID] = va
	}
	return s
}

func (s *Store) Insert(_ context.Context, va *virtualaccount.VirtualAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.accounts {
		if other.AccountNumber == va.AccountNumber ||
			(other.MerchantID == va.MerchantID && other.Currency == va.Currency) {
			return virtualaccount.ErrExists
		}
	}
	s.accounts[va.ID] = *va
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*virtualaccount.VirtualAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	va, ok := s.accounts[id]
	if !ok {
		return nil, virtualaccount.ErrNotFound
	}
	return &va, nil
}

func (s *Store) find(match func(virtualaccount.VirtualAccount) bool) (*virtualaccount.VirtualAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, va := range s.accounts {
		if match(va) {
			return &va, nil
		}
	}
	return nil, virtualaccount.ErrNotFound
}

func (s *Store) FindByCurrency(_ context.Context, merchantID string, currency money.Currency) (*virtualaccount.VirtualAccount, error) {
	return s.find(func(va virtualaccount.VirtualAccount) bool {
		return va.MerchantID == merchantID && va.Currency == currency
	})
}

func (s *Store) FindByAccountNumber(_ context.Context, accountNumber string) (*virtualaccount.VirtualAccount, error) {
	return s.find(func(va virtualaccount.VirtualAccount) bool { return va.AccountNumber == accountNumber })
}

func (s *Store) ListByMerchant(_ context.Context, merchantID string) ([]*virtualaccount.VirtualAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*virtualaccount.VirtualAccount
	for _, va := range slices.SortedFunc(maps.Values(s.accounts), func(a, b virtualaccount.VirtualAccount) int {
		return cmp.Compare(a.ID, b.ID)
	}) {
		if va.MerchantID == merchantID {
			list = append(list, &va)
		}
	}
	return list, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return virtualaccount.ErrNotFound
	}
	delete(s.accounts, id)
	return nil
}
