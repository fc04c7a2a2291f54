// Package withdrawaltest provides an in-memory withdrawal store sharing units
// with a ledgertest.Book.
package withdrawaltest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/ledgertest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal"
)

// Store is an in-memory withdrawal.Store
type Store struct {
	Book *ledgertest.Book
	// FailSaveTransfer, when set, is returned by the next SaveTransfer.
	FailSaveTransfer error

	mu          sync.Mutex
	withdrawals map[string]withdrawal.Withdrawal
}

var _ withdrawal.Store = (*Store)(nil)

// NewStore creates a store over book
func NewStore(book *ledgertest.Book) *Store {
	return &Store{Book: book, withdrawals: map[string]withdrawal.Withdrawal{}}
}

// Put seeds a withdrawal
func (s *Store) Put(w withdrawal.Withdrawal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawals[w.Reference] = w
}

// Withdrawal returns the stored withdrawal by reference
func (s *Store) Withdrawal(reference string) (withdrawal.Withdrawal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[reference]
	return w, ok
}

// All returns every stored withdrawal, oldest first
func (s *Store) All() []withdrawal.Withdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := slices.Collect(maps.Values(s.withdrawals))
	slices.SortFunc(all, func(a, b withdrawal.Withdrawal) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return all
}

func (s *Store) Get(_ context.Context, merchantID, reference string) (*withdrawal.Withdrawal, error) {
	w, ok := s.Withdrawal(reference)
	if !ok || w.MerchantID != merchantID {
		return nil, withdrawal.ErrNotFound
	}
	return &w, nil
}

func (s *Store) List(_ context.Context, merchantID string, limit, offset int) ([]*withdrawal.Withdrawal, int64, error) {
	var mine []*withdrawal.Withdrawal
	all := s.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].MerchantID == merchantID {
			mine = append(mine, &all[i])
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

func (s *Store) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]*withdrawal.Withdrawal, error) {
	var out []*withdrawal.Withdrawal
	all := s.All()
	for i := range all {
		if all[i].Status == withdrawal.StatusPending && all[i].CreatedAt.Before(createdBefore) && len(out) < limit {
			out = append(out, &all[i])
		}
	}
	return out, nil
}

func (s *Store) SaveTransfer(_ context.Context, reference, transferID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailSaveTransfer; err != nil {
		s.FailSaveTransfer = nil
		return err
	}
	w, ok := s.withdrawals[reference]
	if !ok {
		return withdrawal.ErrNotFound
	}
	if w.TransferID == "" {
		w.TransferID = transferID
		s.withdrawals[reference] = w
	}
	return nil
}

func (s *Store) InTx(_ context.Context, fn func(withdrawal.Tx) error) error {
	return s.Book.Atomically(func(tx *ledgertest.Tx) error {
		return fn(&Tx{Tx: tx, store: s})
	}, s.snapshot)
}

func (s *Store) snapshot() func() {
	s.mu.Lock()
	saved := maps.Clone(s.withdrawals)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.withdrawals = saved
		s.mu.Unlock()
	}
}

// Tx is the store's withdrawal.Tx
type Tx struct {
	*ledgertest.Tx
	store *Store
}

func (t *Tx) Insert(_ context.Context, w *withdrawal.Withdrawal) error {
	t.store.Put(*w)
	return nil
}

func (t *Tx) LockWithdrawal(_ context.Context, reference string) (*withdrawal.Withdrawal, error) {
	w, ok := t.store.Withdrawal(reference)
	if !ok {
		return nil, withdrawal.ErrNotFound
	}
	return &w, nil
}

func (t *Tx) UpdateStatus(_ context.Context, w *withdrawal.Withdrawal) error {
	t.store.Put(*w)
	return nil
}
