// Package paymenttest provides an in-memory payment store sharing units with
// a ledgertest.Book.
package paymenttest

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/ledgertest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/payment"
)

// Store is an in-memory payment.Store
type Store struct {
	Book *ledgertest.Book

	mu           sync.Mutex
	transactions map[string]payment.Transaction
}

var _ payment.Store = (*Store)(nil)

// NewStore creates a store over book
func NewStore(book *ledgertest.Book) *Store {
	return &Store{Book: book, transactions: map[string]payment.Transaction{}}
}

// Put seeds a transaction
func (s *Store) Put(t payment.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.Reference] = t
}

// Transaction returns the stored transaction by reference
func (s *Store) Transaction(reference string) (payment.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[reference]
	return t, ok
}

func (s *Store) Create(_ context.Context, t *payment.Transaction) error {
	s.Put(*t)
	return nil
}

func (s *Store) Get(_ context.Context, merchantID, reference string) (*payment.Transaction, error) {
	t, ok := s.Transaction(reference)
	if !ok || t.MerchantID != merchantID {
		return nil, payment.ErrNotFound
	}
	return &t, nil
}

func (s *Store) SaveCheckout(_ context.Context, t *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.transactions[t.Reference]
	if !ok {
		return payment.ErrNotFound
	}
	stored.PaymentURL = t.PaymentURL
	stored.ProcessorReference = t.ProcessorReference
	stored.UpdatedAt = time.Now().UTC()
	s.transactions[t.Reference] = stored
	return nil
}

func (s *Store) WalletCurrency(_ context.Context, merchantID string) (money.Currency, error) {
	w, ok := s.Book.Wallet(merchantID)
	if !ok {
		return "", nil
	}
	return w.Currency, nil
}

func (s *Store) InTx(_ context.Context, fn func(payment.Tx) error) error {
	return s.Book.Atomically(func(tx *ledgertest.Tx) error {
		return fn(&Tx{Tx: tx, store: s})
	}, s.snapshot)
}

func (s *Store) snapshot() func() {
	s.mu.Lock()
	saved := maps.Clone(s.transactions)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.transactions = saved
		s.mu.Unlock()
	}
}

// Tx is the store's payment.Tx
type Tx struct {
	*ledgertest.Tx
	store *Store
}

func (t *Tx) LockTransaction(_ context.Context, reference string) (*payment.Transaction, error) {
	txn, ok := t.store.Transaction(reference)
	if !ok {
		return nil, payment.ErrNotFound
	}
	return &txn, nil
}

func (t *Tx) UpdateStatus(_ context.Context, txn *payment.Transaction) error {
	t.store.Put(*txn)
	return nil
}
