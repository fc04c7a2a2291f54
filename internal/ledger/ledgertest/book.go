// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
)

// Book is an in-memory ledger.Store. Units are serialized and rolled back
// on error, mirroring the Postgres store.
type Book struct {
	mu      sync.Mutex
	wallets map[string]domain.Wallet
	entries []*domain.Entry
	events  []*events.Event

	// FailUpdate, when set, is returned by the next UpdateWallet.
	FailUpdate error
}

var _ ledger.Store = (*Book)(nil)

// NewBook creates an empty book
func NewBook() *Book {
	return &Book{wallets: map[string]domain.Wallet{}}
}

// SetWallet seeds a wallet
func (b *Book) SetWallet(merchantID string, balance, available int64, currency money.Currency) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wallets[merchantID] = domain.Wallet{
		MerchantID:       merchantID,
		Balance:          balance,
		AvailableBalance: available,
		Currency:         currency,
		Version:          1,
		UpdatedAt:        time.Now().UTC(),
	}
}

// Wallet returns a copy of the stored wallet
func (b *Book) Wallet(merchantID string) (domain.Wallet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[merchantID]
	return w, ok
}

// Entries returns every committed entry in insertion order
func (b *Book) Entries() []*domain.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.entries)
}

// AppendEntry stores e without touching any wallet
func (b *Book) AppendEntry(e *domain.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
}

// EventTypes lists the types of emitted events in order
func (b *Book) EventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]string, len(b.events))
	for i, e := range b.events {
		types[i] = e.Type
	}
	return types
}

// Events returns the emitted events
func (b *Book) Events() []*events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

func (b *Book) InTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return b.Atomically(func(tx *Tx) error { return fn(tx) }, nil)
}

// Atomically runs fn as one unit. save, if given, snapshots state the caller
// keeps beside the book and returns a function restoring it; the restore
// runs when fn fails.
func (b *Book) Atomically(fn func(*Tx) error, save func() (restore func())) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wallets := maps.Clone(b.wallets)
	nEntries, nEvents := len(b.entries), len(b.events)
	var restore func()
	if save != nil {
		restore = save()
	}

	if err := fn(&Tx{book: b}); err != nil {
		b.wallets = wallets
		b.entries = b.entries[:nEntries]
		b.events = b.events[:nEvents]
		if restore != nil {
			restore()
		}
		return err
	}
	return nil
}

func (b *Book) GetWallet(_ context.Context, merchantID string) (*domain.Wallet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.wallets[merchantID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (b *Book) ListEntries(_ context.Context, q ledger.EntryQuery) ([]*domain.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*domain.Entry
	for _, e := range b.entries {
		if e.MerchantID != q.MerchantID {
			continue
		}
		if len(q.Types) > 0 && !slices.Contains(q.Types, e.EntryType) {
			continue
		}
		if q.After != nil && !before(e, q.After) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, c *domain.Entry) int {
		if n := c.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		switch {
		case a.ID > c.ID:
			return -1
		case a.ID < c.ID:
			return 1
		}
		return 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func before(e *domain.Entry, c *ledger.Cursor) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID < c.ID
	}
	return e.CreatedAt.Before(c.CreatedAt)
}

func (b *Book) SumByTypeSince(_ context.Context, merchantID string, types []domain.EntryType, since *time.Time) ([]ledger.TypeTotal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	totals := map[domain.EntryType]*ledger.TypeTotal{}
	for _, e := range b.entries {
		if e.MerchantID != merchantID || !slices.Contains(types, e.EntryType) {
			continue
		}
		if since != nil && e.CreatedAt.Before(*since) {
			continue
		}
		t, ok := totals[e.EntryType]
		if !ok {
			t = &ledger.TypeTotal{EntryType: e.EntryType}
			totals[e.EntryType] = t
		}
		t.Count++
		t.Total += e.Amount
	}

	out := make([]ledger.TypeTotal, 0, len(totals))
	for _, t := range slices.Sorted(maps.Keys(totals)) {
		out = append(out, *totals[t])
	}
	return out, nil
}

// Tx is the book's ledger.Tx. It is only valid inside Atomically.
type Tx struct {
	book *Book
}

var _ ledger.Tx = (*Tx)(nil)

func (t *Tx) EnsureWallet(ctx context.Context, merchantID string, currency money.Currency) (*domain.Wallet, error) {
	if _, ok := t.book.wallets[merchantID]; !ok {
		t.book.wallets[merchantID] = domain.Wallet{
			MerchantID: merchantID,
			Currency:   currency,
			Version:    1,
			UpdatedAt:  time.Now().UTC(),
		}
	}
	return t.LockWallet(ctx, merchantID)
}

func (t *Tx) LockWallet(_ context.Context, merchantID string) (*domain.Wallet, error) {
	w, ok := t.book.wallets[merchantID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (t *Tx) UpdateWallet(_ context.Context, w *domain.Wallet) error {
	if err := t.book.FailUpdate; err != nil {
		t.book.FailUpdate = nil
		return err
	}
	stored, ok := t.book.wallets[w.MerchantID]
	if !ok || stored.Version != w.Version {
		return domain.ErrConcurrentUpdate
	}
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	t.book.wallets[w.MerchantID] = *w
	return nil
}

func (t *Tx) InsertEntry(_ context.Context, e *domain.Entry) error {
	for _, existing := range t.book.entries {
		if existing.Reference == e.Reference && existing.EntryType == e.EntryType {
			return domain.ErrDuplicateReference
		}
	}
	t.book.entries = append(t.book.entries, e)
	return nil
}

func (t *Tx) EntryExists(_ context.Context, merchantID, reference string, types ...domain.EntryType) (bool, error) {
	if len(types) == 0 {
		types = domain.AllTypes
	}
	for _, e := range t.book.entries {
		if e.MerchantID == merchantID && e.Reference == reference && slices.Contains(types, e.EntryType) {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tx) FindEntry(_ context.Context, merchantID, reference string, entryType domain.EntryType) (*domain.Entry, error) {
	for _, e := range t.book.entries {
		if e.MerchantID == merchantID && e.Reference == reference && e.EntryType == entryType {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrEntryNotFound
}

func (t *Tx) Emit(_ context.Context, evt *events.Event) error {
	t.book.events = append(t.book.events, evt)
	return nil
}
