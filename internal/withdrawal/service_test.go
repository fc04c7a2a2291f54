package withdrawal_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/ledgertest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant/merchanttest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/providertest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal/withdrawaltest"
)

var payout = merchant.PayoutAccount{BankCode: "058", BankName: "GTBank", AccountNumber: "0123456789", AccountName: "ADA OKAFOR"}

type fixture struct {
	svc   *withdrawal.Service
	store *withdrawaltest.Store
	book  *ledgertest.Book
	fake  *providertest.Fake
}

func newFixture(fake *providertest.Fake, merchants ...merchant.Merchant) *fixture {
	if len(merchants) == 0 {
		merchants = []merchant.Merchant{{ID: "m1", Email: "shop@example.com", Payout: payout}}
	}
	book := ledgertest.NewBook()
	store := withdrawaltest.NewStore(book)
	svc := withdrawal.NewService(store, merchanttest.NewStore(merchants...), fake.Registry(),
		withdrawal.Config{Processor: fake.Name()}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, store: store, book: book, fake: fake}
}

func (f *fixture) wallet(t *testing.T) domain.Wallet {
	t.Helper()
	w, ok := f.book.Wallet("m1")
	require.True(t, ok)
	return w
}

func entryTypes(entries []*domain.Entry) []domain.EntryType {
	types := make([]domain.EntryType, len(entries))
	for i, e := range entries {
		types[i] = e.EntryType
	}
	return types
}

func TestRequestSubmitted(t *testing.T) {
	f := newFixture(&providertest.Fake{})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)

	wd, err := f.svc.Request(context.Background(), "m1", withdrawal.CreateRequest{Amount: 3000})
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusPending, wd.Status)
	assert.True(t, strings.HasPrefix(wd.Reference, withdrawal.ReferencePrefix))
	assert.Equal(t, "trf_"+wd.Reference, wd.TransferID)

	w := f.wallet(t)
	assert.Equal(t, int64(7000), w.AvailableBalance)
	assert.Equal(t, int64(10000), w.Balance)

	entries := f.book.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryTypeWithdrawal, entries[0].EntryType)
	assert.Equal(t, int64(-3000), entries[0].Amount)

	transfers := f.fake.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, wd.Reference, transfers[0].Reference)
	assert.Equal(t, money.New(3000, money.NGN), transfers[0].Amount)
	assert.Equal(t, "0123456789", transfers[0].AccountNumber)

	stored, ok := f.store.Withdrawal(wd.Reference)
	require.True(t, ok)
	assert.Equal(t, wd.TransferID, stored.TransferID)
}

// Scenario B
func TestRequestRejectedIsReversed(t *testing.T) {
	f := newFixture(&providertest.Fake{
		Transfer: func(providers.TransferRequest) (*providers.Transfer, error) {
			return nil, &providers.RejectedError{Processor: providers.Flutterwave, StatusCode: 400, Message: "Insufficient balance in payout wallet"}
		},
	})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)

	wd, err := f.svc.Request(context.Background(), "m1", withdrawal.CreateRequest{Amount: 3000})
	assert.ErrorIs(t, err, withdrawal.ErrTransferRejected)
	require.NotNil(t, wd)
	assert.Equal(t, withdrawal.StatusFailed, wd.Status)
	assert.Equal(t, "Insufficient balance in payout wallet", wd.FailureReason)

	entries := f.book.Entries()
	assert.Equal(t, []domain.EntryType{domain.EntryTypeWithdrawal, domain.EntryTypeReversal}, entryTypes(entries))
	assert.Equal(t, int64(3000), entries[1].Amount)
	assert.Equal(t, domain.ReversalReference(wd.Reference), entries[1].Reference)

	w := f.wallet(t)
	assert.Equal(t, int64(10000), w.AvailableBalance)
	assert.Equal(t, int64(10000), w.Balance)
}

func TestRequestAmbiguousFailureStaysPending(t *testing.T) {
	f := newFixture(&providertest.Fake{
		Transfer: func(providers.TransferRequest) (*providers.Transfer, error) {
			return nil, errors.Join(providers.ErrUpstreamUnavailable, context.DeadlineExceeded)
		},
	})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)

	wd, err := f.svc.Request(context.Background(), "m1", withdrawal.CreateRequest{Amount: 3000})
	assert.ErrorIs(t, err, providers.ErrUpstreamUnavailable)
	require.NotNil(t, wd)
	assert.Equal(t, withdrawal.StatusPending, wd.Status)

	assert.Equal(t, []domain.EntryType{domain.EntryTypeWithdrawal}, entryTypes(f.book.Entries()))
	assert.Equal(t, int64(7000), f.wallet(t).AvailableBalance)

	stored, _ := f.store.Withdrawal(wd.Reference)
	assert.Equal(t, withdrawal.StatusPending, stored.Status)
}

func TestRequestTransferIDNotRecorded(t *testing.T) {
	f := newFixture(&providertest.Fake{})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)
	f.store.FailSaveTransfer = errors.New("connection reset")

	wd, err := f.svc.Request(context.Background(), "m1", withdrawal.CreateRequest{Amount: 3000})
	assert.ErrorIs(t, err, providers.ErrUpstreamUnavailable)
	assert.ErrorContains(t, err, "connection reset")
	require.NotNil(t, wd)
	assert.Equal(t, withdrawal.StatusPending, wd.Status)
	assert.Len(t, f.fake.Transfers(), 1)

	stored, _ := f.store.Withdrawal(wd.Reference)
	assert.Empty(t, stored.TransferID)

	// the completion webhook still resolves it by reference
	done, err := f.svc.Complete(context.Background(), withdrawal.Completion{Reference: wd.Reference, TransferID: "trf_" + wd.Reference, Succeeded: true})
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusSuccess, done.Status)
	assert.Equal(t, "trf_"+wd.Reference, done.TransferID)
	assert.Equal(t, int64(7000), f.wallet(t).Balance)
}

// Scenario E
func TestRequestInsufficientBalance(t *testing.T) {
	f := newFixture(&providertest.Fake{})
	f.book.SetWallet("m1", 3000, 3000, money.NGN)

	_, err := f.svc.Request(context.Background(), "m1", withdrawal.CreateRequest{Amount: 5000})
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(3000), insufficient.Available)

	assert.Empty(t, f.book.Entries())
	assert.Empty(t, f.fake.Transfers())
	assert.Empty(t, f.store.All())
}

func TestRequestPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no payout account", func(t *testing.T) {
		f := newFixture(&providertest.Fake{}, merchant.Merchant{ID: "m1"})
		f.book.SetWallet("m1", 10000, 10000, money.NGN)
		_, err := f.svc.Request(ctx, "m1", withdrawal.CreateRequest{Amount: 100})
		assert.ErrorIs(t, err, withdrawal.ErrBankAccountNotConfigured)
		assert.Empty(t, f.book.Entries())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		f := newFixture(&providertest.Fake{})
		_, err := f.svc.Request(ctx, "m1", withdrawal.CreateRequest{Amount: 0})
		assert.Error(t, err)
		assert.Empty(t, f.fake.Transfers())
	})

	t.Run("empty wallet", func(t *testing.T) {
		f := newFixture(&providertest.Fake{})
		_, err := f.svc.Request(ctx, "m1", withdrawal.CreateRequest{Amount: 100})
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})
}

// Scenario C
func TestCompletionFailedReversesOnce(t *testing.T) {
	f := newFixture(&providertest.Fake{})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)
	ctx := context.Background()

	wd, err := f.svc.Request(ctx, "m1", withdrawal.CreateRequest{Amount: 3000})
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, withdrawal.Completion{Reference: wd.Reference, Succeeded: false, Reason: "beneficiary bank unavailable"})
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusFailed, done.Status)

	_, err = f.svc.Complete(ctx, withdrawal.Completion{Reference: wd.Reference, Succeeded: false})
	assert.ErrorIs(t, err, withdrawal.ErrAlreadyResolved)

	entries := f.book.Entries()
	assert.Equal(t, []domain.EntryType{domain.EntryTypeWithdrawal, domain.EntryTypeReversal}, entryTypes(entries))
	assert.Equal(t, -entries[0].Amount, entries[1].Amount)

	w := f.wallet(t)
	assert.Equal(t, int64(10000), w.Balance)
	assert.Equal(t, int64(10000), w.AvailableBalance)
	assert.Contains(t, f.book.EventTypes(), events.EventWithdrawalFailed)
}

func TestCompletionSucceeded(t *testing.T) {
	f := newFixture(&providertest.Fake{})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)
	ctx := context.Background()

	wd, err := f.svc.Request(ctx, "m1", withdrawal.CreateRequest{Amount: 3000})
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, withdrawal.Completion{Reference: wd.Reference, Succeeded: true})
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusSuccess, done.Status)

	w := f.wallet(t)
	assert.Equal(t, int64(7000), w.Balance)
	assert.Equal(t, int64(7000), w.AvailableBalance)
	assert.Len(t, f.book.Entries(), 1, "success appends nothing")

	_, err = f.svc.Complete(ctx, withdrawal.Completion{Reference: wd.Reference, Succeeded: false})
	assert.ErrorIs(t, err, withdrawal.ErrAlreadyResolved)
	assert.Equal(t, int64(7000), f.wallet(t).AvailableBalance)
}

func TestCompletionUnknownReference(t *testing.T) {
	f := newFixture(&providertest.Fake{})
	_, err := f.svc.Complete(context.Background(), withdrawal.Completion{Reference: "WD_nope", Succeeded: true})
	assert.ErrorIs(t, err, withdrawal.ErrNotFound)
}

func TestResolveManually(t *testing.T) {
	f := newFixture(&providertest.Fake{
		Transfer: func(providers.TransferRequest) (*providers.Transfer, error) {
			return nil, providers.ErrUpstreamUnavailable
		},
	})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)
	ctx := context.Background()

	wd, _ := f.svc.Request(ctx, "m1", withdrawal.CreateRequest{Amount: 2500})
	require.NotNil(t, wd)

	_, err := f.svc.ResolveManually(ctx, wd.Reference, "ops@glowtek", withdrawal.ResolveRequest{Status: "pending", Reason: "x"})
	assert.Error(t, err)

	done, err := f.svc.ResolveManually(ctx, wd.Reference, "ops@glowtek", withdrawal.ResolveRequest{Status: "failed", Reason: "processor confirmed no transfer"})
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusFailed, done.Status)
	assert.Equal(t, "manual: processor confirmed no transfer", done.FailureReason)
	assert.Equal(t, int64(10000), f.wallet(t).AvailableBalance)
}

func TestStale(t *testing.T) {
	f := newFixture(&providertest.Fake{})
	old := withdrawal.NewWithdrawal("m1", 100, providers.Flutterwave, "058", "0123456789", "ADA")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	f.store.Put(*old)
	fresh := withdrawal.NewWithdrawal("m1", 100, providers.Flutterwave, "058", "0123456789", "ADA")
	f.store.Put(*fresh)

	stale, err := f.svc.Stale(context.Background(), 24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.Reference, stale[0].Reference)
}
