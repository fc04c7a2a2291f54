package webhook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/ledgertest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant/merchanttest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/payment"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/payment/paymenttest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/flutterwave"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/providertest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/virtualaccount"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/virtualaccount/virtualaccounttest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/webhook"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal/withdrawaltest"
)

type fixture struct {
	reconciler  *webhook.Reconciler
	registry    *providers.Registry
	book        *ledgertest.Book
	payments    *paymenttest.Store
	withdrawals *withdrawal.Service
	fake        *providertest.Fake
}

func newFixture(t *testing.T, fake *providertest.Fake) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := ledgertest.NewBook()
	registry := fake.Registry()
	merchants := merchanttest.NewStore(merchant.Merchant{
		ID:     "m1",
		Email:  "shop@example.com",
		Payout: merchant.PayoutAccount{BankCode: "058", AccountNumber: "0123456789", AccountName: "ADA OKAFOR"},
	})

	accounts := virtualaccounttest.NewStore(virtualaccount.VirtualAccount{
		ID: "va1", MerchantID: "m1", AccountNumber: "9900000001", Currency: money.NGN, Processor: providers.Flutterwave, CreatedAt: time.Now(),
	})
	paymentStore := paymenttest.NewStore(book)
	withdrawals := withdrawal.NewService(withdrawaltest.NewStore(book), merchants, registry, withdrawal.Config{Processor: fake.Name()}, nil, logger)

	return &fixture{
		reconciler: webhook.NewReconciler(
			registry,
			book,
			virtualaccount.NewService(accounts, merchants, registry, fake.Name(), logger),
			payment.NewService(paymentStore, merchants, registry, payment.Config{}, nil, logger),
			withdrawals,
			nil,
			logger,
		),
		registry:    registry,
		book:        book,
		payments:    paymentStore,
		withdrawals: withdrawals,
		fake:        fake,
	}
}

func (f *fixture) process(t *testing.T, e providertest.FakeEvent) webhook.Result {
	t.Helper()
	res, err := f.reconciler.Process(context.Background(), f.fake.Name(), http.Header{}, e.Body())
	require.NoError(t, err)
	return res
}

func (f *fixture) balances(t *testing.T) (balance, available int64) {
	t.Helper()
	w, ok := f.book.Wallet("m1")
	require.True(t, ok)
	return w.Balance, w.AvailableBalance
}

// Scenario A
func TestVirtualAccountCredit(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})

	res := f.process(t, providertest.FakeEvent{Kind: "va_credit", AccountNumber: "9900000001", Reference: "FLW-MOCK-1", Amount: 5000})
	assert.Equal(t, webhook.StatusSuccess, res.Status)
	assert.Equal(t, "m1", res.MerchantID)

	entries := f.book.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryTypeCredit, entries[0].EntryType)
	assert.Equal(t, int64(5000), entries[0].Amount)

	balance, available := f.balances(t)
	assert.Equal(t, int64(5000), balance)
	assert.Equal(t, int64(5000), available)
}

func TestReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	evt := providertest.FakeEvent{Kind: "va_credit", AccountNumber: "9900000001", Reference: "FLW-MOCK-2", Amount: 2500}

	assert.Equal(t, webhook.StatusSuccess, f.process(t, evt).Status)
	for range 4 {
		assert.Equal(t, webhook.StatusAlreadyProcessed, f.process(t, evt).Status)
	}

	assert.Len(t, f.book.Entries(), 1)
	balance, _ := f.balances(t)
	assert.Equal(t, int64(2500), balance)
	assert.Equal(t, domain.SignedSum(f.book.Entries()), balance)
}

// Scenario D
func TestInvalidSignatureChangesNothing(t *testing.T) {
	f := newFixture(t, &providertest.Fake{WebhookAuth: providers.ErrInvalidSignature})

	evt := providertest.FakeEvent{Kind: "va_credit", AccountNumber: "9900000001", Reference: "FLW-FORGED", Amount: 1_000_000}
	_, err := f.reconciler.Process(context.Background(), f.fake.Name(), http.Header{}, evt.Body())
	assert.ErrorIs(t, err, providers.ErrInvalidSignature)

	assert.Empty(t, f.book.Entries())
	_, ok := f.book.Wallet("m1")
	assert.False(t, ok)
}

func TestIgnoredNotifications(t *testing.T) {
	tests := []struct {
		name       string
		evt        providertest.FakeEvent
		wantStatus string
		wantReason string
	}{
		{"unknown account", providertest.FakeEvent{Kind: "va_credit", AccountNumber: "1111111111", Reference: "r1", Amount: 100}, webhook.StatusIgnored, webhook.ReasonAccountNotFound},
		{"missing account", providertest.FakeEvent{Kind: "va_credit", Reference: "r2", Amount: 100}, webhook.StatusIgnored, webhook.ReasonMissingAccountNumber},
		{"unknown transaction", providertest.FakeEvent{Kind: "charge", Reference: "GTP_nope", Amount: 100}, webhook.StatusIgnored, webhook.ReasonTransactionNotFound},
		{"unknown withdrawal", providertest.FakeEvent{Kind: "transfer", Reference: "WD_nope", Succeeded: true}, webhook.StatusIgnored, webhook.ReasonWithdrawalNotFound},
		{"unhandled event", providertest.FakeEvent{Kind: "subscription.created"}, webhook.StatusIgnored, providers.ReasonEventNotHandled},
		{"wrong currency", providertest.FakeEvent{Kind: "va_credit", AccountNumber: "9900000001", Reference: "r3", Amount: 100, Currency: "USD"}, webhook.StatusIgnored, webhook.ReasonCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &providertest.Fake{})
			f.book.SetWallet("m1", 0, 0, money.NGN)

			res := f.process(t, tt.evt)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Empty(t, f.book.Entries())
		})
	}
}

func TestInvalidPayloadIsAcknowledged(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})

	res, err := f.reconciler.Process(context.Background(), f.fake.Name(), http.Header{}, []byte(`{not json`))
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusInvalidPayload, res.Status)
}

func TestTransactionCredit(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	txn, err := payment.NewTransaction("m1", money.New(7500, money.NGN), providers.Paystack, "", nil)
	require.NoError(t, err)
	f.payments.Put(*txn)

	evt := providertest.FakeEvent{Kind: "charge", Reference: txn.Reference, Amount: 7500}
	assert.Equal(t, webhook.StatusSuccess, f.process(t, evt).Status)
	assert.Equal(t, webhook.StatusAlreadyProcessed, f.process(t, evt).Status)

	stored, _ := f.payments.Transaction(txn.Reference)
	assert.Equal(t, payment.StatusSuccess, stored.Status)
	assert.Len(t, f.book.Entries(), 1)
	balance, _ := f.balances(t)
	assert.Equal(t, int64(7500), balance)
}

func TestTransactionAmountMismatch(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	txn, err := payment.NewTransaction("m1", money.New(7500, money.NGN), providers.Paystack, "", nil)
	require.NoError(t, err)
	f.payments.Put(*txn)

	res := f.process(t, providertest.FakeEvent{Kind: "charge", Reference: txn.Reference, Amount: 100})
	assert.Equal(t, webhook.StatusAmountMismatch, res.Status)

	stored, _ := f.payments.Transaction(txn.Reference)
	assert.Equal(t, payment.StatusPending, stored.Status)
	assert.Empty(t, f.book.Entries())
}

func (f *fixture) markTopUp(merchantID, reference string, amount int64) {
	f.book.AppendEntry(&domain.Entry{
		ID: "marker_" + reference, MerchantID: merchantID, EntryType: domain.EntryTypeTopUpPending,
		Amount: amount, Reference: reference, CreatedAt: time.Now(),
	})
}

func TestTopUpCredit(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	ref := providers.TopUpReference("m1", "01J0000000000000000000000")
	f.markTopUp("m1", ref, 20000)

	res := f.process(t, providertest.FakeEvent{Kind: "charge", Reference: ref, Amount: 20000})
	assert.Equal(t, webhook.StatusSuccess, res.Status)
	assert.Equal(t, "m1", res.MerchantID)
	assert.Equal(t, webhook.StatusAlreadyProcessed, f.process(t, providertest.FakeEvent{Kind: "charge", Reference: ref, Amount: 20000}).Status)

	balance, _ := f.balances(t)
	assert.Equal(t, int64(20000), balance)
}

func TestTopUpCreditRequiresMarker(t *testing.T) {
	t.Run("unknown merchant", func(t *testing.T) {
		f := newFixture(t, &providertest.Fake{})
		ref := providers.TopUpReference("ghost", "01J0000000000000000000001")

		res := f.process(t, providertest.FakeEvent{Kind: "charge", Reference: ref, Amount: 20000})
		assert.Equal(t, webhook.StatusIgnored, res.Status)
		assert.Equal(t, webhook.ReasonTopUpNotFound, res.Reason)
		assert.Empty(t, f.book.Entries())
	})

	t.Run("marker of another merchant", func(t *testing.T) {
		f := newFixture(t, &providertest.Fake{})
		ref := providers.TopUpReference("m1", "01J0000000000000000000002")
		f.markTopUp("m2", ref, 20000)

		res := f.process(t, providertest.FakeEvent{Kind: "charge", Reference: ref, Amount: 20000})
		assert.Equal(t, webhook.ReasonTopUpNotFound, res.Reason)
		_, ok := f.book.Wallet("m1")
		assert.False(t, ok)
	})

	t.Run("amount differs from marker", func(t *testing.T) {
		f := newFixture(t, &providertest.Fake{})
		ref := providers.TopUpReference("m1", "01J0000000000000000000003")
		f.markTopUp("m1", ref, 20000)

		res := f.process(t, providertest.FakeEvent{Kind: "charge", Reference: ref, Amount: 2_000_000})
		assert.Equal(t, webhook.StatusAmountMismatch, res.Status)
		assert.Len(t, f.book.Entries(), 1, "only the marker")
		_, ok := f.book.Wallet("m1")
		assert.False(t, ok)
	})
}

func TestTransactionCurrencyMismatchIsIgnored(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	f.book.SetWallet("m1", 0, 0, money.NGN)
	txn, err := payment.NewTransaction("m1", money.New(7500, money.USD), providers.Paystack, "", nil)
	require.NoError(t, err)
	f.payments.Put(*txn)

	res := f.process(t, providertest.FakeEvent{Kind: "charge", Reference: txn.Reference, Amount: 7500, Currency: "USD"})
	assert.Equal(t, webhook.StatusIgnored, res.Status)
	assert.Equal(t, webhook.ReasonCurrencyMismatch, res.Reason)

	stored, _ := f.payments.Transaction(txn.Reference)
	assert.Equal(t, payment.StatusPending, stored.Status)
	assert.Empty(t, f.book.Entries())
}

func TestFlutterwaveBankTransferCheckouts(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	f.registry.Register(providers.Flutterwave, flutterwave.NewAdapter(flutterwave.Config{
		SecretKey:     "FLWSECK_TEST",
		WebhookHash:   "whsec",
		SignatureMode: flutterwave.SignatureSecret,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil))))
	header := http.Header{}
	header.Set(flutterwave.SignatureHeader, "whsec")

	txn, err := payment.NewTransaction("m1", money.New(7500, money.NGN), providers.Flutterwave, "", nil)
	require.NoError(t, err)
	f.payments.Put(*txn)
	topUp := providers.TopUpReference("m1", "01J0000000000000000000004")
	f.markTopUp("m1", topUp, 20000)

	bodies := []string{
		`{"event":"charge.completed","data":{"id":21,"tx_ref":"` + txn.Reference + `","flw_ref":"FLW-21","amount":75,"currency":"NGN","status":"successful","payment_type":"bank_transfer"}}`,
		`{"event":"charge.completed","data":{"id":22,"tx_ref":"` + topUp + `","flw_ref":"FLW-22","amount":200,"currency":"NGN","status":"successful","payment_type":"bank_transfer"}}`,
	}
	for _, body := range bodies {
		res, err := f.reconciler.Process(context.Background(), providers.Flutterwave, header, []byte(body))
		require.NoError(t, err)
		assert.Equal(t, webhook.StatusSuccess, res.Status, body)
		assert.Equal(t, "m1", res.MerchantID)
	}

	stored, _ := f.payments.Transaction(txn.Reference)
	assert.Equal(t, payment.StatusSuccess, stored.Status)
	balance, _ := f.balances(t)
	assert.Equal(t, int64(27500), balance)
}

// Scenario C
func TestTransferFailureReverses(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)

	wd, err := f.withdrawals.Request(context.Background(), "m1", withdrawal.CreateRequest{Amount: 3000})
	require.NoError(t, err)

	evt := providertest.FakeEvent{Kind: "transfer", Reference: wd.Reference, Succeeded: false}
	assert.Equal(t, webhook.StatusSuccess, f.process(t, evt).Status)
	assert.Equal(t, webhook.StatusAlreadyProcessed, f.process(t, evt).Status)

	var reversals int
	for _, e := range f.book.Entries() {
		if e.EntryType == domain.EntryTypeReversal {
			reversals++
			assert.Equal(t, int64(3000), e.Amount)
		}
	}
	assert.Equal(t, 1, reversals)

	balance, available := f.balances(t)
	assert.Equal(t, int64(10000), balance)
	assert.Equal(t, int64(10000), available)
}

func TestTransferSuccessSettles(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	f.book.SetWallet("m1", 10000, 10000, money.NGN)

	wd, err := f.withdrawals.Request(context.Background(), "m1", withdrawal.CreateRequest{Amount: 3000})
	require.NoError(t, err)

	res := f.process(t, providertest.FakeEvent{Kind: "transfer", Reference: wd.Reference, Succeeded: true})
	assert.Equal(t, webhook.StatusSuccess, res.Status)

	balance, available := f.balances(t)
	assert.Equal(t, int64(7000), balance)
	assert.Equal(t, int64(7000), available)
}

func TestStorageFailureIsTransient(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	f.book.FailUpdate = errors.New("connection reset")

	_, err := f.reconciler.Process(context.Background(), f.fake.Name(), http.Header{},
		providertest.FakeEvent{Kind: "va_credit", AccountNumber: "9900000001", Reference: "FLW-3", Amount: 100}.Body())
	require.Error(t, err)
	assert.False(t, errors.Is(err, providers.ErrInvalidSignature))
	assert.Empty(t, f.book.Entries())

	f.book.FailUpdate = nil
	res := f.process(t, providertest.FakeEvent{Kind: "va_credit", AccountNumber: "9900000001", Reference: "FLW-3", Amount: 100})
	assert.Equal(t, webhook.StatusSuccess, res.Status)
}

func TestUnknownProcessor(t *testing.T) {
	f := newFixture(t, &providertest.Fake{})
	_, err := f.reconciler.Process(context.Background(), providers.Chapa, http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, providers.ErrUnknownProcessor)
}
