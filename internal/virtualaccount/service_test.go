package virtualaccount_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant/merchanttest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/providertest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/virtualaccount"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/virtualaccount/virtualaccounttest"
)

var glow = merchant.Merchant{ID: "m1", Email: "shop@example.com", BusinessName: "Glow Store", BVN: "12345678901"}

func newService(fake *providertest.Fake, merchants ...merchant.Merchant) (*virtualaccount.Service, *virtualaccounttest.Store) {
	if len(merchants) == 0 {
		merchants = []merchant.Merchant{glow}
	}
	store := virtualaccounttest.NewStore()
	svc := virtualaccount.NewService(store, merchanttest.NewStore(merchants...), fake.Registry(), fake.Name(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store
}

func TestCreateIsIdempotentPerCurrency(t *testing.T) {
	var calls atomic.Int32
	var seen providers.VirtualAccountRequest
	svc, _ := newService(&providertest.Fake{IssueVA: func(req providers.VirtualAccountRequest) (*providers.IssuedVirtualAccount, error) {
		calls.Add(1)
		seen = req
		return &providers.IssuedVirtualAccount{AccountNumber: "7824822527", BankName: "WEMA BANK", OrderRef: "URF_1"}, nil
	}})
	ctx := context.Background()

	va, created, err := svc.Create(ctx, "m1", virtualaccount.CreateRequest{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, money.NGN, va.Currency)
	assert.Equal(t, "7824822527", va.AccountNumber)
	assert.Equal(t, "Glow Store", va.AccountName)
	assert.Equal(t, "12345678901", seen.BVN)
	assert.Equal(t, "VA_m1_NGN", seen.Reference)

	again, created, err := svc.Create(ctx, "m1", virtualaccount.CreateRequest{Currency: "ngn"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, va.ID, again.ID)
	assert.Equal(t, int32(1), calls.Load())

	found, err := svc.Lookup(ctx, "7824822527")
	require.NoError(t, err)
	assert.Equal(t, "m1", found.MerchantID)
}

func TestCreateRules(t *testing.T) {
	ctx := context.Background()

	t.Run("NGN needs BVN", func(t *testing.T) {
		fake := &providertest.Fake{}
		svc, _ := newService(fake, merchant.Merchant{ID: "m1", Email: "a@b.co"})
		_, _, err := svc.Create(ctx, "m1", virtualaccount.CreateRequest{Currency: "NGN"})
		assert.ErrorIs(t, err, virtualaccount.ErrBVNRequired)
	})

	t.Run("foreign currency skips BVN", func(t *testing.T) {
		var seen providers.VirtualAccountRequest
		fake := &providertest.Fake{IssueVA: func(req providers.VirtualAccountRequest) (*providers.IssuedVirtualAccount, error) {
			seen = req
			return &providers.IssuedVirtualAccount{AccountNumber: "US0001", BankName: "USD Virtual Account"}, nil
		}}
		svc, _ := newService(fake, merchant.Merchant{ID: "m1", Email: "a@b.co", BusinessName: "Glow", VirtualAccountName: "Glow Intl"})
		va, created, err := svc.Create(ctx, "m1", virtualaccount.CreateRequest{Currency: "USD"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Empty(t, seen.BVN)
		assert.Equal(t, "Glow Intl", va.AccountName)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		svc, _ := newService(&providertest.Fake{})
		_, _, err := svc.Create(ctx, "m1", virtualaccount.CreateRequest{Currency: "ETB"})
		assert.ErrorIs(t, err, virtualaccount.ErrUnsupportedCurrency)
	})

	t.Run("issuer failure stores nothing", func(t *testing.T) {
		fake := &providertest.Fake{IssueVA: func(providers.VirtualAccountRequest) (*providers.IssuedVirtualAccount, error) {
			return nil, providers.ErrUpstreamUnavailable
		}}
		svc, store := newService(fake)
		_, _, err := svc.Create(ctx, "m1", virtualaccount.CreateRequest{})
		assert.ErrorIs(t, err, providers.ErrUpstreamUnavailable)
		list, _ := store.ListByMerchant(ctx, "m1")
		assert.Empty(t, list)
	})

	t.Run("unknown merchant", func(t *testing.T) {
		svc, _ := newService(&providertest.Fake{})
		_, _, err := svc.Create(ctx, "ghost", virtualaccount.CreateRequest{})
		assert.ErrorIs(t, err, merchant.ErrNotFound)
	})
}

func TestDeleteOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(&providertest.Fake{}, glow, merchant.Merchant{ID: "m2", BVN: "1"})

	va, _, err := svc.Create(ctx, "m1", virtualaccount.CreateRequest{})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "m2", va.ID), virtualaccount.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, "m1", va.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "m1", va.ID), virtualaccount.ErrNotFound)

	_, err = svc.Lookup(ctx, va.AccountNumber)
	assert.ErrorIs(t, err, virtualaccount.ErrNotFound)
}
