package merchant_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity/activitytest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant/merchanttest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/providertest"
)

func newService(fake *providertest.Fake) (*merchant.Service, *merchanttest.Store) {
	svc, store, _ := newServiceWithTrail(fake)
	return svc, store
}

func newServiceWithTrail(fake *providertest.Fake) (*merchant.Service, *merchanttest.Store, *activitytest.Store) {
	store := merchanttest.NewStore(merchant.Merchant{ID: "m1", Email: "shop@example.com", BusinessName: "Ada Stores"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trail := &activitytest.Store{}
	return merchant.NewService(store, fake.Registry(), fake.Name(), activity.NewLog(trail, logger), logger), store, trail
}

func TestVerifyBankAccount(t *testing.T) {
	svc, store := newService(&providertest.Fake{})

	account, err := svc.VerifyBankAccount(context.Background(), "m1", merchant.VerifyBankAccountRequest{
		AccountNumber: "0123456789",
		BankCode:      "058",
		BankName:      "GTBank",
	})
	require.NoError(t, err)
	assert.Equal(t, "ADA OKAFOR", account.AccountName)

	m, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, m.Payout.Configured())
	assert.Equal(t, "058", m.Payout.BankCode)
}

func TestVerifyBankAccountFailures(t *testing.T) {
	t.Run("invalid account number", func(t *testing.T) {
		svc, _ := newService(&providertest.Fake{})
		_, err := svc.VerifyBankAccount(context.Background(), "m1", merchant.VerifyBankAccountRequest{AccountNumber: "12ab", BankCode: "058"})
		var validationErrors validator.ValidationErrors
		assert.ErrorAs(t, err, &validationErrors)
	})

	t.Run("unknown merchant", func(t *testing.T) {
		svc, _ := newService(&providertest.Fake{})
		_, err := svc.VerifyBankAccount(context.Background(), "nobody", merchant.VerifyBankAccountRequest{AccountNumber: "0123456789", BankCode: "058"})
		assert.ErrorIs(t, err, merchant.ErrNotFound)
	})

	t.Run("processor cannot resolve", func(t *testing.T) {
		svc, store := newService(&providertest.Fake{
			Resolve: func(string, string) (*providers.BankAccount, error) {
				return nil, &providers.RejectedError{Processor: providers.Flutterwave, StatusCode: 400, Message: "Sorry, that account number is invalid"}
			},
		})
		_, err := svc.VerifyBankAccount(context.Background(), "m1", merchant.VerifyBankAccountRequest{AccountNumber: "0123456789", BankCode: "058"})
		assert.True(t, providers.IsRejected(err))

		m, _ := store.Get(context.Background(), "m1")
		assert.False(t, m.Payout.Configured())
	})
}

func TestVerifyBankAccountHandler(t *testing.T) {
	tests := []struct {
		name     string
		resolve  func(string, string) (*providers.BankAccount, error)
		body     string
		wantCode int
	}{
		{name: "resolved", body: `{"account_number":"0123456789","bank_code":"058"}`, wantCode: http.StatusOK},
		{name: "malformed", body: `{`, wantCode: http.StatusBadRequest},
		{name: "missing bank", body: `{"account_number":"0123456789"}`, wantCode: http.StatusUnprocessableEntity},
		{
			name: "processor down",
			body: `{"account_number":"0123456789","bank_code":"058"}`,
			resolve: func(string, string) (*providers.BankAccount, error) {
				return nil, providers.ErrUpstreamUnavailable
			},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(&providertest.Fake{Resolve: tt.resolve})
			h := merchant.NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

			req := httptest.NewRequest(http.MethodPost, "/bank-account", strings.NewReader(tt.body))
			req = req.WithContext(middleware.WithMerchantID(req.Context(), "m1"))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				var body struct {
					Data merchant.PayoutAccount `json:"data"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "ADA OKAFOR", body.Data.AccountName)
			}
		})
	}
}
