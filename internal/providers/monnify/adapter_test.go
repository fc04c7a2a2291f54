package monnify_test

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/monnify"
)

func newAdapter(url string) *monnify.Adapter {
	return monnify.NewAdapter(monnify.Config{
		APIKey:       "MK_TEST",
		SecretKey:    "SK_TEST",
		ContractCode: "100693167467",
		BaseURL:      url,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoginIsCached(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins.Add(1)
			want := "Basic " + base64.StdEncoding.EncodeToString([]byte("MK_TEST:SK_TEST"))
			assert.Equal(t, want, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"accessToken":"tok","expiresIn":3600}}`))
		case "/api/v1/merchant/transactions/init-transaction":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"transactionReference":"MNFY|1","checkoutUrl":"https://sandbox.sdk.monnify.com/checkout/MNFY|1"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := newAdapter(srv.URL)
	for range 2 {
		charge, err := a.InitializeCharge(context.Background(), providers.ChargeRequest{
			Reference: "GTP_1", Amount: money.New(20000, money.NGN), Email: "x@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "MNFY|1", charge.ProcessorReference)
	}
	assert.Equal(t, int32(1), logins.Load())
}

func TestRefusedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login" {
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"accessToken":"tok","expiresIn":3600}}`))
			return
		}
		_, _ = w.Write([]byte(`{"requestSuccessful":false,"responseMessage":"Insufficient balance"}`))
	}))
	defer srv.Close()

	_, err := newAdapter(srv.URL).InitiateTransfer(context.Background(), providers.TransferRequest{
		Reference: "WD_1", Amount: money.New(1000, money.NGN),
	})
	assert.True(t, providers.IsRejected(err))
}

func TestDecodeWebhook(t *testing.T) {
	a := newAdapter("http://unused")

	body := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"transactionReference":"MNFY|2","paymentReference":"GTP_9","amountPaid":"100.00","currency":"NGN","paymentStatus":"PAID","product":{"type":"WEB_SDK"}}}`)
	h := http.Header{}
	h.Set(monnify.SignatureHeader, providers.SignHMAC(sha512.New, "SK_TEST", body))
	require.NoError(t, a.VerifyWebhook(h, body))

	evt, err := a.DecodeWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, providers.TransactionCredit{Reference: "GTP_9", ProcessorReference: "MNFY|2", Amount: money.New(10000, money.NGN)}, evt)

	evt, err = a.DecodeWebhook([]byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"transactionReference":"MNFY|3","amountPaid":50,"currency":"NGN","paymentStatus":"PAID","product":{"type":"RESERVED_ACCOUNT"},"destinationAccountInformation":{"accountNumber":"5000012345"}}}`))
	require.NoError(t, err)
	assert.Equal(t, providers.VirtualAccountCredit{AccountNumber: "5000012345", Reference: "MNFY|3", Amount: money.New(5000, money.NGN)}, evt)

	evt, err = a.DecodeWebhook([]byte(`{"eventType":"FAILED_DISBURSEMENT","eventData":{"reference":"WD_4","transactionReference":"MFDS|4","transactionDescription":"Beneficiary bank unavailable"}}`))
	require.NoError(t, err)
	assert.Equal(t, providers.TransferCompletion{Reference: "WD_4", TransferID: "MFDS|4", Reason: "Beneficiary bank unavailable"}, evt)

	evt, err = a.DecodeWebhook([]byte(`{"eventType":"SETTLEMENT","eventData":{}}`))
	require.NoError(t, err)
	assert.Equal(t, providers.Unhandled{EventType: "SETTLEMENT", Reason: providers.ReasonEventNotHandled}, evt)
}
