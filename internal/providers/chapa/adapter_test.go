package chapa_test

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/chapa"
)

func newAdapter(url string) *chapa.Adapter {
	return chapa.NewAdapter(chapa.Config{
		SecretKey:     "CHASECK_TEST",
		WebhookSecret: "hook",
		BaseURL:       url,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInitializeAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/transaction/initialize":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "120.00", body["amount"])
			assert.Equal(t, "ETB", body["currency"])
			_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"checkout_url":"https://checkout.chapa.co/checkout/payment/abc"}}`))
		case "/v1/transaction/verify/GTP_5":
			_, _ = w.Write([]byte(`{"status":"success","data":{"status":"success","amount":120,"currency":"ETB","tx_ref":"GTP_5","reference":"APabc"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := newAdapter(srv.URL)
	charge, err := a.InitializeCharge(context.Background(), providers.ChargeRequest{
		Reference: "GTP_5", Amount: money.New(12000, money.ETB), Email: "e@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.chapa.co/checkout/payment/abc", charge.PaymentURL)

	status, err := a.VerifyCharge(context.Background(), "GTP_5")
	require.NoError(t, err)
	assert.Equal(t, providers.ChargeSucceeded, status.State)
	assert.Equal(t, money.New(12000, money.ETB), status.Amount)
}

func TestWebhook(t *testing.T) {
	a := newAdapter("http://unused")
	body := []byte(`{"event":"charge.success","tx_ref":"GTP_5","reference":"APabc","amount":"120.00","currency":"ETB","status":"success"}`)

	h := http.Header{}
	h.Set(chapa.SignatureHeader, providers.SignHMAC(sha256.New, "hook", body))
	require.NoError(t, a.VerifyWebhook(h, body))

	evt, err := a.DecodeWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, providers.TransactionCredit{Reference: "GTP_5", ProcessorReference: "APabc", Amount: money.New(12000, money.ETB)}, evt)

	evt, err = a.DecodeWebhook([]byte(`{"event":"charge.refunded","tx_ref":"GTP_5"}`))
	require.NoError(t, err)
	assert.Equal(t, providers.Unhandled{EventType: "charge.refunded", Reason: providers.ReasonEventNotHandled}, evt)
}
