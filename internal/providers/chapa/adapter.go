// Package chapa adapts the Chapa API to the processor contract. Chapa only
// collects charges; payouts go through other processors.
package chapa

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/httpclient"
)

// SignatureHeader carries hex(HMAC-SHA256(body, webhook secret))
const SignatureHeader = "x-chapa-signature"

// Config holds Chapa adapter configuration.
type Config struct {
	SecretKey     string        `envconfig:"CHAPA_SECRET_KEY"`
	WebhookSecret string        `envconfig:"CHAPA_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"CHAPA_BASE_URL" default:"https://api.chapa.co"`
	Timeout       time.Duration `envconfig:"CHAPA_TIMEOUT" default:"15s"`
	MaxRetries    int           `envconfig:"CHAPA_MAX_RETRIES" default:"2"`
}

// Enabled reports whether credentials are configured
func (c Config) Enabled() bool { return c.SecretKey != "" }

// Adapter implements charges, verification and webhooks for Chapa.
type Adapter struct {
	config Config
	client *httpclient.Client
	logger *slog.Logger
}

var (
	_ providers.ChargeInitializer = (*Adapter)(nil)
	_ providers.ChargeVerifier    = (*Adapter)(nil)
	_ providers.WebhookDecoder    = (*Adapter)(nil)
)

// NewAdapter creates a new Chapa adapter.
func NewAdapter(cfg Config, m *metrics.Metrics, logger *slog.Logger, opts ...httpclient.Option) *Adapter {
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.MaxRetries = cfg.MaxRetries

	opts = append([]httpclient.Option{
		httpclient.WithAuthorizer(httpclient.BearerToken(cfg.SecretKey)),
		httpclient.WithMetrics(m),
	}, opts...)

	return &Adapter{
		config: cfg,
		client: httpclient.New(providers.Chapa, cfg.BaseURL, hc, logger, opts...),
		logger: logger,
	}
}

func (a *Adapter) Name() providers.Name { return providers.Chapa }

type envelope[T any] struct {
	Status  string `json:"status"`
	Message any    `json:"message"`
	Data    T      `json:"data"`
}

func (a *Adapter) call(ctx context.Context, req httpclient.Request, data any) error {
	var env envelope[json.RawMessage]
	if err := a.client.Do(ctx, req, &env); err != nil {
		return err
	}
	if env.Status != "success" {
		return &providers.RejectedError{Processor: providers.Chapa, Message: fmt.Sprint(env.Message)}
	}
	if data == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("%w: decoding %s data: %v", providers.ErrUpstreamUnavailable, req.Operation, err)
	}
	return nil
}

type initializeRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	TxRef       string `json:"tx_ref"`
	CallbackURL string `json:"callback_url,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
}

// InitializeCharge handles POST /v1/transaction/initialize
func (a *Adapter) InitializeCharge(ctx context.Context, req providers.ChargeRequest) (*providers.Charge, error) {
	var data struct {
		CheckoutURL string `json:"checkout_url"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "initialize",
		Method:    http.MethodPost,
		Path:      "/v1/transaction/initialize",
		Body: initializeRequest{
			Amount:    req.Amount.Major().StringFixed(2),
			Currency:  string(req.Amount.Currency),
			Email:     req.Email,
			FirstName: req.Name,
			TxRef:     req.Reference,
			ReturnURL: req.CallbackURL,
		},
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.Charge{PaymentURL: data.CheckoutURL, ProcessorReference: req.Reference}, nil
}

// VerifyCharge handles GET /v1/transaction/verify/:tx_ref
func (a *Adapter) VerifyCharge(ctx context.Context, reference string) (*providers.ChargeStatus, error) {
	var data struct {
		Status    string          `json:"status"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		TxRef     string          `json:"tx_ref"`
		Reference string          `json:"reference"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation:  "verify",
		Method:     http.MethodGet,
		Path:       "/v1/transaction/verify/" + url.PathEscape(reference),
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}

	status := &providers.ChargeStatus{
		Reference:          data.TxRef,
		ProcessorReference: data.Reference,
		State:              providers.ChargePending,
	}
	if amount, reason := providers.MajorAmount(data.Amount, data.Currency); reason == "" {
		status.Amount = amount
	}
	switch data.Status {
	case "success":
		status.State = providers.ChargeSucceeded
	case "failed", "cancelled":
		status.State = providers.ChargeFailed
	}
	return status, nil
}

// VerifyWebhook checks x-chapa-signature
func (a *Adapter) VerifyWebhook(header http.Header, body []byte) error {
	return providers.VerifyHMAC(sha256.New, a.config.WebhookSecret, header.Get(SignatureHeader), body)
}

type webhookPayload struct {
	Event     string          `json:"event"`
	TxRef     string          `json:"tx_ref"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

// DecodeWebhook classifies a Chapa event
func (a *Adapter) DecodeWebhook(body []byte) (providers.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrInvalidPayload, err)
	}
	if p.Event != "charge.success" {
		return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonEventNotHandled}, nil
	}
	if p.Status != "success" {
		return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonNotSuccessful}, nil
	}
	currency := p.Currency
	if currency == "" {
		currency = "ETB"
	}
	amount, reason := providers.MajorAmount(p.Amount, currency)
	if reason != "" {
		return providers.Unhandled{EventType: p.Event, Reason: reason}, nil
	}
	return providers.ClassifyCredit(p.TxRef, p.Reference, amount), nil
}
