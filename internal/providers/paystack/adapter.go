// Package paystack adapts the Paystack API to the processor contract.
package paystack

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/httpclient"
)

// SignatureHeader carries hex(HMAC-SHA512(body, secret key))
const SignatureHeader = "x-paystack-signature"

// Config holds Paystack adapter configuration.
type Config struct {
	SecretKey  string        `envconfig:"PAYSTACK_SECRET_KEY"`
	BaseURL    string        `envconfig:"PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Timeout    time.Duration `envconfig:"PAYSTACK_TIMEOUT" default:"15s"`
	MaxRetries int           `envconfig:"PAYSTACK_MAX_RETRIES" default:"2"`
}

// Enabled reports whether credentials are configured
func (c Config) Enabled() bool { return c.SecretKey != "" }

// Adapter implements charges, verification, bank resolution, transfers and
// webhooks for Paystack.
type Adapter struct {
	config Config
	client *httpclient.Client
	logger *slog.Logger
}

var (
	_ providers.ChargeInitializer = (*Adapter)(nil)
	_ providers.ChargeVerifier    = (*Adapter)(nil)
	_ providers.BankResolver      = (*Adapter)(nil)
	_ providers.Transferer        = (*Adapter)(nil)
	_ providers.WebhookDecoder    = (*Adapter)(nil)
)

// NewAdapter creates a new Paystack adapter.
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
		client: httpclient.New(providers.Paystack, cfg.BaseURL, hc, logger, opts...),
		logger: logger,
	}
}

func (a *Adapter) Name() providers.Name { return providers.Paystack }

// envelope is Paystack's response wrapper. status=false is a refusal even
// with a 200.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (a *Adapter) call(ctx context.Context, req httpclient.Request, data any) error {
	var env envelope[json.RawMessage]
	if err := a.client.Do(ctx, req, &env); err != nil {
		return err
	}
	if !env.Status {
		return &providers.RejectedError{Processor: providers.Paystack, Message: env.Message}
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
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// InitializeCharge handles POST /transaction/initialize. Paystack takes
// amounts in the minor unit, so no conversion happens.
func (a *Adapter) InitializeCharge(ctx context.Context, req providers.ChargeRequest) (*providers.Charge, error) {
	var data initializeData
	err := a.call(ctx, httpclient.Request{
		Operation: "initialize",
		Method:    http.MethodPost,
		Path:      "/transaction/initialize",
		Body: initializeRequest{
			Email:       req.Email,
			Amount:      req.Amount.AmountMinor,
			Currency:    string(req.Amount.Currency),
			Reference:   req.Reference,
			CallbackURL: req.CallbackURL,
			Metadata:    req.Metadata,
		},
		// Paystack refuses a second initialize with the same reference.
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	ref := data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &providers.Charge{PaymentURL: data.AuthorizationURL, ProcessorReference: ref}, nil
}

type verifyData struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// VerifyCharge handles GET /transaction/verify/:reference
func (a *Adapter) VerifyCharge(ctx context.Context, reference string) (*providers.ChargeStatus, error) {
	var data verifyData
	err := a.call(ctx, httpclient.Request{
		Operation:  "verify",
		Method:     http.MethodGet,
		Path:       "/transaction/verify/" + url.PathEscape(reference),
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}

	currency, err := money.ParseCurrency(data.Currency)
	if err != nil {
		currency = money.NGN
	}

	status := &providers.ChargeStatus{
		Reference:          data.Reference,
		ProcessorReference: fmt.Sprint(data.ID),
		State:              providers.ChargePending,
		Amount:             money.New(data.Amount, currency),
	}
	switch data.Status {
	case "success":
		status.State = providers.ChargeSucceeded
	case "failed", "reversed":
		status.State = providers.ChargeFailed
	}
	return status, nil
}

type resolveData struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// ResolveBankAccount handles GET /bank/resolve
func (a *Adapter) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*providers.BankAccount, error) {
	q := url.Values{"account_number": {accountNumber}, "bank_code": {bankCode}}
	var data resolveData
	err := a.call(ctx, httpclient.Request{
		Operation:  "resolve",
		Method:     http.MethodGet,
		Path:       "/bank/resolve?" + q.Encode(),
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.BankAccount{AccountNumber: accountNumber, BankCode: bankCode, AccountName: data.AccountName}, nil
}

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type transferData struct {
	ID           int64  `json:"id"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// InitiateTransfer creates a transfer recipient, then the transfer. Only the
// recipient call is retried; Paystack dedupes recipients by account.
func (a *Adapter) InitiateTransfer(ctx context.Context, req providers.TransferRequest) (*providers.Transfer, error) {
	var recipient struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "transfer_recipient",
		Method:    http.MethodPost,
		Path:      "/transferrecipient",
		Body: recipientRequest{
			Type:          "nuban",
			Name:          req.AccountName,
			AccountNumber: req.AccountNumber,
			BankCode:      req.BankCode,
			Currency:      string(req.Amount.Currency),
		},
		Idempotent: true,
	}, &recipient)
	if err != nil {
		return nil, err
	}

	var data transferData
	err = a.call(ctx, httpclient.Request{
		Operation: "transfer",
		Method:    http.MethodPost,
		Path:      "/transfer",
		Body: transferRequest{
			Source:    "balance",
			Amount:    req.Amount.AmountMinor,
			Recipient: recipient.RecipientCode,
			Reference: req.Reference,
			Reason:    req.Narration,
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Status == "failed" || data.Status == "abandoned" {
		return nil, &providers.RejectedError{Processor: providers.Paystack, Message: "transfer " + data.Status}
	}
	return &providers.Transfer{ID: data.TransferCode, Status: data.Status}, nil
}

// VerifyWebhook checks x-paystack-signature
func (a *Adapter) VerifyWebhook(header http.Header, body []byte) error {
	return providers.VerifyHMAC(sha512.New, a.config.SecretKey, header.Get(SignatureHeader), body)
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID            int64  `json:"id"`
		Reference     string `json:"reference"`
		Status        string `json:"status"`
		Amount        int64  `json:"amount"`
		Currency      string `json:"currency"`
		Channel       string `json:"channel"`
		TransferCode  string `json:"transfer_code"`
		Reason        string `json:"reason"`
		Authorization struct {
			ReceiverBankAccountNumber string `json:"receiver_bank_account_number"`
			SenderName                string `json:"sender_name"`
		} `json:"authorization"`
	} `json:"data"`
}

// DecodeWebhook classifies a Paystack event
func (a *Adapter) DecodeWebhook(body []byte) (providers.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrInvalidPayload, err)
	}

	switch p.Event {
	case "charge.success":
		if p.Data.Status != "" && p.Data.Status != "success" {
			return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonNotSuccessful}, nil
		}
		code := p.Data.Currency
		if code == "" {
			code = string(money.NGN)
		}
		currency, err := money.ParseCurrency(code)
		if err != nil {
			return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonUnsupportedCurrency}, nil
		}
		amount := money.New(p.Data.Amount, currency)
		if p.Data.Channel == "dedicated_nuban" {
			return providers.VirtualAccountCredit{
				AccountNumber: p.Data.Authorization.ReceiverBankAccountNumber,
				Reference:     p.Data.Reference,
				Amount:        amount,
				CustomerName:  p.Data.Authorization.SenderName,
			}, nil
		}
		return providers.ClassifyCredit(p.Data.Reference, fmt.Sprint(p.Data.ID), amount), nil

	case "transfer.success":
		return providers.TransferCompletion{
			Reference:  p.Data.Reference,
			TransferID: p.Data.TransferCode,
			Succeeded:  true,
		}, nil

	case "transfer.failed", "transfer.reversed":
		reason := p.Data.Reason
		if reason == "" {
			reason = p.Event
		}
		return providers.TransferCompletion{
			Reference:  p.Data.Reference,
			TransferID: p.Data.TransferCode,
			Reason:     reason,
		}, nil
	}

	return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonEventNotHandled}, nil
}
