// Package flutterwave adapts the Flutterwave v3 API to the processor
// contract. Flutterwave is the processor for top-ups, payouts and virtual
// accounts.
package flutterwave

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/httpclient"
)

// SignatureHeader carries either hex(HMAC-SHA256(body)) or the shared hash
const SignatureHeader = "verif-hash"

// Signature modes
const (
	SignatureHMAC   = "hmac"
	SignatureSecret = "secret"
)

// Config holds Flutterwave adapter configuration.
type Config struct {
	SecretKey     string        `envconfig:"FLUTTERWAVE_SECRET_KEY"`
	WebhookHash   string        `envconfig:"FLUTTERWAVE_WEBHOOK_HASH"`
	SignatureMode string        `envconfig:"FLUTTERWAVE_SIGNATURE_MODE" default:"hmac"`
	BaseURL       string        `envconfig:"FLUTTERWAVE_BASE_URL" default:"https://api.flutterwave.com"`
	RedirectURL   string        `envconfig:"FLUTTERWAVE_REDIRECT_URL"`
	Timeout       time.Duration `envconfig:"FLUTTERWAVE_TIMEOUT" default:"15s"`
	MaxRetries    int           `envconfig:"FLUTTERWAVE_MAX_RETRIES" default:"2"`
}

// Enabled reports whether credentials are configured
func (c Config) Enabled() bool { return c.SecretKey != "" }

// Adapter implements every capability for Flutterwave.
type Adapter struct {
	config Config
	client *httpclient.Client
	logger *slog.Logger
}

var (
	_ providers.ChargeInitializer    = (*Adapter)(nil)
	_ providers.ChargeVerifier       = (*Adapter)(nil)
	_ providers.BankResolver         = (*Adapter)(nil)
	_ providers.Transferer           = (*Adapter)(nil)
	_ providers.VirtualAccountIssuer = (*Adapter)(nil)
	_ providers.WebhookDecoder       = (*Adapter)(nil)
)

// NewAdapter creates a new Flutterwave adapter.
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
		client: httpclient.New(providers.Flutterwave, cfg.BaseURL, hc, logger, opts...),
		logger: logger,
	}
}

func (a *Adapter) Name() providers.Name { return providers.Flutterwave }

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (a *Adapter) call(ctx context.Context, req httpclient.Request, data any) error {
	var env envelope[json.RawMessage]
	if err := a.client.Do(ctx, req, &env); err != nil {
		return err
	}
	if env.Status != "success" {
		return &providers.RejectedError{Processor: providers.Flutterwave, Message: env.Message}
	}
	if data == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("%w: decoding %s data: %v", providers.ErrUpstreamUnavailable, req.Operation, err)
	}
	return nil
}

type customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type paymentRequest struct {
	TxRef       string         `json:"tx_ref"`
	Amount      json.Number    `json:"amount"`
	Currency    string         `json:"currency"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Customer    customer       `json:"customer"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// InitializeCharge handles POST /v3/payments and returns the hosted link
func (a *Adapter) InitializeCharge(ctx context.Context, req providers.ChargeRequest) (*providers.Charge, error) {
	redirect := req.CallbackURL
	if redirect == "" {
		redirect = a.config.RedirectURL
	}

	var data struct {
		Link string `json:"link"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "initialize",
		Method:    http.MethodPost,
		Path:      "/v3/payments",
		Body: paymentRequest{
			TxRef:       req.Reference,
			Amount:      req.Amount.MajorNumber(),
			Currency:    string(req.Amount.Currency),
			RedirectURL: redirect,
			Customer:    customer{Email: req.Email, Name: req.Name},
			Meta:        req.Metadata,
		},
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.Charge{PaymentURL: data.Link, ProcessorReference: req.Reference}, nil
}

type transactionData struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	FlwRef   string          `json:"flw_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

// VerifyCharge handles GET /v3/transactions/verify_by_reference
func (a *Adapter) VerifyCharge(ctx context.Context, reference string) (*providers.ChargeStatus, error) {
	var data transactionData
	err := a.call(ctx, httpclient.Request{
		Operation:  "verify",
		Method:     http.MethodGet,
		Path:       "/v3/transactions/verify_by_reference?" + url.Values{"tx_ref": {reference}}.Encode(),
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}

	status := &providers.ChargeStatus{
		Reference:          data.TxRef,
		ProcessorReference: data.FlwRef,
		State:              providers.ChargePending,
	}
	if amount, reason := providers.MajorAmount(data.Amount, data.Currency); reason == "" {
		status.Amount = amount
	}
	switch strings.ToLower(data.Status) {
	case "successful":
		status.State = providers.ChargeSucceeded
	case "failed", "cancelled":
		status.State = providers.ChargeFailed
	}
	return status, nil
}

// ResolveBankAccount handles POST /v3/accounts/resolve
func (a *Adapter) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*providers.BankAccount, error) {
	var data struct {
		AccountNumber string `json:"account_number"`
		AccountName   string `json:"account_name"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "resolve",
		Method:    http.MethodPost,
		Path:      "/v3/accounts/resolve",
		Body: map[string]string{
			"account_number": accountNumber,
			"account_bank":   bankCode,
		},
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.BankAccount{AccountNumber: accountNumber, BankCode: bankCode, AccountName: data.AccountName}, nil
}

type transferRequest struct {
	AccountBank   string      `json:"account_bank"`
	AccountNumber string      `json:"account_number"`
	Amount        json.Number `json:"amount"`
	Narration     string      `json:"narration"`
	Currency      string      `json:"currency"`
	DebitCurrency string      `json:"debit_currency"`
	Reference     string      `json:"reference"`
	CallbackURL   string      `json:"callback_url,omitempty"`
}

// InitiateTransfer handles POST /v3/transfers. It is never retried.
func (a *Adapter) InitiateTransfer(ctx context.Context, req providers.TransferRequest) (*providers.Transfer, error) {
	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "transfer",
		Method:    http.MethodPost,
		Path:      "/v3/transfers",
		Body: transferRequest{
			AccountBank:   req.BankCode,
			AccountNumber: req.AccountNumber,
			Amount:        req.Amount.MajorNumber(),
			Narration:     req.Narration,
			Currency:      string(req.Amount.Currency),
			DebitCurrency: string(req.Amount.Currency),
			Reference:     req.Reference,
			CallbackURL:   req.CallbackURL,
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(data.Status, "FAILED") {
		return nil, &providers.RejectedError{Processor: providers.Flutterwave, Message: "transfer failed"}
	}
	return &providers.Transfer{ID: fmt.Sprint(data.ID), Status: data.Status}, nil
}

type virtualAccountRequest struct {
	Email       string `json:"email"`
	IsPermanent bool   `json:"is_permanent"`
	BVN         string `json:"bvn,omitempty"`
	TxRef       string `json:"tx_ref"`
	Narration   string `json:"narration,omitempty"`
	Currency    string `json:"currency"`
}

// IssueVirtualAccount handles POST /v3/virtual-account-numbers. tx_ref makes
// repeated calls return the same account, so it is retried.
func (a *Adapter) IssueVirtualAccount(ctx context.Context, req providers.VirtualAccountRequest) (*providers.IssuedVirtualAccount, error) {
	var data struct {
		AccountNumber string `json:"account_number"`
		BankName      string `json:"bank_name"`
		OrderRef      string `json:"order_ref"`
		FlwRef        string `json:"flw_ref"`
		Note          string `json:"note"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "virtual_account",
		Method:    http.MethodPost,
		Path:      "/v3/virtual-account-numbers",
		Body: virtualAccountRequest{
			Email:       req.Email,
			IsPermanent: true,
			BVN:         req.BVN,
			TxRef:       req.Reference,
			Narration:   req.Name,
			Currency:    string(req.Currency),
		},
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.IssuedVirtualAccount{
		AccountNumber: data.AccountNumber,
		BankName:      data.BankName,
		AccountName:   req.Name,
		OrderRef:      data.OrderRef,
	}, nil
}

// VerifyWebhook checks verif-hash in the configured mode
func (a *Adapter) VerifyWebhook(header http.Header, body []byte) error {
	sig := header.Get(SignatureHeader)
	if a.config.SignatureMode == SignatureSecret {
		return providers.VerifySharedSecret(a.config.WebhookHash, sig)
	}
	return providers.VerifyHMAC(sha256.New, a.config.WebhookHash, strings.ToLower(sig), body)
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID                   int64           `json:"id"`
		TxRef                string          `json:"tx_ref"`
		FlwRef               string          `json:"flw_ref"`
		Reference            string          `json:"reference"`
		Amount               decimal.Decimal `json:"amount"`
		Currency             string          `json:"currency"`
		Status               string          `json:"status"`
		PaymentType          string          `json:"payment_type"`
		AccountNumber        string          `json:"account_number"`
		PaymentAccountNumber string          `json:"payment_account_number"`
		CompleteMessage      string          `json:"complete_message"`
		Customer             struct {
			Name string `json:"name"`
		} `json:"customer"`
	} `json:"data"`
}

// DecodeWebhook classifies a Flutterwave event
func (a *Adapter) DecodeWebhook(body []byte) (providers.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrInvalidPayload, err)
	}
	d := p.Data

	switch p.Event {
	case "charge.completed", "payment.success":
		if !strings.EqualFold(d.Status, "successful") {
			return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonNotSuccessful}, nil
		}
		amount, reason := providers.MajorAmount(d.Amount, d.Currency)
		if reason != "" {
			return providers.Unhandled{EventType: p.Event, Reason: reason}, nil
		}

		// Checkouts paid by bank transfer still carry the tx_ref we issued.
		// Only transfers without one landed on a virtual account.
		isTransfer := d.PaymentType == "bank_transfer" || d.PaymentType == "banktransfer"
		if isTransfer && !providers.IsCheckoutReference(d.TxRef) {
			accountNumber := d.AccountNumber
			if accountNumber == "" {
				accountNumber = d.PaymentAccountNumber
			}
			ref := d.FlwRef
			if ref == "" && d.ID != 0 {
				ref = fmt.Sprint(d.ID)
			}
			return providers.VirtualAccountCredit{
				AccountNumber: accountNumber,
				Reference:     ref,
				Amount:        amount,
				CustomerName:  d.Customer.Name,
			}, nil
		}
		return providers.ClassifyCredit(d.TxRef, d.FlwRef, amount), nil

	case "transfer.completed":
		completion := providers.TransferCompletion{
			Reference:  d.Reference,
			TransferID: fmt.Sprint(d.ID),
		}
		switch strings.ToUpper(d.Status) {
		case "SUCCESSFUL":
			completion.Succeeded = true
			return completion, nil
		case "FAILED":
			completion.Reason = d.CompleteMessage
			if completion.Reason == "" {
				completion.Reason = "transfer failed"
			}
			return completion, nil
		}
		return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonNotSuccessful}, nil
	}

	return providers.Unhandled{EventType: p.Event, Reason: providers.ReasonEventNotHandled}, nil
}
