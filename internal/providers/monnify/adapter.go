// Package monnify adapts the Monnify API to the processor contract.
package monnify

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers/httpclient"
)

// SignatureHeader carries hex(HMAC-SHA512(body, client secret))
const SignatureHeader = "monnify-signature"

// Config holds Monnify adapter configuration.
type Config struct {
	APIKey        string        `envconfig:"MONNIFY_API_KEY"`
	SecretKey     string        `envconfig:"MONNIFY_SECRET_KEY"`
	ContractCode  string        `envconfig:"MONNIFY_CONTRACT_CODE"`
	SourceAccount string        `envconfig:"MONNIFY_SOURCE_ACCOUNT"`
	BaseURL       string        `envconfig:"MONNIFY_BASE_URL" default:"https://api.monnify.com"`
	RedirectURL   string        `envconfig:"MONNIFY_REDIRECT_URL"`
	Timeout       time.Duration `envconfig:"MONNIFY_TIMEOUT" default:"15s"`
	MaxRetries    int           `envconfig:"MONNIFY_MAX_RETRIES" default:"2"`
}

// Enabled reports whether credentials are configured
func (c Config) Enabled() bool { return c.APIKey != "" && c.SecretKey != "" }

// Adapter implements charges, verification, bank resolution, transfers and
// webhooks for Monnify.
type Adapter struct {
	config Config
	client *httpclient.Client
	logger *slog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

var (
	_ providers.ChargeInitializer = (*Adapter)(nil)
	_ providers.ChargeVerifier    = (*Adapter)(nil)
	_ providers.BankResolver      = (*Adapter)(nil)
	_ providers.Transferer        = (*Adapter)(nil)
	_ providers.WebhookDecoder    = (*Adapter)(nil)
)

// NewAdapter creates a new Monnify adapter.
func NewAdapter(cfg Config, m *metrics.Metrics, logger *slog.Logger, opts ...httpclient.Option) *Adapter {
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.MaxRetries = cfg.MaxRetries

	a := &Adapter{config: cfg, logger: logger, now: time.Now}
	opts = append([]httpclient.Option{
		httpclient.WithAuthorizer(a.authorize),
		httpclient.WithMetrics(m),
	}, opts...)
	a.client = httpclient.New(providers.Monnify, cfg.BaseURL, hc, logger, opts...)
	return a
}

func (a *Adapter) Name() providers.Name { return providers.Monnify }

type envelope[T any] struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseCode      string `json:"responseCode"`
	ResponseBody      T      `json:"responseBody"`
}

func (a *Adapter) call(ctx context.Context, req httpclient.Request, data any) error {
	var env envelope[json.RawMessage]
	if err := a.client.Do(ctx, req, &env); err != nil {
		return err
	}
	if !env.RequestSuccessful {
		return &providers.RejectedError{Processor: providers.Monnify, Message: env.ResponseMessage}
	}
	if data == nil || len(env.ResponseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.ResponseBody, data); err != nil {
		return fmt.Errorf("%w: decoding %s body: %v", providers.ErrUpstreamUnavailable, req.Operation, err)
	}
	return nil
}

// authorize attaches a bearer token, logging in again a minute before the
// cached one expires.
func (a *Adapter) authorize(ctx context.Context, req *http.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == "" || !a.now().Before(a.expires) {
		creds := base64.StdEncoding.EncodeToString([]byte(a.config.APIKey + ":" + a.config.SecretKey))
		var login struct {
			AccessToken string `json:"accessToken"`
			ExpiresIn   int64  `json:"expiresIn"`
		}
		err := a.call(ctx, httpclient.Request{
			Operation:  "login",
			Method:     http.MethodPost,
			Path:       "/api/v1/auth/login",
			Header:     http.Header{"Authorization": {"Basic " + creds}},
			Idempotent: true,
			NoAuth:     true,
		}, &login)
		if err != nil {
			return fmt.Errorf("monnify login: %w", err)
		}
		a.token = login.AccessToken
		a.expires = a.now().Add(time.Duration(login.ExpiresIn)*time.Second - time.Minute)
	}

	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

type initRequest struct {
	Amount             json.Number    `json:"amount"`
	CustomerName       string         `json:"customerName"`
	CustomerEmail      string         `json:"customerEmail"`
	PaymentReference   string         `json:"paymentReference"`
	PaymentDescription string         `json:"paymentDescription"`
	CurrencyCode       string         `json:"currencyCode"`
	ContractCode       string         `json:"contractCode"`
	RedirectURL        string         `json:"redirectUrl,omitempty"`
	MetaData           map[string]any `json:"metaData,omitempty"`
}

// InitializeCharge handles POST /api/v1/merchant/transactions/init-transaction
func (a *Adapter) InitializeCharge(ctx context.Context, req providers.ChargeRequest) (*providers.Charge, error) {
	redirect := req.CallbackURL
	if redirect == "" {
		redirect = a.config.RedirectURL
	}
	name := req.Name
	if name == "" {
		name = req.Email
	}

	var data struct {
		TransactionReference string `json:"transactionReference"`
		CheckoutURL          string `json:"checkoutUrl"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "initialize",
		Method:    http.MethodPost,
		Path:      "/api/v1/merchant/transactions/init-transaction",
		Body: initRequest{
			Amount:             req.Amount.MajorNumber(),
			CustomerName:       name,
			CustomerEmail:      req.Email,
			PaymentReference:   req.Reference,
			PaymentDescription: "Payment " + req.Reference,
			CurrencyCode:       string(req.Amount.Currency),
			ContractCode:       a.config.ContractCode,
			RedirectURL:        redirect,
			MetaData:           req.Metadata,
		},
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.Charge{PaymentURL: data.CheckoutURL, ProcessorReference: data.TransactionReference}, nil
}

// VerifyCharge handles GET /api/v2/merchant/transactions/query by our
// payment reference
func (a *Adapter) VerifyCharge(ctx context.Context, reference string) (*providers.ChargeStatus, error) {
	var data struct {
		TransactionReference string          `json:"transactionReference"`
		PaymentReference     string          `json:"paymentReference"`
		AmountPaid           decimal.Decimal `json:"amountPaid"`
		CurrencyCode         string          `json:"currencyCode"`
		PaymentStatus        string          `json:"paymentStatus"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation:  "verify",
		Method:     http.MethodGet,
		Path:       "/api/v2/merchant/transactions/query?" + url.Values{"paymentReference": {reference}}.Encode(),
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}

	status := &providers.ChargeStatus{
		Reference:          data.PaymentReference,
		ProcessorReference: data.TransactionReference,
		State:              providers.ChargePending,
	}
	if amount, reason := providers.MajorAmount(data.AmountPaid, data.CurrencyCode); reason == "" {
		status.Amount = amount
	}
	switch data.PaymentStatus {
	case "PAID", "OVERPAID":
		status.State = providers.ChargeSucceeded
	case "FAILED", "EXPIRED", "CANCELLED":
		status.State = providers.ChargeFailed
	}
	return status, nil
}

// ResolveBankAccount handles GET /api/v1/disbursements/account/validate
func (a *Adapter) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*providers.BankAccount, error) {
	q := url.Values{"accountNumber": {accountNumber}, "bankCode": {bankCode}}
	var data struct {
		AccountName string `json:"accountName"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation:  "resolve",
		Method:     http.MethodGet,
		Path:       "/api/v1/disbursements/account/validate?" + q.Encode(),
		Idempotent: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.BankAccount{AccountNumber: accountNumber, BankCode: bankCode, AccountName: data.AccountName}, nil
}

type disbursementRequest struct {
	Amount                   json.Number `json:"amount"`
	Reference                string      `json:"reference"`
	Narration                string      `json:"narration"`
	DestinationBankCode      string      `json:"destinationBankCode"`
	DestinationAccountNumber string      `json:"destinationAccountNumber"`
	Currency                 string      `json:"currency"`
	SourceAccountNumber      string      `json:"sourceAccountNumber"`
}

// InitiateTransfer handles POST /api/v2/disbursements/single
func (a *Adapter) InitiateTransfer(ctx context.Context, req providers.TransferRequest) (*providers.Transfer, error) {
	var data struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	err := a.call(ctx, httpclient.Request{
		Operation: "transfer",
		Method:    http.MethodPost,
		Path:      "/api/v2/disbursements/single",
		Body: disbursementRequest{
			Amount:                   req.Amount.MajorNumber(),
			Reference:                req.Reference,
			Narration:                req.Narration,
			DestinationBankCode:      req.BankCode,
			DestinationAccountNumber: req.AccountNumber,
			Currency:                 string(req.Amount.Currency),
			SourceAccountNumber:      a.config.SourceAccount,
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Status == "FAILED" || data.Status == "REVERSED" {
		return nil, &providers.RejectedError{Processor: providers.Monnify, Message: "disbursement " + strings.ToLower(data.Status)}
	}
	return &providers.Transfer{ID: data.Reference, Status: data.Status}, nil
}

// VerifyWebhook checks monnify-signature
func (a *Adapter) VerifyWebhook(header http.Header, body []byte) error {
	return providers.VerifyHMAC(sha512.New, a.config.SecretKey, header.Get(SignatureHeader), body)
}

type webhookPayload struct {
	EventType string `json:"eventType"`
	EventData struct {
		TransactionReference string          `json:"transactionReference"`
		PaymentReference     string          `json:"paymentReference"`
		Reference            string          `json:"reference"`
		AmountPaid           decimal.Decimal `json:"amountPaid"`
		Currency             string          `json:"currency"`
		PaymentStatus        string          `json:"paymentStatus"`
		Status               string          `json:"status"`
		TransactionDesc      string          `json:"transactionDescription"`
		Product              struct {
			Type      string `json:"type"`
			Reference string `json:"reference"`
		} `json:"product"`
		DestinationAccountInformation struct {
			AccountNumber string `json:"accountNumber"`
		} `json:"destinationAccountInformation"`
		Customer struct {
			Name string `json:"name"`
		} `json:"customer"`
	} `json:"eventData"`
}

// DecodeWebhook classifies a Monnify event
func (a *Adapter) DecodeWebhook(body []byte) (providers.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrInvalidPayload, err)
	}
	d := p.EventData

	switch p.EventType {
	case "SUCCESSFUL_TRANSACTION":
		if d.PaymentStatus != "" && d.PaymentStatus != "PAID" && d.PaymentStatus != "OVERPAID" {
			return providers.Unhandled{EventType: p.EventType, Reason: providers.ReasonNotSuccessful}, nil
		}
		amount, reason := providers.MajorAmount(d.AmountPaid, d.Currency)
		if reason != "" {
			return providers.Unhandled{EventType: p.EventType, Reason: reason}, nil
		}
		if d.Product.Type == "RESERVED_ACCOUNT" {
			return providers.VirtualAccountCredit{
				AccountNumber: d.DestinationAccountInformation.AccountNumber,
				Reference:     d.TransactionReference,
				Amount:        amount,
				CustomerName:  d.Customer.Name,
			}, nil
		}
		return providers.ClassifyCredit(d.PaymentReference, d.TransactionReference, amount), nil

	case "SUCCESSFUL_DISBURSEMENT":
		return providers.TransferCompletion{
			Reference:  d.Reference,
			TransferID: d.TransactionReference,
			Succeeded:  true,
		}, nil

	case "FAILED_DISBURSEMENT", "REVERSED_DISBURSEMENT":
		reason := d.TransactionDesc
		if reason == "" {
			reason = strings.ToLower(p.EventType)
		}
		return providers.TransferCompletion{
			Reference:  d.Reference,
			TransferID: d.TransactionReference,
			Reason:     reason,
		}, nil
	}

	return providers.Unhandled{EventType: p.EventType, Reason: providers.ReasonEventNotHandled}, nil
}
