package providers

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
)

// Event is a classified webhook notification. It is one of
// VirtualAccountCredit, TopUpCredit, TransactionCredit, TransferCompletion
// or Unhandled.
type Event interface {
	Kind() string
	isEvent()
}

// VirtualAccountCredit is money received on a dedicated account number.
// AccountNumber may be empty when the processor omitted it.
type VirtualAccountCredit struct {
	AccountNumber string
	Reference     string
	Amount        money.Money
	CustomerName  string
}

// TopUpCredit settles a wallet top-up started by this service
type TopUpCredit struct {
	MerchantID string
	Reference  string
	Amount     money.Money
}

// TransactionCredit settles a charge started by this service
type TransactionCredit struct {
	Reference          string
	ProcessorReference string
	Amount             money.Money
}

// TransferCompletion resolves a withdrawal's transfer
type TransferCompletion struct {
	Reference  string
	TransferID string
	Succeeded  bool
	Reason     string
}

// Unhandled is any notification that must not post
type Unhandled struct {
	EventType string
	Reason    string
}

func (VirtualAccountCredit) Kind() string { return "virtual_account_credit" }
func (TopUpCredit) Kind() string          { return "topup_credit" }
func (TransactionCredit) Kind() string    { return "transaction_credit" }
func (TransferCompletion) Kind() string   { return "transfer_completion" }
func (Unhandled) Kind() string            { return "unhandled" }

func (VirtualAccountCredit) isEvent() {}
func (TopUpCredit) isEvent()          {}
func (TransactionCredit) isEvent()    {}
func (TransferCompletion) isEvent()   {}
func (Unhandled) isEvent()            {}

// Unhandled reasons
const (
	ReasonEventNotHandled     = "event_not_handled"
	ReasonNotSuccessful       = "not_successful"
	ReasonUnsupportedCurrency = "unsupported_currency"
	ReasonInvalidAmount       = "invalid_amount"
)

// Reference prefixes of checkouts this service starts
const (
	ChargePrefix = "GTP_"
	TopUpPrefix  = "TOPUP_"
)

// IsCheckoutReference reports whether ref names a charge or top-up this
// service initialized, whatever the payer used to complete it.
func IsCheckoutReference(ref string) bool {
	return strings.HasPrefix(ref, ChargePrefix) || strings.HasPrefix(ref, TopUpPrefix)
}

// TopUpReference builds TOPUP_<merchantID>_<suffix>
func TopUpReference(merchantID, suffix string) string {
	return TopUpPrefix + merchantID + "_" + suffix
}

// ParseTopUpReference extracts the merchant from a top-up reference. The
// suffix never contains an underscore, so merchant ids may.
func ParseTopUpReference(ref string) (merchantID string, ok bool) {
	rest, found := strings.CutPrefix(ref, TopUpPrefix)
	if !found {
		return "", false
	}
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 || i == len(rest)-1 {
		return "", false
	}
	return rest[:i], true
}

// MajorAmount converts a major-unit webhook amount. The returned reason is
// set when the credit cannot be represented.
func MajorAmount(amount decimal.Decimal, currencyCode string) (money.Money, string) {
	if currencyCode == "" {
		currencyCode = string(money.NGN)
	}
	currency, err := money.ParseCurrency(currencyCode)
	if err != nil {
		return money.Money{}, ReasonUnsupportedCurrency
	}
	m, err := money.FromMajor(amount, currency)
	if err != nil || !m.IsPositive() {
		return money.Money{}, ReasonInvalidAmount
	}
	return m, ""
}

// ClassifyCredit turns a successful charge into a TopUpCredit or a
// TransactionCredit by its reference.
func ClassifyCredit(reference, processorReference string, amount money.Money) Event {
	if merchantID, ok := ParseTopUpReference(reference); ok {
		return TopUpCredit{MerchantID: merchantID, Reference: reference, Amount: amount}
	}
	return TransactionCredit{Reference: reference, ProcessorReference: processorReference, Amount: amount}
}
