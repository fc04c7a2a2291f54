package providertest

import (
	"encoding/json"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Event converts the wire form into a providers.Event
func (e FakeEvent) Event() providers.Event {
	currency := money.Currency(e.Currency)
	if currency == "" {
		currency = money.NGN
	}
	amount := money.New(e.Amount, currency)

	switch e.Kind {
	case "va_credit":
		return providers.VirtualAccountCredit{AccountNumber: e.AccountNumber, Reference: e.Reference, Amount: amount}
	case "charge":
		return providers.ClassifyCredit(e.Reference, "proc_"+e.Reference, amount)
	case "transfer":
		evt := providers.TransferCompletion{Reference: e.Reference, TransferID: "trf_" + e.Reference, Succeeded: e.Succeeded}
		if !e.Succeeded {
			evt.Reason = "insufficient funds in merchant account"
		}
		return evt
	}
	return providers.Unhandled{EventType: e.Kind, Reason: providers.ReasonEventNotHandled}
}

// Body renders e as a webhook body
func (e FakeEvent) Body() []byte {
	b, _ := json.Marshal(e)
	return b
}
