package providers

import (
	"errors"
	"net/http"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
)

// WriteError answers processor failures and reports whether err was one.
// Upstream detail never reaches the caller.
func WriteError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, ErrUpstreamUnavailable):
		api.UpstreamUnavailable(w, nil)
	case IsRejected(err):
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeProcessorRejected, "The payment processor declined the request")
	case errors.Is(err, ErrUnknownProcessor), errors.Is(err, ErrUnsupported):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	default:
		return false
	}
	return true
}
