package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Response is the standard API response envelope
type Response[T any] struct {
	Data  T      `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error represents an API error
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// PaginatedResponse is the standard paginated response envelope
type PaginatedResponse[T any] struct {
	Data       []T         `json:"data"`
	Pagination *Pagination `json:"pagination"`
	Error      *Error      `json:"error,omitempty"`
}

// Pagination holds pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	Total      int64  `json:"total"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Common error codes
const (
	ErrCodeBadRequest               = "BAD_REQUEST"
	ErrCodeUnauthorized             = "UNAUTHORIZED"
	ErrCodeForbidden                = "FORBIDDEN"
	ErrCodeNotFound                 = "NOT_FOUND"
	ErrCodeConflict                 = "CONFLICT"
	ErrCodeValidation               = "VALIDATION_ERROR"
	ErrCodeInternalError            = "INTERNAL_ERROR"
	ErrCodeServiceUnavail           = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited              = "RATE_LIMITED"
	ErrCodeInsufficientBalance      = "INSUFFICIENT_BALANCE"
	ErrCodeBankAccountNotConfigured = "BANK_ACCOUNT_NOT_CONFIGURED"
	ErrCodeTransferRejected         = "TRANSFER_REJECTED"
	ErrCodeProcessorRejected        = "PROCESSOR_REJECTED"
	ErrCodeUpstreamUnavailable      = "UPSTREAM_UNAVAILABLE"
	ErrCodeInvalidTransition        = "INVALID_TRANSITION"
)

// GenericRetryMessage is shown for upstream and storage failures so internal
// detail never reaches the caller.
const GenericRetryMessage = "Something went wrong, please try again"

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful data response
func WriteData[T any](w http.ResponseWriter, status int, data T) {
	WriteJSON(w, status, Response[T]{Data: data})
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Response[any]{
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// WriteErrorWithDetails writes an error response with details
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	WriteJSON(w, status, Response[any]{
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WritePaginated writes a paginated response
func WritePaginated[T any](w http.ResponseWriter, data []T, pagination *Pagination) {
	WriteJSON(w, http.StatusOK, PaginatedResponse[T]{
		Data:       data,
		Pagination: pagination,
	})
}

// BadRequest writes a 400 response
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized writes a 401 response
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden writes a 403 response
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound writes a 404 response
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict writes a 409 response
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeConflict, message)
}

// InternalError writes a 500 response
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// UpstreamUnavailable writes a 503 response. Callers may retry.
func UpstreamUnavailable(w http.ResponseWriter, details map[string]string) {
	WriteErrorWithDetails(w, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, GenericRetryMessage, details)
}

// InsufficientBalance writes a 402 response carrying the balance the caller
// can still spend.
func InsufficientBalance(w http.ResponseWriter, available, requested string) {
	WriteErrorWithDetails(w, http.StatusPaymentRequired, ErrCodeInsufficientBalance, "Insufficient balance", map[string]string{
		"available": available,
		"requested": requested,
	})
}

// ValidationError writes a 422 response with validation details
func ValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make(map[string]string)
		for _, e := range validationErrors {
			details[e.Field()] = formatValidationError(e)
		}
		WriteErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeValidation, "Validation failed", details)
		return
	}
	WriteError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "min":
		return "Must be at least " + e.Param()
	case "max":
		return "Must be at most " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "ulid":
		return "Must be a valid ULID"
	case "numeric":
		return "Must contain only digits"
	case "url":
		return "Must be a valid URL"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "lt":
		return "Must be less than " + e.Param()
	default:
		return "Invalid value"
	}
}

// Validate is a shared validator instance. Field errors are reported by
// their JSON names.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeAndValidate decodes JSON and validates the result
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return Validate.Struct(v)
}

// WriteDecodeError writes 422 for validation failures and 400 for malformed bodies.
func WriteDecodeError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		ValidationError(w, err)
		return
	}
	BadRequest(w, "Invalid request body")
}

// PaginationParams extracts pagination parameters from query string
type PaginationParams struct {
	Limit  int
	Offset int
	Cursor string
}

// GetPaginationParams extracts pagination from request
func GetPaginationParams(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	q := r.URL.Query()
	params := PaginationParams{
		Limit:  defaultLimit,
		Cursor: q.Get("cursor"),
	}

	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		params.Limit = min(l, maxLimit)
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		params.Offset = o
	}

	return params
}
