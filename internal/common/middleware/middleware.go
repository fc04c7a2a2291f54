package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
)

// Context keys
type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	MerchantIDKey    contextKey = "merchant_id"
	ActorKey         contextKey = "actor"
	RequestIDKey     contextKey = "request_id"
	ClientIPKey      contextKey = "client_ip"
)

// MerchantHeader carries the authenticated merchant id set by the gateway in
// front of this service.
const MerchantHeader = "X-Merchant-ID"

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetMerchantID retrieves the merchant ID from context
func GetMerchantID(ctx context.Context) string {
	if v, ok := ctx.Value(MerchantIDKey).(string); ok {
		return v
	}
	return ""
}

// WithMerchantID returns a context carrying the merchant ID.
func WithMerchantID(ctx context.Context, merchantID string) context.Context {
	return context.WithValue(ctx, MerchantIDKey, merchantID)
}

// GetActor retrieves the authenticated admin actor from context
func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(ActorKey).(string); ok {
		return v
	}
	return ""
}

// GetClientIP retrieves the caller's address stored by ClientAddress
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ClientIPKey).(string); ok {
		return v
	}
	return ""
}

// WithClientIP returns a context carrying the caller's address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// ClientIP returns the request's remote address without the port.
func ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}

// ClientAddress stores the caller's address in the context for audit records
func ClientAddress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ClientIP(r))))
	})
}

// CorrelationID middleware adds a correlation ID to each request
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}

		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ulid.Make().String()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a structured logging middleware
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"correlation_id", GetCorrelationID(r.Context()),
					"merchant_id", GetMerchantID(r.Context()),
					"user_agent", r.UserAgent(),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer recovers from panics and logs them
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
						"correlation_id", GetCorrelationID(r.Context()),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]interface{}{
						"error": map[string]string{
							"code":    "INTERNAL_ERROR",
							"message": "An unexpected error occurred",
						},
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// MerchantExtractor copies the merchant ID header into the request context
func MerchantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if merchantID := strings.TrimSpace(r.Header.Get(MerchantHeader)); merchantID != "" {
			r = r.WithContext(WithMerchantID(r.Context(), merchantID))
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyValidator resolves an API key to the actor it belongs to.
type APIKeyValidator func(ctx context.Context, apiKey string) (actor string, err error)

// APIKeyAuth validates API key authentication
func APIKeyAuth(validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header")
				return
			}

			var apiKey string
			if strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			} else if strings.HasPrefix(authHeader, "ApiKey ") {
				apiKey = strings.TrimPrefix(authHeader, "ApiKey ")
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format")
				return
			}

			actor, err := validator(r.Context(), apiKey)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), ActorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaticAPIKey accepts a single configured key in constant time.
func StaticAPIKey(key, actor string) APIKeyValidator {
	return func(_ context.Context, apiKey string) (string, error) {
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			return "", errors.New("invalid api key")
		}
		return actor, nil
	}
}

// MerchantAPIKey authenticates merchant API keys. A request carrying an
// Authorization header must present a valid key and then acts as the
// merchant the validator returns. Requests without one keep the merchant
// set by MerchantExtractor.
func MerchantAPIKey(validator APIKeyValidator) func(http.Handler) http.Handler {
	auth := APIKeyAuth(validator)
	return func(next http.Handler) http.Handler {
		asMerchant := auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithMerchantID(r.Context(), GetActor(r.Context()))
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			asMerchant.ServeHTTP(w, r)
		})
	}
}

// RequireMerchant ensures a merchant ID is present
func RequireMerchant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetMerchantID(r.Context()) == "" {
			writeError(w, http.StatusBadRequest, "MISSING_MERCHANT", "Merchant ID is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdempotencyStore holds one entry per key: a pending reservation while the
// first request runs, then its encoded response.
type IdempotencyStore interface {
	// Reserve claims key for lease. When the key is already held it returns
	// reserved=false with the stored response, or nil while the holder is
	// still running.
	Reserve(ctx context.Context, key string, lease time.Duration) (stored []byte, reserved bool, err error)
	Set(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a reservation so the key can be retried.
	Release(ctx context.Context, key string) error
}

// IdempotencyLease bounds how long an unfinished request holds its key.
const IdempotencyLease = time.Minute

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency runs a mutating request at most once per Idempotency-Key and
// replays its status and body for repeats. A repeat that arrives while the
// first request is still running gets 409. Keys are scoped to the merchant
// so two merchants cannot collide. Responses of 5xx are not kept.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = GetMerchantID(r.Context()) + ":" + r.URL.Path + ":" + key

			stored, reserved, err := store.Reserve(r.Context(), key, IdempotencyLease)
			if err != nil {
				logger.Warn("idempotency lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !reserved {
				if stored == nil {
					writeError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "A request with this Idempotency-Key is still in progress")
					return
				}
				var resp storedResponse
				if err := json.Unmarshal(stored, &resp); err != nil {
					logger.Error("idempotency entry unreadable", "key", key, "error", err)
					writeError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "A request with this Idempotency-Key is still in progress")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(resp.Status)
				_, _ = w.Write(resp.Body)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The client may be gone; the outcome must still be recorded.
			ctx := context.WithoutCancel(r.Context())
			if rec.status >= 500 {
				if err := store.Release(ctx, key); err != nil {
					logger.Warn("idempotency release failed", "error", err)
				}
				return
			}
			encoded, err := json.Marshal(storedResponse{Status: rec.status, Body: rec.body})
			if err == nil {
				err = store.Set(ctx, key, encoded, ttl)
			}
			if err != nil {
				logger.Warn("idempotency store failed", "error", err)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// CORS middleware
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID, X-Merchant-ID, Idempotency-Key")
				w.Header().Set("Access-Control-Expose-Headers", "X-Correlation-ID, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter decides whether the caller identified by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit rejects requests the limiter refuses. Limiter failures fail open.
func RateLimit(limiter RateLimiter, keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
