package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"instockbackend/internal/logger"
)

// Request context keys
type contextKey string

const RequestIDKey contextKey = "request_id"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Standard API error response
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id"`
}

// Middleware chain for API endpoints
func APIMiddleware(next http.Handler) http.Handler {
	return RequestID(
		Logging(
			ErrorHandling(next),
		),
	)
}

// RequestID middleware adds a unique request ID to each request. A client
// supplied X-Request-ID is kept when it parses as a UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging middleware logs all API requests with consistent format
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetRequestID(r.Context())

		logger.LogDebug("API request started: request_id=%s method=%s path=%s client_ip=%s",
			requestID, r.Method, r.URL.Path, logger.GetClientIP(r))

		// Create a response writer that captures status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		logger.LogInfo("API request completed: request_id=%s method=%s path=%s status=%d duration_ms=%d",
			requestID, r.Method, r.URL.Path, rw.statusCode, duration.Milliseconds())
	})
}

// ErrorHandling middleware provides panic recovery and consistent error responses
func ErrorHandling(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.LogError("Panic in API handler: request_id=%s method=%s path=%s error=%v\n%s",
					GetRequestID(r.Context()), r.Method, r.URL.Path, err, debug.Stack())
				WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
					"An internal error occurred", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimit allows one request per interval for each client IP.
func RateLimit(interval time.Duration) func(http.Handler) http.Handler {
	var (
		mu   sync.Mutex
		last = make(map[string]time.Time)
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := logger.GetClientIP(r)
			now := time.Now()

			mu.Lock()
			prev, seen := last[client]
			if seen && now.Sub(prev) < interval {
				mu.Unlock()
				w.Header().Set("Retry-After", strconv.Itoa(int(interval.Seconds()+0.999)))
				WriteAPIError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded",
					"Too many requests. Please wait before trying again.", "")
				return
			}
			last[client] = now
			if len(last) > 10000 {
				for ip, t := range last {
					if now.Sub(t) >= interval {
						delete(last, ip)
					}
				}
			}
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID retrieves the request ID from request context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WriteAPIError writes a standardized error response
func WriteAPIError(w http.ResponseWriter, r *http.Request, statusCode int, code, message, details string) {
	if statusCode >= http.StatusInternalServerError {
		logger.LogHTTPError(r, statusCode, fmt.Errorf("%s: %s", code, details))
	}

	response := APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: GetRequestID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// WriteJSON writes data as the bare JSON response body.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.LogError("Failed to encode response: %v", err)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ParseJSONRequest parses a JSON request body into v. Fields v does not
// declare are ignored, so older and newer mobile clients keep working.
func ParseJSONRequest(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return parseJSON(w, r, v, false)
}

// ParseStrictJSONRequest is ParseJSONRequest but rejects unknown fields.
// Catalog maintenance bodies use it so a misspelt field is not silently dropped.
func ParseStrictJSONRequest(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return parseJSON(w, r, v, true)
}

func parseJSON(w http.ResponseWriter, r *http.Request, v interface{}, strict bool) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("content-type must be application/json")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON body: trailing data")
	}
	return nil
}
