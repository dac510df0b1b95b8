// Package logging provides request ID context propagation so log lines from
// one login flow can be correlated across the exchange, provisioning and
// token-issuance steps.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
)

type contextKey string

const requestIDKey contextKey = "requestId"

// GenerateRequestID creates an 8-character hex request ID.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Middleware assigns each request a fresh ID and exposes it on the response
// for client-side correlation.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GenerateRequestID()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Printf logs with the context's request ID prefixed, falling back to a plain
// log line outside a request.
func Printf(ctx context.Context, format string, args ...interface{}) {
	if id := GetRequestID(ctx); id != "" {
		log.Printf("[%s] "+format, append([]interface{}{id}, args...)...)
		return
	}
	log.Printf(format, args...)
}
