// Package middleware provides HTTP middleware for the broker's ingress
// endpoints.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/replygrid/replygrid/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags every request with an ID for log correlation. An inbound
// X-Request-ID is honored so BSP delivery retries keep the same ID;
// otherwise a fresh one is generated. The ID lands in the request context
// and on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = newRequestID()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newRequestID returns 16 random bytes hex encoded.
func newRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
