package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/karteio/geosearch/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a request id to the context and response. An incoming
// X-Request-ID header is honored so ids propagate across services.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = newRequestID()
			}
			w.Header().Set(requestIDHeader, id)
			ctx := logger.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
