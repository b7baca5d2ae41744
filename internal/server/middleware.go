package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// healthPath is exempt from authentication so load balancers and the status
// command can probe a locked-down server.
const healthPath = "/api/health"

// RequestIDMiddleware tags every request with an ID for log correlation.
// A caller-supplied X-Request-ID is honored; otherwise a ULID is minted so
// request IDs sort alongside run and approval IDs in the event log.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFromContext returns the request ID set by RequestIDMiddleware,
// or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// APIKeyMiddleware guards the API when server.apiKey is configured. The key
// is accepted as an X-API-Key header or an Authorization bearer token, which
// is what most forge webhook configurations can send. An empty key disables
// the check, and GET /api/health always passes.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || (r.Method == http.MethodGet && r.URL.Path == healthPath) {
				next.ServeHTTP(w, r)
				return
			}
			if !keyMatches(r, apiKey) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyMatches(r *http.Request, apiKey string) bool {
	provided := r.Header.Get("X-API-Key")
	if provided == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) == 1
}

// MaxBodyMiddleware caps request body size. Push hook payloads are small;
// anything larger is a misconfigured caller.
func MaxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
