package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"remedy-audit/internal/domain"
)

// Header names read and written by the middleware in this package.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderOperator  = "X-Operator"
)

const maxRequestIDLen = 128

// RequestID returns an HTTP middleware that assigns a unique request ID to each
// request. A well-formed incoming X-Request-ID header is reused; otherwise a
// new UUID is generated. The ID is set on the response
// header and stored in the request context, from where it is forwarded to the
// planner.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := domain.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts 1 to 128 characters from [A-Za-z0-9._:-]. The id
// ends up in logs and outgoing RPC metadata.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

// Operator stores the X-Operator header, if any, as the acting operator. The
// header is set by the trusted UI wrapper in front of this service.
func Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name := strings.TrimSpace(r.Header.Get(HeaderOperator)); name != "" {
			r = r.WithContext(domain.WithOperator(r.Context(), name))
		}
		next.ServeHTTP(w, r)
	})
}
