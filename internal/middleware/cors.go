package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSOptions configures CORS.
type CORSOptions struct {
	// AllowedOrigins lists exact origins; "*" admits any origin.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// ExposedHeaders are readable by browser scripts on actual responses.
	ExposedHeaders []string
	MaxAge         time.Duration
}

// CORS answers preflight requests itself and decorates actual responses.
// Explicitly listed origins may send credentials; wildcard matches may not.
// Requests from other origins get no CORS headers and are left to the
// browser to block.
func CORS(opts CORSOptions) Middleware {
	listed := make(map[string]bool, len(opts.AllowedOrigins))
	anyOrigin := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		listed[o] = true
	}

	methods := strings.Join(opts.AllowedMethods, ", ")
	headers := strings.Join(opts.AllowedHeaders, ", ")
	exposed := strings.Join(opts.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(int(opts.MaxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allowed := origin != "" && (anyOrigin || listed[origin])
			if allowed {
				h.Set("Access-Control-Allow-Origin", origin)
				if listed[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if isPreflight(r) {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allowed {
					h.Set("Access-Control-Allow-Methods", methods)
					h.Set("Access-Control-Allow-Headers", headers)
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed && exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isPreflight reports whether r is a CORS preflight rather than a plain
// OPTIONS request.
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}
