// Package nethttp adapts ratelimit.Evaluator into a standard net/http
// middleware.
package nethttp

import (
	"net/http"

	"github.com/fastex/ratelimit"
)

// Middleware wraps next, evaluating every policy in order against eval's
// backend before calling through, stopping at the first rejection.
//
// Example:
//
//	backend := local.New(local.Config{})
//	_ = backend.Connect(context.Background())
//	eval := ratelimit.NewEvaluator(backend, logger)
//	policy, _ := ratelimit.NewLimitPolicy(100, time.Minute)
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", myHandler)
//	http.ListenAndServe(":8080", nethttp.Middleware(eval, policy)(mux))
func Middleware(eval *ratelimit.Evaluator, policies ...*ratelimit.LimitPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := ratelimit.RequestInfo{
				ClientIP: clientIP(r),
				Path:     r.URL.Path,
			}

			for _, policy := range policies {
				_, ok, err := eval.Evaluate(r.Context(), policy, info, w)
				if err != nil {
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
					return
				}
				if !ok {
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr, falling back to the raw value
// if it doesn't look like host:port.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
