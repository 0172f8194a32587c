// Package shield provides the HTTP middleware placed in front of the mentor
// API: security headers, body limits, HEAD handling and per-client rate
// limiting.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.NewRateLimiter(rules)) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody = 64 << 10

// APIStack returns the standard middleware stack for a JSON API, in order:
// HeadToGet, SecurityHeaders, MaxBody, then the rate limiter when rl is
// not nil.
func APIStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
