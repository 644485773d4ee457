package middleware

import "net/http"

const preflightMaxAge = "600"

// OriginPolicy decides which cross-origin callers get credentialed CORS
// headers. An empty allow-list mirrors any origin.
type OriginPolicy struct {
	allowed []string
}

func NewOriginPolicy(allowed []string) OriginPolicy {
	return OriginPolicy{allowed: allowed}
}

func (p OriginPolicy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if len(p.allowed) == 0 {
		return true
	}
	for _, o := range p.allowed {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// writePreflight answers an OPTIONS request with 204, mirroring the
// requested method and headers back to an allowed origin.
func (p OriginPolicy) writePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Add("Vary", "Origin")
	origin := r.Header.Get("Origin")
	if p.Allows(origin) {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		if m := r.Header.Get("Access-Control-Request-Method"); m != "" {
			h.Set("Access-Control-Allow-Methods", m)
		}
		if hdrs := r.Header.Get("Access-Control-Request-Headers"); hdrs != "" {
			h.Set("Access-Control-Allow-Headers", hdrs)
		}
		h.Set("Access-Control-Max-Age", preflightMaxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyCORS stamps the simple-request CORS headers on a normal response.
func (p OriginPolicy) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !p.Allows(origin) {
		return
	}
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
}
