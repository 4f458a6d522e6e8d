package auth

import (
	"crypto/subtle"
	"net/http"
)

const (
	// HeaderProxyKey carries the proxy secret; it takes precedence over the
	// query parameter.
	HeaderProxyKey = "X-Proxy-Key"
	QueryProxyKey  = "key"
)

// Authenticator gates every proxied operation on a shared secret fixed at
// startup.
type Authenticator struct {
	secret []byte
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Configured reports whether a proxy secret was set at all.
func (a *Authenticator) Configured() bool {
	return len(a.secret) > 0
}

// Authorize returns true only for a non-empty configured secret that equals
// token exactly.
func (a *Authenticator) Authorize(token string) bool {
	if !a.Configured() || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare(a.secret, []byte(token)) == 1
}

// TokenFromRequest extracts the caller supplied secret.
func TokenFromRequest(r *http.Request) string {
	if v := r.Header.Get(HeaderProxyKey); v != "" {
		return v
	}
	return r.URL.Query().Get(QueryProxyKey)
}
