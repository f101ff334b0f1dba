package transport

import (
	"net/http"
)

// Authenticator applies authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request, token string)
}

// BearerAuth implements Bearer token authentication, as used by Notion
// integration tokens.
type BearerAuth struct{}

// Apply implements the Authenticator interface for BearerAuth.
func (a *BearerAuth) Apply(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// HeaderAuth sends the raw token in a custom header, as API gateways in
// front of Notion usually expect.
type HeaderAuth struct {
	Header string
}

// Apply implements the Authenticator interface for HeaderAuth.
func (a *HeaderAuth) Apply(req *http.Request, token string) {
	req.Header.Set(a.Header, token)
}
