// Package auth implements the session gate: credential issue on login and
// bearer-presence checks on protected routes.
package auth

import (
	"errors"
	"strings"
)

const (
	// MockToken is the single credential issued by Login.
	MockToken = "mock-jwt-token-123"

	// DefaultTTL is the advertised credential lifetime in seconds. It is not
	// enforced server-side.
	DefaultTTL = 1200

	bearerPrefix = "Bearer "
)

// ErrMissingCredentials is returned by Login when email or password is empty.
var ErrMissingCredentials = errors.New("missing credentials")

// Credential is the login response body.
type Credential struct {
	Token string `json:"token"`
	TTL   int    `json:"ttl"`
}

// Login issues the fixed credential. No user store is consulted; only the
// presence of both fields is checked.
func Login(email, password string) (Credential, error) {
	if email == "" || password == "" {
		return Credential{}, ErrMissingCredentials
	}
	return Credential{Token: MockToken, TTL: DefaultTTL}, nil
}

// BearerToken extracts the token from an Authorization header value. It
// reports false when the header is not of the form "Bearer <non-empty>".
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		return "", false
	}
	return token, true
}
