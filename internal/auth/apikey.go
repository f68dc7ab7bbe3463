package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// APIKeyHeader is the HTTP header name for API key authentication.
const APIKeyHeader = "X-API-Key"

// apiKeySubject identifies callers holding the shared key.
const apiKeySubject = "api-key"

// ErrEmptyAPIKey is returned when the configured key is blank.
var ErrEmptyAPIKey = errors.New("apikey auth: key must not be empty")

// APIKeyAuthenticator authenticates requests carrying the single shared
// secret in the X-API-Key header. The comparison is exact and constant-time.
type APIKeyAuthenticator struct {
	key []byte
}

// NewAPIKeyAuthenticator creates an authenticator for the given secret.
func NewAPIKeyAuthenticator(key string) (*APIKeyAuthenticator, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyAPIKey
	}

	return &APIKeyAuthenticator{key: []byte(key)}, nil
}

// Authenticate checks the X-API-Key header against the configured key.
func (a *APIKeyAuthenticator) Authenticate(
	r *http.Request,
) (*AuthInfo, error) {
	apiKey := r.Header.Get(APIKeyHeader)
	if apiKey == "" {
		return nil, ErrUnauthenticated
	}

	if subtle.ConstantTimeCompare([]byte(apiKey), a.key) != 1 {
		return nil, ErrInvalidAPIKey
	}

	return &AuthInfo{
		Method:  AuthMethodAPIKey,
		Subject: apiKeySubject,
	}, nil
}

// Method returns the authentication method type.
func (a *APIKeyAuthenticator) Method() AuthMethod {
	return AuthMethodAPIKey
}
