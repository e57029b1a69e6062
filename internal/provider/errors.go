package provider

import (
	"errors"
	"fmt"
	"net/http"

	"familyhub/backend/internal/domain"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrTokenExpired        = errors.New("access token expired")
)

type AuthExchangeError struct {
	Provider domain.ProviderKind
	Err      error
}

func (e *AuthExchangeError) Error() string {
	return fmt.Sprintf("%s: authorization code exchange failed: %v", e.Provider, e.Err)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

type AuthRefreshError struct {
	Provider domain.ProviderKind
	Err      error
}

func (e *AuthRefreshError) Error() string {
	return fmt.Sprintf("%s: token refresh failed: %v", e.Provider, e.Err)
}

func (e *AuthRefreshError) Unwrap() error { return e.Err }

// HTTPStatusError is returned for non-success responses that carry no more
// specific meaning. Body is truncated.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return "unexpected http status: " + e.Status
	}
	return fmt.Sprintf("unexpected http status: %s: %s", e.Status, e.Body)
}

func (e *HTTPStatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

const maxErrorBody = 512

func NewHTTPStatusError(resp *http.Response, body []byte) *HTTPStatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
}
