package calsync

import (
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"familyhub/backend/internal/provider"
)

// Classify reports whether err means the stored credentials are no longer
// usable. Anything else is treated as transient and retried on the normal
// sync interval.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var refreshErr *provider.AuthRefreshError
	if errors.As(err, &refreshErr) {
		return true
	}
	var exchangeErr *provider.AuthExchangeError
	if errors.As(err, &exchangeErr) {
		return true
	}
	if errors.Is(err, provider.ErrTokenExpired) {
		return true
	}

	var statusErr *provider.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Unauthorized()
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		return retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}
