// Package provider defines the contract every external calendar adapter
// implements and the registry the sync engine resolves adapters from.
package provider

import (
	"context"
	"time"

	"familyhub/backend/internal/domain"
)

type FetchRequest struct {
	// Tokens is nil for feed subscriptions.
	Tokens      *domain.OAuthTokens
	FeedURL     string
	CalendarID  string
	WindowStart time.Time
	WindowEnd   time.Time
	Cursor      string
}

type Adapter interface {
	Kind() domain.ProviderKind
	FetchChanges(ctx context.Context, req FetchRequest) (domain.SyncResult, error)
}

type OAuthAdapter interface {
	Adapter
	AuthorizationURL(state, redirectURI string) string
	ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (domain.OAuthTokens, error)
	RefreshTokens(ctx context.Context, tokens domain.OAuthTokens) (domain.OAuthTokens, error)
	ListCalendars(ctx context.Context, tokens domain.OAuthTokens) ([]domain.CalendarSummary, error)
}

type FeedValidator interface {
	ValidateFeed(ctx context.Context, feedURL string) domain.FeedValidation
}
