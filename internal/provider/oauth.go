package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"familyhub/backend/internal/domain"
)

// OAuthClient wraps the authorization-code flow shared by the OAuth
// calendar adapters.
type OAuthClient struct {
	kind       domain.ProviderKind
	cfg        oauth2.Config
	httpClient *http.Client
	authOpts   []oauth2.AuthCodeOption
}

func NewOAuthClient(kind domain.ProviderKind, cfg oauth2.Config, httpClient *http.Client, authOpts ...oauth2.AuthCodeOption) *OAuthClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuthClient{kind: kind, cfg: cfg, httpClient: httpClient, authOpts: authOpts}
}

func (c *OAuthClient) config(redirectURI string) oauth2.Config {
	cfg := c.cfg
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return cfg
}

func (c *OAuthClient) AuthorizationURL(state, redirectURI string) string {
	cfg := c.config(redirectURI)
	return cfg.AuthCodeURL(state, c.authOpts...)
}

func (c *OAuthClient) Exchange(ctx context.Context, code, redirectURI string) (domain.OAuthTokens, error) {
	cfg := c.config(redirectURI)
	tok, err := cfg.Exchange(c.context(ctx), code)
	if err != nil {
		return domain.OAuthTokens{}, &AuthExchangeError{Provider: c.kind, Err: err}
	}
	return TokensFromOAuth2(tok), nil
}

// Refresh always hits the token endpoint. Providers that do not rotate the
// refresh token keep the old one. Only a rejection by the token endpoint is an
// *AuthRefreshError; network failures and 5xx answers are returned wrapped so
// they are retried.
func (c *OAuthClient) Refresh(ctx context.Context, tokens domain.OAuthTokens) (domain.OAuthTokens, error) {
	if tokens.RefreshToken == "" {
		return domain.OAuthTokens{}, &AuthRefreshError{Provider: c.kind, Err: ErrTokenExpired}
	}
	stale := &oauth2.Token{RefreshToken: tokens.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := c.cfg.TokenSource(c.context(ctx), stale).Token()
	if err != nil {
		if rejectedGrant(err) {
			return domain.OAuthTokens{}, &AuthRefreshError{Provider: c.kind, Err: err}
		}
		return domain.OAuthTokens{}, fmt.Errorf("%s: refresh tokens: %w", c.kind, err)
	}
	out := TokensFromOAuth2(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = tokens.RefreshToken
	}
	return out, nil
}

func rejectedGrant(err error) bool {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return false
	}
	if rErr.Response != nil && rErr.Response.StatusCode >= http.StatusInternalServerError {
		return false
	}
	return rErr.ErrorCode != "" || rErr.Response != nil
}

// Client returns an HTTP client that authorizes requests with the given
// access token without refreshing it.
func (c *OAuthClient) Client(tokens domain.OAuthTokens) *http.Client {
	return &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(TokenToOAuth2(tokens)),
			Base:   c.httpClient.Transport,
		},
	}
}

func (c *OAuthClient) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func TokensFromOAuth2(tok *oauth2.Token) domain.OAuthTokens {
	if tok == nil {
		return domain.OAuthTokens{}
	}
	return domain.OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry.UTC(),
	}
}

func TokenToOAuth2(t domain.OAuthTokens) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}
