// Package google reads events from Google Calendar through the Calendar v3 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
)

const pageSize = 250

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides the API base path, e.g. for a local fake.
	Endpoint string
	// OAuthEndpoint overrides Google's authorization server.
	OAuthEndpoint *oauth2.Endpoint
}

type Adapter struct {
	oauth    *provider.OAuthClient
	endpoint string
	log      *slog.Logger
}

func New(cfg Config, httpClient *http.Client, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	endpoint := googleoauth.Endpoint
	if cfg.OAuthEndpoint != nil {
		endpoint = *cfg.OAuthEndpoint
	}
	oc := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       []string{calendar.CalendarReadonlyScope},
	}
	return &Adapter{
		oauth:    provider.NewOAuthClient(domain.ProviderGoogle, oc, httpClient, oauth2.AccessTypeOffline, oauth2.ApprovalForce),
		endpoint: cfg.Endpoint,
		log:      log.With(slog.String("component", "provider.google")),
	}
}

func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderGoogle
}

func (a *Adapter) AuthorizationURL(state, redirectURI string) string {
	return a.oauth.AuthorizationURL(state, redirectURI)
}

func (a *Adapter) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (domain.OAuthTokens, error) {
	return a.oauth.Exchange(ctx, code, redirectURI)
}

func (a *Adapter) RefreshTokens(ctx context.Context, tokens domain.OAuthTokens) (domain.OAuthTokens, error) {
	return a.oauth.Refresh(ctx, tokens)
}

func (a *Adapter) ListCalendars(ctx context.Context, tokens domain.OAuthTokens) ([]domain.CalendarSummary, error) {
	svc, err := a.service(ctx, tokens)
	if err != nil {
		return nil, err
	}

	var out []domain.CalendarSummary
	call := svc.CalendarList.List().MinAccessRole("reader")
	err = call.Pages(ctx, func(page *calendar.CalendarList) error {
		for _, c := range page.Items {
			name := c.SummaryOverride
			if name == "" {
				name = c.Summary
			}
			out = append(out, domain.CalendarSummary{ID: c.Id, Name: name, Primary: c.Primary})
		}
		return nil
	})
	if err != nil {
		return nil, statusError(err)
	}
	return out, nil
}

// FetchChanges uses the stored sync token when there is one. An expired token
// (HTTP 410) falls back to listing the whole window.
func (a *Adapter) FetchChanges(ctx context.Context, req provider.FetchRequest) (domain.SyncResult, error) {
	if req.Tokens == nil {
		return domain.SyncResult{}, fmt.Errorf("google: %w", provider.ErrTokenExpired)
	}
	svc, err := a.service(ctx, *req.Tokens)
	if err != nil {
		return domain.SyncResult{}, err
	}

	if req.Cursor != "" {
		res, err := a.list(ctx, svc, req, req.Cursor)
		if err == nil {
			return res, nil
		}
		if !isGone(err) {
			return domain.SyncResult{}, statusError(err)
		}
		a.log.Info("sync token expired, refetching window", slog.String("calendar_id", req.CalendarID))
	}

	res, err := a.list(ctx, svc, req, "")
	if err != nil {
		return domain.SyncResult{}, statusError(err)
	}
	res.FullSync = true
	return res, nil
}

func (a *Adapter) list(ctx context.Context, svc *calendar.Service, req provider.FetchRequest, syncToken string) (domain.SyncResult, error) {
	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	call := svc.Events.List(calendarID).
		ShowDeleted(true).
		SingleEvents(false).
		MaxResults(pageSize)
	if syncToken != "" {
		call = call.SyncToken(syncToken)
	} else {
		call = call.TimeMin(req.WindowStart.UTC().Format(time.RFC3339)).
			TimeMax(req.WindowEnd.UTC().Format(time.RFC3339))
	}

	var res domain.SyncResult
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Context(ctx).Do()
		if err != nil {
			return domain.SyncResult{}, err
		}
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				res.DeletedIDs = append(res.DeletedIDs, item.Id)
				continue
			}
			ev, err := toExternalEvent(item)
			if err != nil {
				a.log.Warn("skipping unreadable event", slog.String("event_id", item.Id), slog.Any("err", err))
				res.UnreadableIDs = append(res.UnreadableIDs, item.Id)
				continue
			}
			res.Events = append(res.Events, ev)
		}
		if page.NextPageToken == "" {
			res.NextCursor = page.NextSyncToken
			return res, nil
		}
		pageToken = page.NextPageToken
	}
}

func (a *Adapter) service(ctx context.Context, tokens domain.OAuthTokens) (*calendar.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(a.oauth.Client(tokens))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: create calendar service: %w", err)
	}
	return svc, nil
}

func isGone(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusGone
}

// statusError converts API errors into the provider-neutral status error so
// failure classification does not depend on the client library.
func statusError(err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return err
	}
	msg := gErr.Message
	if msg == "" {
		msg = strings.TrimSpace(gErr.Body)
	}
	return &provider.HTTPStatusError{
		StatusCode: gErr.Code,
		Status:     fmt.Sprintf("%d %s", gErr.Code, http.StatusText(gErr.Code)),
		Body:       msg,
	}
}
