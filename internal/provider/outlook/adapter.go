// Package outlook reads events from Microsoft 365 / Outlook calendars via the
// Microsoft Graph calendarView delta API.
package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	defaultTenant  = "common"
	maxPageSize    = 100
)

var scopes = []string{"offline_access", "Calendars.Read"}

// errDeltaExpired is returned when Graph no longer accepts a delta link.
var errDeltaExpired = errors.New("delta link expired")

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Tenant       string
	// BaseURL overrides the Graph API root, e.g. for a local fake.
	BaseURL       string
	OAuthEndpoint *oauth2.Endpoint
}

type Adapter struct {
	oauth   *provider.OAuthClient
	baseURL string
	log     *slog.Logger
}

func New(cfg Config, httpClient *http.Client, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = defaultTenant
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if cfg.OAuthEndpoint != nil {
		endpoint = *cfg.OAuthEndpoint
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	oc := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
	return &Adapter{
		oauth:   provider.NewOAuthClient(domain.ProviderOutlook, oc, httpClient, oauth2.SetAuthURLParam("prompt", "select_account")),
		baseURL: baseURL,
		log:     log.With(slog.String("component", "provider.outlook")),
	}
}

func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderOutlook
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
	client := a.oauth.Client(tokens)

	var out []domain.CalendarSummary
	next := a.baseURL + "/me/calendars?$select=id,name,isDefaultCalendar"
	for next != "" {
		var page calendarPage
		if err := a.get(ctx, client, next, &page); err != nil {
			return nil, err
		}
		for _, c := range page.Value {
			out = append(out, domain.CalendarSummary{ID: c.ID, Name: c.Name, Primary: c.IsDefaultCalendar})
		}
		next = page.NextLink
	}
	return out, nil
}

// FetchChanges follows the stored delta link, or starts a new delta round for
// the window. An expired delta link restarts the round and marks the result
// as a full sync.
func (a *Adapter) FetchChanges(ctx context.Context, req provider.FetchRequest) (domain.SyncResult, error) {
	if req.Tokens == nil {
		return domain.SyncResult{}, fmt.Errorf("outlook: %w", provider.ErrTokenExpired)
	}
	client := a.oauth.Client(*req.Tokens)

	if req.Cursor != "" {
		res, err := a.delta(ctx, client, req.Cursor)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errDeltaExpired) {
			return domain.SyncResult{}, err
		}
		a.log.Info("delta link expired, refetching window", slog.String("calendar_id", req.CalendarID))
	}

	res, err := a.delta(ctx, client, a.initialDeltaURL(req))
	if err != nil {
		return domain.SyncResult{}, err
	}
	res.FullSync = true
	return res, nil
}

func (a *Adapter) initialDeltaURL(req provider.FetchRequest) string {
	q := url.Values{}
	q.Set("startDateTime", req.WindowStart.UTC().Format(time.RFC3339))
	q.Set("endDateTime", req.WindowEnd.UTC().Format(time.RFC3339))
	path := "/me/calendarView/delta"
	if req.CalendarID != "" {
		path = "/me/calendars/" + url.PathEscape(req.CalendarID) + "/calendarView/delta"
	}
	return a.baseURL + path + "?" + q.Encode()
}

func (a *Adapter) delta(ctx context.Context, client *http.Client, link string) (domain.SyncResult, error) {
	var res domain.SyncResult
	next := link
	for next != "" {
		var page deltaPage
		if err := a.get(ctx, client, next, &page); err != nil {
			return domain.SyncResult{}, err
		}
		for _, item := range page.Value {
			if item.Removed != nil {
				res.DeletedIDs = append(res.DeletedIDs, item.ID)
				continue
			}
			ev, err := item.toExternalEvent()
			if err != nil {
				a.log.Warn("skipping unreadable event", slog.String("event_id", item.ID), slog.Any("err", err))
				res.UnreadableIDs = append(res.UnreadableIDs, item.ID)
				continue
			}
			res.Events = append(res.Events, ev)
		}
		if page.DeltaLink != "" {
			res.NextCursor = page.DeltaLink
			return res, nil
		}
		next = page.NextLink
	}
	return domain.SyncResult{}, errors.New("outlook: delta round ended without a delta link")
}

func (a *Adapter) get(ctx context.Context, client *http.Client, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf(`outlook.timezone="UTC", odata.maxpagesize=%d`, maxPageSize))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if isExpiredDelta(resp.StatusCode, body) {
			return errDeltaExpired
		}
		return provider.NewHTTPStatusError(resp, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("outlook: decode response: %w", err)
	}
	return nil
}

func isExpiredDelta(status int, body []byte) bool {
	if status == http.StatusGone {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	var e graphError
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	switch strings.ToLower(e.Error.Code) {
	case "syncstatenotfound", "syncstateinvalid", "resyncrequired":
		return true
	}
	return false
}
