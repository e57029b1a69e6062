// Package ics subscribes to plain iCalendar feeds over HTTP.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	ical "github.com/arran4/golang-ical"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
)

const (
	lastModifiedPrefix = "last-modified:"
	maxFeedBytes       = 16 << 20
)

// ErrFeedTooLarge is returned instead of a truncated calendar, which would
// otherwise read as a complete feed with events missing.
var ErrFeedTooLarge = fmt.Errorf("feed exceeds %d bytes", maxFeedBytes)

type Adapter struct {
	client *http.Client
	log    *slog.Logger
}

func New(client *http.Client, log *slog.Logger) *Adapter {
	if client == nil {
		client = provider.NewHTTPClient(provider.HTTPConfig{})
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		client: client,
		log:    log.With(slog.String("component", "provider.ics")),
	}
}

func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderICS
}

// FetchChanges downloads the feed conditionally. The cursor is the caching
// validator of the previous download: an ETag, or "last-modified:<date>" when
// the server only sends Last-Modified.
func (a *Adapter) FetchChanges(ctx context.Context, req provider.FetchRequest) (domain.SyncResult, error) {
	res, err := a.fetch(ctx, req.FeedURL, req.Cursor)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if res.notModified {
		return domain.SyncResult{NextCursor: req.Cursor, NotModified: true}, nil
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(res.body))
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("parse feed: %w", err)
	}

	events := make([]domain.ExternalEvent, 0, len(cal.Events()))
	var unreadable []string
	for _, ev := range cal.Events() {
		out, ok, err := toExternalEvent(ev)
		if err != nil {
			a.log.Warn("skipping unreadable event",
				slog.String("feed", redactURL(req.FeedURL)),
				slog.String("external_id", out.ExternalID),
				slog.Any("err", err),
			)
			unreadable = append(unreadable, out.ExternalID)
			continue
		}
		if !ok {
			continue
		}
		if !inWindow(out, req.WindowStart, req.WindowEnd) {
			continue
		}
		events = append(events, out)
	}

	return domain.SyncResult{
		Events:        events,
		UnreadableIDs: unreadable,
		NextCursor:    res.validator,
		FullSync:      true,
	}, nil
}

// ValidateFeed downloads and parses the feed without persisting anything.
func (a *Adapter) ValidateFeed(ctx context.Context, feedURL string) domain.FeedValidation {
	res, err := a.fetch(ctx, feedURL, "")
	if err != nil {
		return domain.FeedValidation{Error: err.Error()}
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(res.body))
	if err != nil {
		return domain.FeedValidation{Error: "feed is not a valid calendar: " + err.Error()}
	}
	return domain.FeedValidation{
		IsValid:      true,
		CalendarName: calendarName(cal),
		EventCount:   len(cal.Events()),
	}
}

type fetchResult struct {
	body        []byte
	validator   string
	notModified bool
}

func (a *Adapter) fetch(ctx context.Context, feedURL, validator string) (fetchResult, error) {
	target, err := NormalizeURL(feedURL)
	if err != nil {
		return fetchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	switch {
	case strings.HasPrefix(validator, lastModifiedPrefix):
		req.Header.Set("If-Modified-Since", strings.TrimPrefix(validator, lastModifiedPrefix))
	case validator != "":
		req.Header.Set("If-None-Match", validator)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return fetchResult{}, err
		}
		if len(body) > maxFeedBytes {
			return fetchResult{}, ErrFeedTooLarge
		}
		a.log.Debug("feed downloaded", slog.String("feed", redactURL(feedURL)), slog.Int("bytes", len(body)))
		return fetchResult{body: body, validator: validatorFrom(resp.Header)}, nil
	case http.StatusNotModified:
		a.log.Debug("feed not modified", slog.String("feed", redactURL(feedURL)))
		return fetchResult{notModified: true}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fetchResult{}, provider.NewHTTPStatusError(resp, body)
	}
}

func validatorFrom(h http.Header) string {
	if etag := strings.TrimSpace(h.Get("ETag")); etag != "" {
		return etag
	}
	if lm := strings.TrimSpace(h.Get("Last-Modified")); lm != "" {
		return lastModifiedPrefix + lm
	}
	return ""
}

// NormalizeURL accepts http(s) and webcal(s) URLs and returns the URL to fetch.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("feed url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "webcal", "webcals":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported feed url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("feed url has no host")
	}
	return u.String(), nil
}

func calendarName(cal *ical.Calendar) string {
	for _, p := range cal.CalendarProperties {
		if p.IANAToken == string(ical.PropertyXWRCalName) || p.IANAToken == string(ical.PropertyName) {
			return p.Value
		}
	}
	return ""
}

// redactURL keeps scheme and host only; private feed URLs embed secrets in
// the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
