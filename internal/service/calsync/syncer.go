// Package calsync reconciles one calendar connection against its external
// provider: token refresh, change fetch, event reconciliation and connection
// health bookkeeping.
package calsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
	"familyhub/backend/internal/store"
)

const (
	DefaultProviderTimeout    = 30 * time.Second
	DefaultTokenRefreshMargin = 5 * time.Minute
)

// Adapters resolves provider adapters by kind. *provider.Registry satisfies it.
type Adapters interface {
	Adapter(kind domain.ProviderKind) (provider.Adapter, error)
	OAuth(kind domain.ProviderKind) (provider.OAuthAdapter, error)
}

type Config struct {
	ProviderTimeout    time.Duration
	TokenRefreshMargin time.Duration
}

type Syncer struct {
	adapters    Adapters
	connections store.ConnectionStore
	events      store.EventStore
	cfg         Config
	now         func() time.Time
	log         *slog.Logger
}

type Option func(*Syncer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func NewSyncer(adapters Adapters, connections store.ConnectionStore, events store.EventStore, cfg Config, log *slog.Logger, opts ...Option) *Syncer {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.TokenRefreshMargin <= 0 {
		cfg.TokenRefreshMargin = DefaultTokenRefreshMargin
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Syncer{
		adapters:    adapters,
		connections: connections,
		events:      events,
		cfg:         cfg,
		now:         time.Now,
		log:         log.With(slog.String("component", "calsync")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncConnection runs one sync for conn and persists the outcome on the
// connection record. It never returns an error: every failure, including a
// panic inside an adapter, is reported in the summary.
func (s *Syncer) SyncConnection(ctx context.Context, conn domain.CalendarConnection) (summary domain.SyncSummary) {
	started := s.now().UTC()
	summary = domain.SyncSummary{
		ConnectionID: conn.ID,
		FamilyID:     conn.FamilyID,
		Provider:     conn.Provider,
		StartedAt:    started,
	}
	log := s.log.With(
		slog.String("connection_id", conn.ID.String()),
		slog.String("family_id", conn.FamilyID.String()),
		slog.String("provider", string(conn.Provider)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("sync panicked", slog.Any("panic", r))
			summary = s.fail(ctx, log, conn, summary, fmt.Errorf("sync panicked: %v", r))
		}
		summary.Duration = s.now().Sub(started)
	}()

	if conn.Provider.RequiresOAuth() && conn.Tokens != nil && conn.Tokens.ExpiresWithin(started, s.cfg.TokenRefreshMargin) {
		refreshed, err := s.refresh(ctx, conn)
		if err != nil {
			return s.fail(ctx, log, conn, summary, err)
		}
		conn = conn.WithTokens(refreshed)
		log.Debug("access token refreshed", slog.Time("expiry", refreshed.Expiry))
	}

	adapter, err := s.adapters.Adapter(conn.Provider)
	if err != nil {
		return s.fail(ctx, log, conn, summary, err)
	}

	windowStart, windowEnd := conn.Window(started)
	req := provider.FetchRequest{
		Tokens:      conn.Tokens,
		FeedURL:     conn.FeedURL,
		CalendarID:  conn.ExternalCalendarID,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Cursor:      conn.SyncCursor,
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	result, err := adapter.FetchChanges(fetchCtx, req)
	cancel()
	if err != nil {
		return s.fail(ctx, log, conn, summary, fmt.Errorf("fetch changes: %w", err))
	}

	counts, err := s.reconcile(ctx, log, conn, result, windowStart, windowEnd)
	summary.EventsAdded = counts.added
	summary.EventsUpdated = counts.updated
	summary.EventsDeleted = counts.deleted
	if err != nil {
		return s.fail(ctx, log, conn, summary, fmt.Errorf("reconcile events: %w", err))
	}

	conn = conn.RecordSyncSuccess(s.now(), result.NextCursor)
	if _, err := s.connections.Update(ctx, conn); err != nil {
		log.Error("persist connection after sync", slog.Any("err", err))
		summary.Error = fmt.Sprintf("persist connection: %v", err)
		return summary
	}

	summary.Success = true
	log.Info("sync completed",
		slog.Int("added", counts.added),
		slog.Int("updated", counts.updated),
		slog.Int("deleted", counts.deleted),
		slog.Bool("full_sync", result.FullSync),
		slog.Bool("not_modified", result.NotModified),
	)
	return summary
}

func (s *Syncer) refresh(ctx context.Context, conn domain.CalendarConnection) (domain.OAuthTokens, error) {
	oa, err := s.adapters.OAuth(conn.Provider)
	if err != nil {
		return domain.OAuthTokens{}, err
	}
	refreshCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	return oa.RefreshTokens(refreshCtx, *conn.Tokens)
}

// fail records a failed attempt on the connection. conn may already carry
// freshly refreshed tokens, which are persisted along with the failure.
func (s *Syncer) fail(ctx context.Context, log *slog.Logger, conn domain.CalendarConnection, summary domain.SyncSummary, err error) domain.SyncSummary {
	auth := Classify(err)
	summary.Success = false
	summary.Error = err.Error()
	summary.IsAuthError = auth

	updated := conn.RecordSyncFailure(s.now(), err.Error(), auth)
	log.Warn("sync failed",
		slog.Any("err", err),
		slog.Bool("auth_error", auth),
		slog.Int("consecutive_failures", updated.ConsecutiveFailures),
	)
	if _, uerr := s.connections.Update(ctx, updated); uerr != nil {
		log.Error("persist sync failure", slog.Any("err", uerr))
	}
	return summary
}
