// Package connections manages the lifecycle of external calendar
// connections: creation, the OAuth authorization flow, feed validation,
// pausing, disconnecting and manual syncs.
package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
	"familyhub/backend/internal/provider/ics"
	"familyhub/backend/internal/store"
)

var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrNoCalendarsAvailable = errors.New("no calendars available")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type Adapters interface {
	OAuth(kind domain.ProviderKind) (provider.OAuthAdapter, error)
	FeedValidator(kind domain.ProviderKind) (provider.FeedValidator, error)
}

type Syncer interface {
	SyncConnection(ctx context.Context, conn domain.CalendarConnection) domain.SyncSummary
}

type Service struct {
	repo     store.ConnectionStore
	adapters Adapters
	syncer   Syncer
	now      func() time.Time
	log      *slog.Logger
}

func NewService(repo store.ConnectionStore, adapters Adapters, syncer Syncer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		adapters: adapters,
		syncer:   syncer,
		now:      time.Now,
		log:      log.With(slog.String("component", "connections")),
	}
}

type CreateICSInput struct {
	FamilyID       uuid.UUID
	FeedURL        string
	Policy         *domain.SyncPolicy
	IdempotencyKey string
}

// CreateICSConnection subscribes a family to a feed. The connection is due
// immediately. A non-empty idempotency key maps retries of the same request
// onto the same connection id, so a replay fails with store.ErrConflict.
func (s *Service) CreateICSConnection(ctx context.Context, in CreateICSInput) (domain.CalendarConnection, error) {
	if in.FamilyID == uuid.Nil {
		return domain.CalendarConnection{}, validationError("family_id is required")
	}
	feedURL, err := ics.NormalizeURL(in.FeedURL)
	if err != nil {
		return domain.CalendarConnection{}, validationError(err.Error())
	}
	policy, err := normalizePolicy(in.Policy)
	if err != nil {
		return domain.CalendarConnection{}, err
	}

	conn := domain.NewICSConnection(in.FamilyID, feedURL, policy, s.now())
	id, err := connectionID(in.FamilyID, in.IdempotencyKey)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	conn.ID = id

	return s.repo.Create(ctx, conn)
}

type CreateOAuthInput struct {
	FamilyID       uuid.UUID
	Provider       domain.ProviderKind
	Policy         *domain.SyncPolicy
	IdempotencyKey string
}

// CreateOAuthConnection records a pending connection; it becomes active once
// CompleteOAuth binds a calendar to it.
func (s *Service) CreateOAuthConnection(ctx context.Context, in CreateOAuthInput) (domain.CalendarConnection, error) {
	if in.FamilyID == uuid.Nil {
		return domain.CalendarConnection{}, validationError("family_id is required")
	}
	if !in.Provider.RequiresOAuth() {
		return domain.CalendarConnection{}, validationError("provider must be an oauth provider")
	}
	if _, err := s.adapters.OAuth(in.Provider); err != nil {
		return domain.CalendarConnection{}, err
	}
	policy, err := normalizePolicy(in.Policy)
	if err != nil {
		return domain.CalendarConnection{}, err
	}

	conn := domain.NewOAuthConnection(in.FamilyID, in.Provider, policy, s.now())
	id, err := connectionID(in.FamilyID, in.IdempotencyKey)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	conn.ID = id

	return s.repo.Create(ctx, conn)
}

func (s *Service) GetAuthorizationURL(kind domain.ProviderKind, state, redirectURI string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", validationError("state is required")
	}
	if strings.TrimSpace(redirectURI) == "" {
		return "", validationError("redirect_uri is required")
	}
	oa, err := s.adapters.OAuth(kind)
	if err != nil {
		return "", err
	}
	return oa.AuthorizationURL(state, redirectURI), nil
}

type CompleteOAuthInput struct {
	ConnectionID uuid.UUID
	Code         string
	RedirectURI  string
}

// CompleteOAuth exchanges the authorization code and binds the provider's
// primary calendar (or the first one listed). It also re-links connections
// that are in auth_error. Nothing is persisted when no calendar is available.
func (s *Service) CompleteOAuth(ctx context.Context, in CompleteOAuthInput) (domain.CalendarConnection, error) {
	if strings.TrimSpace(in.Code) == "" {
		return domain.CalendarConnection{}, validationError("code is required")
	}
	conn, err := s.get(ctx, in.ConnectionID)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	if !conn.Provider.RequiresOAuth() {
		return domain.CalendarConnection{}, validationError("connection does not use oauth")
	}
	if conn.Status == domain.ConnectionStatusDisconnected {
		return domain.CalendarConnection{}, validationError("connection is disconnected")
	}

	oa, err := s.adapters.OAuth(conn.Provider)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	tokens, err := oa.ExchangeAuthorizationCode(ctx, in.Code, in.RedirectURI)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	calendars, err := oa.ListCalendars(ctx, tokens)
	if err != nil {
		return domain.CalendarConnection{}, fmt.Errorf("list calendars: %w", err)
	}
	cal, ok := pickCalendar(calendars)
	if !ok {
		return domain.CalendarConnection{}, ErrNoCalendarsAvailable
	}

	conn = conn.BindCalendar(tokens, cal.ID, cal.Name, s.now())
	updated, err := s.repo.Update(ctx, conn)
	if err != nil {
		return domain.CalendarConnection{}, s.mapNotFound(err)
	}
	s.log.Info("calendar linked",
		slog.String("connection_id", updated.ID.String()),
		slog.String("provider", string(updated.Provider)),
		slog.String("calendar_id", cal.ID),
	)
	return updated, nil
}

func pickCalendar(calendars []domain.CalendarSummary) (domain.CalendarSummary, bool) {
	for _, c := range calendars {
		if c.Primary {
			return c, true
		}
	}
	if len(calendars) == 0 {
		return domain.CalendarSummary{}, false
	}
	return calendars[0], true
}

// ValidateICSFeed downloads and parses a feed without persisting anything.
// Problems with the feed itself are reported in the result, not as an error.
func (s *Service) ValidateICSFeed(ctx context.Context, feedURL string) (domain.FeedValidation, error) {
	normalized, err := ics.NormalizeURL(feedURL)
	if err != nil {
		return domain.FeedValidation{Error: err.Error()}, nil
	}
	fv, err := s.adapters.FeedValidator(domain.ProviderICS)
	if err != nil {
		return domain.FeedValidation{}, err
	}
	return fv.ValidateFeed(ctx, normalized), nil
}

// SyncNow runs the regular sync path for one connection outside of the
// schedule.
func (s *Service) SyncNow(ctx context.Context, id uuid.UUID) (domain.SyncSummary, error) {
	conn, err := s.get(ctx, id)
	if err != nil {
		return domain.SyncSummary{}, err
	}
	switch conn.Status {
	case domain.ConnectionStatusPendingAuth, domain.ConnectionStatusPaused, domain.ConnectionStatusDisconnected:
		return domain.SyncSummary{}, validationError(fmt.Sprintf("connection cannot sync while %s", conn.Status))
	}
	return s.syncer.SyncConnection(ctx, conn), nil
}

func (s *Service) Pause(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	conn, err := s.get(ctx, id)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	if conn.Status == domain.ConnectionStatusPaused {
		return conn, nil
	}
	if !conn.Status.Schedulable() {
		return domain.CalendarConnection{}, validationError(fmt.Sprintf("connection cannot be paused while %s", conn.Status))
	}
	return s.update(ctx, conn.Pause())
}

func (s *Service) Resume(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	conn, err := s.get(ctx, id)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	if conn.Status != domain.ConnectionStatusPaused {
		return domain.CalendarConnection{}, validationError("connection is not paused")
	}
	return s.update(ctx, conn.Resume(s.now()))
}

// Disconnect is terminal. Imported events stay in place.
func (s *Service) Disconnect(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	conn, err := s.get(ctx, id)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	if conn.Status == domain.ConnectionStatusDisconnected {
		return conn, nil
	}
	updated, err := s.update(ctx, conn.Disconnect())
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	s.log.Info("connection disconnected",
		slog.String("connection_id", updated.ID.String()),
		slog.String("family_id", updated.FamilyID.String()),
	)
	return updated, nil
}

func (s *Service) ListInErrorState(ctx context.Context) ([]domain.CalendarConnection, error) {
	return s.repo.GetInErrorState(ctx)
}

func (s *Service) ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.CalendarConnection, error) {
	if familyID == uuid.Nil {
		return nil, validationError("family_id is required")
	}
	return s.repo.ListByFamily(ctx, familyID)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	if id == uuid.Nil {
		return domain.CalendarConnection{}, validationError("connection_id is required")
	}
	conn, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.CalendarConnection{}, s.mapNotFound(err)
	}
	return conn, nil
}

func (s *Service) update(ctx context.Context, conn domain.CalendarConnection) (domain.CalendarConnection, error) {
	updated, err := s.repo.Update(ctx, conn)
	if err != nil {
		return domain.CalendarConnection{}, s.mapNotFound(err)
	}
	return updated, nil
}

func (s *Service) mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrConnectionNotFound
	}
	return err
}

func normalizePolicy(in *domain.SyncPolicy) (domain.SyncPolicy, error) {
	if in == nil {
		return domain.DefaultSyncPolicy(), nil
	}
	p := *in
	if p.SyncIntervalMinutes < 0 || p.SyncPastDays < 0 || p.SyncFutureDays < 0 {
		return domain.SyncPolicy{}, validationError("sync policy values must not be negative")
	}
	if p.SyncIntervalMinutes == 0 {
		p.SyncIntervalMinutes = domain.DefaultSyncIntervalMinutes
	}
	if p.SyncFutureDays == 0 {
		p.SyncFutureDays = domain.DefaultSyncFutureDays
	}
	return p, nil
}

func connectionID(familyID uuid.UUID, idempotencyKey string) (uuid.UUID, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return uuid.Nil, nil
	}
	if len(key) > 256 {
		return uuid.Nil, validationError("idempotency_key too long")
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("familyhub:create_connection:"+familyID.String()+":"+key)), nil
}
