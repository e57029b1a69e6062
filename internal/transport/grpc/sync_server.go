package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
	"familyhub/backend/internal/service/connections"
	"familyhub/backend/internal/service/scheduler"
	"familyhub/backend/internal/store"
)

type CalendarSyncServer struct {
	svc    connectionService
	runner passRunner
	log    *slog.Logger
}

type connectionService interface {
	SyncNow(ctx context.Context, id uuid.UUID) (domain.SyncSummary, error)
	GetAuthorizationURL(kind domain.ProviderKind, state, redirectURI string) (string, error)
	CompleteOAuth(ctx context.Context, in connections.CompleteOAuthInput) (domain.CalendarConnection, error)
	ValidateICSFeed(ctx context.Context, feedURL string) (domain.FeedValidation, error)
	CreateICSConnection(ctx context.Context, in connections.CreateICSInput) (domain.CalendarConnection, error)
	CreateOAuthConnection(ctx context.Context, in connections.CreateOAuthInput) (domain.CalendarConnection, error)
	Pause(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error)
	Resume(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error)
	Disconnect(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error)
	ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.CalendarConnection, error)
	ListInErrorState(ctx context.Context) ([]domain.CalendarConnection, error)
}

type passRunner interface {
	RunDueSyncs(ctx context.Context, limit int) (scheduler.PassSummary, error)
}

func NewCalendarSyncServer(svc connectionService, runner passRunner, log *slog.Logger) *CalendarSyncServer {
	if log == nil {
		log = slog.Default()
	}
	return &CalendarSyncServer{
		svc:    svc,
		runner: runner,
		log:    log.With(slog.String("component", "grpc.calendar_sync")),
	}
}

func (s *CalendarSyncServer) SyncConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SyncConnection"))

	id, err := uuidField(req, "connection_id")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "connection_id must be a UUID")
	}

	summary, err := s.svc.SyncNow(ctx, id)
	if err != nil {
		return nil, s.statusError(log, "manual sync failed", err, slog.String("connection_id", id.String()))
	}

	log.Info("manual sync finished",
		slog.String("connection_id", id.String()),
		slog.Bool("success", summary.Success),
	)
	return newStruct(map[string]any{"summary": summaryValue(summary)})
}

func (s *CalendarSyncServer) RunDueSyncs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "RunDueSyncs"))

	limit := intField(req, "limit")
	if limit < 0 {
		log.Warn("invalid request", slog.String("reason", "negative_limit"))
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}

	pass, err := s.runner.RunDueSyncs(ctx, limit)
	if err != nil {
		log.Error("sync pass failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	summaries := make([]any, 0, len(pass.Summaries))
	for _, sum := range pass.Summaries {
		summaries = append(summaries, summaryValue(sum))
	}
	return newStruct(map[string]any{
		"due":       pass.Due,
		"attempted": pass.Attempted,
		"succeeded": pass.Succeeded,
		"failed":    pass.Failed,
		"skipped":   pass.Skipped,
		"summaries": summaries,
	})
}

func (s *CalendarSyncServer) GetAuthorizationUrl(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetAuthorizationUrl"))

	kind := domain.ProviderKind(stringField(req, "provider"))
	url, err := s.svc.GetAuthorizationURL(kind, stringField(req, "state"), stringField(req, "redirect_uri"))
	if err != nil {
		return nil, s.statusError(log, "authorization url failed", err, slog.String("provider", string(kind)))
	}
	return newStruct(map[string]any{"url": url})
}

func (s *CalendarSyncServer) CompleteOAuth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CompleteOAuth"))

	id, err := uuidField(req, "connection_id")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "connection_id must be a UUID")
	}

	conn, err := s.svc.CompleteOAuth(ctx, connections.CompleteOAuthInput{
		ConnectionID: id,
		Code:         stringField(req, "code"),
		RedirectURI:  stringField(req, "redirect_uri"),
	})
	if err != nil {
		return nil, s.statusError(log, "oauth completion failed", err, slog.String("connection_id", id.String()))
	}

	log.Info("oauth completed", slog.String("connection_id", conn.ID.String()), slog.String("provider", string(conn.Provider)))
	return newStruct(map[string]any{"connection": connectionValue(conn)})
}

func (s *CalendarSyncServer) ValidateIcsFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ValidateIcsFeed"))

	v, err := s.svc.ValidateICSFeed(ctx, stringField(req, "feed_url"))
	if err != nil {
		return nil, s.statusError(log, "feed validation failed", err)
	}

	log.Debug("feed validated", slog.Bool("valid", v.IsValid), slog.Int("event_count", v.EventCount))
	return newStruct(map[string]any{
		"is_valid":      v.IsValid,
		"calendar_name": v.CalendarName,
		"event_count":   v.EventCount,
		"error":         v.Error,
	})
}

func (s *CalendarSyncServer) CreateIcsConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateIcsConnection"))

	familyID, err := uuidField(req, "family_id")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "family_id must be a UUID")
	}

	conn, err := s.svc.CreateICSConnection(ctx, connections.CreateICSInput{
		FamilyID:       familyID,
		FeedURL:        stringField(req, "feed_url"),
		Policy:         policyField(req, "policy"),
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.statusError(log, "ics connection create failed", err, slog.String("family_id", familyID.String()))
	}

	log.Info("ics connection created", slog.String("connection_id", conn.ID.String()), slog.String("family_id", familyID.String()))
	return newStruct(map[string]any{"connection": connectionValue(conn)})
}

func (s *CalendarSyncServer) CreateOAuthConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateOAuthConnection"))

	familyID, err := uuidField(req, "family_id")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "family_id must be a UUID")
	}

	conn, err := s.svc.CreateOAuthConnection(ctx, connections.CreateOAuthInput{
		FamilyID:       familyID,
		Provider:       domain.ProviderKind(stringField(req, "provider")),
		Policy:         policyField(req, "policy"),
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.statusError(log, "oauth connection create failed", err, slog.String("family_id", familyID.String()))
	}

	log.Info("oauth connection created", slog.String("connection_id", conn.ID.String()), slog.String("provider", string(conn.Provider)))
	return newStruct(map[string]any{"connection": connectionValue(conn)})
}

func (s *CalendarSyncServer) PauseConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, req, "PauseConnection", s.svc.Pause)
}

func (s *CalendarSyncServer) ResumeConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, req, "ResumeConnection", s.svc.Resume)
}

func (s *CalendarSyncServer) DisconnectConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.transition(ctx, req, "DisconnectConnection", s.svc.Disconnect)
}

func (s *CalendarSyncServer) transition(ctx context.Context, req *structpb.Struct, rpc string, apply func(context.Context, uuid.UUID) (domain.CalendarConnection, error)) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", rpc))

	id, err := uuidField(req, "connection_id")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "connection_id must be a UUID")
	}

	conn, err := apply(ctx, id)
	if err != nil {
		return nil, s.statusError(log, "connection update failed", err, slog.String("connection_id", id.String()))
	}

	log.Info("connection updated", slog.String("connection_id", conn.ID.String()), slog.String("status", string(conn.Status)))
	return newStruct(map[string]any{"connection": connectionValue(conn)})
}

func (s *CalendarSyncServer) ListConnections(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListConnections"))

	familyID, err := uuidField(req, "family_id")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "family_id must be a UUID")
	}

	conns, err := s.svc.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, s.statusError(log, "connections list failed", err, slog.String("family_id", familyID.String()))
	}
	return connectionList(conns)
}

func (s *CalendarSyncServer) ListConnectionsInError(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListConnectionsInError"))

	conns, err := s.svc.ListInErrorState(ctx)
	if err != nil {
		return nil, s.statusError(log, "connections list failed", err)
	}
	log.Debug("connections in error listed", slog.Int("count", len(conns)))
	return connectionList(conns)
}

// statusError maps service errors to gRPC status codes. Unexpected errors are
// logged and hidden behind codes.Internal.
func (s *CalendarSyncServer) statusError(log *slog.Logger, msg string, err error, attrs ...any) error {
	args := append([]any{slog.Any("err", err)}, attrs...)

	var vErr *connections.ValidationError
	var exErr *provider.AuthExchangeError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, provider.ErrUnsupportedProvider):
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, "provider is not supported")
	case errors.Is(err, connections.ErrConnectionNotFound):
		log.Info("connection not found", attrs...)
		return status.Error(codes.NotFound, "connection not found")
	case errors.Is(err, connections.ErrNoCalendarsAvailable):
		log.Info("no calendars available", attrs...)
		return status.Error(codes.FailedPrecondition, "The account has no calendars to connect.")
	case errors.Is(err, store.ErrConflict):
		log.Info("connection conflict", attrs...)
		return status.Error(codes.FailedPrecondition, "This request was already used to create a connection.")
	case errors.As(err, &exErr):
		log.Warn("authorization rejected", args...)
		return status.Error(codes.Unauthenticated, "authorization with the provider failed")
	}
	log.Error(msg, args...)
	return status.Error(codes.Internal, "internal error")
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func connectionList(conns []domain.CalendarConnection) (*structpb.Struct, error) {
	out := make([]any, 0, len(conns))
	for _, c := range conns {
		out = append(out, connectionValue(c))
	}
	return newStruct(map[string]any{"connections": out})
}

// connectionValue never includes tokens.
func connectionValue(c domain.CalendarConnection) map[string]any {
	assignees := make([]any, 0, len(c.DefaultAssigneeIDs))
	for _, a := range c.DefaultAssigneeIDs {
		assignees = append(assignees, a)
	}
	return map[string]any{
		"id":                   c.ID.String(),
		"family_id":            c.FamilyID.String(),
		"provider":             string(c.Provider),
		"status":               string(c.Status),
		"feed_url":             c.FeedURL,
		"external_calendar_id": c.ExternalCalendarID,
		"display_name":         c.DisplayName,
		"consecutive_failures": c.ConsecutiveFailures,
		"last_error":           c.LastError,
		"last_synced_at":       formatTimePtr(c.LastSyncedAt),
		"next_sync_at":         formatTime(c.NextSyncAt),
		"created_at":           formatTime(c.CreatedAt),
		"updated_at":           formatTime(c.UpdatedAt),
		"policy": map[string]any{
			"sync_interval_minutes": c.SyncIntervalMinutes,
			"sync_past_days":        c.SyncPastDays,
			"sync_future_days":      c.SyncFutureDays,
			"import_all_day":        c.ImportAllDay,
			"import_declined":       c.ImportDeclined,
			"two_way":               c.TwoWay,
			"default_color":         c.DefaultColor,
			"default_assignee_ids":  assignees,
		},
	}
}

func summaryValue(sum domain.SyncSummary) map[string]any {
	return map[string]any{
		"connection_id":  sum.ConnectionID.String(),
		"family_id":      sum.FamilyID.String(),
		"provider":       string(sum.Provider),
		"started_at":     formatTime(sum.StartedAt),
		"duration_ms":    sum.Duration.Milliseconds(),
		"events_added":   sum.EventsAdded,
		"events_updated": sum.EventsUpdated,
		"events_deleted": sum.EventsDeleted,
		"success":        sum.Success,
		"error":          sum.Error,
		"is_auth_error":  sum.IsAuthError,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func stringField(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func intField(s *structpb.Struct, key string) int {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0
	}
	return int(v.GetNumberValue())
}

func uuidField(s *structpb.Struct, key string) (uuid.UUID, error) {
	return uuid.Parse(stringField(s, key))
}

// policyField returns nil when the request carries no policy, letting the
// service apply defaults.
func policyField(s *structpb.Struct, key string) *domain.SyncPolicy {
	v, ok := s.GetFields()[key]
	if !ok || v.GetStructValue() == nil {
		return nil
	}
	ps := v.GetStructValue()
	p := domain.DefaultSyncPolicy()
	if _, ok := ps.GetFields()["sync_interval_minutes"]; ok {
		p.SyncIntervalMinutes = intField(ps, "sync_interval_minutes")
	}
	if _, ok := ps.GetFields()["sync_past_days"]; ok {
		p.SyncPastDays = intField(ps, "sync_past_days")
	}
	if _, ok := ps.GetFields()["sync_future_days"]; ok {
		p.SyncFutureDays = intField(ps, "sync_future_days")
	}
	if b, ok := ps.GetFields()["import_all_day"]; ok {
		p.ImportAllDay = b.GetBoolValue()
	}
	if b, ok := ps.GetFields()["import_declined"]; ok {
		p.ImportDeclined = b.GetBoolValue()
	}
	if b, ok := ps.GetFields()["two_way"]; ok {
		p.TwoWay = b.GetBoolValue()
	}
	p.DefaultColor = stringField(ps, "default_color")
	for _, a := range ps.GetFields()["default_assignee_ids"].GetListValue().GetValues() {
		if id := strings.TrimSpace(a.GetStringValue()); id != "" {
			p.DefaultAssigneeIDs = append(p.DefaultAssigneeIDs, id)
		}
	}
	return &p
}
