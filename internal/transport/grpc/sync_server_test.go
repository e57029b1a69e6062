package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
	"familyhub/backend/internal/service/connections"
	"familyhub/backend/internal/service/scheduler"
	"familyhub/backend/internal/store"
)

type fakeConnectionService struct {
	syncNowFn      func(ctx context.Context, id uuid.UUID) (domain.SyncSummary, error)
	authURLFn      func(kind domain.ProviderKind, state, redirectURI string) (string, error)
	completeFn     func(ctx context.Context, in connections.CompleteOAuthInput) (domain.CalendarConnection, error)
	validateFn     func(ctx context.Context, feedURL string) (domain.FeedValidation, error)
	createICSFn    func(ctx context.Context, in connections.CreateICSInput) (domain.CalendarConnection, error)
	createOAuthFn  func(ctx context.Context, in connections.CreateOAuthInput) (domain.CalendarConnection, error)
	pauseFn        func(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error)
	resumeFn       func(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error)
	disconnectFn   func(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error)
	listByFamilyFn func(ctx context.Context, familyID uuid.UUID) ([]domain.CalendarConnection, error)
	listInErrorFn  func(ctx context.Context) ([]domain.CalendarConnection, error)
}

func (f *fakeConnectionService) SyncNow(ctx context.Context, id uuid.UUID) (domain.SyncSummary, error) {
	if f.syncNowFn == nil {
		panic("SyncNow not configured")
	}
	return f.syncNowFn(ctx, id)
}

func (f *fakeConnectionService) GetAuthorizationURL(kind domain.ProviderKind, state, redirectURI string) (string, error) {
	if f.authURLFn == nil {
		panic("GetAuthorizationURL not configured")
	}
	return f.authURLFn(kind, state, redirectURI)
}

func (f *fakeConnectionService) CompleteOAuth(ctx context.Context, in connections.CompleteOAuthInput) (domain.CalendarConnection, error) {
	if f.completeFn == nil {
		panic("CompleteOAuth not configured")
	}
	return f.completeFn(ctx, in)
}

func (f *fakeConnectionService) ValidateICSFeed(ctx context.Context, feedURL string) (domain.FeedValidation, error) {
	if f.validateFn == nil {
		panic("ValidateICSFeed not configured")
	}
	return f.validateFn(ctx, feedURL)
}

func (f *fakeConnectionService) CreateICSConnection(ctx context.Context, in connections.CreateICSInput) (domain.CalendarConnection, error) {
	if f.createICSFn == nil {
		panic("CreateICSConnection not configured")
	}
	return f.createICSFn(ctx, in)
}

func (f *fakeConnectionService) CreateOAuthConnection(ctx context.Context, in connections.CreateOAuthInput) (domain.CalendarConnection, error) {
	if f.createOAuthFn == nil {
		panic("CreateOAuthConnection not configured")
	}
	return f.createOAuthFn(ctx, in)
}

func (f *fakeConnectionService) Pause(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	if f.pauseFn == nil {
		panic("Pause not configured")
	}
	return f.pauseFn(ctx, id)
}

func (f *fakeConnectionService) Resume(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	if f.resumeFn == nil {
		panic("Resume not configured")
	}
	return f.resumeFn(ctx, id)
}

func (f *fakeConnectionService) Disconnect(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	if f.disconnectFn == nil {
		panic("Disconnect not configured")
	}
	return f.disconnectFn(ctx, id)
}

func (f *fakeConnectionService) ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.CalendarConnection, error) {
	if f.listByFamilyFn == nil {
		panic("ListByFamily not configured")
	}
	return f.listByFamilyFn(ctx, familyID)
}

func (f *fakeConnectionService) ListInErrorState(ctx context.Context) ([]domain.CalendarConnection, error) {
	if f.listInErrorFn == nil {
		panic("ListInErrorState not configured")
	}
	return f.listInErrorFn(ctx)
}

type fakeRunner struct {
	runFn func(ctx context.Context, limit int) (scheduler.PassSummary, error)
}

func (f *fakeRunner) RunDueSyncs(ctx context.Context, limit int) (scheduler.PassSummary, error) {
	if f.runFn == nil {
		panic("RunDueSyncs not configured")
	}
	return f.runFn(ctx, limit)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct error: %v", err)
	}
	return s
}

func TestIdempotencyKey_ReadsHeadersAndTrims(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "  abc  "))
	if got := idempotencyKey(ctx); got != "abc" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "abc")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-idempotency-key", "xyz"))
	if got := idempotencyKey(ctx); got != "xyz" {
		t.Fatalf("idempotencyKey = %q, want %q", got, "xyz")
	}
}

func TestSyncConnection_RejectsInvalidUUID(t *testing.T) {
	srv := NewCalendarSyncServer(&fakeConnectionService{}, &fakeRunner{}, testLogger())

	_, err := srv.SyncConnection(context.Background(), mustStruct(t, map[string]any{"connection_id": "nope"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}

func TestSyncConnection_ReturnsSummary(t *testing.T) {
	id := uuid.New()
	srv := NewCalendarSyncServer(&fakeConnectionService{
		syncNowFn: func(ctx context.Context, got uuid.UUID) (domain.SyncSummary, error) {
			if got != id {
				t.Errorf("id = %s, want %s", got, id)
			}
			return domain.SyncSummary{ConnectionID: id, Success: true, EventsAdded: 3, Duration: 1500 * time.Millisecond}, nil
		},
	}, &fakeRunner{}, testLogger())

	resp, err := srv.SyncConnection(context.Background(), mustStruct(t, map[string]any{"connection_id": id.String()}))
	if err != nil {
		t.Fatalf("SyncConnection error: %v", err)
	}
	summary := resp.GetFields()["summary"].GetStructValue()
	if got := summary.GetFields()["events_added"].GetNumberValue(); got != 3 {
		t.Fatalf("events_added = %v, want 3", got)
	}
	if got := summary.GetFields()["duration_ms"].GetNumberValue(); got != 1500 {
		t.Fatalf("duration_ms = %v, want 1500", got)
	}
	if !summary.GetFields()["success"].GetBoolValue() {
		t.Fatalf("success = false, want true")
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", connections.ErrConnectionNotFound, codes.NotFound},
		{"validation", &connections.ValidationError{}, codes.InvalidArgument},
		{"unsupported provider", provider.ErrUnsupportedProvider, codes.InvalidArgument},
		{"no calendars", connections.ErrNoCalendarsAvailable, codes.FailedPrecondition},
		{"conflict", store.ErrConflict, codes.FailedPrecondition},
		{"exchange", &provider.AuthExchangeError{Provider: domain.ProviderGoogle, Err: errors.New("bad code")}, codes.Unauthenticated},
		{"other", errors.New("db down"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewCalendarSyncServer(&fakeConnectionService{
				disconnectFn: func(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
					return domain.CalendarConnection{}, tt.err
				},
			}, &fakeRunner{}, testLogger())

			_, err := srv.DisconnectConnection(context.Background(), mustStruct(t, map[string]any{"connection_id": uuid.NewString()}))
			if status.Code(err) != tt.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tt.want)
			}
		})
	}
}

func TestCreateIcsConnection_PassesPolicyAndIdempotencyKey(t *testing.T) {
	family := uuid.New()
	var got connections.CreateICSInput
	srv := NewCalendarSyncServer(&fakeConnectionService{
		createICSFn: func(ctx context.Context, in connections.CreateICSInput) (domain.CalendarConnection, error) {
			got = in
			conn := domain.NewICSConnection(in.FamilyID, in.FeedURL, *in.Policy, time.Now())
			conn.ID = uuid.New()
			return conn, nil
		},
	}, &fakeRunner{}, testLogger())

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "req-1"))
	resp, err := srv.CreateIcsConnection(ctx, mustStruct(t, map[string]any{
		"family_id": family.String(),
		"feed_url":  "https://school.example.com/term.ics",
		"policy": map[string]any{
			"sync_interval_minutes": 60,
			"import_all_day":        false,
			"default_assignee_ids":  []any{"kid-1", " "},
		},
	}))
	if err != nil {
		t.Fatalf("CreateIcsConnection error: %v", err)
	}
	if got.IdempotencyKey != "req-1" {
		t.Fatalf("idempotency key = %q, want req-1", got.IdempotencyKey)
	}
	if got.Policy == nil || got.Policy.SyncIntervalMinutes != 60 || got.Policy.ImportAllDay {
		t.Fatalf("policy = %+v", got.Policy)
	}
	if got.Policy.SyncFutureDays != domain.DefaultSyncFutureDays {
		t.Fatalf("future days = %d, want default", got.Policy.SyncFutureDays)
	}
	if len(got.Policy.DefaultAssigneeIDs) != 1 || got.Policy.DefaultAssigneeIDs[0] != "kid-1" {
		t.Fatalf("assignees = %v", got.Policy.DefaultAssigneeIDs)
	}
	conn := resp.GetFields()["connection"].GetStructValue()
	if conn.GetFields()["status"].GetStringValue() != string(domain.ConnectionStatusActive) {
		t.Fatalf("status = %v", conn.GetFields()["status"])
	}
	if _, ok := conn.GetFields()["tokens"]; ok {
		t.Fatalf("tokens must not be exposed")
	}
}

func TestRunDueSyncs_OverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterCalendarSyncServiceServer(server, NewCalendarSyncServer(&fakeConnectionService{}, &fakeRunner{
		runFn: func(ctx context.Context, limit int) (scheduler.PassSummary, error) {
			if limit != 25 {
				t.Errorf("limit = %d, want 25", limit)
			}
			return scheduler.PassSummary{
				Due:       2,
				Attempted: 2,
				Succeeded: 1,
				Failed:    1,
				Summaries: []domain.SyncSummary{{Success: true}, {Error: "timeout"}},
			}, nil
		},
	}, testLogger()))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+ServiceName+"/RunDueSyncs", mustStruct(t, map[string]any{"limit": 25}), out)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if got := out.GetFields()["failed"].GetNumberValue(); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
	if got := len(out.GetFields()["summaries"].GetListValue().GetValues()); got != 2 {
		t.Fatalf("summaries = %d, want 2", got)
	}

	err = conn.Invoke(ctx, "/"+ServiceName+"/SyncConnection", mustStruct(t, map[string]any{"connection_id": "bad"}), new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.InvalidArgument)
	}
}
