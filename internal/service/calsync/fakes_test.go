package calsync

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
	"familyhub/backend/internal/store"
)

type fakeAdapter struct {
	kind      domain.ProviderKind
	fetchFn   func(ctx context.Context, req provider.FetchRequest) (domain.SyncResult, error)
	refreshFn func(ctx context.Context, tokens domain.OAuthTokens) (domain.OAuthTokens, error)
}

func (f *fakeAdapter) Kind() domain.ProviderKind { return f.kind }

func (f *fakeAdapter) FetchChanges(ctx context.Context, req provider.FetchRequest) (domain.SyncResult, error) {
	if f.fetchFn == nil {
		panic("FetchChanges not configured")
	}
	return f.fetchFn(ctx, req)
}

func (f *fakeAdapter) AuthorizationURL(state, redirectURI string) string {
	panic("AuthorizationURL not configured")
}

func (f *fakeAdapter) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (domain.OAuthTokens, error) {
	panic("ExchangeAuthorizationCode not configured")
}

func (f *fakeAdapter) RefreshTokens(ctx context.Context, tokens domain.OAuthTokens) (domain.OAuthTokens, error) {
	if f.refreshFn == nil {
		panic("RefreshTokens not configured")
	}
	return f.refreshFn(ctx, tokens)
}

func (f *fakeAdapter) ListCalendars(ctx context.Context, tokens domain.OAuthTokens) ([]domain.CalendarSummary, error) {
	panic("ListCalendars not configured")
}

type fakeConnections struct {
	mu      sync.Mutex
	updates []domain.CalendarConnection
	err     error
}

func (f *fakeConnections) Create(ctx context.Context, conn domain.CalendarConnection) (domain.CalendarConnection, error) {
	panic("Create not configured")
}

func (f *fakeConnections) Get(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	panic("Get not configured")
}

func (f *fakeConnections) Update(ctx context.Context, conn domain.CalendarConnection) (domain.CalendarConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.CalendarConnection{}, f.err
	}
	f.updates = append(f.updates, conn)
	return conn, nil
}

func (f *fakeConnections) GetDueForSync(ctx context.Context, now time.Time, limit int) ([]domain.CalendarConnection, error) {
	panic("GetDueForSync not configured")
}

func (f *fakeConnections) GetInErrorState(ctx context.Context) ([]domain.CalendarConnection, error) {
	panic("GetInErrorState not configured")
}

func (f *fakeConnections) ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.CalendarConnection, error) {
	panic("ListByFamily not configured")
}

func (f *fakeConnections) last() domain.CalendarConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return domain.CalendarConnection{}
	}
	return f.updates[len(f.updates)-1]
}

// memEvents is an in-memory EventStore that enforces the
// (family, source calendar, source event) uniqueness of the events table.
type memEvents struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]domain.Event
	calls    int
	createFn func(ev domain.Event) error
}

func newMemEvents() *memEvents {
	return &memEvents{rows: make(map[uuid.UUID]domain.Event)}
}

func (m *memEvents) ListByExternalIDs(ctx context.Context, familyID uuid.UUID, sourceCalendarID string, externalIDs []string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []domain.Event
	for _, ev := range m.rows {
		if ev.FamilyID == familyID && ev.SourceCalendarID == sourceCalendarID && slices.Contains(externalIDs, ev.SourceEventID) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEvents) ListExternalIDsInWindow(ctx context.Context, familyID uuid.UUID, sourceCalendarID string, windowStart, windowEnd time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []string
	for _, ev := range m.rows {
		if ev.FamilyID != familyID || ev.SourceCalendarID != sourceCalendarID {
			continue
		}
		start, end := ev.Bounds()
		if ev.Recurrence().IsRecurring() || (start.Before(windowEnd) && end.After(windowStart)) {
			out = append(out, ev.SourceEventID)
		}
	}
	return out, nil
}

func (m *memEvents) Create(ctx context.Context, ev domain.Event) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.createFn != nil {
		if err := m.createFn(ev); err != nil {
			return domain.Event{}, err
		}
	}
	for _, existing := range m.rows {
		if existing.FamilyID == ev.FamilyID && existing.SourceCalendarID == ev.SourceCalendarID && existing.SourceEventID == ev.SourceEventID {
			return domain.Event{}, store.ErrConflict
		}
	}
	ev.ID = uuid.New()
	m.rows[ev.ID] = ev
	return ev, nil
}

func (m *memEvents) Update(ctx context.Context, ev domain.Event) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if _, ok := m.rows[ev.ID]; !ok {
		return domain.Event{}, store.ErrNotFound
	}
	m.rows[ev.ID] = ev
	return ev, nil
}

func (m *memEvents) Delete(ctx context.Context, familyID uuid.UUID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	ev, ok := m.rows[id]
	if !ok || ev.FamilyID != familyID {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memEvents) byExternalID(id string) (domain.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.rows {
		if ev.SourceEventID == id {
			return ev, true
		}
	}
	return domain.Event{}, false
}

func (m *memEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
