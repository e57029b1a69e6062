package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/provider"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var testTokens = &domain.OAuthTokens{AccessToken: "at", TokenType: "Bearer"}

func newTestServer(t *testing.T, h func(srvURL string, w http.ResponseWriter, r *http.Request)) (*Adapter, *httptest.Server) {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Prefer"), `outlook.timezone="UTC"`) {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		h(srv.URL, w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/v1.0"}, srv.Client(), nil), srv
}

func TestFetchChanges_InitialDeltaRound(t *testing.T) {
	windowStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	a, _ := newTestServer(t, func(base string, w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1.0/me/calendars/cal-1/calendarView/delta":
			if r.URL.Query().Get("startDateTime") != windowStart.Format(time.RFC3339) {
				t.Errorf("startDateTime = %q", r.URL.Query().Get("startDateTime"))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"value": []map[string]any{{
					"id":                         "m1",
					"subject":                    "Football",
					"bodyPreview":                "bring boots",
					"location":                   map[string]any{"displayName": "Park"},
					"start":                      map[string]any{"dateTime": "2026-03-07T10:00:00.0000000", "timeZone": "UTC"},
					"end":                        map[string]any{"dateTime": "2026-03-07T11:30:00.0000000", "timeZone": "UTC"},
					"isReminderOn":               true,
					"reminderMinutesBeforeStart": 45,
					"responseStatus":             map[string]any{"response": "declined"},
					"recurrence": map[string]any{
						"pattern": map[string]any{"type": "weekly", "interval": 1, "daysOfWeek": []string{"saturday"}},
						"range":   map[string]any{"type": "numbered", "numberOfOccurrences": 10},
					},
				}},
				"@odata.nextLink": base + "/v1.0/page2",
			})
		case r.URL.Path == "/v1.0/page2":
			writeJSON(w, http.StatusOK, map[string]any{
				"value": []map[string]any{
					{"id": "gone-1", "@removed": map[string]any{"reason": "deleted"}},
					{
						"id":       "a1",
						"subject":  "Half term",
						"isAllDay": true,
						"start":    map[string]any{"dateTime": "2026-02-16T00:00:00.0000000", "timeZone": "UTC"},
						"end":      map[string]any{"dateTime": "2026-02-21T00:00:00.0000000", "timeZone": "UTC"},
					},
				},
				"@odata.deltaLink": base + "/v1.0/delta?token=next",
			})
		default:
			http.NotFound(w, r)
		}
	})

	res, err := a.FetchChanges(context.Background(), provider.FetchRequest{
		Tokens:      testTokens,
		CalendarID:  "cal-1",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	})
	if err != nil {
		t.Fatalf("FetchChanges error: %v", err)
	}
	if !res.FullSync {
		t.Fatalf("FullSync = false, want true for a new delta round")
	}
	if !strings.HasSuffix(res.NextCursor, "/v1.0/delta?token=next") {
		t.Fatalf("NextCursor = %q", res.NextCursor)
	}
	if len(res.DeletedIDs) != 1 || res.DeletedIDs[0] != "gone-1" {
		t.Fatalf("DeletedIDs = %v", res.DeletedIDs)
	}
	if len(res.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(res.Events))
	}

	m1 := res.Events[0]
	if m1.Location != "Park" || m1.Description != "bring boots" {
		t.Fatalf("m1 = %+v", m1)
	}
	if !m1.End.Equal(time.Date(2026, 3, 7, 11, 30, 0, 0, time.UTC)) {
		t.Fatalf("m1 end = %v", m1.End)
	}
	if !m1.IsDeclined {
		t.Fatalf("m1 IsDeclined = false")
	}
	if len(m1.Reminders) != 1 || m1.Reminders[0] != 45 {
		t.Fatalf("m1 reminders = %v", m1.Reminders)
	}
	if m1.RawRecurrence != "RRULE:FREQ=WEEKLY;BYDAY=SA;COUNT=10" {
		t.Fatalf("m1 recurrence = %q", m1.RawRecurrence)
	}

	a1 := res.Events[1]
	if !a1.IsAllDay || !a1.End.Equal(time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("a1 = %+v", a1)
	}
}

func TestFetchChanges_FollowsStoredDeltaLink(t *testing.T) {
	a, srv := newTestServer(t, func(base string, w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1.0/delta" || r.URL.Query().Get("token") != "abc" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"value":            []map[string]any{},
			"@odata.deltaLink": base + "/v1.0/delta?token=xyz",
		})
	})

	res, err := a.FetchChanges(context.Background(), provider.FetchRequest{
		Tokens: testTokens,
		Cursor: srv.URL + "/v1.0/delta?token=abc",
	})
	if err != nil {
		t.Fatalf("FetchChanges error: %v", err)
	}
	if res.FullSync {
		t.Fatalf("FullSync = true, want false")
	}
	if res.NextCursor != srv.URL+"/v1.0/delta?token=xyz" {
		t.Fatalf("NextCursor = %q", res.NextCursor)
	}
}

func TestFetchChanges_ExpiredDeltaRestartsRound(t *testing.T) {
	a, srv := newTestServer(t, func(base string, w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.0/delta":
			writeJSON(w, http.StatusGone, map[string]any{"error": map[string]any{"code": "SyncStateNotFound", "message": "expired"}})
		case "/v1.0/me/calendarView/delta":
			writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{}, "@odata.deltaLink": base + "/v1.0/delta?token=new"})
		default:
			http.NotFound(w, r)
		}
	})

	res, err := a.FetchChanges(context.Background(), provider.FetchRequest{
		Tokens:      testTokens,
		Cursor:      srv.URL + "/v1.0/delta?token=old",
		WindowStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchChanges error: %v", err)
	}
	if !res.FullSync {
		t.Fatalf("FullSync = false, want true")
	}
	if !strings.HasSuffix(res.NextCursor, "token=new") {
		t.Fatalf("NextCursor = %q", res.NextCursor)
	}
}

func TestFetchChanges_Unauthorized(t *testing.T) {
	a, _ := newTestServer(t, func(base string, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": "InvalidAuthenticationToken"}})
	})

	_, err := a.FetchChanges(context.Background(), provider.FetchRequest{Tokens: testTokens})
	var hErr *provider.HTTPStatusError
	if !errors.As(err, &hErr) || !hErr.Unauthorized() {
		t.Fatalf("error = %v, want 401 HTTPStatusError", err)
	}
}

func TestListCalendars(t *testing.T) {
	a, _ := newTestServer(t, func(base string, w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1.0/me/calendars" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"value": []map[string]any{
				{"id": "c1", "name": "Calendar", "isDefaultCalendar": true},
				{"id": "c2", "name": "Birthdays"},
			},
		})
	})

	cals, err := a.ListCalendars(context.Background(), *testTokens)
	if err != nil {
		t.Fatalf("ListCalendars error: %v", err)
	}
	if len(cals) != 2 || !cals[0].Primary || cals[1].Name != "Birthdays" {
		t.Fatalf("cals = %+v", cals)
	}
}

func TestGraphRecurrence_EndDateIsInclusive(t *testing.T) {
	var r graphRecurrence
	r.Pattern.Type = "daily"
	r.Range.Type = "endDate"
	r.Range.EndDate = "2026-03-31"

	got, ok := r.toRecurrence()
	if !ok {
		t.Fatalf("toRecurrence ok = false")
	}
	if want := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC); got.Until == nil || !got.Until.Equal(want) {
		t.Fatalf("Until = %v, want %v", got.Until, want)
	}
}
