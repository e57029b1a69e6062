package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ProviderKind string

const (
	ProviderGoogle  ProviderKind = "google"
	ProviderOutlook ProviderKind = "outlook"
	ProviderICS     ProviderKind = "ics"
)

func (k ProviderKind) IsValid() bool {
	switch k {
	case ProviderGoogle, ProviderOutlook, ProviderICS:
		return true
	}
	return false
}

// RequiresOAuth reports whether connections of this kind authenticate with
// delegated OAuth tokens rather than a plain feed URL.
func (k ProviderKind) RequiresOAuth() bool {
	return k == ProviderGoogle || k == ProviderOutlook
}

type ConnectionStatus string

const (
	ConnectionStatusPendingAuth  ConnectionStatus = "pending_auth"
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusPaused       ConnectionStatus = "paused"
	ConnectionStatusAuthError    ConnectionStatus = "auth_error"
	ConnectionStatusSyncError    ConnectionStatus = "sync_error"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusPendingAuth,
		ConnectionStatusActive,
		ConnectionStatusPaused,
		ConnectionStatusAuthError,
		ConnectionStatusSyncError,
		ConnectionStatusDisconnected:
		return true
	}
	return false
}

// Schedulable statuses are the ones the scheduler picks up once next_sync_at passes.
func (s ConnectionStatus) Schedulable() bool {
	return s == ConnectionStatusActive || s == ConnectionStatusSyncError
}

type OAuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A zero expiry means the provider did not report one.
func (t OAuthTokens) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !t.Expiry.After(now.Add(margin))
}

const (
	DefaultSyncIntervalMinutes = 15
	DefaultSyncPastDays        = 30
	DefaultSyncFutureDays      = 180
)

type SyncPolicy struct {
	SyncIntervalMinutes int      `bun:"sync_interval_minutes,notnull"`
	SyncPastDays        int      `bun:"sync_past_days,notnull"`
	SyncFutureDays      int      `bun:"sync_future_days,notnull"`
	ImportAllDay        bool     `bun:"import_all_day,notnull"`
	ImportDeclined      bool     `bun:"import_declined,notnull"`
	TwoWay              bool     `bun:"two_way,notnull"`
	DefaultColor        string   `bun:"default_color"`
	DefaultAssigneeIDs  []string `bun:"default_assignee_ids,array"`
}

func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		SyncIntervalMinutes: DefaultSyncIntervalMinutes,
		SyncPastDays:        DefaultSyncPastDays,
		SyncFutureDays:      DefaultSyncFutureDays,
		ImportAllDay:        true,
	}
}

func (p SyncPolicy) Interval() time.Duration {
	if p.SyncIntervalMinutes <= 0 {
		return DefaultSyncIntervalMinutes * time.Minute
	}
	return time.Duration(p.SyncIntervalMinutes) * time.Minute
}

// Window returns the [start, end) range of event times mirrored for this policy.
func (p SyncPolicy) Window(now time.Time) (time.Time, time.Time) {
	past := p.SyncPastDays
	if past < 0 {
		past = 0
	}
	future := p.SyncFutureDays
	if future <= 0 {
		future = DefaultSyncFutureDays
	}
	now = now.UTC()
	return now.AddDate(0, 0, -past), now.AddDate(0, 0, future)
}

type CalendarConnection struct {
	bun.BaseModel `bun:"table:calendar_connections"`

	ID                 uuid.UUID        `bun:"id,pk,type:uuid"`
	FamilyID           uuid.UUID        `bun:"family_id,notnull,type:uuid"`
	Provider           ProviderKind     `bun:"provider,notnull"`
	Status             ConnectionStatus `bun:"status,notnull"`
	Tokens             *OAuthTokens     `bun:"tokens,type:jsonb"`
	FeedURL            string           `bun:"feed_url"`
	ExternalCalendarID string           `bun:"external_calendar_id"`
	DisplayName        string           `bun:"display_name"`
	SyncCursor         string           `bun:"sync_cursor"`

	SyncPolicy

	ConsecutiveFailures int        `bun:"consecutive_failures,notnull"`
	LastError           string     `bun:"last_error"`
	LastSyncedAt        *time.Time `bun:"last_synced_at"`
	NextSyncAt          time.Time  `bun:"next_sync_at,notnull"`
	CreatedAt           time.Time  `bun:"created_at,notnull"`
	UpdatedAt           time.Time  `bun:"updated_at,notnull"`
}

func (c *CalendarConnection) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if c.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			c.ID = id
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		c.UpdatedAt = now
	}
	return nil
}

// NewICSConnection returns a feed subscription that is immediately due for sync.
func NewICSConnection(familyID uuid.UUID, feedURL string, policy SyncPolicy, now time.Time) CalendarConnection {
	return CalendarConnection{
		FamilyID:   familyID,
		Provider:   ProviderICS,
		Status:     ConnectionStatusActive,
		FeedURL:    feedURL,
		SyncPolicy: policy,
		NextSyncAt: now.UTC(),
	}
}

func NewOAuthConnection(familyID uuid.UUID, provider ProviderKind, policy SyncPolicy, now time.Time) CalendarConnection {
	return CalendarConnection{
		FamilyID:   familyID,
		Provider:   provider,
		Status:     ConnectionStatusPendingAuth,
		SyncPolicy: policy,
		NextSyncAt: now.UTC(),
	}
}

// SourceCalendarID is the calendar half of the reconciliation key for events
// imported through this connection.
func (c CalendarConnection) SourceCalendarID() string {
	if c.Provider == ProviderICS {
		return "ics:" + c.ID.String()
	}
	return c.ExternalCalendarID
}

func (c CalendarConnection) IsDue(now time.Time) bool {
	return c.Status.Schedulable() && !c.NextSyncAt.After(now)
}

func (c CalendarConnection) RecordSyncSuccess(now time.Time, cursor string) CalendarConnection {
	now = now.UTC()
	c.Status = ConnectionStatusActive
	c.SyncCursor = cursor
	c.ConsecutiveFailures = 0
	c.LastError = ""
	c.LastSyncedAt = &now
	c.NextSyncAt = now.Add(c.Interval())
	return c
}

// RecordSyncFailure keeps the cursor untouched so the next attempt resumes
// from the last acknowledged point.
func (c CalendarConnection) RecordSyncFailure(now time.Time, msg string, authFailure bool) CalendarConnection {
	now = now.UTC()
	c.ConsecutiveFailures++
	c.LastError = msg
	if authFailure {
		c.Status = ConnectionStatusAuthError
	} else {
		c.Status = ConnectionStatusSyncError
	}
	c.NextSyncAt = now.Add(c.Interval())
	return c
}

func (c CalendarConnection) WithTokens(tokens OAuthTokens) CalendarConnection {
	c.Tokens = &tokens
	return c
}

// BindCalendar completes the OAuth flow. Rebinding to a different calendar
// discards the incremental cursor.
func (c CalendarConnection) BindCalendar(tokens OAuthTokens, calendarID, name string, now time.Time) CalendarConnection {
	if c.ExternalCalendarID != calendarID {
		c.SyncCursor = ""
	}
	c.Tokens = &tokens
	c.ExternalCalendarID = calendarID
	c.DisplayName = name
	c.Status = ConnectionStatusActive
	c.ConsecutiveFailures = 0
	c.LastError = ""
	c.NextSyncAt = now.UTC()
	return c
}

func (c CalendarConnection) Pause() CalendarConnection {
	c.Status = ConnectionStatusPaused
	return c
}

func (c CalendarConnection) Resume(now time.Time) CalendarConnection {
	c.Status = ConnectionStatusActive
	c.NextSyncAt = now.UTC()
	return c
}

func (c CalendarConnection) Disconnect() CalendarConnection {
	c.Status = ConnectionStatusDisconnected
	c.Tokens = nil
	c.SyncCursor = ""
	return c
}

func (c CalendarConnection) Validate() error {
	if c.FamilyID == uuid.Nil {
		return errors.New("family_id is required")
	}
	if !c.Provider.IsValid() {
		return errors.New("unknown provider")
	}
	if !c.Status.IsValid() {
		return errors.New("unknown status")
	}
	if c.LastSyncedAt != nil && c.NextSyncAt.Before(*c.LastSyncedAt) {
		return errors.New("next_sync_at precedes last_synced_at")
	}
	if c.Provider == ProviderICS {
		if c.Tokens != nil {
			return errors.New("ics connections do not carry oauth tokens")
		}
		if c.FeedURL == "" {
			return errors.New("feed_url is required")
		}
		return nil
	}
	switch c.Status {
	case ConnectionStatusPendingAuth, ConnectionStatusDisconnected:
		return nil
	}
	if c.Tokens == nil {
		return errors.New("oauth connection is missing tokens")
	}
	if c.ExternalCalendarID == "" {
		return errors.New("oauth connection is missing external_calendar_id")
	}
	return nil
}

