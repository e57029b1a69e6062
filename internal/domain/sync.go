package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExternalEvent is the provider-neutral form of an event read from an
// external calendar. For all-day events Start and End are midnight UTC of the
// respective dates and End is exclusive.
type ExternalEvent struct {
	ExternalID    string
	Title         string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	IsAllDay      bool
	IsCancelled   bool
	IsDeclined    bool
	RawRecurrence string
	Color         string
	Reminders     []int32
}

// SyncResult is what an adapter returns for one fetch.
//
// FullSync marks a result that contains every event of the window (a plain
// feed download, or a resync after an expired cursor). NotModified is set when
// a feed answered a conditional request with "not modified". UnreadableIDs
// name events that still exist upstream but could not be mapped; their stored
// copies are left alone.
type SyncResult struct {
	Events        []ExternalEvent
	DeletedIDs    []string
	UnreadableIDs []string
	NextCursor    string
	FullSync      bool
	NotModified   bool
}

type SyncSummary struct {
	ConnectionID  uuid.UUID
	FamilyID      uuid.UUID
	Provider      ProviderKind
	StartedAt     time.Time
	Duration      time.Duration
	EventsAdded   int
	EventsUpdated int
	EventsDeleted int
	Success       bool
	Error         string
	IsAuthError   bool
}

type CalendarSummary struct {
	ID      string
	Name    string
	Primary bool
}

type FeedValidation struct {
	IsValid      bool
	CalendarName string
	EventCount   int
	Error        string
}
