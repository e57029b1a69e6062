package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"familyhub/backend/internal/domain"
)

type EventStore interface {
	// ListByExternalIDs returns the stored events of one source calendar
	// whose source_event_id is in externalIDs.
	ListByExternalIDs(ctx context.Context, familyID uuid.UUID, sourceCalendarID string, externalIDs []string) ([]domain.Event, error)
	// ListExternalIDsInWindow returns the source_event_id of every stored
	// event of one source calendar that overlaps [windowStart, windowEnd).
	ListExternalIDsInWindow(ctx context.Context, familyID uuid.UUID, sourceCalendarID string, windowStart, windowEnd time.Time) ([]string, error)

	Create(ctx context.Context, ev domain.Event) (domain.Event, error)
	Update(ctx context.Context, ev domain.Event) (domain.Event, error)
	Delete(ctx context.Context, familyID uuid.UUID, id uuid.UUID) error
}
