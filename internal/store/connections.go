package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"familyhub/backend/internal/domain"
)

// ConnectionStore persists calendar connections. Update writes the full
// record; concurrent writers are last-writer-wins.
type ConnectionStore interface {
	Create(ctx context.Context, conn domain.CalendarConnection) (domain.CalendarConnection, error)
	Get(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error)
	Update(ctx context.Context, conn domain.CalendarConnection) (domain.CalendarConnection, error)

	// GetDueForSync returns active or sync_error connections whose
	// next_sync_at is at or before now, earliest first.
	GetDueForSync(ctx context.Context, now time.Time, limit int) ([]domain.CalendarConnection, error)
	GetInErrorState(ctx context.Context) ([]domain.CalendarConnection, error)
	ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.CalendarConnection, error)
}
