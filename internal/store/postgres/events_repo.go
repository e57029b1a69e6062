package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/recurrence"
	"familyhub/backend/internal/store"
)

type EventRepo struct {
	db bun.IDB
}

func NewEventRepo(db bun.IDB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) ListByExternalIDs(ctx context.Context, familyID uuid.UUID, sourceCalendarID string, externalIDs []string) ([]domain.Event, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	var rows []domain.Event
	err := r.db.NewSelect().
		Model(&rows).
		Where("family_id = ?", familyID).
		Where("source_calendar_id = ?", sourceCalendarID).
		Where("source_event_id IN (?)", bun.In(externalIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListExternalIDsInWindow includes recurring series that started before the
// window and have not ended by its start. COUNT-bounded series are
// expanded to find out whether an occurrence reaches the window.
func (r *EventRepo) ListExternalIDsInWindow(ctx context.Context, familyID uuid.UUID, sourceCalendarID string, windowStart, windowEnd time.Time) ([]string, error) {
	ws := windowStart.UTC()
	we := windowEnd.UTC()

	var ids []string
	err := r.db.NewSelect().
		Model((*domain.Event)(nil)).
		Column("source_event_id").
		Where("family_id = ?", familyID).
		Where("source_calendar_id = ?", sourceCalendarID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("NOT is_all_day AND start_time < ? AND end_time > ?", we, ws).
				WhereOr("is_all_day AND start_date < ? AND end_date > ?", domain.DateOf(we).AddDate(0, 0, 1), domain.DateOf(ws)).
				WhereOr("recurrence_pattern <> ? AND recurrence_count IS NULL AND COALESCE(start_time, start_date::timestamptz) < ? AND (recurrence_until IS NULL OR recurrence_until >= ?)",
					domain.RecurrenceNone, we, ws)
		}).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}

	counted, err := r.countedSeriesInWindow(ctx, familyID, sourceCalendarID, ws, we)
	if err != nil {
		return nil, err
	}
	return mergeIDs(ids, counted), nil
}

func (r *EventRepo) countedSeriesInWindow(ctx context.Context, familyID uuid.UUID, sourceCalendarID string, ws, we time.Time) ([]string, error) {
	var series []domain.Event
	err := r.db.NewSelect().
		Model(&series).
		Where("family_id = ?", familyID).
		Where("source_calendar_id = ?", sourceCalendarID).
		Where("recurrence_pattern <> ?", domain.RecurrenceNone).
		Where("recurrence_count IS NOT NULL").
		Where("recurrence_until IS NULL OR recurrence_until >= ?", ws).
		Where("COALESCE(start_time, start_date::timestamptz) < ?", we).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return seriesInWindow(series, ws, we), nil
}

// seriesInWindow keeps the series with at least one occurrence overlapping
// [ws, we). A rule that cannot be expanded is kept.
func seriesInWindow(series []domain.Event, ws, we time.Time) []string {
	var out []string
	for _, ev := range series {
		start, end := ev.Bounds()
		ok, err := recurrence.OccursBetween(ev.Recurrence(), start, end, ws, we)
		if err != nil || ok {
			out = append(out, ev.SourceEventID)
		}
	}
	return out
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (r *EventRepo) Create(ctx context.Context, ev domain.Event) (domain.Event, error) {
	m := ev
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Event{}, store.ErrConflict
		}
		return domain.Event{}, err
	}
	return m, nil
}

func (r *EventRepo) Update(ctx context.Context, ev domain.Event) (domain.Event, error) {
	m := ev
	res, err := r.db.NewUpdate().
		Model(&m).
		ExcludeColumn("created_at").
		WherePK().
		Where("family_id = ?", ev.FamilyID).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Event{}, store.ErrConflict
		}
		return domain.Event{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Event{}, err
	}
	if affected == 0 {
		return domain.Event{}, store.ErrNotFound
	}
	return m, nil
}

func (r *EventRepo) Delete(ctx context.Context, familyID uuid.UUID, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Event)(nil)).
		Where("family_id = ?", familyID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
