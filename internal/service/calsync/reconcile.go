package calsync

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/recurrence"
	"familyhub/backend/internal/store"
)

const untitledEvent = "Untitled event"

type changeCounts struct {
	added   int
	updated int
	deleted int
}

// reconcile applies one fetch result to the stored events of conn's source
// calendar. Events are matched on (family, source calendar, external id), so
// replaying the same result is a no-op.
func (s *Syncer) reconcile(ctx context.Context, log *slog.Logger, conn domain.CalendarConnection, result domain.SyncResult, windowStart, windowEnd time.Time) (changeCounts, error) {
	var counts changeCounts
	if result.NotModified {
		return counts, nil
	}

	calendarID := conn.SourceCalendarID()

	ids := make([]string, 0, len(result.Events)+len(result.DeletedIDs))
	for _, ev := range result.Events {
		ids = append(ids, ev.ExternalID)
	}
	ids = append(ids, result.DeletedIDs...)

	stored := make(map[string]domain.Event, len(ids))
	if len(ids) > 0 {
		existing, err := s.events.ListByExternalIDs(ctx, conn.FamilyID, calendarID, dedupe(ids))
		if err != nil {
			return counts, err
		}
		for _, ev := range existing {
			stored[ev.SourceEventID] = ev
		}
	}

	remove := func(externalID string) error {
		ev, ok := stored[externalID]
		if !ok {
			return nil
		}
		if err := s.events.Delete(ctx, conn.FamilyID, ev.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		delete(stored, externalID)
		counts.deleted++
		return nil
	}

	for _, id := range result.DeletedIDs {
		if err := remove(id); err != nil {
			return counts, err
		}
	}

	seen := make(map[string]struct{}, len(result.Events)+len(result.UnreadableIDs))
	for _, id := range result.UnreadableIDs {
		seen[id] = struct{}{}
	}
	for _, ext := range result.Events {
		seen[ext.ExternalID] = struct{}{}

		if reason := skipReason(conn.SyncPolicy, ext); reason != "" {
			log.Debug("skipping event", slog.String("external_id", ext.ExternalID), slog.String("reason", reason))
			if err := remove(ext.ExternalID); err != nil {
				return counts, err
			}
			continue
		}

		rule := translateRecurrence(log, ext)

		if current, ok := stored[ext.ExternalID]; ok {
			next := current
			applyExternal(&next, ext, rule)
			if !eventChanged(current, next) {
				continue
			}
			updated, err := s.events.Update(ctx, next)
			if err != nil {
				return counts, err
			}
			stored[ext.ExternalID] = updated
			counts.updated++
			continue
		}

		created, err := s.events.Create(ctx, newImportedEvent(conn, calendarID, ext, rule))
		if err != nil {
			return counts, err
		}
		stored[ext.ExternalID] = created
		counts.added++
	}

	if !result.FullSync {
		return counts, nil
	}

	inWindow, err := s.events.ListExternalIDsInWindow(ctx, conn.FamilyID, calendarID, windowStart, windowEnd)
	if err != nil {
		return counts, err
	}
	var stale []string
	for _, id := range inWindow {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return counts, nil
	}

	staleEvents, err := s.events.ListByExternalIDs(ctx, conn.FamilyID, calendarID, stale)
	if err != nil {
		return counts, err
	}
	for _, ev := range staleEvents {
		stored[ev.SourceEventID] = ev
		if err := remove(ev.SourceEventID); err != nil {
			return counts, err
		}
	}
	log.Debug("pruned events missing from full sync", slog.Int("count", len(staleEvents)))
	return counts, nil
}

// skipReason returns why ext must not be present locally, or "" to import it.
func skipReason(policy domain.SyncPolicy, ext domain.ExternalEvent) string {
	switch {
	case ext.IsCancelled:
		return "cancelled"
	case ext.IsDeclined && !policy.ImportDeclined:
		return "declined"
	case ext.IsAllDay && !policy.ImportAllDay:
		return "all_day"
	}
	return ""
}

func translateRecurrence(log *slog.Logger, ext domain.ExternalEvent) domain.Recurrence {
	if strings.TrimSpace(ext.RawRecurrence) == "" {
		return domain.NoRecurrence()
	}
	rule, err := recurrence.Parse(ext.RawRecurrence)
	if err != nil {
		log.Warn("importing event without recurrence",
			slog.String("external_id", ext.ExternalID),
			slog.Any("err", err),
		)
		return domain.NoRecurrence()
	}
	return rule
}

func newImportedEvent(conn domain.CalendarConnection, calendarID string, ext domain.ExternalEvent, rule domain.Recurrence) domain.Event {
	connID := conn.ID
	ev := domain.Event{
		FamilyID:         conn.FamilyID,
		ConnectionID:     &connID,
		SourceProvider:   conn.Provider,
		SourceCalendarID: calendarID,
		SourceEventID:    ext.ExternalID,
		Color:            conn.DefaultColor,
		AssigneeIDs:      slices.Clone(conn.DefaultAssigneeIDs),
	}
	applyExternal(&ev, ext, rule)
	return ev
}

// applyExternal overwrites the provider-owned fields of ev. Local fields
// (assignees, and the color unless the provider sets one) are kept.
func applyExternal(ev *domain.Event, ext domain.ExternalEvent, rule domain.Recurrence) {
	title := strings.TrimSpace(ext.Title)
	if title == "" {
		title = untitledEvent
	}
	ev.Title = title
	ev.Description = ext.Description
	ev.Location = ext.Location
	if ext.IsAllDay {
		ev.SetAllDay(ext.Start, ext.End)
	} else {
		ev.SetTimed(ext.Start, ext.End)
	}
	ev.SetRecurrence(rule)
	ev.Reminders = slices.Clone(ext.Reminders)
	if ext.Color != "" {
		ev.Color = ext.Color
	}
	ev.IsCancelled = false
}

func eventChanged(a, b domain.Event) bool {
	if a.Title != b.Title || a.Description != b.Description || a.Location != b.Location {
		return true
	}
	if a.IsAllDay != b.IsAllDay || a.Color != b.Color || a.IsCancelled != b.IsCancelled {
		return true
	}
	as, ae := a.Bounds()
	bs, be := b.Bounds()
	if !as.Equal(bs) || !ae.Equal(be) {
		return true
	}
	if !a.Recurrence().Equal(b.Recurrence()) {
		return true
	}
	return !slices.Equal(a.Reminders, b.Reminders)
}

func dedupe(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
