package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/store"
)

type ConnectionRepo struct {
	db bun.IDB
}

func NewConnectionRepo(db bun.IDB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

func (r *ConnectionRepo) Create(ctx context.Context, conn domain.CalendarConnection) (domain.CalendarConnection, error) {
	if err := conn.Validate(); err != nil {
		return domain.CalendarConnection{}, fmt.Errorf("create connection: %w", err)
	}
	m := conn
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.CalendarConnection{}, store.ErrConflict
		}
		return domain.CalendarConnection{}, err
	}
	return m, nil
}

func (r *ConnectionRepo) Get(ctx context.Context, id uuid.UUID) (domain.CalendarConnection, error) {
	var c domain.CalendarConnection
	err := r.db.NewSelect().
		Model(&c).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.CalendarConnection{}, mapNotFound(err)
	}
	return c, nil
}

func (r *ConnectionRepo) Update(ctx context.Context, conn domain.CalendarConnection) (domain.CalendarConnection, error) {
	m := conn
	res, err := r.db.NewUpdate().
		Model(&m).
		ExcludeColumn("created_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	if affected == 0 {
		return domain.CalendarConnection{}, store.ErrNotFound
	}
	return m, nil
}

func (r *ConnectionRepo) GetDueForSync(ctx context.Context, now time.Time, limit int) ([]domain.CalendarConnection, error) {
	var rows []domain.CalendarConnection
	q := r.db.NewSelect().
		Model(&rows).
		Where("status IN (?)", bun.In([]domain.ConnectionStatus{
			domain.ConnectionStatusActive,
			domain.ConnectionStatusSyncError,
		})).
		Where("next_sync_at <= ?", now.UTC()).
		OrderExpr("next_sync_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ConnectionRepo) GetInErrorState(ctx context.Context) ([]domain.CalendarConnection, error) {
	var rows []domain.CalendarConnection
	err := r.db.NewSelect().
		Model(&rows).
		Where("status IN (?)", bun.In([]domain.ConnectionStatus{
			domain.ConnectionStatusAuthError,
			domain.ConnectionStatusSyncError,
		})).
		OrderExpr("updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ConnectionRepo) ListByFamily(ctx context.Context, familyID uuid.UUID) ([]domain.CalendarConnection, error) {
	var rows []domain.CalendarConnection
	err := r.db.NewSelect().
		Model(&rows).
		Where("family_id = ?", familyID).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
