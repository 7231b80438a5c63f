package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averix/go-order-api/internal/model"
)

// AuditRepository writes the append-only audit trail. Activity rows accept
// an optional transaction so a status transition and its audit entry commit
// or roll back together. Neither table has an updated_at column; rows are
// immutable once written.
type AuditRepository interface {
	InsertActivity(ctx context.Context, tx pgx.Tx, entry *model.ActivityLog) error
	InsertAccess(ctx context.Context, entry *model.AccessLog) error
}

type pgAuditRepo struct{ pool *pgxpool.Pool }

func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &pgAuditRepo{pool: pool}
}

func (r *pgAuditRepo) InsertActivity(ctx context.Context, tx pgx.Tx, entry *model.ActivityLog) error {
	entry.ID = uuid.New()
	query := `INSERT INTO activity_logs (id, actor_id, actor_role, action, entity_type, entity_id, details, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING created_at`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query,
			entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Details)
	} else {
		row = r.pool.QueryRow(ctx, query,
			entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Details)
	}
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (r *pgAuditRepo) InsertAccess(ctx context.Context, entry *model.AccessLog) error {
	entry.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO access_logs (id, email, ip, user_agent, success, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING created_at`,
		entry.ID, entry.Email, entry.IP, entry.UserAgent, entry.Success,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}
