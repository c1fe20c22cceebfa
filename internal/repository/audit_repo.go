package repository

import (
	"context"
	"time"

	"gatepass/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditFilter narrows audit queries. ActorID matches either the apparent or the true actor.
type AuditFilter struct {
	ActorID  *uuid.UUID
	EntityID string
	Action   string
	From     *time.Time
	To       *time.Time
	Search   string
	Page     int
	Limit    int
}

// AuditRepository is append-only apart from the user-delete cascade
type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, filter AuditFilter) ([]model.AuditLog, int64, error)
	// DeleteByActor removes the records userID authenticated as, i.e. whose
	// true actor is userID
	DeleteByActor(ctx context.Context, userID uuid.UUID) (int64, error)
	// DetachActor keeps records another principal wrote while acting as userID,
	// drops the apparent actor reference and stores the username in details
	DetachActor(ctx context.Context, userID uuid.UUID, username string) (int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *model.AuditLog) error {
	if entry.Details == "" {
		entry.Details = "{}"
	}
	return translate(GetDB(ctx, r.db).Create(entry).Error, "audit record")
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	db := GetDB(ctx, r.db).Model(&model.AuditLog{})
	if filter.ActorID != nil {
		db = db.Where("(actor_id = ? OR true_actor_id = ?)", *filter.ActorID, *filter.ActorID)
	}
	if filter.EntityID != "" {
		db = db.Where("entity_id = ?", filter.EntityID)
	}
	if filter.Action != "" {
		db = db.Where("action = ?", filter.Action)
	}
	if filter.From != nil {
		db = db.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("created_at <= ?", *filter.To)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		db = db.Where("(action ILIKE ? OR entity_name ILIKE ? OR entity_id ILIKE ? OR CAST(details AS TEXT) ILIKE ?)",
			like, like, like, like)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "audit record")
	}

	query := db.Preload("Actor").Preload("TrueActor").Order("created_at desc")
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.Limit).Limit(filter.Limit)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, translate(err, "audit record")
	}

	return logs, total, nil
}

func (r *auditRepository) DeleteByActor(ctx context.Context, userID uuid.UUID) (int64, error) {
	result := GetDB(ctx, r.db).
		Where("true_actor_id = ?", userID).
		Delete(&model.AuditLog{})
	return result.RowsAffected, translate(result.Error, "audit record")
}

func (r *auditRepository) DetachActor(ctx context.Context, userID uuid.UUID, username string) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.AuditLog{}).
		Where("actor_id = ?", userID).
		Updates(map[string]interface{}{
			"actor_id": nil,
			"details": gorm.Expr("details || jsonb_build_object(?::text, ?::text, ?::text, ?::text)",
				model.DetailDeletedActorID, userID.String(), model.DetailDeletedActor, username),
		})
	return result.RowsAffected, translate(result.Error, "audit record")
}
