package repository

import (
	"context"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GatepassFilter narrows List. Zero values mean "no constraint"; a zero Limit returns every row.
type GatepassFilter struct {
	Statuses  []string
	CreatedBy *uuid.UUID
	From      *time.Time
	To        *time.Time
	Search    string
	Page      int
	Limit     int
}

type GatepassRepository interface {
	// AllocateSequence returns the next sequence for day (YYYYMMDD). It must run
	// inside the transaction that inserts the gatepass.
	AllocateSequence(ctx context.Context, prefix, day string) (int, error)
	Create(ctx context.Context, gp *model.Gatepass) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Gatepass, error)
	List(ctx context.Context, filter GatepassFilter) ([]model.Gatepass, int64, error)
	// UpdateStatus persists status and approval metadata only if the stored
	// status still equals expected.
	UpdateStatus(ctx context.Context, gp *model.Gatepass, expected string) error
	ReplaceItems(ctx context.Context, id uuid.UUID, items []model.GatepassItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByCreator(ctx context.Context, userID uuid.UUID) (int64, error)
	// ClearActorReferences nulls every approval pair that points at userID
	ClearActorReferences(ctx context.Context, userID uuid.UUID) (int64, error)
}

type gatepassRepository struct {
	db *gorm.DB
}

func NewGatepassRepository(db *gorm.DB) GatepassRepository {
	return &gatepassRepository{db: db}
}

// The counter row is seeded from the highest number already issued that day,
// so numbers stay increasing even if the counter table was reset.
const allocateSequenceSQL = `
INSERT INTO gatepass_counters (day, last_seq, updated_at)
SELECT ?, COALESCE(MAX(CAST(RIGHT(number, 4) AS INTEGER)), 0) + 1, NOW()
FROM gatepasses
WHERE number LIKE ?
ON CONFLICT (day) DO UPDATE
SET last_seq = gatepass_counters.last_seq + 1, updated_at = NOW()
RETURNING last_seq`

func (r *gatepassRepository) AllocateSequence(ctx context.Context, prefix, day string) (int, error) {
	var seq int
	pattern := prefix + "-" + day + "-%"
	if err := GetDB(ctx, r.db).Raw(allocateSequenceSQL, day, pattern).Scan(&seq).Error; err != nil {
		return 0, translate(err, "gatepass counter")
	}
	return seq, nil
}

func (r *gatepassRepository) Create(ctx context.Context, gp *model.Gatepass) error {
	return translate(GetDB(ctx, r.db).Create(gp).Error, "gatepass")
}

func (r *gatepassRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Gatepass, error) {
	var gp model.Gatepass
	err := GetDB(ctx, r.db).
		Preload("Items").
		Preload("Creator").
		Preload("AdminApprover").
		Preload("SecurityApprover").
		Preload("Decliner").
		First(&gp, "id = ?", id).Error
	if err != nil {
		return nil, ierr.Annotate(translate(err, "gatepass"), map[string]any{"gatepass_id": id})
	}
	return &gp, nil
}

func (r *gatepassRepository) List(ctx context.Context, filter GatepassFilter) ([]model.Gatepass, int64, error) {
	var gatepasses []model.Gatepass
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Gatepass{})
	if len(filter.Statuses) > 0 {
		db = db.Where("status IN ?", filter.Statuses)
	}
	if filter.CreatedBy != nil {
		db = db.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.From != nil {
		db = db.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("created_at <= ?", *filter.To)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		db = db.Where("(number ILIKE ? OR from_location ILIKE ? OR to_location ILIKE ? OR material_type ILIKE ? OR purpose ILIKE ?)",
			like, like, like, like, like)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "gatepass")
	}

	query := db.Preload("Items").Preload("Creator").Order("created_at desc, number desc")
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.Limit).Limit(filter.Limit)
	}
	if err := query.Find(&gatepasses).Error; err != nil {
		return nil, 0, translate(err, "gatepass")
	}

	return gatepasses, total, nil
}

func (r *gatepassRepository) UpdateStatus(ctx context.Context, gp *model.Gatepass, expected string) error {
	result := GetDB(ctx, r.db).Model(&model.Gatepass{}).
		Where("id = ? AND status = ?", gp.ID, expected).
		Updates(map[string]interface{}{
			"status":               gp.Status,
			"admin_approved_by":    gp.AdminApprovedBy,
			"admin_approved_at":    gp.AdminApprovedAt,
			"security_approved_by": gp.SecurityApprovedBy,
			"security_approved_at": gp.SecurityApprovedAt,
			"declined_by":          gp.DeclinedBy,
			"declined_at":          gp.DeclinedAt,
			"decline_reason":       gp.DeclineReason,
			"updated_at":           time.Now(),
		})
	if result.Error != nil {
		return translate(result.Error, "gatepass")
	}
	if result.RowsAffected == 0 {
		return ierr.NewErrorf("gatepass %s is no longer %s", gp.ID, expected).
			WithHintf("Gatepass %s was modified concurrently, reload and retry", gp.Number).
			WithReportableDetails(map[string]any{
				"gatepass_id":     gp.ID,
				"gatepass_number": gp.Number,
				"expected_status": expected,
			}).
			Mark(ierr.ErrConflict)
	}
	return nil
}

func (r *gatepassRepository) ReplaceItems(ctx context.Context, id uuid.UUID, items []model.GatepassItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("gatepass_id = ?", id).Delete(&model.GatepassItem{}).Error; err != nil {
		return translate(err, "gatepass item")
	}
	for i := range items {
		items[i].GatepassID = id
	}
	if err := db.Create(&items).Error; err != nil {
		return translate(err, "gatepass item")
	}
	return translate(db.Model(&model.Gatepass{}).Where("id = ?", id).Update("updated_at", time.Now()).Error, "gatepass")
}

func (r *gatepassRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Gatepass{})
	if result.Error != nil {
		return translate(result.Error, "gatepass")
	}
	if result.RowsAffected == 0 {
		return ierr.Annotate(translate(gorm.ErrRecordNotFound, "gatepass"), map[string]any{"gatepass_id": id})
	}
	return nil
}

func (r *gatepassRepository) DeleteByCreator(ctx context.Context, userID uuid.UUID) (int64, error) {
	result := GetDB(ctx, r.db).Where("created_by = ?", userID).Delete(&model.Gatepass{})
	return result.RowsAffected, translate(result.Error, "gatepass")
}

func (r *gatepassRepository) ClearActorReferences(ctx context.Context, userID uuid.UUID) (int64, error) {
	db := GetDB(ctx, r.db).Model(&model.Gatepass{})
	var cleared int64

	pairs := []struct{ by, at string }{
		{"admin_approved_by", "admin_approved_at"},
		{"security_approved_by", "security_approved_at"},
		{"declined_by", "declined_at"},
	}
	for _, p := range pairs {
		result := db.Session(&gorm.Session{}).
			Where(p.by+" = ?", userID).
			Updates(map[string]interface{}{p.by: nil, p.at: nil})
		if result.Error != nil {
			return cleared, translate(result.Error, "gatepass")
		}
		cleared += result.RowsAffected
	}
	return cleared, nil
}
