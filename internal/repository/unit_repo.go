package repository

import (
	"context"

	"gatepass/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UnitRepository interface {
	Create(ctx context.Context, unit *model.Unit) error
	Update(ctx context.Context, unit *model.Unit) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Unit, error)
	List(ctx context.Context, activeOnly bool) ([]model.Unit, error)
	FindActiveByCodes(ctx context.Context, codes []string) ([]model.Unit, error)
}

type unitRepository struct {
	db *gorm.DB
}

func NewUnitRepository(db *gorm.DB) UnitRepository {
	return &unitRepository{db: db}
}

func (r *unitRepository) Create(ctx context.Context, unit *model.Unit) error {
	return translate(GetDB(ctx, r.db).Create(unit).Error, "unit")
}

func (r *unitRepository) Update(ctx context.Context, unit *model.Unit) error {
	return translate(GetDB(ctx, r.db).Save(unit).Error, "unit")
}

func (r *unitRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Unit{})
	if result.Error != nil {
		return translate(result.Error, "unit")
	}
	if result.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "unit")
	}
	return nil
}

func (r *unitRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Unit, error) {
	var unit model.Unit
	if err := GetDB(ctx, r.db).First(&unit, "id = ?", id).Error; err != nil {
		return nil, translate(err, "unit")
	}
	return &unit, nil
}

func (r *unitRepository) List(ctx context.Context, activeOnly bool) ([]model.Unit, error) {
	var units []model.Unit
	db := GetDB(ctx, r.db)
	if activeOnly {
		db = db.Where("active = ?", true)
	}
	if err := db.Order("code asc").Find(&units).Error; err != nil {
		return nil, translate(err, "unit")
	}
	return units, nil
}

func (r *unitRepository) FindActiveByCodes(ctx context.Context, codes []string) ([]model.Unit, error) {
	var units []model.Unit
	if len(codes) == 0 {
		return units, nil
	}
	if err := GetDB(ctx, r.db).Where("code IN ? AND active = ?", codes, true).Find(&units).Error; err != nil {
		return nil, translate(err, "unit")
	}
	return units, nil
}
