package repository

import (
	"context"
	"time"

	"gatepass/internal/model"

	"gorm.io/gorm"
)

type StatisticsRepository interface {
	CountByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) CountByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error) {
	var counts []model.StatusCount
	if err := GetDB(ctx, r.db).Model(&model.Gatepass{}).
		Select("status, COUNT(*) as count").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, translate(err, "statistics")
	}
	return counts, nil
}
