package service

import (
	"context"
	"time"

	"gatepass/internal/model"
	"gatepass/internal/repository"
)

type StatisticsService interface {
	GetStatistics(ctx context.Context, startDate, endDate time.Time) (model.StatisticsResponse, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo}
}

// GetStatistics counts gatepasses created within the range by status. Every
// status is present in the result, zero when nothing matched.
func (s *statisticsService) GetStatistics(ctx context.Context, startDate, endDate time.Time) (model.StatisticsResponse, error) {
	if err := validateRange(&startDate, &endDate); err != nil {
		return model.StatisticsResponse{}, err
	}

	response := model.StatisticsResponse{
		ByStatus:           make(map[string]int64, len(model.GatepassStatuses)),
		TimeRangeStartDate: startDate,
		TimeRangeEndDate:   endDate,
	}
	for _, status := range model.GatepassStatuses {
		response.ByStatus[status] = 0
	}

	counts, err := s.repo.CountByStatus(ctx, startDate, endDate)
	if err != nil {
		return response, err
	}
	for _, c := range counts {
		response.ByStatus[c.Status] = c.Count
		response.Total += c.Count
	}
	return response, nil
}
