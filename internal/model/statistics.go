package model

import "time"

// StatusCount is a single row of the per-status aggregation
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// StatisticsResponse aggregates gatepass counts within a time range
type StatisticsResponse struct {
	Total              int64            `json:"total"`
	ByStatus           map[string]int64 `json:"by_status"`
	TimeRangeStartDate time.Time        `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time        `json:"time_range_end_date"`
}
