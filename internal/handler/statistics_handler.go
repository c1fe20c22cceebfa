package handler

import (
	"net/http"
	"time"

	"gatepass/internal/middleware"
	"gatepass/internal/model"
	"gatepass/internal/service"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
	auth              *middleware.Auth
}

func NewStatisticsHandler(statisticsService service.StatisticsService, auth *middleware.Auth) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService, auth: auth}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/api/statistics")
	{
		statsGroup.GET("", h.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin), h.GetStatistics)
	}
}

// @Summary      Get Dashboard Statistics
// @Description  Gatepass counts per status created within the time range
// @Tags         Statistics
// @Accept       json
// @Produce      json
// @Param        start_date query string false "Start Date (YYYY-MM-DD or RFC3339)"
// @Param        end_date   query string false "End Date (YYYY-MM-DD or RFC3339)"
// @Success      200 {object} response.Response{data=model.StatisticsResponse}
// @Failure      400 {object} response.Response "Invalid date format"
// @Failure      401 {object} response.Response "Unauthorized"
// @Failure      500 {object} response.Response "Internal server error"
// @Security     BearerAuth
// @Router       /api/statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	start, err := parseTime(c.Query("start_date"), false)
	if err != nil {
		c.Error(err)
		return
	}
	end, err := parseTime(c.Query("end_date"), true)
	if err != nil {
		c.Error(err)
		return
	}

	// Default to current month if no dates are provided
	now := time.Now()
	startDate := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if start != nil {
		startDate = *start
	}
	endDate := now
	if end != nil {
		endDate = *end
	}

	stats, err := h.statisticsService.GetStatistics(c.Request.Context(), startDate, endDate)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
