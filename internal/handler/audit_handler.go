package handler

import (
	"net/http"

	"gatepass/internal/middleware"
	"gatepass/internal/model"
	"gatepass/internal/service"
	"gatepass/pkg/pagination"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         *middleware.Auth
}

func NewAuditHandler(auditService service.AuditService, auth *middleware.Auth) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(h.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin)) // Protect history logs
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves paginated audit records, newest first
// @Summary      Get audit logs
// @Description  Lists audit records with acting and true actor resolved
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        actor_id   query     string  false  "Acting or true actor"
// @Param        entity_id  query     string  false  "Entity ID"
// @Param        action     query     string  false  "Action, e.g. GATEPASS_APPROVED_ADMIN"
// @Param        from       query     string  false  "From (YYYY-MM-DD or RFC3339)"
// @Param        to         query     string  false  "To (YYYY-MM-DD or RFC3339)"
// @Param        q          query     string  false  "Free text over action, entity and details"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Number of items per page (default 20)"
// @Success      200        {object}  response.Response{data=response.PagedData{items=[]service.AuditLogResponse}}
// @Failure      400        {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p, err := pagination.Parse(c)
	if err != nil {
		c.Error(err)
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), service.AuditQuery{
		ActorID:  c.Query("actor_id"),
		EntityID: c.Query("entity_id"),
		Action:   c.Query("action"),
		From:     from,
		To:       to,
		Search:   c.Query("q"),
		Page:     p.Page,
		Limit:    p.Limit,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p.Envelope(logs, total))
}
