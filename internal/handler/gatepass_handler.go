package handler

import (
	"fmt"
	"net/http"
	"time"

	"gatepass/internal/middleware"
	"gatepass/internal/model"
	"gatepass/internal/service"
	"gatepass/pkg/pagination"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
)

type GatepassHandler struct {
	gatepassService service.GatepassService
	auditService    service.AuditService
	auth            *middleware.Auth
}

func NewGatepassHandler(gatepassService service.GatepassService, auditService service.AuditService, auth *middleware.Auth) *GatepassHandler {
	return &GatepassHandler{gatepassService: gatepassService, auditService: auditService, auth: auth}
}

func (h *GatepassHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/gatepasses")
	{
		group.GET("", h.ListGatepasses)
		group.POST("", h.CreateGatepass)
		group.GET("/export.csv", h.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin, model.RoleSecurity), h.ExportCSV)
		group.GET("/:id", h.GetGatepass)
		group.GET("/:id/audit", h.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin), h.GetGatepassAudit)
		group.POST("/:id/transitions", h.Transition)
		group.PUT("/:id/status", h.auth.RequireRole(model.RoleSuperadmin), h.OverrideStatus)
		group.PUT("/:id/items", h.auth.RequireRole(model.RoleSuperadmin), h.UpdateItems)
		group.DELETE("/:id", h.auth.RequireRole(model.RoleSuperadmin), h.DeleteGatepass)
	}
}

// CreateGatepass handles POST /api/gatepasses
// @Summary      Create gatepass
// @Description  Creates a pending gatepass with a per-day sequential number
// @Tags         gatepasses
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateGatepassRequest  true  "Gatepass Payload"
// @Success      201      {object}  response.Response{data=service.GatepassResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/gatepasses [post]
func (h *GatepassHandler) CreateGatepass(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req service.CreateGatepassRequest
	if !bindJSON(c, &req) {
		return
	}

	gp, err := h.gatepassService.CreateGatepass(c.Request.Context(), idc, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gp))
}

// ListGatepasses handles GET /api/gatepasses
// @Summary      List gatepasses
// @Description  Lists gatepasses visible to the caller, newest first
// @Tags         gatepasses
// @Produce      json
// @Security     BearerAuth
// @Param        status      query     string  false  "Status filter"
// @Param        created_by  query     string  false  "Creator user ID"
// @Param        from        query     string  false  "Created from (YYYY-MM-DD or RFC3339)"
// @Param        to          query     string  false  "Created to (YYYY-MM-DD or RFC3339)"
// @Param        q           query     string  false  "Search number, locations, material type"
// @Param        page        query     int     false  "Page number (default 1)"
// @Param        limit       query     int     false  "Number of items per page (default 20)"
// @Success      200         {object}  response.Response{data=response.PagedData{items=[]service.GatepassResponse}}
// @Failure      400         {object}  response.Response
// @Router       /api/gatepasses [get]
func (h *GatepassHandler) ListGatepasses(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	query, ok := gatepassQuery(c)
	if !ok {
		return
	}
	p, err := pagination.Parse(c)
	if err != nil {
		c.Error(err)
		return
	}
	query.Page, query.Limit = p.Page, p.Limit

	gatepasses, total, err := h.gatepassService.ListGatepasses(c.Request.Context(), idc, query)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p.Envelope(gatepasses, total))
}

// ExportCSV handles GET /api/gatepasses/export.csv
// @Summary      Export gatepasses
// @Description  Streams every gatepass matching the filters as CSV
// @Tags         gatepasses
// @Produce      text/csv
// @Security     BearerAuth
// @Param        status  query     string  false  "Status filter"
// @Param        from    query     string  false  "Created from (YYYY-MM-DD or RFC3339)"
// @Param        to      query     string  false  "Created to (YYYY-MM-DD or RFC3339)"
// @Param        q       query     string  false  "Search"
// @Success      200     {file}    file
// @Failure      400     {object}  response.Response
// @Router       /api/gatepasses/export.csv [get]
func (h *GatepassHandler) ExportCSV(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	query, ok := gatepassQuery(c)
	if !ok {
		return
	}

	filename := fmt.Sprintf("gatepasses-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := h.gatepassService.ExportCSV(c.Request.Context(), idc, query, c.Writer); err != nil {
		if !c.Writer.Written() {
			c.Writer.Header().Del("Content-Type")
			c.Writer.Header().Del("Content-Disposition")
		}
		c.Error(err)
		return
	}
	c.Status(http.StatusOK)
}

// GetGatepass handles GET /api/gatepasses/:id
// @Summary      Get gatepass
// @Tags         gatepasses
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Gatepass ID"
// @Success      200  {object}  response.Response{data=service.GatepassResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/gatepasses/{id} [get]
func (h *GatepassHandler) GetGatepass(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	gp, err := h.gatepassService.GetGatepass(c.Request.Context(), idc, id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gp))
}

// GetGatepassAudit handles GET /api/gatepasses/:id/audit
// @Summary      Gatepass audit trail
// @Description  Every audit record about the gatepass, newest first
// @Tags         gatepasses
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Gatepass ID"
// @Success      200  {object}  response.Response{data=[]service.AuditLogResponse}
// @Router       /api/gatepasses/{id}/audit [get]
func (h *GatepassHandler) GetGatepassAudit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	logs, err := h.auditService.ListAuditForGatepass(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, logs))
}

// Transition handles POST /api/gatepasses/:id/transitions
// @Summary      Apply workflow action
// @Description  approve_admin (admin, superadmin), approve_security (security, superadmin) or decline (with reason)
// @Tags         gatepasses
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Gatepass ID"
// @Param        payload  body      service.TransitionRequest  true  "Action Payload"
// @Success      200      {object}  response.Response{data=service.GatepassResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/gatepasses/{id}/transitions [post]
func (h *GatepassHandler) Transition(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.TransitionRequest
	if !bindJSON(c, &req) {
		return
	}

	gp, err := h.gatepassService.Transition(c.Request.Context(), idc, id, req.Action, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gp))
}

// OverrideStatus handles PUT /api/gatepasses/:id/status
// @Summary      Override status
// @Description  Superadmin sets any status directly; approver fields are made consistent with it
// @Tags         gatepasses
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                         true  "Gatepass ID"
// @Param        payload  body      service.OverrideStatusRequest  true  "Status Payload"
// @Success      200      {object}  response.Response{data=service.GatepassResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/gatepasses/{id}/status [put]
func (h *GatepassHandler) OverrideStatus(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.OverrideStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	gp, err := h.gatepassService.OverrideStatus(c.Request.Context(), idc, id, req.Status, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gp))
}

// UpdateItems handles PUT /api/gatepasses/:id/items
// @Summary      Replace items
// @Tags         gatepasses
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                      true  "Gatepass ID"
// @Param        payload  body      service.UpdateItemsRequest  true  "Items Payload"
// @Success      200      {object}  response.Response{data=service.GatepassResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/gatepasses/{id}/items [put]
func (h *GatepassHandler) UpdateItems(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateItemsRequest
	if !bindJSON(c, &req) {
		return
	}

	gp, err := h.gatepassService.UpdateItems(c.Request.Context(), idc, id, req.Items)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gp))
}

// DeleteGatepass handles DELETE /api/gatepasses/:id
// @Summary      Delete gatepass
// @Tags         gatepasses
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Gatepass ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/gatepasses/{id} [delete]
func (h *GatepassHandler) DeleteGatepass(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.gatepassService.DeleteGatepass(c.Request.Context(), idc, id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Gatepass deleted successfully"))
}

func gatepassQuery(c *gin.Context) (service.GatepassQuery, bool) {
	from, to, ok := dateRange(c)
	if !ok {
		return service.GatepassQuery{}, false
	}
	return service.GatepassQuery{
		Status:    c.Query("status"),
		CreatedBy: c.Query("created_by"),
		From:      from,
		To:        to,
		Search:    c.Query("q"),
	}, true
}
