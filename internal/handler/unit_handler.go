package handler

import (
	"net/http"

	"gatepass/internal/middleware"
	"gatepass/internal/model"
	"gatepass/internal/service"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
)

type UnitHandler struct {
	unitService service.UnitService
	auth        *middleware.Auth
}

func NewUnitHandler(unitService service.UnitService, auth *middleware.Auth) *UnitHandler {
	return &UnitHandler{unitService: unitService, auth: auth}
}

func (h *UnitHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/units")
	{
		group.GET("", h.ListUnits)
		group.POST("", h.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin), h.CreateUnit)
		group.PUT("/:id", h.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin), h.UpdateUnit)
		group.DELETE("/:id", h.auth.RequireRole(model.RoleSuperadmin), h.DeleteUnit)
	}
}

// ListUnits handles GET /api/units
// @Summary      List units
// @Tags         units
// @Produce      json
// @Security     BearerAuth
// @Param        active  query     bool  false  "Only active units"
// @Success      200     {object}  response.Response{data=[]model.Unit}
// @Router       /api/units [get]
func (h *UnitHandler) ListUnits(c *gin.Context) {
	units, err := h.unitService.ListUnits(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, units))
}

// CreateUnit handles POST /api/units
// @Summary      Create unit
// @Tags         units
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateUnitRequest  true  "Unit Payload"
// @Success      201      {object}  response.Response{data=model.Unit}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/units [post]
func (h *UnitHandler) CreateUnit(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req service.CreateUnitRequest
	if !bindJSON(c, &req) {
		return
	}

	unit, err := h.unitService.CreateUnit(c.Request.Context(), idc, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, unit))
}

// UpdateUnit handles PUT /api/units/:id
// @Summary      Update unit
// @Tags         units
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Unit ID"
// @Param        payload  body      service.UpdateUnitRequest  true  "Unit Payload"
// @Success      200      {object}  response.Response{data=model.Unit}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/units/{id} [put]
func (h *UnitHandler) UpdateUnit(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateUnitRequest
	if !bindJSON(c, &req) {
		return
	}

	unit, err := h.unitService.UpdateUnit(c.Request.Context(), idc, id, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, unit))
}

// DeleteUnit handles DELETE /api/units/:id
// @Summary      Delete unit
// @Tags         units
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Unit ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/units/{id} [delete]
func (h *UnitHandler) DeleteUnit(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.unitService.DeleteUnit(c.Request.Context(), idc, id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Unit deleted successfully"))
}
