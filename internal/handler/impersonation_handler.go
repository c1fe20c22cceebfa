package handler

import (
	"net/http"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/middleware"
	"gatepass/internal/service"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ImpersonationHandler struct {
	impersonationService service.ImpersonationService
	signer               *identity.Signer
	auth                 *middleware.Auth
}

func NewImpersonationHandler(impersonationService service.ImpersonationService, signer *identity.Signer, auth *middleware.Auth) *ImpersonationHandler {
	return &ImpersonationHandler{impersonationService: impersonationService, signer: signer, auth: auth}
}

func (h *ImpersonationHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/impersonation")
	{
		// role checks live in the identity transitions: stopping must work
		// while the acting role is the impersonated user's
		group.POST("", h.Start)
		group.DELETE("", h.Stop)
	}
}

// SessionResponse is the re-issued token after an identity switch
type SessionResponse struct {
	Token         string `json:"token"`
	ExpiresIn     int64  `json:"expires_in"`
	ActorID       string `json:"actor_id"`
	ActorRole     string `json:"actor_role"`
	Impersonating bool   `json:"impersonating"`
	TrueActorID   string `json:"true_actor_id"`
}

// Start handles POST /api/impersonation
// @Summary      Start impersonation
// @Description  Superadmin only. Acts as the target user until stopped; every audit record keeps the superadmin as true actor
// @Tags         impersonation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.StartImpersonationRequest  true  "Target user"
// @Success      200      {object}  response.Response{data=SessionResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/impersonation [post]
func (h *ImpersonationHandler) Start(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req service.StartImpersonationRequest
	if !bindJSON(c, &req) {
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		c.Error(ierr.WithError(err).WithHint("Invalid user_id").Mark(ierr.ErrValidation))
		return
	}

	next, err := h.impersonationService.StartImpersonation(c.Request.Context(), idc, target)
	if err != nil {
		c.Error(err)
		return
	}
	h.respondWithSession(c, next)
}

// Stop handles DELETE /api/impersonation
// @Summary      Stop impersonation
// @Description  Restores the superadmin identity
// @Tags         impersonation
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=SessionResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/impersonation [delete]
func (h *ImpersonationHandler) Stop(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}

	restored, err := h.impersonationService.StopImpersonation(c.Request.Context(), idc)
	if err != nil {
		c.Error(err)
		return
	}
	h.respondWithSession(c, restored)
}

func (h *ImpersonationHandler) respondWithSession(c *gin.Context, idc identity.Context) {
	token, err := h.signer.Sign(idc)
	if err != nil {
		c.Error(err)
		return
	}
	h.auth.SetTokenCookie(c, token)

	c.JSON(http.StatusOK, response.Success(http.StatusOK, SessionResponse{
		Token:         token,
		ExpiresIn:     int64(h.signer.TTL().Seconds()),
		ActorID:       idc.Actor.ID.String(),
		ActorRole:     idc.Actor.Role,
		Impersonating: idc.Impersonating(),
		TrueActorID:   idc.TrueActor().ID.String(),
	}))
}
