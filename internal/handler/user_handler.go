package handler

import (
	"net/http"

	"gatepass/internal/middleware"
	"gatepass/internal/model"
	"gatepass/internal/service"
	"gatepass/pkg/pagination"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService  service.UserService
	auditService service.AuditService
	auth         *middleware.Auth
}

// NewUserHandler sets up the routing dependencies for User endpoints
func NewUserHandler(userService service.UserService, auditService service.AuditService, auth *middleware.Auth) *UserHandler {
	return &UserHandler{userService: userService, auditService: auditService, auth: auth}
}

// RegisterPublicRoutes binds the unauthenticated endpoints
func (h *UserHandler) RegisterPublicRoutes(router *gin.RouterGroup, limiter *middleware.RateLimiter) {
	router.POST("/login", limiter.Limit(), h.Login)
	router.POST("/register", limiter.Limit(), h.Register)
	router.POST("/logout", h.Logout)
}

// RegisterRoutes binds the endpoints to an authenticated RouterGroup
func (h *UserHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/me", h.GetMe)

	users := router.Group("/api/users")
	users.Use(h.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin))
	{
		users.GET("", h.ListUsers)
		users.GET("/:id", h.GetUserByID)
		users.GET("/:id/audit", h.GetUserAudit)
		users.POST("", h.CreateUser)
		users.PUT("/:id", h.UpdateUser)
		users.PUT("/:id/status", h.SetUserStatus)
		users.DELETE("/:id", h.auth.RequireRole(model.RoleSuperadmin), h.DeleteUser)
	}
}

// MeResponse is the current session: the acting user and, while
// impersonating, the superadmin behind it
type MeResponse struct {
	*service.UserResponse
	Impersonating bool    `json:"impersonating"`
	TrueActorID   *string `json:"true_actor_id,omitempty"`
	TrueActorName string  `json:"true_actor_username,omitempty"`
}

// Register handles POST /register
// @Summary      Register
// @Description  Creates a pending account that an admin must activate before it can log in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RegisterRequest  true  "Registration Payload"
// @Success      201      {object}  response.Response{data=service.UserResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /register [post]
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, user))
}

// CreateUser handles POST /api/users requests mapping
// @Summary      Create a new user
// @Description  Creates a new user validating constraints and hashing password
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateUserRequest  true  "Create User Payload"
// @Success      201      {object}  response.Response{data=service.UserResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/users [post]
func (h *UserHandler) CreateUser(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req service.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.CreateUser(c.Request.Context(), idc, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, user))
}

// Login handles POST /login to authenticate and return a JWT token
// @Summary      Login user
// @Description  Authenticates a user by email and password, returning a JWT token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.LoginUserRequest   true  "Login Credentials"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      400      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Failure      429      {object}  response.Response
// @Router       /login [post]
func (h *UserHandler) Login(c *gin.Context) {
	var req service.LoginUserRequest
	if !bindJSON(c, &req) {
		return
	}

	tokenRes, err := h.userService.Login(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	h.auth.SetTokenCookie(c, tokenRes.Token)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tokenRes))
}

// GetMe handles GET /me to return current authenticated user based on JWT
// @Summary      Get current user
// @Description  Get the acting user and the impersonation state of the session
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200      {object}  response.Response{data=MeResponse}
// @Failure      401      {object}  response.Response
// @Router       /me [get]
func (h *UserHandler) GetMe(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}

	user, err := h.userService.GetUserByID(c.Request.Context(), idc.Actor.ID)
	if err != nil {
		c.Error(err)
		return
	}

	me := MeResponse{UserResponse: user, Impersonating: idc.Impersonating()}
	if idc.Impersonating() {
		trueID := idc.TrueActor().ID.String()
		me.TrueActorID = &trueID
		me.TrueActorName = idc.TrueActor().Username
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, me))
}

// Logout handles POST /logout to clear auth cookies
// @Summary      Logout
// @Tags         auth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /logout [post]
func (h *UserHandler) Logout(c *gin.Context) {
	h.auth.ClearTokenCookie(c)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Logged out"))
}

// ListUsers handles GET /api/users and extracts pagination controls
// @Summary      List users
// @Description  Retrieves a paginated list of users
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        role    query     string  false  "Role filter"
// @Param        status  query     string  false  "Status filter"
// @Param        q       query     string  false  "Search username or email"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=response.PagedData{items=[]service.UserResponse}}
// @Failure      500     {object}  response.Response
// @Router       /api/users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	p, err := pagination.Parse(c)
	if err != nil {
		c.Error(err)
		return
	}

	users, total, err := h.userService.ListUsers(c.Request.Context(), service.UserQuery{
		Role:   c.Query("role"),
		Status: c.Query("status"),
		Search: c.Query("q"),
		Page:   p.Page,
		Limit:  p.Limit,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p.Envelope(users, total))
}

// GetUserByID handles target fetch resolution via GET /api/users/:id
// @Summary      Get user by ID
// @Description  Fetch a single user's detail by their UUID
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/users/{id} [get]
func (h *UserHandler) GetUserByID(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	user, err := h.userService.GetUserByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

// GetUserAudit handles GET /api/users/:id/audit
// @Summary      User audit trail
// @Description  Audit records where the user is the acting or the true actor, newest first
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string  true   "User ID"
// @Param        from  query     string  false  "From (YYYY-MM-DD or RFC3339)"
// @Param        to    query     string  false  "To (YYYY-MM-DD or RFC3339)"
// @Success      200   {object}  response.Response{data=[]service.AuditLogResponse}
// @Failure      400   {object}  response.Response
// @Router       /api/users/{id}/audit [get]
func (h *UserHandler) GetUserAudit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}

	logs, err := h.auditService.ListAuditForUser(c.Request.Context(), id, from, to)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, logs))
}

// UpdateUser handles target mutative changes via PUT /api/users/:id
// @Summary      Update user
// @Description  Updates a user's details; a new password is re-hashed
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "User ID"
// @Param        payload  body      service.UpdateUserRequest  true  "Update User Payload"
// @Success      200      {object}  response.Response{data=service.UserResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/users/{id} [put]
func (h *UserHandler) UpdateUser(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.UpdateUser(c.Request.Context(), idc, id, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

// SetUserStatus handles PUT /api/users/:id/status
// @Summary      Set user status
// @Description  Activates, deactivates or parks an account as pending
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                        true  "User ID"
// @Param        payload  body      service.SetUserStatusRequest  true  "Status Payload"
// @Success      200      {object}  response.Response{data=service.UserResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/users/{id}/status [put]
func (h *UserHandler) SetUserStatus(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.SetUserStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.SetStatus(c.Request.Context(), idc, id, req.Status)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}

// DeleteUser handles DELETE /api/users/:id
// @Summary      Delete user
// @Description  Deletes a user together with their gatepasses and audit records; approver references on other gatepasses are cleared
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /api/users/{id} [delete]
func (h *UserHandler) DeleteUser(c *gin.Context) {
	idc, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.userService.DeleteUser(c.Request.Context(), idc, id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "User deleted successfully"))
}
