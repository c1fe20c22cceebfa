package service

import (
	"context"
	"strings"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/model"
	"gatepass/internal/repository"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
)

// DTOs for Request validation
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"omitempty,max=20"`
	Password string `json:"password" binding:"required,min=8"`
}

type CreateUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"omitempty,max=20"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required"`
	Status   string `json:"status"`
}

type UpdateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email" binding:"omitempty,email"`
	Phone    string `json:"phone" binding:"omitempty,max=20"`
	Role     string `json:"role"`
	Password string `json:"password" binding:"omitempty,min=8"`
}

type SetUserStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active pending inactive"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UserQuery struct {
	Role   string
	Status string
	Search string
	Page   int
	Limit  int
}

type TokenResponse struct {
	Token     string        `json:"token"`
	ExpiresIn int64         `json:"expires_in"`
	User      *UserResponse `json:"user"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// PrincipalCache is told whenever a user's role or status may have changed
type PrincipalCache interface {
	Invalidate(userID uuid.UUID)
}

// UserService defines the interface for business logic related to User
type UserService interface {
	Register(ctx context.Context, req RegisterRequest, origin string) (*UserResponse, error)
	CreateUser(ctx context.Context, idc identity.Context, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*UserResponse, error)
	ListUsers(ctx context.Context, query UserQuery) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, idc identity.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error)
	SetStatus(ctx context.Context, idc identity.Context, id uuid.UUID, status string) (*UserResponse, error)
	DeleteUser(ctx context.Context, idc identity.Context, id uuid.UUID) error
	EnsureSuperadmin(ctx context.Context, username, email, password string) error
}

type userService struct {
	tx         repository.TransactionManager
	repo       repository.UserRepository
	gatepasses repository.GatepassRepository
	audits     repository.AuditRepository
	audit      AuditService
	signer     *identity.Signer
	sessions   ImpersonationService
	cache      PrincipalCache
	logger     *logger.Logger
}

// NewUserService returns a new instance of UserService
func NewUserService(
	tx repository.TransactionManager,
	repo repository.UserRepository,
	gatepasses repository.GatepassRepository,
	audits repository.AuditRepository,
	audit AuditService,
	signer *identity.Signer,
	sessions ImpersonationService,
	cache PrincipalCache,
	log *logger.Logger,
) UserService {
	return &userService{
		tx:         tx,
		repo:       repo,
		gatepasses: gatepasses,
		audits:     audits,
		audit:      audit,
		signer:     signer,
		sessions:   sessions,
		cache:      cache,
		logger:     log,
	}
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Phone:     user.Phone,
		Role:      user.Role,
		Status:    user.Status,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("Failed to hash password").
			Mark(ierr.ErrSystem)
	}
	return string(hashed), nil
}

func (s *userService) invalidate(id uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}

// Register creates a self-service account that stays pending until an admin activates it
func (s *userService) Register(ctx context.Context, req RegisterRequest, origin string) (*UserResponse, error) {
	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:    strings.TrimSpace(req.Phone),
		Password: hashed,
		Role:     model.RoleUser,
		Status:   model.UserStatusPending,
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, user); err != nil {
			return err
		}
		self := identity.New(identity.Principal{ID: user.ID, Role: user.Role, Username: user.Username}).WithOrigin(origin)
		return s.audit.Record(txCtx, self, AuditEntry{
			Action:     model.ActionUserCreated,
			EntityID:   user.ID.String(),
			EntityName: user.Username,
			Details: map[string]any{
				"role":         user.Role,
				"status":       user.Status,
				"registration": true,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return mapToResponse(user), nil
}

func (s *userService) CreateUser(ctx context.Context, idc identity.Context, req CreateUserRequest) (*UserResponse, error) {
	if !model.IsValidRole(req.Role) {
		return nil, ierr.NewErrorf("invalid role %q", req.Role).
			WithHintf("Invalid role: must be one of %s", strings.Join(model.Roles, ", ")).
			Mark(ierr.ErrValidation)
	}
	if err := canManage(idc, req.Role); err != nil {
		return nil, err
	}

	status := lo.Ternary(req.Status == "", model.UserStatusActive, req.Status)
	if !model.IsValidUserStatus(status) {
		return nil, ierr.NewErrorf("invalid status %q", status).
			WithHint("Invalid status: must be active, pending or inactive").
			Mark(ierr.ErrValidation)
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:    strings.TrimSpace(req.Phone),
		Password: hashed,
		Role:     req.Role,
		Status:   status,
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, user); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionUserCreated,
			EntityID:   user.ID.String(),
			EntityName: user.Username,
			Details:    map[string]any{"role": user.Role, "status": user.Status},
		})
	})
	if err != nil {
		return nil, err
	}

	return mapToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	invalid := ierr.NewError("invalid credentials").
		WithHint("Invalid email or password").
		Mark(ierr.ErrUnauthorized)

	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, invalid
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, invalid
	}

	if !user.IsActive() {
		return nil, ierr.NewErrorf("user %s is %s", user.ID, user.Status).
			WithHintf("Account is %s", user.Status).
			WithReportableDetails(map[string]any{"status": user.Status}).
			Mark(ierr.ErrForbidden)
	}

	principal := identity.Principal{ID: user.ID, Role: user.Role, Username: user.Username}
	// a fresh login supersedes an impersonation left open by an earlier token
	if user.Role == model.RoleSuperadmin && s.sessions != nil {
		if err := s.sessions.EndOpenSession(ctx, principal, "login"); err != nil {
			return nil, err
		}
	}

	token, err := s.signer.Sign(identity.New(principal))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		Token:     token,
		ExpiresIn: int64(s.signer.TTL().Seconds()),
		User:      mapToResponse(user),
	}, nil
}

func (s *userService) GetUserByID(ctx context.Context, id uuid.UUID) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, query UserQuery) ([]UserResponse, int64, error) {
	if query.Role != "" && !model.IsValidRole(query.Role) {
		return nil, 0, ierr.NewErrorf("invalid role %q", query.Role).
			WithHint("Invalid role filter").
			Mark(ierr.ErrValidation)
	}
	if query.Status != "" && !model.IsValidUserStatus(query.Status) {
		return nil, 0, ierr.NewErrorf("invalid status %q", query.Status).
			WithHint("Invalid status filter").
			Mark(ierr.ErrValidation)
	}

	users, total, err := s.repo.List(ctx, repository.UserFilter{
		Role:   query.Role,
		Status: query.Status,
		Search: strings.TrimSpace(query.Search),
		Page:   query.Page,
		Limit:  query.Limit,
	})
	if err != nil {
		return nil, 0, err
	}

	responses := lo.Map(users, func(u model.User, _ int) UserResponse { return *mapToResponse(&u) })
	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, idc identity.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error) {
	var user *model.User
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		user, err = s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := canManage(idc, user.Role); err != nil {
			return err
		}

		changes := map[string]any{}
		if req.Role != "" && req.Role != user.Role {
			if !model.IsValidRole(req.Role) {
				return ierr.NewErrorf("invalid role %q", req.Role).
					WithHintf("Invalid role: must be one of %s", strings.Join(model.Roles, ", ")).
					Mark(ierr.ErrValidation)
			}
			if err := canManage(idc, req.Role); err != nil {
				return err
			}
			if user.ID == idc.TrueActor().ID {
				return ierr.NewError("cannot change own role").
					WithHint("You cannot change your own role").
					Mark(ierr.ErrValidation)
			}
			changes["role"] = map[string]string{"from": user.Role, "to": req.Role}
			user.Role = req.Role
		}
		if u := strings.TrimSpace(req.Username); u != "" && u != user.Username {
			changes["username"] = map[string]string{"from": user.Username, "to": u}
			user.Username = u
		}
		if e := strings.ToLower(strings.TrimSpace(req.Email)); e != "" && e != user.Email {
			changes["email"] = map[string]string{"from": user.Email, "to": e}
			user.Email = e
		}
		if p := strings.TrimSpace(req.Phone); p != "" && p != user.Phone {
			changes["phone"] = true
			user.Phone = p
		}
		if req.Password != "" {
			hashed, err := hashPassword(req.Password)
			if err != nil {
				return err
			}
			changes["password"] = true
			user.Password = hashed
		}
		if len(changes) == 0 {
			return nil
		}

		if err := s.repo.Update(txCtx, user); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionUserUpdated,
			EntityID:   user.ID.String(),
			EntityName: user.Username,
			Details:    changes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(id)
	return mapToResponse(user), nil
}

func (s *userService) SetStatus(ctx context.Context, idc identity.Context, id uuid.UUID, status string) (*UserResponse, error) {
	if !model.IsValidUserStatus(status) {
		return nil, ierr.NewErrorf("invalid status %q", status).
			WithHint("Invalid status: must be active, pending or inactive").
			Mark(ierr.ErrValidation)
	}
	if id == idc.TrueActor().ID {
		return nil, ierr.NewError("cannot change own status").
			WithHint("You cannot change your own account status").
			Mark(ierr.ErrValidation)
	}

	var user *model.User
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		user, err = s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := canManage(idc, user.Role); err != nil {
			return err
		}
		if user.Status == status {
			return nil
		}

		previous := user.Status
		user.Status = status
		if err := s.repo.Update(txCtx, user); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionUserStatusChanged,
			EntityID:   user.ID.String(),
			EntityName: user.Username,
			Details:    map[string]any{"from": previous, "to": status},
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(id)
	return mapToResponse(user), nil
}

// DeleteUser removes a user together with the gatepasses it created and every
// audit record it appears in. Approvals it gave on other gatepasses are cleared
// so no reference dangles.
func (s *userService) DeleteUser(ctx context.Context, idc identity.Context, id uuid.UUID) error {
	if idc.Actor.Role != model.RoleSuperadmin {
		return ierr.NewError("only superadmin may delete users").
			WithHint("You do not have permission to delete users").
			WithReportableDetails(map[string]any{
				"action":         "delete_user",
				"required_roles": []string{model.RoleSuperadmin},
			}).
			Mark(ierr.ErrForbidden)
	}
	if id == idc.Actor.ID || id == idc.TrueActor().ID {
		return ierr.NewError("cannot delete acting user").
			WithHint("You cannot delete your own account").
			Mark(ierr.ErrValidation)
	}

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}

		cleared, err := s.gatepasses.ClearActorReferences(txCtx, id)
		if err != nil {
			return err
		}
		removed, err := s.gatepasses.DeleteByCreator(txCtx, id)
		if err != nil {
			return err
		}
		purged, err := s.audits.DeleteByActor(txCtx, id)
		if err != nil {
			return err
		}
		// records a superadmin wrote as this user stay, attributed to the superadmin
		detached, err := s.audits.DetachActor(txCtx, id, user.Username)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(txCtx, id); err != nil {
			return err
		}

		s.logger.Infow("user deleted",
			"user_id", id,
			"gatepasses_deleted", removed,
			"approvals_cleared", cleared,
			"audit_records_deleted", purged,
			"audit_records_detached", detached,
		)
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionUserDeleted,
			EntityID:   id.String(),
			EntityName: user.Username,
			Details: map[string]any{
				"role":                   user.Role,
				"gatepasses_deleted":     removed,
				"approvals_cleared":      cleared,
				"audit_records_deleted":  purged,
				"audit_records_detached": detached,
			},
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(id)
	return nil
}

// EnsureSuperadmin creates the first superadmin when none exists yet
func (s *userService) EnsureSuperadmin(ctx context.Context, username, email, password string) error {
	count, err := s.repo.CountByRole(ctx, model.RoleSuperadmin)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if username == "" || email == "" || password == "" {
		s.logger.Warnw("no superadmin exists and bootstrap credentials are not configured")
		return nil
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}
	user := &model.User{
		Username: username,
		Email:    strings.ToLower(email),
		Password: hashed,
		Role:     model.RoleSuperadmin,
		Status:   model.UserStatusActive,
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, user); err != nil {
			return err
		}
		self := identity.New(identity.Principal{ID: user.ID, Role: user.Role, Username: user.Username})
		return s.audit.Record(txCtx, self, AuditEntry{
			Action:     model.ActionUserCreated,
			EntityID:   user.ID.String(),
			EntityName: user.Username,
			Details:    map[string]any{"role": user.Role, "bootstrap": true},
		})
	})
	if err != nil {
		return err
	}

	s.logger.Infow("bootstrap superadmin created", "user_id", user.ID, "username", user.Username)
	return nil
}

// canManage reports whether the acting identity may manage accounts holding role.
// Admins manage everyone except superadmins.
func canManage(idc identity.Context, role string) error {
	switch idc.Actor.Role {
	case model.RoleSuperadmin:
		return nil
	case model.RoleAdmin:
		if role != model.RoleSuperadmin {
			return nil
		}
	}
	return ierr.NewErrorf("role %s may not manage %s accounts", idc.Actor.Role, role).
		WithHint("You do not have permission to manage this account").
		WithReportableDetails(map[string]any{
			"role":        idc.Actor.Role,
			"target_role": role,
		}).
		Mark(ierr.ErrForbidden)
}
