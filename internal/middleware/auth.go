package middleware

import (
	"net/http"
	"strings"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/model"
	"gatepass/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goCache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
)

const (
	accessTokenCookie = "access_token"
	identityKey       = "identity"

	principalCacheTTL     = time.Minute
	principalCacheCleanup = 5 * time.Minute

	sessionCachePrefix = "session:"
)

// Auth authenticates requests from the access token and re-checks the
// principals it names against the user store, so deactivated accounts and
// role changes take effect without waiting for the token to expire.
// Superadmin tokens are also matched against the open impersonation session.
type Auth struct {
	signer        *identity.Signer
	users         repository.UserRepository
	sessions      repository.ImpersonationRepository
	cache         *goCache.Cache
	logger        *logger.Logger
	secureCookies bool
}

func NewAuth(signer *identity.Signer, users repository.UserRepository, sessions repository.ImpersonationRepository, log *logger.Logger, secureCookies bool) *Auth {
	return &Auth{
		signer:        signer,
		users:         users,
		sessions:      sessions,
		cache:         goCache.New(principalCacheTTL, principalCacheCleanup),
		logger:        log,
		secureCookies: secureCookies,
	}
}

// Invalidate drops the cached account and impersonation state for a user
func (a *Auth) Invalidate(userID uuid.UUID) {
	a.cache.Delete(userID.String())
	a.cache.Delete(sessionCachePrefix + userID.String())
}

// SetTokenCookie sets access_token as an HttpOnly cookie
func (a *Auth) SetTokenCookie(c *gin.Context, token string) {
	sameSite, secure := http.SameSiteLaxMode, false
	if a.secureCookies {
		sameSite, secure = http.SameSiteNoneMode, true
	}
	c.SetSameSite(sameSite)
	c.SetCookie(accessTokenCookie, token, int(a.signer.TTL().Seconds()), "/", "", secure, true)
}

// ClearTokenCookie removes the access_token cookie
func (a *Auth) ClearTokenCookie(c *gin.Context) {
	sameSite, secure := http.SameSiteLaxMode, false
	if a.secureCookies {
		sameSite, secure = http.SameSiteNoneMode, true
	}
	c.SetSameSite(sameSite)
	c.SetCookie(accessTokenCookie, "", -1, "/", "", secure, true)
}

// Authenticate resolves the identity context of the request and stores it on
// the gin context and the request context.
func (a *Auth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		idc, err := a.signer.Parse(tokenString)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		if err := a.verify(c, idc); err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		idc = idc.WithOrigin(c.ClientIP())
		c.Set(identityKey, idc)
		c.Request = c.Request.WithContext(identity.WithContext(c.Request.Context(), idc))
		c.Next()
	}
}

// RequireRole rejects requests whose acting role is not in allowedRoles.
// Must run after Authenticate.
func (a *Auth) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		idc, ok := GetIdentity(c)
		if !ok {
			c.Error(ierr.NewError("no identity on request").
				WithHint("Authorization is missing").
				Mark(ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		if !lo.Contains(allowedRoles, idc.Actor.Role) {
			c.Error(ierr.NewErrorf("role %s not allowed", idc.Actor.Role).
				WithHint("Access denied: insufficient permissions").
				WithReportableDetails(map[string]any{
					"role":           idc.Actor.Role,
					"required_roles": allowedRoles,
				}).
				Mark(ierr.ErrForbidden))
			c.Abort()
			return
		}

		c.Next()
	}
}

// verify checks that the acting principal is still an active account with the
// role the token claims and, while impersonating, that the principal behind it
// is still an active superadmin. A superadmin token is only honoured if its
// frame names the open session, or it has no frame and no session is open.
func (a *Auth) verify(c *gin.Context, idc identity.Context) error {
	actor, err := a.account(c, idc.Actor.ID)
	if err != nil {
		return err
	}
	if !actor.IsActive() || actor.Role != idc.Actor.Role {
		return ierr.NewError("token no longer matches account").
			WithHint("Session is no longer valid, please log in again").
			Mark(ierr.ErrUnauthorized)
	}

	if idc.Frame != nil {
		original, err := a.account(c, idc.Frame.Original.ID)
		if err != nil {
			return err
		}
		if !original.IsActive() || original.Role != model.RoleSuperadmin {
			return ierr.NewError("impersonating principal is no longer a superadmin").
				WithHint("Session is no longer valid, please log in again").
				Mark(ierr.ErrUnauthorized)
		}
	}

	if idc.Frame == nil && idc.Actor.Role != model.RoleSuperadmin {
		return nil
	}
	open, err := a.openSession(c, idc.TrueActor().ID)
	if err != nil {
		return err
	}
	var claimed uuid.UUID
	if idc.Frame != nil {
		claimed = idc.Frame.SessionID
	}
	if open != claimed {
		return ierr.NewError("token does not match the impersonation session").
			WithHint("Session is no longer valid, please log in again").
			Mark(ierr.ErrUnauthorized)
	}
	return nil
}

// openSession returns the ID of the open impersonation session of a
// superadmin, or uuid.Nil when there is none
func (a *Auth) openSession(c *gin.Context, trueActorID uuid.UUID) (uuid.UUID, error) {
	key := sessionCachePrefix + trueActorID.String()
	if cached, found := a.cache.Get(key); found {
		return cached.(uuid.UUID), nil
	}

	var open uuid.UUID
	session, err := a.sessions.Active(c.Request.Context(), trueActorID)
	switch {
	case err == nil:
		open = session.ID
	case !ierr.IsNotFound(err):
		return uuid.Nil, err
	}
	a.cache.SetDefault(key, open)
	return open, nil
}

func (a *Auth) account(c *gin.Context, id uuid.UUID) (*model.User, error) {
	if cached, found := a.cache.Get(id.String()); found {
		return cached.(*model.User), nil
	}

	user, err := a.users.GetByID(c.Request.Context(), id)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithHint("Session is no longer valid, please log in again").
				Mark(ierr.ErrUnauthorized)
		}
		return nil, err
	}
	a.cache.SetDefault(id.String(), user)
	return user, nil
}

// Try cookie first, fallback to Authorization header. Websocket upgrades may
// pass the token as a query parameter since browsers cannot set headers there.
func tokenFromRequest(c *gin.Context) (string, error) {
	if token, err := c.Cookie(accessTokenCookie); err == nil && token != "" {
		return token, nil
	}
	if token := c.Query("token"); token != "" && c.IsWebsocket() {
		return token, nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ierr.NewError("missing authorization").
			WithHint("Authorization is missing").
			Mark(ierr.ErrUnauthorized)
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ierr.NewError("malformed authorization header").
			WithHint("Invalid authorization format. Expected 'Bearer <token>'").
			Mark(ierr.ErrUnauthorized)
	}
	return parts[1], nil
}

// GetIdentity returns the identity context Authenticate attached to the request
func GetIdentity(c *gin.Context) (identity.Context, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return identity.Context{}, false
	}
	idc, ok := v.(identity.Context)
	return idc, ok
}
