package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/model"
	"gatepass/internal/testutil"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type AuthSuite struct {
	suite.Suite
	users    testutil.InMemoryUserStore
	sessions testutil.InMemoryImpersonationStore
	signer *identity.Signer
	auth   *Auth
	router *gin.Engine
}

func TestAuth(t *testing.T) {
	suite.Run(t, new(AuthSuite))
}

func (s *AuthSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	store := testutil.NewInMemoryStore()
	s.users = testutil.InMemoryUserStore{InMemoryStore: store}
	s.sessions = testutil.InMemoryImpersonationStore{InMemoryStore: store}
	s.signer = identity.NewSigner("middleware-test-secret", time.Hour)
	s.auth = NewAuth(s.signer, s.users, s.sessions, logger.NewNop(), false)

	s.router = gin.New()
	private := s.router.Group("/")
	private.Use(ErrorHandler(logger.NewNop()), s.auth.Authenticate())
	private.GET("/whoami", func(c *gin.Context) {
		idc, _ := GetIdentity(c)
		fromCtx, _ := identity.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"actor":      idc.Actor.ID,
			"true_actor": idc.TrueActor().ID,
			"origin":     idc.Origin,
			"same":       fromCtx.Actor == idc.Actor,
		})
	})
	private.GET("/admin", s.auth.RequireRole(model.RoleAdmin, model.RoleSuperadmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func (s *AuthSuite) createUser(username, role string) identity.Principal {
	user := &model.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "unused",
		Role:     role,
		Status:   model.UserStatusActive,
	}
	s.Require().NoError(s.users.Create(context.Background(), user))
	return identity.Principal{ID: user.ID, Role: user.Role, Username: user.Username}
}

// impersonate opens a session for root acting as target, the way the
// impersonation service does, and returns the frame carrying it
func (s *AuthSuite) impersonate(root, target identity.Principal) identity.Context {
	imp, err := identity.New(root).Start(target, time.Now())
	s.Require().NoError(err)

	session := &model.ImpersonationSession{TrueActorID: root.ID, TargetUserID: target.ID, StartedAt: time.Now()}
	s.Require().NoError(s.sessions.Open(context.Background(), session))
	s.auth.Invalidate(root.ID)
	imp.Frame.SessionID = session.ID
	return imp
}

func (s *AuthSuite) token(idc identity.Context) string {
	token, err := s.signer.Sign(idc)
	s.Require().NoError(err)
	return token
}

func (s *AuthSuite) do(path, token string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var body response.Response
	if w.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func (s *AuthSuite) TestMissingToken() {
	w, body := s.do("/whoami", "")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("unauthorized", body.Code)
	s.Equal("Authorization is missing", body.Error)
}

func (s *AuthSuite) TestMalformedHeader() {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthSuite) TestValidToken() {
	alice := s.createUser("alice", model.RoleAdmin)

	w, _ := s.do("/whoami", s.token(identity.New(alice)))
	s.Require().Equal(http.StatusOK, w.Code)

	var got map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
	s.Equal(alice.ID.String(), got["actor"])
	s.Equal(alice.ID.String(), got["true_actor"])
	s.Equal(true, got["same"])
	s.NotEmpty(got["origin"])
}

func (s *AuthSuite) TestCookieToken() {
	alice := s.createUser("alice", model.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: accessTokenCookie, Value: s.token(identity.New(alice))})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
}

func (s *AuthSuite) TestDeactivatedAccountIsRejected() {
	bob := s.createUser("bob", model.RoleUser)
	token := s.token(identity.New(bob))

	user, err := s.users.GetByID(context.Background(), bob.ID)
	s.Require().NoError(err)
	user.Status = model.UserStatusInactive
	s.Require().NoError(s.users.Update(context.Background(), user))

	w, _ := s.do("/whoami", token)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthSuite) TestCachedPrincipalIsInvalidated() {
	bob := s.createUser("bob", model.RoleUser)
	token := s.token(identity.New(bob))

	w, _ := s.do("/whoami", token)
	s.Require().Equal(http.StatusOK, w.Code)

	user, err := s.users.GetByID(context.Background(), bob.ID)
	s.Require().NoError(err)
	user.Role = model.RoleSecurity
	s.Require().NoError(s.users.Update(context.Background(), user))

	w, _ = s.do("/whoami", token)
	s.Equal(http.StatusOK, w.Code, "cached until invalidated")

	s.auth.Invalidate(bob.ID)
	w, _ = s.do("/whoami", token)
	s.Equal(http.StatusUnauthorized, w.Code, "role no longer matches the token")
}

func (s *AuthSuite) TestRequireRole() {
	bob := s.createUser("bob", model.RoleUser)
	alice := s.createUser("alice", model.RoleAdmin)

	w, body := s.do("/admin", s.token(identity.New(bob)))
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("forbidden", body.Code)

	w, _ = s.do("/admin", s.token(identity.New(alice)))
	s.Equal(http.StatusNoContent, w.Code)
}

func (s *AuthSuite) TestImpersonationUsesActingRole() {
	root := s.createUser("root", model.RoleSuperadmin)
	bob := s.createUser("bob", model.RoleUser)

	token := s.token(s.impersonate(root, bob))

	w, _ := s.do("/whoami", token)
	s.Require().Equal(http.StatusOK, w.Code)
	var got map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
	s.Equal(bob.ID.String(), got["actor"])
	s.Equal(root.ID.String(), got["true_actor"])

	w, _ = s.do("/admin", token)
	s.Equal(http.StatusForbidden, w.Code, "acting as a user drops superadmin rights")
}

func (s *AuthSuite) TestImpersonationEndsWhenSuperadminDemoted() {
	root := s.createUser("root", model.RoleSuperadmin)
	bob := s.createUser("bob", model.RoleUser)

	token := s.token(s.impersonate(root, bob))

	user, err := s.users.GetByID(context.Background(), root.ID)
	s.Require().NoError(err)
	user.Role = model.RoleAdmin
	s.Require().NoError(s.users.Update(context.Background(), user))

	w, _ := s.do("/whoami", token)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthSuite) TestTokensFollowImpersonationSession() {
	root := s.createUser("root", model.RoleSuperadmin)
	bob := s.createUser("bob", model.RoleUser)

	before := s.token(identity.New(root))
	w, _ := s.do("/whoami", before)
	s.Require().Equal(http.StatusOK, w.Code)

	imp := s.impersonate(root, bob)
	during := s.token(imp)

	w, _ = s.do("/whoami", before)
	s.Equal(http.StatusUnauthorized, w.Code, "token issued before the session opened")
	w, _ = s.do("/whoami", during)
	s.Equal(http.StatusOK, w.Code)

	s.Require().NoError(s.sessions.Close(context.Background(), imp.Frame.SessionID, time.Now()))
	s.auth.Invalidate(root.ID)

	w, _ = s.do("/whoami", during)
	s.Equal(http.StatusUnauthorized, w.Code, "token of an ended session")
	w, _ = s.do("/whoami", before)
	s.Equal(http.StatusOK, w.Code)
}

func (s *AuthSuite) TestFrameForUnknownSessionIsRejected() {
	root := s.createUser("root", model.RoleSuperadmin)
	bob := s.createUser("bob", model.RoleUser)
	s.impersonate(root, bob)

	forged, err := identity.New(root).Start(bob, time.Now())
	s.Require().NoError(err)
	forged.Frame.SessionID = uuid.New()

	w, _ := s.do("/whoami", s.token(forged))
	s.Equal(http.StatusUnauthorized, w.Code)
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandler(logger.NewNop()), NewRateLimiter(time.Hour, 2).Limit())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
