package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

// Stores holds the repository implementations a service test wires together
type Stores struct {
	Backing        *InMemoryStore
	GatepassRepo   InMemoryGatepassStore
	AuditRepo      InMemoryAuditStore
	UserRepo       InMemoryUserStore
	UnitRepo       InMemoryUnitStore
	StatisticsRepo InMemoryStatisticsStore
	SessionRepo    InMemoryImpersonationStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	publisher *InMemoryPublisher
	logger    *logger.Logger
	now       time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	s.logger = logger.NewNop()
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)

	backing := NewInMemoryStore()
	s.stores = Stores{
		Backing:        backing,
		GatepassRepo:   InMemoryGatepassStore{backing},
		AuditRepo:      InMemoryAuditStore{backing},
		UserRepo:       InMemoryUserStore{backing},
		UnitRepo:       InMemoryUnitStore{backing},
		StatisticsRepo: InMemoryStatisticsStore{backing},
		SessionRepo:    InMemoryImpersonationStore{backing},
	}
	s.publisher = NewInMemoryPublisher()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.Backing.Clear()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetPublisher() *InMemoryPublisher {
	return s.publisher
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}

// CreateUser stores an active user with the given role and returns the
// identity context of a fresh session for it
func (s *BaseServiceTestSuite) CreateUser(username, role string) identity.Context {
	return s.CreateUserWithStatus(username, role, model.UserStatusActive)
}

func (s *BaseServiceTestSuite) CreateUserWithStatus(username, role, status string) identity.Context {
	hashed, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	s.Require().NoError(err)

	user := &model.User{
		Username: username,
		Email:    fmt.Sprintf("%s@example.com", username),
		Password: string(hashed),
		Role:     role,
		Status:   status,
	}
	s.Require().NoError(s.stores.UserRepo.Create(s.ctx, user))
	return identity.New(identity.Principal{ID: user.ID, Role: user.Role, Username: user.Username})
}

// SeedUnits stores the default unit catalog
func (s *BaseServiceTestSuite) SeedUnits(codes ...string) {
	if len(codes) == 0 {
		codes = []string{"pcs", "kg", "m", "box"}
	}
	for _, code := range codes {
		s.Require().NoError(s.stores.UnitRepo.Create(s.ctx, &model.Unit{Code: code, Name: code, Active: true}))
	}
}

// Impersonate opens a session for superadmin acting as target and returns
// the identity context of the impersonation token
func (s *BaseServiceTestSuite) Impersonate(superadmin, target identity.Context) identity.Context {
	idc, err := superadmin.Start(target.Actor, s.now)
	s.Require().NoError(err)

	session := &model.ImpersonationSession{
		TrueActorID:  superadmin.Actor.ID,
		TargetUserID: target.Actor.ID,
		StartedAt:    s.now,
	}
	s.Require().NoError(s.stores.SessionRepo.Open(s.ctx, session))
	idc.Frame.SessionID = session.ID
	return idc
}

// TestPassword is the plain text password of every user CreateUser stores
const TestPassword = "correct-horse-battery"

// PublishedEvent is one event captured by InMemoryPublisher
type PublishedEvent struct {
	Event   string
	Payload any
}

// InMemoryPublisher records published events for assertions
type InMemoryPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{Event: event, Payload: payload})
}

func (p *InMemoryPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

// ActorIDs is a convenience for comparing audit attribution
func ActorIDs(a model.AuditLog) (actor, trueActor uuid.UUID) {
	if a.ActorID != nil {
		actor = *a.ActorID
	}
	if a.TrueActorID != nil {
		trueActor = *a.TrueActorID
	}
	return actor, trueActor
}
