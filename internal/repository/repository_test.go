package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"gatepass/internal/database"
	ierr "gatepass/internal/errors"
	"gatepass/internal/logger"
	"gatepass/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// RepositorySuite runs the postgres implementations against a throwaway
// container. Set TEST_INTEGRATION to enable it.
type RepositorySuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *gorm.DB

	tx         TransactionManager
	gatepasses GatepassRepository
	audits     AuditRepository
	users      UserRepository
	sessions   ImpersonationRepository

	creator  *model.User
	approver *model.User
}

func TestRepositories(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("gatepass_test"),
		postgres.WithUsername("gatepass"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := database.NewConnection(dsn, logger.NewNop())
	s.Require().NoError(err)
	s.db = db

	s.tx = NewTransactionManager(db, 10*time.Second)
	s.gatepasses = NewGatepassRepository(db)
	s.audits = NewAuditRepository(db)
	s.users = NewUserRepository(db)
	s.sessions = NewImpersonationRepository(db)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate container: %v", err)
		}
	}
}

func (s *RepositorySuite) SetupTest() {
	s.Require().NoError(s.db.Exec("TRUNCATE audit_logs, impersonation_sessions, gatepass_items, gatepasses, gatepass_counters, users CASCADE").Error)
	s.creator = s.createUser("creator", model.RoleUser)
	s.approver = s.createUser("approver", model.RoleAdmin)
}

func (s *RepositorySuite) createUser(username, role string) *model.User {
	user := &model.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "not-a-real-hash",
		Role:     role,
		Status:   model.UserStatusActive,
	}
	s.Require().NoError(s.users.Create(s.ctx, user))
	return user
}

func (s *RepositorySuite) createGatepass(number string) *model.Gatepass {
	gp := &model.Gatepass{
		Number:        number,
		Status:        model.GatepassStatusPending,
		CreatedBy:     s.creator.ID,
		FromLocation:  "Warehouse A",
		ToLocation:    "Site B",
		MaterialType:  "Steel",
		RequestedDate: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Items: []model.GatepassItem{
			{Name: "Beam", Quantity: decimal.RequireFromString("2.5"), Unit: "m"},
		},
	}
	s.Require().NoError(s.gatepasses.Create(s.ctx, gp))
	return gp
}

func (s *RepositorySuite) TestAllocateSequence() {
	allocate := func(day string) int {
		var seq int
		err := s.tx.RunInTx(s.ctx, func(txCtx context.Context) error {
			var err error
			seq, err = s.gatepasses.AllocateSequence(txCtx, "GP", day)
			return err
		})
		s.Require().NoError(err)
		return seq
	}

	s.Equal(1, allocate("20240305"))
	s.Equal(2, allocate("20240305"))
	s.Equal(1, allocate("20240306"), "each day starts over")
	s.Equal(3, allocate("20240305"))
}

func (s *RepositorySuite) TestAllocateSequenceRollsBackWithTransaction() {
	err := s.tx.RunInTx(s.ctx, func(txCtx context.Context) error {
		if _, err := s.gatepasses.AllocateSequence(txCtx, "GP", "20240305"); err != nil {
			return err
		}
		return ierr.NewError("abort").Mark(ierr.ErrAuditWrite)
	})
	s.True(ierr.IsAuditWrite(err))

	var seq int
	err = s.tx.RunInTx(s.ctx, func(txCtx context.Context) error {
		var err error
		seq, err = s.gatepasses.AllocateSequence(txCtx, "GP", "20240305")
		return err
	})
	s.Require().NoError(err)
	s.Equal(1, seq)
}

func (s *RepositorySuite) TestConcurrentAllocationIsGapless() {
	const creators = 10
	seqs := make(chan int, creators)
	errs := make(chan error, creators)

	var wg conc.WaitGroup
	for i := 0; i < creators; i++ {
		wg.Go(func() {
			err := s.tx.RunInTx(s.ctx, func(txCtx context.Context) error {
				seq, err := s.gatepasses.AllocateSequence(txCtx, "GP", "20240305")
				if err != nil {
					return err
				}
				gp := &model.Gatepass{
					Number:        fmt.Sprintf("GP-20240305-%04d", seq),
					Status:        model.GatepassStatusPending,
					CreatedBy:     s.creator.ID,
					FromLocation:  "Warehouse A",
					ToLocation:    "Site B",
					MaterialType:  "Steel",
					RequestedDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
					Items: []model.GatepassItem{
						{Name: "Pipe", Quantity: decimal.NewFromInt(2), Unit: "pcs"},
					},
				}
				if err := s.gatepasses.Create(txCtx, gp); err != nil {
					return err
				}
				seqs <- seq
				return nil
			})
			if err != nil {
				errs <- err
			}
		})
	}
	wg.Wait()
	close(seqs)
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	var got []int
	for seq := range seqs {
		got = append(got, seq)
	}
	sort.Ints(got)
	want := make([]int, creators)
	for i := range want {
		want[i] = i + 1
	}
	s.Equal(want, got)

	// every allocated number was persisted
	stored, total, err := s.gatepasses.List(s.ctx, GatepassFilter{})
	s.Require().NoError(err)
	s.EqualValues(creators, total)
	numbers := make([]string, 0, len(stored))
	for _, gp := range stored {
		numbers = append(numbers, gp.Number)
	}
	s.ElementsMatch([]string{
		"GP-20240305-0001", "GP-20240305-0002", "GP-20240305-0003", "GP-20240305-0004", "GP-20240305-0005",
		"GP-20240305-0006", "GP-20240305-0007", "GP-20240305-0008", "GP-20240305-0009", "GP-20240305-0010",
	}, numbers)
}

func (s *RepositorySuite) TestDuplicateNumberIsConflict() {
	s.createGatepass("GP-20240305-0001")

	dup := &model.Gatepass{
		Number:        "GP-20240305-0001",
		Status:        model.GatepassStatusPending,
		CreatedBy:     s.creator.ID,
		FromLocation:  "A",
		ToLocation:    "B",
		MaterialType:  "Wood",
		RequestedDate: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	s.True(ierr.IsConflict(s.gatepasses.Create(s.ctx, dup)))
}

func (s *RepositorySuite) TestUpdateStatusCompareAndSet() {
	gp := s.createGatepass("GP-20240305-0001")

	now := time.Now()
	first := *gp
	first.Status = model.GatepassStatusApprovedByAdmin
	first.AdminApprovedBy = &s.approver.ID
	first.AdminApprovedAt = &now
	s.Require().NoError(s.gatepasses.UpdateStatus(s.ctx, &first, model.GatepassStatusPending))

	second := *gp
	second.Status = model.GatepassStatusDeclined
	second.DeclinedBy = &s.approver.ID
	second.DeclinedAt = &now
	err := s.gatepasses.UpdateStatus(s.ctx, &second, model.GatepassStatusPending)
	s.True(ierr.IsConflict(err))

	stored, err := s.gatepasses.FindByID(s.ctx, gp.ID)
	s.Require().NoError(err)
	s.Equal(model.GatepassStatusApprovedByAdmin, stored.Status)
	s.Nil(stored.DeclinedBy)
	s.Require().NotNil(stored.AdminApprover)
	s.Equal("approver", stored.AdminApprover.Username)
	s.Len(stored.Items, 1)
	s.True(decimal.RequireFromString("2.5").Equal(stored.Items[0].Quantity))
}

func (s *RepositorySuite) TestConcurrentStatusWritersSingleWinner() {
	gp := s.createGatepass("GP-20240305-0001")
	const writers = 8

	var wg conc.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Go(func() {
			now := time.Now()
			next := *gp
			next.Items = nil
			if i%2 == 0 {
				next.Status = model.GatepassStatusApprovedByAdmin
				next.AdminApprovedBy = &s.approver.ID
				next.AdminApprovedAt = &now
			} else {
				next.Status = model.GatepassStatusDeclined
				next.DeclinedBy = &s.approver.ID
				next.DeclinedAt = &now
				next.DeclineReason = "duplicate request"
			}
			results <- s.tx.RunInTx(s.ctx, func(txCtx context.Context) error {
				return s.gatepasses.UpdateStatus(txCtx, &next, model.GatepassStatusPending)
			})
		})
	}
	wg.Wait()
	close(results)

	var won, conflicts int
	for err := range results {
		switch {
		case err == nil:
			won++
		case ierr.IsConflict(err):
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, won)
	s.Equal(writers-1, conflicts)

	stored, err := s.gatepasses.FindByID(s.ctx, gp.ID)
	s.Require().NoError(err)
	if stored.Status == model.GatepassStatusApprovedByAdmin {
		s.NotNil(stored.AdminApprovedAt)
		s.Nil(stored.DeclinedBy)
	} else {
		s.Equal(model.GatepassStatusDeclined, stored.Status)
		s.NotNil(stored.DeclinedAt)
		s.Nil(stored.AdminApprovedBy)
	}
}

func (s *RepositorySuite) TestGatepassNotFoundCarriesID() {
	id := uuid.New()
	_, err := s.gatepasses.FindByID(s.ctx, id)
	s.Require().True(ierr.IsNotFound(err))
	s.Equal(id.String(), ierr.SafeDetails(err)["gatepass_id"])
}

func (s *RepositorySuite) TestClearActorReferences() {
	gp := s.createGatepass("GP-20240305-0001")

	now := time.Now()
	gp.Status = model.GatepassStatusDeclined
	gp.DeclinedBy = &s.approver.ID
	gp.DeclinedAt = &now
	gp.DeclineReason = "wrong material"
	s.Require().NoError(s.gatepasses.UpdateStatus(s.ctx, gp, model.GatepassStatusPending))

	cleared, err := s.gatepasses.ClearActorReferences(s.ctx, s.approver.ID)
	s.Require().NoError(err)
	s.EqualValues(1, cleared)

	stored, err := s.gatepasses.FindByID(s.ctx, gp.ID)
	s.Require().NoError(err)
	s.Nil(stored.DeclinedBy)
	s.Nil(stored.DeclinedAt)
	s.Equal("wrong material", stored.DeclineReason)
	s.Equal(model.GatepassStatusDeclined, stored.Status)
}

func (s *RepositorySuite) TestDeleteByCreatorCascadesItems() {
	s.createGatepass("GP-20240305-0001")
	s.createGatepass("GP-20240305-0002")

	removed, err := s.gatepasses.DeleteByCreator(s.ctx, s.creator.ID)
	s.Require().NoError(err)
	s.EqualValues(2, removed)

	var items int64
	s.Require().NoError(s.db.Model(&model.GatepassItem{}).Count(&items).Error)
	s.Zero(items)
}

func (s *RepositorySuite) TestDeleteByActorMatchesTrueActor() {
	superadmin := s.createUser("root", model.RoleSuperadmin)
	bystander := s.createUser("other", model.RoleUser)

	entries := []*model.AuditLog{
		{ActorID: &s.creator.ID, TrueActorID: &superadmin.ID, Action: model.ActionGatepassCreated, EntityID: "x"},
		{ActorID: &superadmin.ID, TrueActorID: &superadmin.ID, Action: model.ActionImpersonationStarted, EntityID: s.creator.ID.String()},
		{ActorID: &bystander.ID, TrueActorID: &bystander.ID, Action: model.ActionGatepassCreated, EntityID: "y"},
	}
	for _, e := range entries {
		s.Require().NoError(s.audits.Append(s.ctx, e))
	}

	purged, err := s.audits.DeleteByActor(s.ctx, superadmin.ID)
	s.Require().NoError(err)
	s.EqualValues(2, purged)

	remaining, total, err := s.audits.List(s.ctx, AuditFilter{})
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Equal(bystander.ID, *remaining[0].ActorID)
}

func (s *RepositorySuite) TestDetachActorKeepsImpersonatedRecords() {
	superadmin := s.createUser("root", model.RoleSuperadmin)

	own := &model.AuditLog{ActorID: &s.approver.ID, TrueActorID: &s.approver.ID, Action: model.ActionGatepassApprovedAdmin, EntityID: "own"}
	asApprover := &model.AuditLog{ActorID: &s.approver.ID, TrueActorID: &superadmin.ID, Action: model.ActionGatepassApprovedAdmin, EntityID: "impersonated", Details: `{"from":"pending"}`}
	for _, e := range []*model.AuditLog{own, asApprover} {
		s.Require().NoError(s.audits.Append(s.ctx, e))
	}

	purged, err := s.audits.DeleteByActor(s.ctx, s.approver.ID)
	s.Require().NoError(err)
	s.EqualValues(1, purged)
	detached, err := s.audits.DetachActor(s.ctx, s.approver.ID, "approver")
	s.Require().NoError(err)
	s.EqualValues(1, detached)
	s.Require().NoError(s.users.Delete(s.ctx, s.approver.ID))

	remaining, total, err := s.audits.List(s.ctx, AuditFilter{})
	s.Require().NoError(err)
	s.Require().EqualValues(1, total)
	kept := remaining[0]
	s.Equal("impersonated", kept.EntityID)
	s.Nil(kept.ActorID)
	s.Require().NotNil(kept.TrueActorID)
	s.Equal(superadmin.ID, *kept.TrueActorID)
	s.True(kept.Impersonated())
	s.JSONEq(fmt.Sprintf(`{"from":"pending","deleted_actor_id":%q,"deleted_actor":"approver"}`, s.approver.ID), kept.Details)
}

func (s *RepositorySuite) TestSecondOpenImpersonationIsRejected() {
	superadmin := s.createUser("root", model.RoleSuperadmin)
	other := s.createUser("other", model.RoleUser)

	const starters = 2
	results := make(chan error, starters)
	var wg conc.WaitGroup
	for _, target := range []*model.User{s.creator, other} {
		wg.Go(func() {
			results <- s.tx.RunInTx(s.ctx, func(txCtx context.Context) error {
				return s.sessions.Open(txCtx, &model.ImpersonationSession{
					TrueActorID:  superadmin.ID,
					TargetUserID: target.ID,
					StartedAt:    time.Now(),
				})
			})
		})
	}
	wg.Wait()
	close(results)

	var opened, rejected int
	for err := range results {
		switch {
		case err == nil:
			opened++
		case ierr.IsIllegalTransition(err):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, opened)
	s.Equal(1, rejected)

	active, err := s.sessions.Active(s.ctx, superadmin.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.Close(s.ctx, active.ID, time.Now()))
	s.True(ierr.IsIllegalTransition(s.sessions.Close(s.ctx, active.ID, time.Now())))

	// a closed session frees the slot
	s.Require().NoError(s.sessions.Open(s.ctx, &model.ImpersonationSession{
		TrueActorID:  superadmin.ID,
		TargetUserID: other.ID,
		StartedAt:    time.Now(),
	}))
}

func (s *RepositorySuite) TestUserNotFound() {
	_, err := s.users.GetByID(s.ctx, uuid.New())
	s.True(ierr.IsNotFound(err))
}
