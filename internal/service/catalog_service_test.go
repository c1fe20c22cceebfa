package service

import (
	"fmt"
	"testing"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/model"
	"gatepass/internal/testutil"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

// CatalogServiceSuite covers the supporting services around gatepasses:
// the unit catalog, audit queries and statistics.
type CatalogServiceSuite struct {
	testutil.BaseServiceTestSuite
	units UnitService
	audit AuditService
	stats StatisticsService

	admin identity.Context
}

func TestCatalogServices(t *testing.T) {
	suite.Run(t, new(CatalogServiceSuite))
}

func (s *CatalogServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	stores := s.GetStores()

	s.audit = NewAuditService(stores.AuditRepo, s.GetLogger())
	s.units = NewUnitService(stores.Backing, stores.UnitRepo, s.audit)
	s.stats = NewStatisticsService(stores.StatisticsRepo)
	s.admin = s.CreateUser("alice", model.RoleAdmin)
}

func (s *CatalogServiceSuite) TestUnitLifecycle() {
	unit, err := s.units.CreateUnit(s.GetContext(), s.admin, CreateUnitRequest{Code: " L ", Name: "Litres"})
	s.Require().NoError(err)
	s.Equal("l", unit.Code)
	s.True(unit.Active)

	_, err = s.units.CreateUnit(s.GetContext(), s.admin, CreateUnitRequest{Code: "l", Name: "Again"})
	s.True(ierr.IsConflict(err))

	inactive := false
	_, err = s.units.UpdateUnit(s.GetContext(), s.admin, unit.ID, UpdateUnitRequest{Active: &inactive})
	s.Require().NoError(err)

	active, err := s.units.ListUnits(s.GetContext(), true)
	s.Require().NoError(err)
	s.Empty(active)

	s.Require().NoError(s.units.DeleteUnit(s.GetContext(), s.admin, unit.ID))
	s.True(ierr.IsNotFound(s.units.DeleteUnit(s.GetContext(), s.admin, unit.ID)))

	actions := lo.Map(s.GetStores().Backing.Audits(), func(a model.AuditLog, _ int) string { return a.Action })
	s.Equal([]string{model.ActionUnitCreated, model.ActionUnitUpdated, model.ActionUnitDeleted}, actions)
}

func (s *CatalogServiceSuite) TestUnitUpdateWithoutChangesIsNotAudited() {
	unit, err := s.units.CreateUnit(s.GetContext(), s.admin, CreateUnitRequest{Code: "crate", Name: "Crate"})
	s.Require().NoError(err)

	_, err = s.units.UpdateUnit(s.GetContext(), s.admin, unit.ID, UpdateUnitRequest{Name: "Crate"})
	s.Require().NoError(err)
	s.Equal(1, s.GetStores().Backing.AuditCount())
}

func (s *CatalogServiceSuite) TestAuditForUserIncludesImpersonatedRecords() {
	root := s.CreateUser("root", model.RoleSuperadmin)
	bob := s.CreateUser("bob", model.RoleUser)
	asBob := s.Impersonate(root, bob)

	s.Require().NoError(s.audit.Record(s.GetContext(), asBob, AuditEntry{Action: model.ActionGatepassCreated, EntityID: "gp-1"}))
	s.Require().NoError(s.audit.Record(s.GetContext(), bob, AuditEntry{Action: model.ActionGatepassCreated, EntityID: "gp-2"}))
	s.Require().NoError(s.audit.Record(s.GetContext(), s.admin, AuditEntry{Action: model.ActionGatepassApprovedAdmin, EntityID: "gp-2"}))

	rootLogs, err := s.audit.ListAuditForUser(s.GetContext(), root.Actor.ID, nil, nil)
	s.Require().NoError(err)
	s.Require().Len(rootLogs, 1)
	s.True(rootLogs[0].Impersonated)
	s.Equal(bob.Actor.ID.String(), rootLogs[0].ActorID)
	s.Equal(root.Actor.ID.String(), rootLogs[0].TrueActorID)

	bobLogs, err := s.audit.ListAuditForUser(s.GetContext(), bob.Actor.ID, nil, nil)
	s.Require().NoError(err)
	s.Len(bobLogs, 2)
	s.Equal("gp-2", bobLogs[0].EntityID, "newest first")

	gpLogs, err := s.audit.ListAuditForGatepass(s.GetContext(), uuid.Nil)
	s.Require().NoError(err)
	s.Empty(gpLogs)
}

func (s *CatalogServiceSuite) TestGetAuditLogsFilters() {
	s.Require().NoError(s.audit.Record(s.GetContext(), s.admin, AuditEntry{
		Action: model.ActionGatepassDeclined, EntityID: "gp-1", EntityName: "GP-20240305-0001",
		Details: map[string]any{"reason": "Wrong Dock"},
	}))
	s.Require().NoError(s.audit.Record(s.GetContext(), s.admin, AuditEntry{Action: model.ActionGatepassCreated, EntityID: "gp-2"}))

	logs, total, err := s.audit.GetAuditLogs(s.GetContext(), AuditQuery{Search: "wrong dock"})
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Equal("gp-1", logs[0].EntityID)

	_, total, err = s.audit.GetAuditLogs(s.GetContext(), AuditQuery{Action: model.ActionGatepassCreated, Page: 1, Limit: 10})
	s.Require().NoError(err)
	s.EqualValues(1, total)

	_, _, err = s.audit.GetAuditLogs(s.GetContext(), AuditQuery{ActorID: "not-a-uuid"})
	s.True(ierr.IsValidation(err))

	from, to := s.GetNow(), s.GetNow().Add(-time.Hour)
	_, _, err = s.audit.GetAuditLogs(s.GetContext(), AuditQuery{From: &from, To: &to})
	s.True(ierr.IsValidation(err))
}

func (s *CatalogServiceSuite) TestStatisticsFillsEveryStatus() {
	day := s.GetNow()
	for i, status := range []string{model.GatepassStatusPending, model.GatepassStatusPending, model.GatepassStatusDeclined} {
		s.Require().NoError(s.GetStores().GatepassRepo.Create(s.GetContext(), &model.Gatepass{
			Number:    fmt.Sprintf("GP-20240305-%04d", i+1),
			Status:    status,
			CreatedBy: s.admin.Actor.ID,
			CreatedAt: day,
		}))
	}
	s.Require().NoError(s.GetStores().GatepassRepo.Create(s.GetContext(), &model.Gatepass{
		Number:    "GP-20240101-0001",
		Status:    model.GatepassStatusApprovedBySecurity,
		CreatedBy: s.admin.Actor.ID,
		CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}))

	stats, err := s.stats.GetStatistics(s.GetContext(), day.Add(-24*time.Hour), day.Add(24*time.Hour))
	s.Require().NoError(err)
	s.EqualValues(3, stats.Total)
	s.EqualValues(2, stats.ByStatus[model.GatepassStatusPending])
	s.EqualValues(1, stats.ByStatus[model.GatepassStatusDeclined])
	s.EqualValues(0, stats.ByStatus[model.GatepassStatusApprovedBySecurity])
	s.Len(stats.ByStatus, len(model.GatepassStatuses))

	_, err = s.stats.GetStatistics(s.GetContext(), day, day.Add(-time.Hour))
	s.True(ierr.IsValidation(err))
}
