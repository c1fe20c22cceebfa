package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/model"
	"gatepass/internal/testutil"
	"gatepass/internal/workflow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/suite"
)

type GatepassServiceSuite struct {
	testutil.BaseServiceTestSuite
	service GatepassService
	clock   time.Time

	superadmin identity.Context
	admin      identity.Context
	security   identity.Context
	user       identity.Context
}

func TestGatepassService(t *testing.T) {
	suite.Run(t, new(GatepassServiceSuite))
}

func (s *GatepassServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	stores := s.GetStores()

	s.clock = s.GetNow()
	audit := NewAuditService(stores.AuditRepo, s.GetLogger())
	svc := NewGatepassService(stores.Backing, stores.GatepassRepo, stores.UserRepo, stores.UnitRepo, audit, s.GetPublisher(), s.GetLogger(), GatepassConfig{
		NumberPrefix: "GP",
		Location:     time.UTC,
	})
	svc.(*gatepassService).now = func() time.Time { return s.clock }
	s.service = svc

	s.SeedUnits()
	s.superadmin = s.CreateUser("root", model.RoleSuperadmin)
	s.admin = s.CreateUser("alice", model.RoleAdmin)
	s.security = s.CreateUser("gate", model.RoleSecurity)
	s.user = s.CreateUser("bob", model.RoleUser)
}

func (s *GatepassServiceSuite) request() CreateGatepassRequest {
	return CreateGatepassRequest{
		FromLocation:  "Warehouse A",
		ToLocation:    "Site 7",
		MaterialType:  "Steel",
		RequestedDate: "2024-03-06",
		RequestedTime: "08:15",
		Purpose:       "Scaffolding",
		Items: []GatepassItemInput{
			{Name: "Pipe", Quantity: decimal.NewFromInt(12), Unit: "pcs"},
			{Name: "Clamp", Quantity: decimal.RequireFromString("2.5"), Unit: "kg"},
		},
	}
}

func (s *GatepassServiceSuite) create(idc identity.Context) *GatepassResponse {
	gp, err := s.service.CreateGatepass(s.GetContext(), idc, s.request())
	s.Require().NoError(err)
	return gp
}

func (s *GatepassServiceSuite) id(gp *GatepassResponse) uuid.UUID {
	return uuid.MustParse(gp.ID)
}

func (s *GatepassServiceSuite) TestCreateAssignsDailySequence() {
	first := s.create(s.user)
	second := s.create(s.admin)

	s.Equal("GP-20240305-0001", first.Number)
	s.Equal("GP-20240305-0002", second.Number)
	s.Equal(model.GatepassStatusPending, first.Status)
	s.Len(first.Items, 2)
	s.Equal("bob", first.CreatorName)
	s.Nil(first.AdminApprovedBy)
	s.Nil(first.SecurityApprovedBy)
	s.Nil(first.DeclinedBy)

	s.clock = s.clock.Add(24 * time.Hour)
	next := s.create(s.user)
	s.Equal("GP-20240306-0001", next.Number)
}

func (s *GatepassServiceSuite) TestCreateUsesConfiguredTimezone() {
	loc := time.FixedZone("UTC+7", 7*3600)
	stores := s.GetStores()
	svc := NewGatepassService(stores.Backing, stores.GatepassRepo, stores.UserRepo, stores.UnitRepo,
		NewAuditService(stores.AuditRepo, s.GetLogger()), nil, s.GetLogger(),
		GatepassConfig{NumberPrefix: "GP", Location: loc})
	// 20:00 UTC on the 5th is already the 6th in UTC+7
	svc.(*gatepassService).now = func() time.Time { return time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC) }

	gp, err := svc.CreateGatepass(s.GetContext(), s.user, s.request())
	s.Require().NoError(err)
	s.Equal("GP-20240306-0001", gp.Number)
}

func (s *GatepassServiceSuite) TestCreateAuditsAsCreator() {
	gp := s.create(s.user)

	audit, ok := s.GetStores().Backing.LastAudit()
	s.Require().True(ok)
	actor, trueActor := testutil.ActorIDs(audit)
	s.Equal(model.ActionGatepassCreated, audit.Action)
	s.Equal(gp.ID, audit.EntityID)
	s.Equal(gp.Number, audit.EntityName)
	s.Equal(s.user.Actor.ID, actor)
	s.Equal(s.user.Actor.ID, trueActor)
	s.Contains(audit.Details, gp.Number)

	events := s.GetPublisher().Events()
	s.Require().Len(events, 1)
	s.Equal(EventGatepassCreated, events[0].Event)
}

func (s *GatepassServiceSuite) TestCreateValidation() {
	tests := []struct {
		name   string
		mutate func(*CreateGatepassRequest)
	}{
		{"blank from", func(r *CreateGatepassRequest) { r.FromLocation = "  " }},
		{"blank material", func(r *CreateGatepassRequest) { r.MaterialType = "" }},
		{"bad date", func(r *CreateGatepassRequest) { r.RequestedDate = "06/03/2024" }},
		{"bad time", func(r *CreateGatepassRequest) { r.RequestedTime = "25:00" }},
		{"no items", func(r *CreateGatepassRequest) { r.Items = nil }},
		{"zero quantity", func(r *CreateGatepassRequest) { r.Items[0].Quantity = decimal.Zero }},
		{"negative quantity", func(r *CreateGatepassRequest) { r.Items[1].Quantity = decimal.NewFromInt(-1) }},
		{"unnamed item", func(r *CreateGatepassRequest) { r.Items[0].Name = " " }},
		{"unknown unit", func(r *CreateGatepassRequest) { r.Items[0].Unit = "barrel" }},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := s.request()
			tt.mutate(&req)
			_, err := s.service.CreateGatepass(s.GetContext(), s.user, req)
			s.True(ierr.IsValidation(err), "got %v", err)
		})
	}
	s.Zero(s.GetStores().Backing.AuditCount())
}

func (s *GatepassServiceSuite) TestCreatePermissions() {
	_, err := s.service.CreateGatepass(s.GetContext(), s.security, s.request())
	s.True(ierr.IsForbidden(err))

	pending := s.CreateUserWithStatus("newbie", model.RoleUser, model.UserStatusPending)
	_, err = s.service.CreateGatepass(s.GetContext(), pending, s.request())
	s.True(ierr.IsValidation(err))
}

func (s *GatepassServiceSuite) TestCreateRejectsExhaustedDay() {
	stores := s.GetStores()
	last := &model.Gatepass{
		Number:    "GP-20240305-9999",
		Status:    model.GatepassStatusPending,
		CreatedBy: s.user.Actor.ID,
	}
	s.Require().NoError(stores.GatepassRepo.Create(s.GetContext(), last))

	_, err := s.service.CreateGatepass(s.GetContext(), s.user, s.request())
	s.True(ierr.IsValidation(err))
}

// The in-memory store serialises transactions, so this covers the service's
// numbering path only; RepositorySuite races the postgres counter itself.
func (s *GatepassServiceSuite) TestConcurrentCreatesGetDistinctNumbers() {
	const creators = 12
	numbers := make(chan string, creators)

	var wg conc.WaitGroup
	for i := 0; i < creators; i++ {
		idc := s.user
		if i%2 == 1 {
			idc = s.admin
		}
		wg.Go(func() {
			gp, err := s.service.CreateGatepass(s.GetContext(), idc, s.request())
			if err == nil {
				numbers <- gp.Number
			}
		})
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for n := range numbers {
		s.False(seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	s.Len(seen, creators)
	for i := 1; i <= creators; i++ {
		s.True(seen[fmt.Sprintf("GP-20240305-%04d", i)])
	}
}

func (s *GatepassServiceSuite) TestTransitionMissingGatepass() {
	id := uuid.New()
	_, err := s.service.Transition(s.GetContext(), s.admin, id, workflow.ActionApproveAdmin, "")
	s.Require().True(ierr.IsNotFound(err))

	details := ierr.SafeDetails(err)
	s.Equal(id.String(), details["gatepass_id"])
	s.Equal(workflow.ActionApproveAdmin, details["action"])
	s.Zero(s.GetStores().Backing.AuditCount())
}

func (s *GatepassServiceSuite) TestFullApprovalPath() {
	gp := s.create(s.user)

	approved, err := s.service.Transition(s.GetContext(), s.admin, s.id(gp), workflow.ActionApproveAdmin, "")
	s.Require().NoError(err)
	s.Equal(model.GatepassStatusApprovedByAdmin, approved.Status)
	s.Equal(s.admin.Actor.ID.String(), *approved.AdminApprovedBy)
	s.Equal("alice", approved.AdminApproverName)
	s.ElementsMatch([]string{workflow.ActionDecline}, approved.AvailableActions)

	done, err := s.service.Transition(s.GetContext(), s.security, s.id(gp), workflow.ActionApproveSecurity, "")
	s.Require().NoError(err)
	s.Equal(model.GatepassStatusApprovedBySecurity, done.Status)
	s.Equal(s.security.Actor.ID.String(), *done.SecurityApprovedBy)
	s.Empty(done.AvailableActions)

	audits := s.GetStores().Backing.Audits()
	s.Require().Len(audits, 3)
	s.Equal(model.ActionGatepassApprovedAdmin, audits[1].Action)
	s.Equal(model.ActionGatepassApprovedSecurity, audits[2].Action)
}

func (s *GatepassServiceSuite) TestSecurityCannotSkipAdmin() {
	gp := s.create(s.user)

	_, err := s.service.Transition(s.GetContext(), s.security, s.id(gp), workflow.ActionApproveSecurity, "")
	s.True(ierr.IsIllegalTransition(err))

	_, err = s.service.Transition(s.GetContext(), s.user, s.id(gp), workflow.ActionApproveAdmin, "")
	s.True(ierr.IsForbidden(err))

	s.Equal(1, s.GetStores().Backing.AuditCount())
}

func (s *GatepassServiceSuite) TestDecline() {
	gp := s.create(s.user)

	_, err := s.service.Transition(s.GetContext(), s.admin, s.id(gp), workflow.ActionDecline, "   ")
	s.True(ierr.IsValidation(err))

	declined, err := s.service.Transition(s.GetContext(), s.admin, s.id(gp), workflow.ActionDecline, "missing paperwork")
	s.Require().NoError(err)
	s.Equal(model.GatepassStatusDeclined, declined.Status)
	s.Equal("missing paperwork", declined.DeclineReason)
	s.Equal(s.admin.Actor.ID.String(), *declined.DeclinedBy)

	// terminal
	for _, action := range []string{workflow.ActionApproveAdmin, workflow.ActionApproveSecurity, workflow.ActionDecline} {
		_, err := s.service.Transition(s.GetContext(), s.superadmin, s.id(gp), action, "again")
		s.True(ierr.IsIllegalTransition(err), action)
	}

	audit, _ := s.GetStores().Backing.LastAudit()
	s.Equal(model.ActionGatepassDeclined, audit.Action)
	s.Contains(audit.Details, "missing paperwork")
}

func (s *GatepassServiceSuite) TestAuditFailureRollsBack() {
	backing := s.GetStores().Backing
	backing.FailAudit = ierr.NewError("audit table unavailable").Mark(ierr.ErrDatabase)

	_, err := s.service.CreateGatepass(s.GetContext(), s.user, s.request())
	s.True(ierr.IsAuditWrite(err))

	backing.FailAudit = nil
	gp := s.create(s.user)
	// the failed attempt did not consume a number
	s.Equal("GP-20240305-0001", gp.Number)

	backing.FailAudit = ierr.NewError("audit table unavailable").Mark(ierr.ErrDatabase)
	_, err = s.service.Transition(s.GetContext(), s.admin, s.id(gp), workflow.ActionApproveAdmin, "")
	s.True(ierr.IsAuditWrite(err))
	backing.FailAudit = nil

	got, err := s.service.GetGatepass(s.GetContext(), s.admin, s.id(gp))
	s.Require().NoError(err)
	s.Equal(model.GatepassStatusPending, got.Status)
	s.Nil(got.AdminApprovedBy)
	s.Equal(1, backing.AuditCount())
}

func (s *GatepassServiceSuite) TestImpersonatedApprovalKeepsTrueActor() {
	gp := s.create(s.user)
	asAdmin := s.Impersonate(s.superadmin, s.admin)

	approved, err := s.service.Transition(s.GetContext(), asAdmin, s.id(gp), workflow.ActionApproveAdmin, "")
	s.Require().NoError(err)
	// the gatepass records the apparent actor
	s.Equal(s.admin.Actor.ID.String(), *approved.AdminApprovedBy)

	audit, _ := s.GetStores().Backing.LastAudit()
	actor, trueActor := testutil.ActorIDs(audit)
	s.Equal(s.admin.Actor.ID, actor)
	s.Equal(s.superadmin.Actor.ID, trueActor)
	s.True(audit.Impersonated())
}

func (s *GatepassServiceSuite) TestImpersonatingUserLosesSuperadminRights() {
	gp := s.create(s.user)
	asUser := s.Impersonate(s.superadmin, s.user)

	_, err := s.service.Transition(s.GetContext(), asUser, s.id(gp), workflow.ActionApproveAdmin, "")
	s.True(ierr.IsForbidden(err))

	_, err = s.service.OverrideStatus(s.GetContext(), asUser, s.id(gp), model.GatepassStatusDeclined, "")
	s.True(ierr.IsForbidden(err))
}

func (s *GatepassServiceSuite) TestConcurrentApprovalsSingleWinner() {
	gp := s.create(s.user)
	other := s.CreateUser("carol", model.RoleAdmin)

	errs := make(chan error, 2)
	var wg conc.WaitGroup
	for _, idc := range []identity.Context{s.admin, other} {
		wg.Go(func() {
			_, err := s.service.Transition(s.GetContext(), idc, s.id(gp), workflow.ActionApproveAdmin, "")
			errs <- err
		})
	}
	wg.Wait()
	close(errs)

	var ok, lost int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case ierr.IsIllegalTransition(err) || ierr.IsConflict(err):
			lost++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(1, lost)
	s.Equal(2, s.GetStores().Backing.AuditCount())
}

func (s *GatepassServiceSuite) TestVisibility() {
	mine := s.create(s.user)
	other := s.CreateUser("dave", model.RoleUser)
	theirs := s.create(other)

	_, err := s.service.GetGatepass(s.GetContext(), s.user, s.id(theirs))
	s.True(ierr.IsNotFound(err))

	list, total, err := s.service.ListGatepasses(s.GetContext(), s.user, GatepassQuery{})
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Equal(mine.ID, list[0].ID)

	// security only sees gatepasses past admin approval
	_, err = s.service.GetGatepass(s.GetContext(), s.security, s.id(mine))
	s.True(ierr.IsNotFound(err))
	_, err = s.service.Transition(s.GetContext(), s.admin, s.id(mine), workflow.ActionApproveAdmin, "")
	s.Require().NoError(err)

	list, total, err = s.service.ListGatepasses(s.GetContext(), s.security, GatepassQuery{})
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Equal(mine.ID, list[0].ID)

	_, total, err = s.service.ListGatepasses(s.GetContext(), s.security, GatepassQuery{Status: model.GatepassStatusPending})
	s.Require().NoError(err)
	s.Zero(total)

	_, total, err = s.service.ListGatepasses(s.GetContext(), s.admin, GatepassQuery{})
	s.Require().NoError(err)
	s.EqualValues(2, total)
}

func (s *GatepassServiceSuite) TestListFilters() {
	s.create(s.user)
	second := s.create(s.user)

	list, total, err := s.service.ListGatepasses(s.GetContext(), s.admin, GatepassQuery{Search: "0002"})
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Equal(second.Number, list[0].Number)

	_, _, err = s.service.ListGatepasses(s.GetContext(), s.admin, GatepassQuery{Status: "archived"})
	s.True(ierr.IsValidation(err))

	from, to := s.clock, s.clock.Add(-time.Hour)
	_, _, err = s.service.ListGatepasses(s.GetContext(), s.admin, GatepassQuery{From: &from, To: &to})
	s.True(ierr.IsValidation(err))
}

func (s *GatepassServiceSuite) TestOverrideStatus() {
	gp := s.create(s.user)
	_, err := s.service.Transition(s.GetContext(), s.admin, s.id(gp), workflow.ActionApproveAdmin, "")
	s.Require().NoError(err)
	_, err = s.service.Transition(s.GetContext(), s.security, s.id(gp), workflow.ActionApproveSecurity, "")
	s.Require().NoError(err)

	_, err = s.service.OverrideStatus(s.GetContext(), s.admin, s.id(gp), model.GatepassStatusPending, "")
	s.True(ierr.IsForbidden(err))

	reset, err := s.service.OverrideStatus(s.GetContext(), s.superadmin, s.id(gp), model.GatepassStatusPending, "entered twice")
	s.Require().NoError(err)
	s.Equal(model.GatepassStatusPending, reset.Status)
	s.Nil(reset.AdminApprovedBy)
	s.Nil(reset.AdminApprovedAt)
	s.Nil(reset.SecurityApprovedBy)
	s.Nil(reset.SecurityApprovedAt)

	audit, _ := s.GetStores().Backing.LastAudit()
	s.Equal(model.ActionStatusChanged, audit.Action)
	s.Contains(audit.Details, "entered twice")

	// the regular flow applies again after the reset
	_, err = s.service.Transition(s.GetContext(), s.admin, s.id(gp), workflow.ActionApproveAdmin, "")
	s.NoError(err)
}

func (s *GatepassServiceSuite) TestUpdateItems() {
	gp := s.create(s.user)
	items := []GatepassItemInput{{Name: "Beam", Quantity: decimal.NewFromInt(4), Unit: "m"}}

	_, err := s.service.UpdateItems(s.GetContext(), s.admin, s.id(gp), items)
	s.True(ierr.IsForbidden(err))

	updated, err := s.service.UpdateItems(s.GetContext(), s.superadmin, s.id(gp), items)
	s.Require().NoError(err)
	s.Require().Len(updated.Items, 1)
	s.Equal("Beam", updated.Items[0].Name)
	s.Equal(model.GatepassStatusPending, updated.Status)

	audit, _ := s.GetStores().Backing.LastAudit()
	s.Equal(model.ActionGatepassItemsUpdated, audit.Action)
}

func (s *GatepassServiceSuite) TestDelete() {
	gp := s.create(s.user)

	s.True(ierr.IsForbidden(s.service.DeleteGatepass(s.GetContext(), s.admin, s.id(gp))))
	s.Require().NoError(s.service.DeleteGatepass(s.GetContext(), s.superadmin, s.id(gp)))

	_, err := s.service.GetGatepass(s.GetContext(), s.superadmin, s.id(gp))
	s.True(ierr.IsNotFound(err))

	audit, _ := s.GetStores().Backing.LastAudit()
	s.Equal(model.ActionGatepassDeleted, audit.Action)
	s.Equal(gp.Number, audit.EntityName)

	events := s.GetPublisher().Events()
	s.Equal(EventGatepassDeleted, events[len(events)-1].Event)
}

func (s *GatepassServiceSuite) TestExportCSV() {
	first := s.create(s.user)
	second := s.create(s.user)

	var buf bytes.Buffer
	s.Require().NoError(s.service.ExportCSV(s.GetContext(), s.admin, GatepassQuery{Page: 1, Limit: 1}, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	s.Require().NoError(err)
	s.Require().Len(rows, 3, "header plus every gatepass regardless of paging")
	s.Equal("number", rows[0][0])
	s.ElementsMatch([]string{first.Number, second.Number}, []string{rows[1][0], rows[2][0]})
}
