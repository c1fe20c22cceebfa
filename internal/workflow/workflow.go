// Package workflow holds the gatepass approval state machine and the single
// permission table every gatepass operation is checked against.
package workflow

import (
	"strings"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/model"

	"github.com/samber/lo"
)

const (
	ActionApproveAdmin    = "approve_admin"
	ActionApproveSecurity = "approve_security"
	ActionDecline         = "decline"
)

// Operations outside the transition graph that are still gated by role
const (
	OpCreate         = "create"
	OpOverrideStatus = "override_status"
	OpEditItems      = "edit_items"
	OpDelete         = "delete"
)

const defaultOverrideReason = "status override"

type rule struct {
	roles  []string
	from   []string
	to     string
	action string // audit action
}

var transitions = map[string]rule{
	ActionApproveAdmin: {
		roles:  []string{model.RoleAdmin, model.RoleSuperadmin},
		from:   []string{model.GatepassStatusPending},
		to:     model.GatepassStatusApprovedByAdmin,
		action: model.ActionGatepassApprovedAdmin,
	},
	ActionApproveSecurity: {
		roles:  []string{model.RoleSecurity, model.RoleSuperadmin},
		from:   []string{model.GatepassStatusApprovedByAdmin},
		to:     model.GatepassStatusApprovedBySecurity,
		action: model.ActionGatepassApprovedSecurity,
	},
	ActionDecline: {
		roles:  []string{model.RoleAdmin, model.RoleSecurity, model.RoleSuperadmin},
		from:   []string{model.GatepassStatusPending, model.GatepassStatusApprovedByAdmin},
		to:     model.GatepassStatusDeclined,
		action: model.ActionGatepassDeclined,
	},
}

var operations = map[string][]string{
	OpCreate:         {model.RoleUser, model.RoleAdmin, model.RoleSuperadmin},
	OpOverrideStatus: {model.RoleSuperadmin},
	OpEditItems:      {model.RoleSuperadmin},
	OpDelete:         {model.RoleSuperadmin},
}

// Result describes an applied transition
type Result struct {
	From        string
	To          string
	AuditAction string
}

// IsAction reports whether action names a transition
func IsAction(action string) bool {
	_, ok := transitions[action]
	return ok
}

// Authorize checks a non-transition operation against the permission table
func Authorize(op string, idc identity.Context) error {
	roles, ok := operations[op]
	if !ok {
		return ierr.NewErrorf("unknown operation %q", op).
			WithHint("Unknown operation").
			Mark(ierr.ErrValidation)
	}
	if !lo.Contains(roles, idc.Actor.Role) {
		return ierr.NewErrorf("role %s may not %s", idc.Actor.Role, op).
			WithHint("You do not have permission to perform this action").
			WithAction(op).
			WithRequiredRoles(roles...).
			WithReportableDetails(map[string]any{"role": idc.Actor.Role}).
			Mark(ierr.ErrForbidden)
	}
	return nil
}

// AvailableActions lists the transitions role may take on a gatepass in status
func AvailableActions(status, role string) []string {
	var actions []string
	for _, name := range []string{ActionApproveAdmin, ActionApproveSecurity, ActionDecline} {
		r := transitions[name]
		if lo.Contains(r.roles, role) && lo.Contains(r.from, status) {
			actions = append(actions, name)
		}
	}
	return actions
}

// Apply validates and performs a transition on gp in memory. Checks run in a
// fixed order: unknown action, role, source state, reason.
func Apply(gp *model.Gatepass, action string, idc identity.Context, reason string, now time.Time) (Result, error) {
	about := func(b *ierr.ErrorBuilder) *ierr.ErrorBuilder {
		return b.WithGatepass(gp.ID, gp.Number).
			WithAction(action).
			WithReportableDetails(map[string]any{"status": gp.Status})
	}

	r, ok := transitions[action]
	if !ok {
		return Result{}, about(ierr.NewErrorf("unknown action %q", action).
			WithHintf("Unknown action %q", action)).
			Mark(ierr.ErrValidation)
	}

	if !lo.Contains(r.roles, idc.Actor.Role) {
		return Result{}, about(ierr.NewErrorf("role %s may not %s", idc.Actor.Role, action).
			WithHint("You do not have permission to perform this action")).
			WithRequiredRoles(r.roles...).
			WithReportableDetails(map[string]any{"role": idc.Actor.Role}).
			Mark(ierr.ErrForbidden)
	}

	if !lo.Contains(r.from, gp.Status) {
		return Result{}, about(ierr.NewErrorf("cannot %s gatepass in status %s", action, gp.Status).
			WithHintf("Gatepass %s cannot be moved by %s from status %s", gp.Number, action, gp.Status)).
			WithReportableDetails(map[string]any{"allowed_from": r.from}).
			Mark(ierr.ErrIllegalTransition)
	}

	reason = strings.TrimSpace(reason)
	if action == ActionDecline && reason == "" {
		return Result{}, about(ierr.NewError("decline reason is required").
			WithHint("A reason is required to decline a gatepass")).
			Mark(ierr.ErrValidation)
	}

	from := gp.Status
	actorID := idc.Actor.ID
	at := now

	switch action {
	case ActionApproveAdmin:
		gp.AdminApprovedBy = &actorID
		gp.AdminApprovedAt = &at
	case ActionApproveSecurity:
		gp.SecurityApprovedBy = &actorID
		gp.SecurityApprovedAt = &at
	case ActionDecline:
		gp.DeclinedBy = &actorID
		gp.DeclinedAt = &at
		gp.DeclineReason = reason
	}
	gp.Status = r.to

	return Result{From: from, To: r.to, AuditAction: r.action}, nil
}

// Override moves gp to any status regardless of the transition graph. The
// approval pairs are rewritten so each one matches what the new status implies.
func Override(gp *model.Gatepass, status string, idc identity.Context, reason string, now time.Time) (Result, error) {
	if err := Authorize(OpOverrideStatus, idc); err != nil {
		return Result{}, err
	}

	details := map[string]any{
		"status":        gp.Status,
		"target_status": status,
	}
	if !model.IsValidGatepassStatus(status) {
		return Result{}, ierr.NewErrorf("unknown status %q", status).
			WithHintf("Unknown status %q", status).
			WithGatepass(gp.ID, gp.Number).
			WithAction(OpOverrideStatus).
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	if status == gp.Status {
		return Result{}, ierr.NewError("status unchanged").
			WithHintf("Gatepass %s is already %s", gp.Number, status).
			WithGatepass(gp.ID, gp.Number).
			WithAction(OpOverrideStatus).
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}

	from := gp.Status
	actorID := idc.Actor.ID
	at := now

	clearAdmin := func() { gp.AdminApprovedBy, gp.AdminApprovedAt = nil, nil }
	clearSecurity := func() { gp.SecurityApprovedBy, gp.SecurityApprovedAt = nil, nil }
	clearDecline := func() { gp.DeclinedBy, gp.DeclinedAt, gp.DeclineReason = nil, nil, "" }

	switch status {
	case model.GatepassStatusPending:
		clearAdmin()
		clearSecurity()
		clearDecline()
	case model.GatepassStatusApprovedByAdmin:
		gp.AdminApprovedBy, gp.AdminApprovedAt = &actorID, &at
		clearSecurity()
		clearDecline()
	case model.GatepassStatusApprovedBySecurity:
		if gp.AdminApprovedBy == nil {
			gp.AdminApprovedBy, gp.AdminApprovedAt = &actorID, &at
		}
		gp.SecurityApprovedBy, gp.SecurityApprovedAt = &actorID, &at
		clearDecline()
	case model.GatepassStatusDeclined:
		clearSecurity()
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = defaultOverrideReason
		}
		gp.DeclinedBy, gp.DeclinedAt, gp.DeclineReason = &actorID, &at, reason
	}
	gp.Status = status

	return Result{From: from, To: status, AuditAction: model.ActionStatusChanged}, nil
}

// PairsConsistent reports whether every approval pair is either fully set or fully empty
func PairsConsistent(gp *model.Gatepass) bool {
	return (gp.AdminApprovedBy == nil) == (gp.AdminApprovedAt == nil) &&
		(gp.SecurityApprovedBy == nil) == (gp.SecurityApprovedAt == nil) &&
		(gp.DeclinedBy == nil) == (gp.DeclinedAt == nil)
}
