package service

import (
	"gatepass/internal/model"

	"github.com/samber/lo"
)

const (
	EventGatepassCreated      = "gatepass.created"
	EventGatepassTransitioned = "gatepass.transitioned"
	EventGatepassUpdated      = "gatepass.updated"
	EventGatepassDeleted      = "gatepass.deleted"
)

// EventPublisher fans committed gatepass changes out to live subscribers.
// Publish must not block.
type EventPublisher interface {
	Publish(event string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

type GatepassDeletedEvent struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Status    string `json:"-"`
	CreatedBy string `json:"-"`
}

// VisibleTo applies the same read scoping as GetGatepass to a pushed event
func (r GatepassResponse) VisibleTo(role, userID string) bool {
	return visibleTo(role, userID, r.Status, r.CreatedBy)
}

func (e GatepassDeletedEvent) VisibleTo(role, userID string) bool {
	return visibleTo(role, userID, e.Status, e.CreatedBy)
}

func visibleTo(role, userID, status, createdBy string) bool {
	switch role {
	case model.RoleUser:
		return createdBy == userID
	case model.RoleSecurity:
		return lo.Contains(securityVisibleStatuses(), status)
	default:
		return true
	}
}
