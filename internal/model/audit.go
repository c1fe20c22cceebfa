package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionGatepassCreated          = "GATEPASS_CREATED"
	ActionGatepassApprovedAdmin    = "GATEPASS_APPROVED_ADMIN"
	ActionGatepassApprovedSecurity = "GATEPASS_APPROVED_SECURITY"
	ActionGatepassDeclined         = "GATEPASS_DECLINED"
	ActionStatusChanged            = "STATUS_CHANGED"
	ActionGatepassItemsUpdated     = "GATEPASS_ITEMS_UPDATED"
	ActionGatepassDeleted          = "GATEPASS_DELETED"

	ActionImpersonationStarted = "IMPERSONATION_STARTED"
	ActionImpersonationEnded   = "IMPERSONATION_ENDED"

	ActionUserCreated       = "USER_CREATED"
	ActionUserUpdated       = "USER_UPDATED"
	ActionUserStatusChanged = "USER_STATUS_CHANGED"
	ActionUserDeleted       = "USER_DELETED"

	ActionUnitCreated = "UNIT_CREATED"
	ActionUnitUpdated = "UNIT_UPDATED"
	ActionUnitDeleted = "UNIT_DELETED"
)

// AuditLog tracks Who, What, and When for critical system changes.
// ActorID is the identity the action was performed as; TrueActorID is the
// authenticated principal behind it and differs only while impersonating.
// Rows are never updated, except that deleting a user detaches records written
// as that user by an impersonating superadmin.
type AuditLog struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ActorID     *uuid.UUID `gorm:"type:uuid;index" json:"actor_id"`
	Actor       *User      `gorm:"foreignKey:ActorID;constraint:OnDelete:SET NULL" json:"actor,omitempty"`
	TrueActorID *uuid.UUID `gorm:"type:uuid;index" json:"true_actor_id"`
	TrueActor   *User      `gorm:"foreignKey:TrueActorID;constraint:OnDelete:SET NULL" json:"true_actor,omitempty"`
	Action      string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID    string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName  string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details     string     `gorm:"type:jsonb;not null;default:'{}'" json:"details"`
	IPAddress   string     `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}

// Details keys written when the apparent actor of a record is deleted
const (
	DetailDeletedActorID = "deleted_actor_id"
	DetailDeletedActor   = "deleted_actor"
)

// Impersonated reports whether the record was written while a superadmin acted
// as someone else. A record whose apparent actor was deleted keeps its true actor.
func (a *AuditLog) Impersonated() bool {
	if a.TrueActorID == nil {
		return false
	}
	return a.ActorID == nil || *a.ActorID != *a.TrueActorID
}
