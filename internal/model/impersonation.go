package model

import (
	"time"

	"github.com/google/uuid"
)

// ImpersonationSession is the server-side record of an impersonation frame.
// A superadmin holds at most one open session; tokens carry its ID and are
// only honoured while it stays open.
type ImpersonationSession struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TrueActorID  uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_impersonation_sessions_open,where:ended_at IS NULL" json:"true_actor_id"`
	TargetUserID uuid.UUID  `gorm:"type:uuid;not null;index" json:"target_user_id"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`

	TrueActor  *User `gorm:"foreignKey:TrueActorID;constraint:OnDelete:CASCADE" json:"-"`
	TargetUser *User `gorm:"foreignKey:TargetUserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (s *ImpersonationSession) IsOpen() bool {
	return s.EndedAt == nil
}
