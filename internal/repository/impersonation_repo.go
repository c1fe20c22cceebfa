package repository

import (
	"context"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImpersonationRepository stores impersonation sessions. The open session of a
// superadmin is unique, enforced by a partial unique index on true_actor_id.
type ImpersonationRepository interface {
	Open(ctx context.Context, session *model.ImpersonationSession) error
	// Active returns the open session of trueActorID, or NotFound
	Active(ctx context.Context, trueActorID uuid.UUID) (*model.ImpersonationSession, error)
	// Close ends an open session; closing one that already ended is an IllegalTransition
	Close(ctx context.Context, id uuid.UUID, endedAt time.Time) error
}

type impersonationRepository struct {
	db *gorm.DB
}

func NewImpersonationRepository(db *gorm.DB) ImpersonationRepository {
	return &impersonationRepository{db: db}
}

func (r *impersonationRepository) Open(ctx context.Context, session *model.ImpersonationSession) error {
	err := GetDB(ctx, r.db).Omit("TrueActor", "TargetUser").Create(session).Error
	if isUniqueViolation(err) {
		return ErrImpersonationActive(session.TrueActorID)
	}
	return translate(err, "impersonation session")
}

func (r *impersonationRepository) Active(ctx context.Context, trueActorID uuid.UUID) (*model.ImpersonationSession, error) {
	var session model.ImpersonationSession
	err := GetDB(ctx, r.db).
		Where("true_actor_id = ? AND ended_at IS NULL", trueActorID).
		First(&session).Error
	if err != nil {
		return nil, translate(err, "impersonation session")
	}
	return &session, nil
}

func (r *impersonationRepository) Close(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	result := GetDB(ctx, r.db).
		Model(&model.ImpersonationSession{}).
		Where("id = ? AND ended_at IS NULL", id).
		Update("ended_at", endedAt)
	if result.Error != nil {
		return translate(result.Error, "impersonation session")
	}
	if result.RowsAffected == 0 {
		return ErrImpersonationEnded(id)
	}
	return nil
}

// ErrImpersonationActive reports a second open session for the same superadmin
func ErrImpersonationActive(trueActorID uuid.UUID) error {
	return ierr.NewErrorf("superadmin %s already has an open impersonation session", trueActorID).
		WithHint("Stop the current impersonation before starting another").
		WithReportableDetails(map[string]any{"true_actor_id": trueActorID}).
		Mark(ierr.ErrIllegalTransition)
}

// ErrImpersonationEnded reports a session that is no longer open
func ErrImpersonationEnded(id uuid.UUID) error {
	return ierr.NewErrorf("impersonation session %s already ended", id).
		WithHint("This impersonation has already ended").
		WithReportableDetails(map[string]any{"session_id": id}).
		Mark(ierr.ErrIllegalTransition)
}
