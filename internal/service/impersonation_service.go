package service

import (
	"context"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/model"
	"gatepass/internal/repository"

	"github.com/google/uuid"
)

type StartImpersonationRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// ImpersonationService switches the acting identity of a superadmin session.
// Both directions are audited as the superadmin, with the impersonated user as entity.
// The frame is backed by a server-side session so a token issued before or
// during an impersonation cannot start a second one or end the same one twice.
type ImpersonationService interface {
	StartImpersonation(ctx context.Context, idc identity.Context, targetUserID uuid.UUID) (identity.Context, error)
	StopImpersonation(ctx context.Context, idc identity.Context) (identity.Context, error)
	// EndOpenSession closes whatever session superadmin left open, auditing it
	// with reason. It is a no-op when none is open.
	EndOpenSession(ctx context.Context, superadmin identity.Principal, reason string) error
}

type impersonationService struct {
	tx       repository.TransactionManager
	users    repository.UserRepository
	sessions repository.ImpersonationRepository
	audit    AuditService
	cache    PrincipalCache
	logger   *logger.Logger
	now      func() time.Time
}

func NewImpersonationService(
	tx repository.TransactionManager,
	users repository.UserRepository,
	sessions repository.ImpersonationRepository,
	audit AuditService,
	cache PrincipalCache,
	log *logger.Logger,
) ImpersonationService {
	return &impersonationService{
		tx:       tx,
		users:    users,
		sessions: sessions,
		audit:    audit,
		cache:    cache,
		logger:   log,
		now:      time.Now,
	}
}

func (s *impersonationService) invalidate(id uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}

func (s *impersonationService) StartImpersonation(ctx context.Context, idc identity.Context, targetUserID uuid.UUID) (identity.Context, error) {
	// Frame, role and self checks first so a nested attempt never touches storage
	now := s.now()
	next, err := idc.Start(identity.Principal{ID: targetUserID}, now)
	if err != nil {
		return idc, err
	}

	target, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return idc, err
	}
	if !target.IsActive() {
		return idc, ierr.NewError("impersonation target is not active").
			WithHintf("User %s is not active", target.Username).
			WithReportableDetails(map[string]any{"user_id": target.ID, "status": target.Status}).
			Mark(ierr.ErrValidation)
	}
	next.Actor = identity.Principal{ID: target.ID, Role: target.Role, Username: target.Username}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		session := &model.ImpersonationSession{
			TrueActorID:  idc.Actor.ID,
			TargetUserID: target.ID,
			StartedAt:    now,
		}
		if err := s.sessions.Open(txCtx, session); err != nil {
			return err
		}
		next.Frame.SessionID = session.ID

		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionImpersonationStarted,
			EntityID:   target.ID.String(),
			EntityName: target.Username,
			Details: map[string]any{
				"target_user_id": target.ID,
				"target_role":    target.Role,
				"session_id":     session.ID,
			},
		})
	})
	impersonationsTotal.WithLabelValues("start", outcome(err)).Inc()
	if err != nil {
		return idc, err
	}
	s.invalidate(idc.Actor.ID)

	s.logger.Infow("impersonation started",
		"superadmin_id", idc.Actor.ID,
		"target_user_id", target.ID,
		"target_role", target.Role,
		"session_id", next.Frame.SessionID,
	)
	return next, nil
}

func (s *impersonationService) StopImpersonation(ctx context.Context, idc identity.Context) (identity.Context, error) {
	restored, err := idc.Stop()
	if err != nil {
		return idc, err
	}

	impersonated := idc.Actor
	now := s.now()
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.sessions.Close(txCtx, idc.Frame.SessionID, now); err != nil {
			return err
		}
		return s.audit.Record(txCtx, restored, AuditEntry{
			Action:     model.ActionImpersonationEnded,
			EntityID:   impersonated.ID.String(),
			EntityName: impersonated.Username,
			Details: map[string]any{
				"target_user_id":   impersonated.ID,
				"target_role":      impersonated.Role,
				"session_id":       idc.Frame.SessionID,
				"duration_seconds": int64(now.Sub(idc.Frame.StartedAt).Seconds()),
			},
		})
	})
	impersonationsTotal.WithLabelValues("stop", outcome(err)).Inc()
	if err != nil {
		return idc, err
	}
	s.invalidate(restored.Actor.ID)

	s.logger.Infow("impersonation ended",
		"superadmin_id", restored.Actor.ID,
		"target_user_id", impersonated.ID,
		"session_id", idc.Frame.SessionID,
	)
	return restored, nil
}

func (s *impersonationService) EndOpenSession(ctx context.Context, superadmin identity.Principal, reason string) error {
	now := s.now()
	var ended *model.ImpersonationSession
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		session, err := s.sessions.Active(txCtx, superadmin.ID)
		if err != nil {
			if ierr.IsNotFound(err) {
				return nil
			}
			return err
		}
		if err := s.sessions.Close(txCtx, session.ID, now); err != nil {
			return err
		}
		ended = session

		entityName := ""
		if target, err := s.users.GetByID(txCtx, session.TargetUserID); err == nil {
			entityName = target.Username
		}
		return s.audit.Record(txCtx, identity.New(superadmin), AuditEntry{
			Action:     model.ActionImpersonationEnded,
			EntityID:   session.TargetUserID.String(),
			EntityName: entityName,
			Details: map[string]any{
				"target_user_id":   session.TargetUserID,
				"session_id":       session.ID,
				"duration_seconds": int64(now.Sub(session.StartedAt).Seconds()),
				"reason":           reason,
			},
		})
	})
	if err != nil {
		impersonationsTotal.WithLabelValues("stop", outcome(err)).Inc()
		return err
	}
	if ended == nil {
		return nil
	}
	impersonationsTotal.WithLabelValues("stop", outcome(nil)).Inc()
	s.invalidate(superadmin.ID)

	s.logger.Infow("open impersonation session closed",
		"superadmin_id", superadmin.ID,
		"target_user_id", ended.TargetUserID,
		"session_id", ended.ID,
		"reason", reason,
	)
	return nil
}
