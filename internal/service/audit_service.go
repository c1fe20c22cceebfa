package service

import (
	"context"
	"encoding/json"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/model"
	"gatepass/internal/repository"

	"github.com/google/uuid"
)

// AuditEntry is what a mutation wants recorded; actors and origin come from the identity context
type AuditEntry struct {
	Action     string
	EntityID   string
	EntityName string
	Details    map[string]any
}

type AuditQuery struct {
	ActorID  string
	EntityID string
	Action   string
	From     *time.Time
	To       *time.Time
	Search   string
	Page     int
	Limit    int
}

type AuditLogResponse struct {
	ID                string          `json:"id"`
	ActorID           string          `json:"actor_id"`
	ActorUsername     string          `json:"actor_username"`
	TrueActorID       string          `json:"true_actor_id"`
	TrueActorUsername string          `json:"true_actor_username"`
	Impersonated      bool            `json:"impersonated"`
	Action            string          `json:"action"`
	EntityID          string          `json:"entity_id"`
	EntityName        string          `json:"entity_name"`
	Details           json.RawMessage `json:"details"`
	IPAddress         string          `json:"ip_address,omitempty"`
	CreatedAt         string          `json:"created_at"`
}

type AuditService interface {
	// Record appends one audit record. Call it with the transaction context of
	// the mutation it describes so both commit or neither does.
	Record(ctx context.Context, idc identity.Context, entry AuditEntry) error
	GetAuditLogs(ctx context.Context, query AuditQuery) ([]AuditLogResponse, int64, error)
	ListAuditForGatepass(ctx context.Context, gatepassID uuid.UUID) ([]AuditLogResponse, error)
	ListAuditForUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]AuditLogResponse, error)
}

type auditService struct {
	repo   repository.AuditRepository
	logger *logger.Logger
	now    func() time.Time
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository, log *logger.Logger) AuditService {
	return &auditService{repo: repo, logger: log, now: time.Now}
}

func (s *auditService) Record(ctx context.Context, idc identity.Context, entry AuditEntry) error {
	details := "{}"
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to record audit trail").
				Mark(ierr.ErrAuditWrite)
		}
		details = string(raw)
	}

	actorID := idc.Actor.ID
	trueActorID := idc.TrueActor().ID
	record := &model.AuditLog{
		ActorID:     &actorID,
		TrueActorID: &trueActorID,
		Action:      entry.Action,
		EntityID:    entry.EntityID,
		EntityName:  entry.EntityName,
		Details:     details,
		IPAddress:   idc.Origin,
		CreatedAt:   s.now(),
	}

	if err := s.repo.Append(ctx, record); err != nil {
		s.logger.Errorw("audit append failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"actor_id", actorID,
			"true_actor_id", trueActorID,
			"error", err,
		)
		return ierr.WithError(err).
			WithHint("Failed to record audit trail, the change was not applied").
			WithReportableDetails(map[string]any{
				"action":    entry.Action,
				"entity_id": entry.EntityID,
			}).
			Mark(ierr.ErrAuditWrite)
	}
	return nil
}

func (s *auditService) GetAuditLogs(ctx context.Context, query AuditQuery) ([]AuditLogResponse, int64, error) {
	filter := repository.AuditFilter{
		EntityID: query.EntityID,
		Action:   query.Action,
		From:     query.From,
		To:       query.To,
		Search:   query.Search,
		Page:     query.Page,
		Limit:    query.Limit,
	}
	if query.ActorID != "" {
		actorID, err := uuid.Parse(query.ActorID)
		if err != nil {
			return nil, 0, ierr.WithError(err).
				WithHint("Invalid actor_id").
				Mark(ierr.ErrValidation)
		}
		filter.ActorID = &actorID
	}
	if err := validateRange(query.From, query.To); err != nil {
		return nil, 0, err
	}

	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return toAuditResponses(logs), total, nil
}

func (s *auditService) ListAuditForGatepass(ctx context.Context, gatepassID uuid.UUID) ([]AuditLogResponse, error) {
	logs, _, err := s.repo.List(ctx, repository.AuditFilter{EntityID: gatepassID.String()})
	if err != nil {
		return nil, err
	}
	return toAuditResponses(logs), nil
}

func (s *auditService) ListAuditForUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]AuditLogResponse, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	logs, _, err := s.repo.List(ctx, repository.AuditFilter{ActorID: &userID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return toAuditResponses(logs), nil
}

func validateRange(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return ierr.NewError("invalid date range").
			WithHint("'to' must not be before 'from'").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func toAuditResponses(logs []model.AuditLog) []AuditLogResponse {
	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		r := AuditLogResponse{
			ID:            l.ID.String(),
			ActorUsername: "System",
			Impersonated:  l.Impersonated(),
			Action:        l.Action,
			EntityID:      l.EntityID,
			EntityName:    l.EntityName,
			Details:       json.RawMessage(l.Details),
			IPAddress:     l.IPAddress,
			CreatedAt:     l.CreatedAt.Format(time.RFC3339),
		}
		if len(r.Details) == 0 {
			r.Details = json.RawMessage("{}")
		}
		if l.ActorID != nil {
			r.ActorID = l.ActorID.String()
		}
		if l.Actor != nil {
			r.ActorUsername = l.Actor.Username
		} else if name := deletedActor(l.Details); name != "" {
			r.ActorUsername = name
		}
		if l.TrueActorID != nil {
			r.TrueActorID = l.TrueActorID.String()
		}
		if l.TrueActor != nil {
			r.TrueActorUsername = l.TrueActor.Username
		}
		res = append(res, r)
	}
	return res
}

// deletedActor returns the username kept in details after the apparent actor was deleted
func deletedActor(details string) string {
	var d map[string]any
	if details == "" || json.Unmarshal([]byte(details), &d) != nil {
		return ""
	}
	name, _ := d[model.DetailDeletedActor].(string)
	return name
}
