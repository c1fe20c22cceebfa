package service

import (
	"context"
	"strings"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/model"
	"gatepass/internal/repository"

	"github.com/google/uuid"
)

type CreateUnitRequest struct {
	Code string `json:"code" binding:"required,max=20"`
	Name string `json:"name" binding:"required,max=100"`
}

type UpdateUnitRequest struct {
	Name   string `json:"name" binding:"omitempty,max=100"`
	Active *bool  `json:"active"`
}

// UnitService manages the catalog of units gatepass items may be declared in
type UnitService interface {
	ListUnits(ctx context.Context, activeOnly bool) ([]model.Unit, error)
	CreateUnit(ctx context.Context, idc identity.Context, req CreateUnitRequest) (*model.Unit, error)
	UpdateUnit(ctx context.Context, idc identity.Context, id uuid.UUID, req UpdateUnitRequest) (*model.Unit, error)
	DeleteUnit(ctx context.Context, idc identity.Context, id uuid.UUID) error
}

type unitService struct {
	tx    repository.TransactionManager
	repo  repository.UnitRepository
	audit AuditService
}

func NewUnitService(tx repository.TransactionManager, repo repository.UnitRepository, audit AuditService) UnitService {
	return &unitService{tx: tx, repo: repo, audit: audit}
}

func (s *unitService) ListUnits(ctx context.Context, activeOnly bool) ([]model.Unit, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *unitService) CreateUnit(ctx context.Context, idc identity.Context, req CreateUnitRequest) (*model.Unit, error) {
	unit := &model.Unit{
		Code:   strings.ToLower(strings.TrimSpace(req.Code)),
		Name:   strings.TrimSpace(req.Name),
		Active: true,
	}
	if unit.Code == "" || unit.Name == "" {
		return nil, ierr.NewError("unit code and name are required").
			WithHint("Unit code and name are required").
			Mark(ierr.ErrValidation)
	}

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, unit); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionUnitCreated,
			EntityID:   unit.ID.String(),
			EntityName: unit.Code,
			Details:    map[string]any{"name": unit.Name},
		})
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

func (s *unitService) UpdateUnit(ctx context.Context, idc identity.Context, id uuid.UUID, req UpdateUnitRequest) (*model.Unit, error) {
	var unit *model.Unit
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		unit, err = s.repo.FindByID(txCtx, id)
		if err != nil {
			return err
		}

		changes := map[string]any{}
		if name := strings.TrimSpace(req.Name); name != "" && name != unit.Name {
			changes["name"] = map[string]string{"from": unit.Name, "to": name}
			unit.Name = name
		}
		if req.Active != nil && *req.Active != unit.Active {
			changes["active"] = *req.Active
			unit.Active = *req.Active
		}
		if len(changes) == 0 {
			return nil
		}

		if err := s.repo.Update(txCtx, unit); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionUnitUpdated,
			EntityID:   unit.ID.String(),
			EntityName: unit.Code,
			Details:    changes,
		})
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// DeleteUnit removes a unit from the catalog. Existing items keep their unit code.
func (s *unitService) DeleteUnit(ctx context.Context, idc identity.Context, id uuid.UUID) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		unit, err := s.repo.FindByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(txCtx, id); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionUnitDeleted,
			EntityID:   unit.ID.String(),
			EntityName: unit.Code,
		})
	})
}
