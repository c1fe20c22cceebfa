package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/logger"
	"gatepass/internal/model"
	"gatepass/internal/repository"
	"gatepass/internal/workflow"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	maxSequence         = 9999
	maxCreateAttempts   = 3
	requestedDateLayout = "2006-01-02"
)

var requestedTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// --- DTOs ---

type GatepassItemInput struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

type CreateGatepassRequest struct {
	FromLocation  string              `json:"from_location" binding:"required"`
	ToLocation    string              `json:"to_location" binding:"required"`
	MaterialType  string              `json:"material_type" binding:"required"`
	RequestedDate string              `json:"requested_date" binding:"required"` // YYYY-MM-DD
	RequestedTime string              `json:"requested_time"`                    // HH:MM
	Purpose       string              `json:"purpose"`
	Items         []GatepassItemInput `json:"items"`
}

type TransitionRequest struct {
	Action string `json:"action" binding:"required"`
	Reason string `json:"reason"`
}

type OverrideStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type UpdateItemsRequest struct {
	Items []GatepassItemInput `json:"items"`
}

type GatepassQuery struct {
	Status    string
	CreatedBy string
	From      *time.Time
	To        *time.Time
	Search    string
	Page      int
	Limit     int
}

type GatepassItemResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

type GatepassResponse struct {
	ID                   string                 `json:"id"`
	Number               string                 `json:"number"`
	Status               string                 `json:"status"`
	CreatedBy            string                 `json:"created_by"`
	CreatorName          string                 `json:"creator_name"`
	FromLocation         string                 `json:"from_location"`
	ToLocation           string                 `json:"to_location"`
	MaterialType         string                 `json:"material_type"`
	RequestedDate        string                 `json:"requested_date"`
	RequestedTime        string                 `json:"requested_time"`
	Purpose              string                 `json:"purpose"`
	AdminApprovedBy      *string                `json:"admin_approved_by"`
	AdminApproverName    string                 `json:"admin_approver_name,omitempty"`
	AdminApprovedAt      *time.Time             `json:"admin_approved_at"`
	SecurityApprovedBy   *string                `json:"security_approved_by"`
	SecurityApproverName string                 `json:"security_approver_name,omitempty"`
	SecurityApprovedAt   *time.Time             `json:"security_approved_at"`
	DeclinedBy           *string                `json:"declined_by"`
	DeclinerName         string                 `json:"decliner_name,omitempty"`
	DeclinedAt           *time.Time             `json:"declined_at"`
	DeclineReason        string                 `json:"decline_reason,omitempty"`
	Items                []GatepassItemResponse `json:"items"`
	AvailableActions     []string               `json:"available_actions"`
	CreatedAt            string                 `json:"created_at"`
	UpdatedAt            string                 `json:"updated_at"`
}

// --- Interface ---

type GatepassService interface {
	CreateGatepass(ctx context.Context, idc identity.Context, req CreateGatepassRequest) (*GatepassResponse, error)
	Transition(ctx context.Context, idc identity.Context, id uuid.UUID, action, reason string) (*GatepassResponse, error)
	OverrideStatus(ctx context.Context, idc identity.Context, id uuid.UUID, status, reason string) (*GatepassResponse, error)
	UpdateItems(ctx context.Context, idc identity.Context, id uuid.UUID, items []GatepassItemInput) (*GatepassResponse, error)
	DeleteGatepass(ctx context.Context, idc identity.Context, id uuid.UUID) error
	GetGatepass(ctx context.Context, idc identity.Context, id uuid.UUID) (*GatepassResponse, error)
	ListGatepasses(ctx context.Context, idc identity.Context, query GatepassQuery) ([]GatepassResponse, int64, error)
	ExportCSV(ctx context.Context, idc identity.Context, query GatepassQuery, w io.Writer) error
}

// GatepassConfig carries the numbering settings
type GatepassConfig struct {
	NumberPrefix string
	Location     *time.Location
}

type gatepassService struct {
	tx        repository.TransactionManager
	repo      repository.GatepassRepository
	users     repository.UserRepository
	units     repository.UnitRepository
	audit     AuditService
	publisher EventPublisher
	logger    *logger.Logger
	prefix    string
	loc       *time.Location
	now       func() time.Time
}

func NewGatepassService(
	tx repository.TransactionManager,
	repo repository.GatepassRepository,
	users repository.UserRepository,
	units repository.UnitRepository,
	audit AuditService,
	publisher EventPublisher,
	log *logger.Logger,
	cfg GatepassConfig,
) GatepassService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &gatepassService{
		tx:        tx,
		repo:      repo,
		users:     users,
		units:     units,
		audit:     audit,
		publisher: publisher,
		logger:    log,
		prefix:    cfg.NumberPrefix,
		loc:       loc,
		now:       time.Now,
	}
}

// --- Implementation ---

func (s *gatepassService) CreateGatepass(ctx context.Context, idc identity.Context, req CreateGatepassRequest) (*GatepassResponse, error) {
	if err := workflow.Authorize(workflow.OpCreate, idc); err != nil {
		return nil, err
	}

	requestedDate, err := s.validateCreate(&req)
	if err != nil {
		return nil, err
	}
	items, err := s.validateItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	creator, err := s.users.GetByID(ctx, idc.Actor.ID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if err != nil || !creator.IsActive() {
		return nil, ierr.NewError("creator is not an active user").
			WithHint("Only active users can create gatepasses").
			WithReportableDetails(map[string]any{"user_id": idc.Actor.ID}).
			Mark(ierr.ErrValidation)
	}

	var gp *model.Gatepass
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			gatepassNumberRetriesTotal.Inc()
		}

		gp = &model.Gatepass{
			Status:        model.GatepassStatusPending,
			CreatedBy:     idc.Actor.ID,
			FromLocation:  req.FromLocation,
			ToLocation:    req.ToLocation,
			MaterialType:  req.MaterialType,
			RequestedDate: requestedDate,
			RequestedTime: req.RequestedTime,
			Purpose:       req.Purpose,
			Items:         cloneItems(items),
		}

		err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			now := s.now()
			day := now.In(s.loc).Format("20060102")

			seq, err := s.repo.AllocateSequence(txCtx, s.prefix, day)
			if err != nil {
				return err
			}
			if seq > maxSequence {
				return ierr.NewErrorf("daily sequence exhausted for %s", day).
					WithHintf("No more gatepass numbers are available for %s", day).
					WithReportableDetails(map[string]any{"day": day, "max_sequence": maxSequence}).
					Mark(ierr.ErrValidation)
			}

			gp.Number = formatNumber(s.prefix, day, seq)
			gp.CreatedAt = now
			if err := s.repo.Create(txCtx, gp); err != nil {
				return err
			}

			return s.audit.Record(txCtx, idc, AuditEntry{
				Action:     model.ActionGatepassCreated,
				EntityID:   gp.ID.String(),
				EntityName: gp.Number,
				Details: map[string]any{
					"number":        gp.Number,
					"from_location": gp.FromLocation,
					"to_location":   gp.ToLocation,
					"material_type": gp.MaterialType,
					"items":         len(gp.Items),
				},
			})
		})
		if err != nil && !ierr.IsConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxCreateAttempts-1), ctx)); err != nil {
		if ierr.IsConflict(err) {
			s.logger.Warnw("gatepass number allocation kept colliding", "attempts", attempt, "error", err)
		}
		return nil, err
	}

	gatepassCreatedTotal.Inc()
	s.logger.Infow("gatepass created",
		"gatepass_id", gp.ID,
		"number", gp.Number,
		"actor_id", idc.Actor.ID,
		"true_actor_id", idc.TrueActor().ID,
	)

	res, err := s.reload(ctx, idc, gp.ID)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(EventGatepassCreated, res)
	return res, nil
}

func (s *gatepassService) Transition(ctx context.Context, idc identity.Context, id uuid.UUID, action, reason string) (*GatepassResponse, error) {
	var result workflow.Result
	var number string

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		gp, err := s.repo.FindByID(txCtx, id)
		if err != nil {
			return ierr.Annotate(err, map[string]any{"action": action})
		}
		number = gp.Number
		expected := gp.Status

		result, err = workflow.Apply(gp, action, idc, reason, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(txCtx, gp, expected); err != nil {
			return err
		}

		details := map[string]any{
			"action": action,
			"from":   result.From,
			"to":     result.To,
		}
		if gp.DeclineReason != "" && result.To == model.GatepassStatusDeclined {
			details["reason"] = gp.DeclineReason
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     result.AuditAction,
			EntityID:   gp.ID.String(),
			EntityName: gp.Number,
			Details:    details,
		})
	})
	gatepassTransitionsTotal.WithLabelValues(action, outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.logger.Infow("gatepass transitioned",
		"gatepass_id", id,
		"number", number,
		"action", action,
		"from", result.From,
		"to", result.To,
		"actor_id", idc.Actor.ID,
		"true_actor_id", idc.TrueActor().ID,
	)

	res, err := s.reload(ctx, idc, id)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(EventGatepassTransitioned, res)
	return res, nil
}

func (s *gatepassService) OverrideStatus(ctx context.Context, idc identity.Context, id uuid.UUID, status, reason string) (*GatepassResponse, error) {
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		gp, err := s.repo.FindByID(txCtx, id)
		if err != nil {
			return ierr.Annotate(err, map[string]any{"action": model.ActionStatusChanged})
		}
		expected := gp.Status

		result, err := workflow.Override(gp, status, idc, reason, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(txCtx, gp, expected); err != nil {
			return err
		}

		details := map[string]any{
			"from": result.From,
			"to":   result.To,
		}
		if r := strings.TrimSpace(reason); r != "" {
			details["reason"] = r
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     result.AuditAction,
			EntityID:   gp.ID.String(),
			EntityName: gp.Number,
			Details:    details,
		})
	})
	gatepassTransitionsTotal.WithLabelValues(workflow.OpOverrideStatus, outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	res, err := s.reload(ctx, idc, id)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(EventGatepassTransitioned, res)
	return res, nil
}

func (s *gatepassService) UpdateItems(ctx context.Context, idc identity.Context, id uuid.UUID, inputs []GatepassItemInput) (*GatepassResponse, error) {
	if err := workflow.Authorize(workflow.OpEditItems, idc); err != nil {
		return nil, err
	}
	items, err := s.validateItems(ctx, inputs)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		gp, err := s.repo.FindByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := s.repo.ReplaceItems(txCtx, id, items); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionGatepassItemsUpdated,
			EntityID:   gp.ID.String(),
			EntityName: gp.Number,
			Details: map[string]any{
				"before": itemSummary(gp.Items),
				"after":  itemSummary(items),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	res, err := s.reload(ctx, idc, id)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(EventGatepassUpdated, res)
	return res, nil
}

func (s *gatepassService) DeleteGatepass(ctx context.Context, idc identity.Context, id uuid.UUID) error {
	if err := workflow.Authorize(workflow.OpDelete, idc); err != nil {
		return err
	}

	var deleted GatepassDeletedEvent
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		gp, err := s.repo.FindByID(txCtx, id)
		if err != nil {
			return err
		}
		deleted = GatepassDeletedEvent{
			ID:        gp.ID.String(),
			Number:    gp.Number,
			Status:    gp.Status,
			CreatedBy: gp.CreatedBy.String(),
		}
		if err := s.repo.Delete(txCtx, id); err != nil {
			return err
		}
		return s.audit.Record(txCtx, idc, AuditEntry{
			Action:     model.ActionGatepassDeleted,
			EntityID:   gp.ID.String(),
			EntityName: gp.Number,
			Details: map[string]any{
				"status": gp.Status,
			},
		})
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(EventGatepassDeleted, deleted)
	return nil
}

func (s *gatepassService) GetGatepass(ctx context.Context, idc identity.Context, id uuid.UUID) (*GatepassResponse, error) {
	gp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(idc, gp) {
		return nil, ierr.NewError("gatepass not visible to caller").
			WithHint("gatepass not found").
			Mark(ierr.ErrNotFound)
	}
	res := toGatepassResponse(gp, idc.Actor.Role)
	return &res, nil
}

func (s *gatepassService) ListGatepasses(ctx context.Context, idc identity.Context, query GatepassQuery) ([]GatepassResponse, int64, error) {
	filter, err := s.scopedFilter(idc, query)
	if err != nil {
		return nil, 0, err
	}

	gatepasses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	res := lo.Map(gatepasses, func(gp model.Gatepass, _ int) GatepassResponse {
		return toGatepassResponse(&gp, idc.Actor.Role)
	})
	return res, total, nil
}

// ExportCSV writes every gatepass matching query, ignoring pagination.
func (s *gatepassService) ExportCSV(ctx context.Context, idc identity.Context, query GatepassQuery, w io.Writer) error {
	query.Page, query.Limit = 0, 0
	filter, err := s.scopedFilter(idc, query)
	if err != nil {
		return err
	}

	gatepasses, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{
		"number", "status", "created_by", "from_location", "to_location", "material_type",
		"requested_date", "requested_time", "purpose", "items",
		"admin_approved_at", "security_approved_at", "declined_at", "decline_reason", "created_at",
	}
	if err := cw.Write(header); err != nil {
		return ierr.WithError(err).WithHint("Failed to write export").Mark(ierr.ErrSystem)
	}

	for _, gp := range gatepasses {
		creator := gp.CreatedBy.String()
		if gp.Creator != nil {
			creator = gp.Creator.Username
		}
		row := []string{
			gp.Number,
			gp.Status,
			creator,
			gp.FromLocation,
			gp.ToLocation,
			gp.MaterialType,
			gp.RequestedDate.Format(requestedDateLayout),
			gp.RequestedTime,
			gp.Purpose,
			strings.Join(itemSummary(gp.Items), "; "),
			formatTimePtr(gp.AdminApprovedAt),
			formatTimePtr(gp.SecurityApprovedAt),
			formatTimePtr(gp.DeclinedAt),
			gp.DeclineReason,
			gp.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return ierr.WithError(err).WithHint("Failed to write export").Mark(ierr.ErrSystem)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return ierr.WithError(err).WithHint("Failed to write export").Mark(ierr.ErrSystem)
	}
	return nil
}

// --- Helpers ---

func (s *gatepassService) reload(ctx context.Context, idc identity.Context, id uuid.UUID) (*GatepassResponse, error) {
	gp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := toGatepassResponse(gp, idc.Actor.Role)
	return &res, nil
}

// scopedFilter narrows a query to what the acting role may see: users only
// their own gatepasses, security only gatepasses that passed admin approval.
func (s *gatepassService) scopedFilter(idc identity.Context, query GatepassQuery) (repository.GatepassFilter, error) {
	filter := repository.GatepassFilter{
		From:   query.From,
		To:     query.To,
		Search: strings.TrimSpace(query.Search),
		Page:   query.Page,
		Limit:  query.Limit,
	}
	if err := validateRange(query.From, query.To); err != nil {
		return filter, err
	}

	if query.Status != "" {
		if !model.IsValidGatepassStatus(query.Status) {
			return filter, ierr.NewErrorf("unknown status %q", query.Status).
				WithHintf("Unknown status %q", query.Status).
				Mark(ierr.ErrValidation)
		}
		filter.Statuses = []string{query.Status}
	}
	if query.CreatedBy != "" {
		createdBy, err := uuid.Parse(query.CreatedBy)
		if err != nil {
			return filter, ierr.WithError(err).WithHint("Invalid created_by").Mark(ierr.ErrValidation)
		}
		filter.CreatedBy = &createdBy
	}

	switch idc.Actor.Role {
	case model.RoleUser:
		own := idc.Actor.ID
		filter.CreatedBy = &own
	case model.RoleSecurity:
		visible := securityVisibleStatuses()
		if len(filter.Statuses) == 0 {
			filter.Statuses = visible
		} else {
			filter.Statuses = lo.Intersect(filter.Statuses, visible)
			if len(filter.Statuses) == 0 {
				// asked for a status security may not see
				filter.Statuses = []string{"-"}
			}
		}
	}
	return filter, nil
}

func securityVisibleStatuses() []string {
	return []string{
		model.GatepassStatusApprovedByAdmin,
		model.GatepassStatusApprovedBySecurity,
		model.GatepassStatusDeclined,
	}
}

func canView(idc identity.Context, gp *model.Gatepass) bool {
	return visibleTo(idc.Actor.Role, idc.Actor.ID.String(), gp.Status, gp.CreatedBy.String())
}

func (s *gatepassService) validateCreate(req *CreateGatepassRequest) (time.Time, error) {
	req.FromLocation = strings.TrimSpace(req.FromLocation)
	req.ToLocation = strings.TrimSpace(req.ToLocation)
	req.MaterialType = strings.TrimSpace(req.MaterialType)
	req.RequestedTime = strings.TrimSpace(req.RequestedTime)
	req.Purpose = strings.TrimSpace(req.Purpose)

	missing := lo.Filter([]lo.Tuple2[string, string]{
		lo.T2("from_location", req.FromLocation),
		lo.T2("to_location", req.ToLocation),
		lo.T2("material_type", req.MaterialType),
	}, func(f lo.Tuple2[string, string], _ int) bool { return f.B == "" })
	if len(missing) > 0 {
		fields := lo.Map(missing, func(f lo.Tuple2[string, string], _ int) string { return f.A })
		return time.Time{}, ierr.NewError("missing required fields").
			WithHintf("Missing required fields: %s", strings.Join(fields, ", ")).
			WithReportableDetails(map[string]any{"fields": fields}).
			Mark(ierr.ErrValidation)
	}

	requestedDate, err := time.ParseInLocation(requestedDateLayout, strings.TrimSpace(req.RequestedDate), s.loc)
	if err != nil {
		return time.Time{}, ierr.WithError(err).
			WithHint("requested_date must be formatted as YYYY-MM-DD").
			Mark(ierr.ErrValidation)
	}
	if req.RequestedTime != "" && !requestedTimePattern.MatchString(req.RequestedTime) {
		return time.Time{}, ierr.NewError("invalid requested_time").
			WithHint("requested_time must be formatted as HH:MM").
			Mark(ierr.ErrValidation)
	}
	return requestedDate, nil
}

func (s *gatepassService) validateItems(ctx context.Context, inputs []GatepassItemInput) ([]model.GatepassItem, error) {
	if len(inputs) == 0 {
		return nil, ierr.NewError("gatepass has no items").
			WithHint("A gatepass needs at least one item").
			Mark(ierr.ErrValidation)
	}

	items := make([]model.GatepassItem, 0, len(inputs))
	for i, in := range inputs {
		name := strings.TrimSpace(in.Name)
		unit := strings.TrimSpace(in.Unit)
		if name == "" {
			return nil, ierr.NewErrorf("item %d has no name", i).
				WithHintf("Item %d must have a name", i+1).
				WithReportableDetails(map[string]any{"item": i}).
				Mark(ierr.ErrValidation)
		}
		if !in.Quantity.IsPositive() {
			return nil, ierr.NewErrorf("item %d has non-positive quantity", i).
				WithHintf("Quantity of %q must be greater than zero", name).
				WithReportableDetails(map[string]any{"item": i, "quantity": in.Quantity.String()}).
				Mark(ierr.ErrValidation)
		}
		items = append(items, model.GatepassItem{Name: name, Quantity: in.Quantity, Unit: unit})
	}

	codes := lo.Uniq(lo.Map(items, func(it model.GatepassItem, _ int) string { return it.Unit }))
	active, err := s.units.FindActiveByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	known := lo.Map(active, func(u model.Unit, _ int) string { return u.Code })
	if unknown, _ := lo.Difference(codes, known); len(unknown) > 0 {
		return nil, ierr.NewErrorf("unknown units %v", unknown).
			WithHintf("Unknown unit(s): %s", strings.Join(unknown, ", ")).
			WithReportableDetails(map[string]any{"units": unknown}).
			Mark(ierr.ErrValidation)
	}
	return items, nil
}

func formatNumber(prefix, day string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day, seq)
}

func cloneItems(items []model.GatepassItem) []model.GatepassItem {
	return append([]model.GatepassItem(nil), items...)
}

func itemSummary(items []model.GatepassItem) []string {
	return lo.Map(items, func(it model.GatepassItem, _ int) string {
		return fmt.Sprintf("%s %s %s", it.Name, it.Quantity.String(), it.Unit)
	})
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toGatepassResponse(gp *model.Gatepass, role string) GatepassResponse {
	res := GatepassResponse{
		ID:                 gp.ID.String(),
		Number:             gp.Number,
		Status:             gp.Status,
		CreatedBy:          gp.CreatedBy.String(),
		FromLocation:       gp.FromLocation,
		ToLocation:         gp.ToLocation,
		MaterialType:       gp.MaterialType,
		RequestedDate:      gp.RequestedDate.Format(requestedDateLayout),
		RequestedTime:      gp.RequestedTime,
		Purpose:            gp.Purpose,
		AdminApprovedBy:    idString(gp.AdminApprovedBy),
		AdminApprovedAt:    gp.AdminApprovedAt,
		SecurityApprovedBy: idString(gp.SecurityApprovedBy),
		SecurityApprovedAt: gp.SecurityApprovedAt,
		DeclinedBy:         idString(gp.DeclinedBy),
		DeclinedAt:         gp.DeclinedAt,
		DeclineReason:      gp.DeclineReason,
		AvailableActions:   workflow.AvailableActions(gp.Status, role),
		CreatedAt:          gp.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          gp.UpdatedAt.Format(time.RFC3339),
	}
	if res.AvailableActions == nil {
		res.AvailableActions = []string{}
	}
	if gp.Creator != nil {
		res.CreatorName = gp.Creator.Username
	}
	if gp.AdminApprover != nil {
		res.AdminApproverName = gp.AdminApprover.Username
	}
	if gp.SecurityApprover != nil {
		res.SecurityApproverName = gp.SecurityApprover.Username
	}
	if gp.Decliner != nil {
		res.DeclinerName = gp.Decliner.Username
	}
	res.Items = lo.Map(gp.Items, func(it model.GatepassItem, _ int) GatepassItemResponse {
		return GatepassItemResponse{ID: it.ID.String(), Name: it.Name, Quantity: it.Quantity, Unit: it.Unit}
	})
	return res
}
