package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"taxcore/internal/apperr"
	"taxcore/internal/model"
	"taxcore/internal/repository"
	"taxcore/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Events published after a committed configuration change
const (
	EventTaxChanged        = "tax.changed"
	EventTaxGroupChanged   = "tax_group.changed"
	EventTaxGroupDeleted   = "tax_group.deleted"
	EventTaxRateChanged    = "tax_rate.changed"
	EventAssignmentChanged = "tax_assignment.changed"
)

// --- DTOs ---

type CreateTaxRequest struct {
	OwnerType   string `json:"owner_type" binding:"required,oneof=system merchant franchise"`
	OwnerID     string `json:"owner_id"` // required unless owner_type is system
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug"` // derived from name when empty
	Description string `json:"description"`
}

type CreateTaxGroupRequest struct {
	OwnerType   string `json:"owner_type" binding:"required,oneof=system merchant franchise"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type CreateTaxRateRequest struct {
	TaxID       string `json:"tax_id" binding:"required"`
	Rate        string `json:"rate" binding:"required"` // decimal string; percent for percentage, amount for fixed
	Type        string `json:"type" binding:"required,oneof=percentage fixed"`
	IsInclusive bool   `json:"is_inclusive"`
	Priority    int    `json:"priority"`
	BasedOn     string `json:"based_on" binding:"omitempty,oneof=subtotal total_after_previous_tax"`
	ValidFrom   string `json:"valid_from" binding:"required"` // RFC3339 or YYYY-MM-DD
	ValidUntil  string `json:"valid_until"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
}

type ExpireTaxRateRequest struct {
	ValidUntil string `json:"valid_until" binding:"required"`
}

type AssignTaxGroupRequest struct {
	References []model.Reference `json:"references" binding:"required,min=1,dive"`
}

type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

type TaxResponse struct {
	ID          string  `json:"id"`
	OwnerType   string  `json:"owner_type"`
	OwnerID     *string `json:"owner_id"`
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	Description string  `json:"description"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at"`
}

type TaxGroupResponse struct {
	ID          string  `json:"id"`
	OwnerType   string  `json:"owner_type"`
	OwnerID     *string `json:"owner_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at"`
}

type TaxGroupDetailResponse struct {
	TaxGroupResponse
	Rates       []TaxRateResponse       `json:"rates"`
	Assignments []TaxAssignmentResponse `json:"assignments"`
}

type TaxRateResponse struct {
	ID          string  `json:"id"`
	TaxGroupID  string  `json:"tax_group_id"`
	TaxID       string  `json:"tax_id"`
	TaxName     string  `json:"tax_name"`
	Rate        string  `json:"rate"`
	Type        string  `json:"type"`
	IsInclusive bool    `json:"is_inclusive"`
	Priority    int     `json:"priority"`
	BasedOn     string  `json:"based_on"`
	ValidFrom   string  `json:"valid_from"`
	ValidUntil  *string `json:"valid_until"`
	MinPrice    *string `json:"min_price"`
	MaxPrice    *string `json:"max_price"`
}

type TaxAssignmentResponse struct {
	ID             string `json:"id"`
	TaxGroupID     string `json:"tax_group_id"`
	AssignableType string `json:"assignable_type"`
	AssignableID   string `json:"assignable_id"`
	IsGlobal       bool   `json:"is_global"`
	CreatedAt      string `json:"created_at"`
}

// --- Interface ---

// TaxService manages taxes, groups, rates and assignments. Every write runs in
// one transaction with its audit entry; affected cache entries are
// invalidated after commit.
type TaxService interface {
	CreateTax(ctx context.Context, actorID string, req CreateTaxRequest) (TaxResponse, error)
	ListTaxes(ctx context.Context, page, limit int) ([]TaxResponse, int64, error)
	SetTaxActive(ctx context.Context, actorID, id string, active bool) (TaxResponse, error)

	CreateGroup(ctx context.Context, actorID string, req CreateTaxGroupRequest) (TaxGroupResponse, error)
	GetGroup(ctx context.Context, id string) (TaxGroupDetailResponse, error)
	ListGroups(ctx context.Context, page, limit int) ([]TaxGroupResponse, int64, error)
	SetGroupActive(ctx context.Context, actorID, id string, active bool) (TaxGroupResponse, error)
	DeleteGroup(ctx context.Context, actorID, id string) (int64, error)

	CreateRate(ctx context.Context, actorID, groupID string, req CreateTaxRateRequest) (TaxRateResponse, error)
	ListRates(ctx context.Context, groupID string) ([]TaxRateResponse, error)
	ExpireRate(ctx context.Context, actorID, rateID string, req ExpireTaxRateRequest) (TaxRateResponse, error)

	CreateAssignment(ctx context.Context, actorID, groupID string, ref model.Reference) (TaxAssignmentResponse, error)
	AssignGroup(ctx context.Context, actorID, groupID string, req AssignTaxGroupRequest) ([]TaxAssignmentResponse, error)
	DeleteAssignment(ctx context.Context, actorID, id string) error
	DeleteAssignmentsForEntity(ctx context.Context, actorID string, ref model.Reference) (int64, error)
}

type taxService struct {
	rates       repository.RateRepository
	assignments repository.AssignmentRepository
	audit       repository.AuditRepository
	txManager   repository.TransactionManager
	cache       CacheInvalidator
	notifier    ChangeNotifier
	logger      *zap.Logger
}

func NewTaxService(
	rates repository.RateRepository,
	assignments repository.AssignmentRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	cache CacheInvalidator,
	notifier ChangeNotifier,
	logger *zap.Logger,
) TaxService {
	if cache == nil {
		cache = NoopInvalidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &taxService{
		rates:       rates,
		assignments: assignments,
		audit:       audit,
		txManager:   txManager,
		cache:       cache,
		notifier:    notifier,
		logger:      logger,
	}
}

// --- Taxes ---

func (s *taxService) CreateTax(ctx context.Context, actorID string, req CreateTaxRequest) (TaxResponse, error) {
	const op = "tax.create"

	ownerID, err := parseOwner(op, req.OwnerType, req.OwnerID)
	if err != nil {
		return TaxResponse{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return TaxResponse{}, apperr.Validation(op, "name is required")
	}
	slug := slugify(req.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	if slug == "" {
		return TaxResponse{}, apperr.Validation(op, "slug must contain at least one letter or digit")
	}

	tax := model.Tax{
		OwnerType:   req.OwnerType,
		OwnerID:     ownerID,
		Name:        name,
		Slug:        slug,
		Description: req.Description,
		IsActive:    true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		_, findErr := s.rates.FindTaxBySlug(txCtx, tax.OwnerType, tax.OwnerID, tax.Slug)
		if findErr == nil {
			return apperr.Conflict(op, "tax with slug '%s' already exists for this owner", tax.Slug)
		}
		if !apperr.Is(findErr, apperr.CodeNotFound) {
			return findErr
		}
		if err := s.rates.CreateTax(txCtx, &tax); err != nil {
			return err
		}
		return s.writeAudit(txCtx, actorID, model.ActionCreateTax, tax.ID.String(), tax.Name, req)
	})
	if err != nil {
		return TaxResponse{}, err
	}

	s.publish(EventTaxChanged, toTaxResponse(tax))
	return toTaxResponse(tax), nil
}

func (s *taxService) ListTaxes(ctx context.Context, page, limit int) ([]TaxResponse, int64, error) {
	page, limit = normalizePage(page, limit)
	taxes, total, err := s.rates.ListTaxes(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	res := make([]TaxResponse, 0, len(taxes))
	for _, t := range taxes {
		res = append(res, toTaxResponse(t))
	}
	return res, total, nil
}

// SetTaxActive toggles a tax. Every group holding a rate of this tax is
// invalidated since inactive taxes are skipped during selection.
func (s *taxService) SetTaxActive(ctx context.Context, actorID, id string, active bool) (TaxResponse, error) {
	const op = "tax.set_active"

	taxID, err := parseID(op, "tax", id)
	if err != nil {
		return TaxResponse{}, err
	}

	var tax *model.Tax
	var groupIDs []uuid.UUID
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.rates.SetTaxActive(txCtx, taxID, active); err != nil {
			return err
		}
		var err error
		if tax, err = s.rates.GetTax(txCtx, taxID); err != nil {
			return err
		}
		if groupIDs, err = s.rates.GroupIDsForTax(txCtx, taxID); err != nil {
			return err
		}
		return s.writeAudit(txCtx, actorID, model.ActionSetTaxActive, tax.ID.String(), tax.Name, map[string]bool{"is_active": active})
	})
	if err != nil {
		return TaxResponse{}, err
	}

	if err := s.invalidate(ctx, op, Invalidation{GroupIDs: groupIDs}); err != nil {
		return TaxResponse{}, err
	}
	s.publish(EventTaxChanged, toTaxResponse(*tax))
	return toTaxResponse(*tax), nil
}

// --- Groups ---

func (s *taxService) CreateGroup(ctx context.Context, actorID string, req CreateTaxGroupRequest) (TaxGroupResponse, error) {
	const op = "tax_group.create"

	ownerID, err := parseOwner(op, req.OwnerType, req.OwnerID)
	if err != nil {
		return TaxGroupResponse{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return TaxGroupResponse{}, apperr.Validation(op, "name is required")
	}

	group := model.TaxGroup{
		OwnerType:   req.OwnerType,
		OwnerID:     ownerID,
		Name:        name,
		Description: req.Description,
		IsActive:    true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.rates.CreateGroup(txCtx, &group); err != nil {
			return err
		}
		return s.writeAudit(txCtx, actorID, model.ActionCreateTaxGroup, group.ID.String(), group.Name, req)
	})
	if err != nil {
		return TaxGroupResponse{}, err
	}

	s.publish(EventTaxGroupChanged, toTaxGroupResponse(group))
	return toTaxGroupResponse(group), nil
}

func (s *taxService) GetGroup(ctx context.Context, id string) (TaxGroupDetailResponse, error) {
	const op = "tax_group.get"

	groupID, err := parseID(op, "tax group", id)
	if err != nil {
		return TaxGroupDetailResponse{}, err
	}
	group, err := s.rates.GetGroup(ctx, groupID)
	if err != nil {
		return TaxGroupDetailResponse{}, err
	}
	rates, err := s.rates.GetRates(ctx, groupID)
	if err != nil {
		return TaxGroupDetailResponse{}, err
	}
	assignments, err := s.assignments.FindByGroup(ctx, groupID)
	if err != nil {
		return TaxGroupDetailResponse{}, err
	}

	detail := TaxGroupDetailResponse{
		TaxGroupResponse: toTaxGroupResponse(*group),
		Rates:            make([]TaxRateResponse, 0, len(rates)),
		Assignments:      make([]TaxAssignmentResponse, 0, len(assignments)),
	}
	for _, r := range rates {
		detail.Rates = append(detail.Rates, toTaxRateResponse(r))
	}
	for _, a := range assignments {
		detail.Assignments = append(detail.Assignments, toTaxAssignmentResponse(a))
	}
	return detail, nil
}

func (s *taxService) ListGroups(ctx context.Context, page, limit int) ([]TaxGroupResponse, int64, error) {
	page, limit = normalizePage(page, limit)
	groups, total, err := s.rates.ListGroups(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	res := make([]TaxGroupResponse, 0, len(groups))
	for _, g := range groups {
		res = append(res, toTaxGroupResponse(g))
	}
	return res, total, nil
}

func (s *taxService) SetGroupActive(ctx context.Context, actorID, id string, active bool) (TaxGroupResponse, error) {
	const op = "tax_group.set_active"

	groupID, err := parseID(op, "tax group", id)
	if err != nil {
		return TaxGroupResponse{}, err
	}

	var group *model.TaxGroup
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.rates.SetGroupActive(txCtx, groupID, active); err != nil {
			return err
		}
		var err error
		if group, err = s.rates.GetGroup(txCtx, groupID); err != nil {
			return err
		}
		return s.writeAudit(txCtx, actorID, model.ActionSetTaxGroupActive, group.ID.String(), group.Name, map[string]bool{"is_active": active})
	})
	if err != nil {
		return TaxGroupResponse{}, err
	}

	if err := s.invalidate(ctx, op, Invalidation{GroupIDs: []uuid.UUID{groupID}}); err != nil {
		return TaxGroupResponse{}, err
	}
	s.publish(EventTaxGroupChanged, toTaxGroupResponse(*group))
	return toTaxGroupResponse(*group), nil
}

// DeleteGroup removes the group, its rates and its assignments in one
// transaction and returns the number of rows removed. Every entity that was
// linked to the group is invalidated along with the group itself.
func (s *taxService) DeleteGroup(ctx context.Context, actorID, id string) (int64, error) {
	const op = "tax_group.delete"

	groupID, err := parseID(op, "tax group", id)
	if err != nil {
		return 0, err
	}

	var removed int64
	var linked []model.TaxAssignment
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		group, err := s.rates.GetGroup(txCtx, groupID)
		if err != nil {
			return err
		}
		if linked, err = s.assignments.FindByGroup(txCtx, groupID); err != nil {
			return err
		}
		if removed, err = s.rates.DeleteGroup(txCtx, groupID); err != nil {
			return err
		}
		return s.writeAudit(txCtx, actorID, model.ActionDeleteTaxGroup, group.ID.String(), group.Name, map[string]interface{}{
			"rows_removed": removed,
			"assignments":  len(linked),
		})
	})
	if err != nil {
		return 0, err
	}

	inv := Invalidation{GroupIDs: []uuid.UUID{groupID}, References: referencesOf(linked)}
	if err := s.invalidate(ctx, op, inv); err != nil {
		return 0, err
	}
	s.publish(EventTaxGroupDeleted, map[string]interface{}{"id": groupID.String(), "rows_removed": removed})
	return removed, nil
}

// --- Rates ---

func (s *taxService) CreateRate(ctx context.Context, actorID, groupID string, req CreateTaxRateRequest) (TaxRateResponse, error) {
	const op = "tax_rate.create"

	gid, err := parseID(op, "tax group", groupID)
	if err != nil {
		return TaxRateResponse{}, err
	}
	rate, err := parseRateRequest(op, req)
	if err != nil {
		return TaxRateResponse{}, err
	}
	rate.TaxGroupID = gid

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.rates.GetGroup(txCtx, gid); err != nil {
			return err
		}
		tax, err := s.rates.GetTax(txCtx, rate.TaxID)
		if err != nil {
			return err
		}
		if err := s.rates.CreateRate(txCtx, &rate); err != nil {
			return err
		}
		rate.Tax = tax
		return s.writeAudit(txCtx, actorID, model.ActionCreateTaxRate, rate.ID.String(), tax.Name, req)
	})
	if err != nil {
		return TaxRateResponse{}, err
	}

	if err := s.invalidate(ctx, op, Invalidation{GroupIDs: []uuid.UUID{gid}}); err != nil {
		return TaxRateResponse{}, err
	}
	s.publish(EventTaxRateChanged, toTaxRateResponse(rate))
	return toTaxRateResponse(rate), nil
}

func (s *taxService) ListRates(ctx context.Context, groupID string) ([]TaxRateResponse, error) {
	const op = "tax_rate.list"

	gid, err := parseID(op, "tax group", groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.rates.GetGroup(ctx, gid); err != nil {
		return nil, err
	}
	rates, err := s.rates.GetRates(ctx, gid)
	if err != nil {
		return nil, err
	}
	res := make([]TaxRateResponse, 0, len(rates))
	for _, r := range rates {
		res = append(res, toTaxRateResponse(r))
	}
	return res, nil
}

// ExpireRate closes the validity window of a rate. Rates are versioned by
// appending new rows, so this is the only change allowed on an existing
// rate, and it may only shorten the window.
func (s *taxService) ExpireRate(ctx context.Context, actorID, rateID string, req ExpireTaxRateRequest) (TaxRateResponse, error) {
	const op = "tax_rate.expire"

	rid, err := parseID(op, "tax rate", rateID)
	if err != nil {
		return TaxRateResponse{}, err
	}
	until, err := parseTimestamp(req.ValidUntil)
	if err != nil {
		return TaxRateResponse{}, apperr.Validation(op, "invalid valid_until: %v", err)
	}

	var rate *model.TaxRate
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if rate, err = s.rates.GetRate(txCtx, rid); err != nil {
			return err
		}
		if !rate.ValidFrom.Before(until) {
			return apperr.Validation(op, "valid_until must be after valid_from (%s)", rate.ValidFrom.Format(time.RFC3339))
		}
		if rate.ValidUntil != nil && until.After(*rate.ValidUntil) {
			return apperr.Validation(op, "rate already expires at %s; create a new rate to extend it", rate.ValidUntil.Format(time.RFC3339))
		}
		if err := s.rates.ExpireRate(txCtx, rid, until); err != nil {
			return err
		}
		rate.ValidUntil = &until
		return s.writeAudit(txCtx, actorID, model.ActionExpireTaxRate, rate.ID.String(), taxNameOf(*rate), req)
	})
	if err != nil {
		return TaxRateResponse{}, err
	}

	if err := s.invalidate(ctx, op, Invalidation{GroupIDs: []uuid.UUID{rate.TaxGroupID}}); err != nil {
		return TaxRateResponse{}, err
	}
	s.publish(EventTaxRateChanged, toTaxRateResponse(*rate))
	return toTaxRateResponse(*rate), nil
}

// --- Assignments ---

func (s *taxService) CreateAssignment(ctx context.Context, actorID, groupID string, ref model.Reference) (TaxAssignmentResponse, error) {
	created, err := s.AssignGroup(ctx, actorID, groupID, AssignTaxGroupRequest{References: []model.Reference{ref}})
	if err != nil {
		return TaxAssignmentResponse{}, err
	}
	return created[0], nil
}

// AssignGroup links the group to every reference in one transaction. A
// duplicate link anywhere in the batch fails the whole batch with a conflict.
// The id "all" creates a global assignment for the reference type.
func (s *taxService) AssignGroup(ctx context.Context, actorID, groupID string, req AssignTaxGroupRequest) ([]TaxAssignmentResponse, error) {
	const op = "tax_assignment.create"

	gid, err := parseID(op, "tax group", groupID)
	if err != nil {
		return nil, err
	}
	if len(req.References) == 0 {
		return nil, apperr.Validation(op, "at least one reference is required")
	}

	rows := make([]*model.TaxAssignment, 0, len(req.References))
	seen := make(map[model.Reference]bool, len(req.References))
	for _, raw := range req.References {
		ref := raw.Normalize()
		if ref.Type == "" || ref.ID == "" {
			return nil, apperr.Validation(op, "reference type and id are required")
		}
		if seen[ref] {
			return nil, apperr.Conflict(op, "reference %s appears more than once in the request", ref)
		}
		seen[ref] = true

		row := &model.TaxAssignment{TaxGroupID: gid, AssignableType: ref.Type, AssignableID: ref.ID}
		if ref.IsGlobal() {
			row.AssignableID = ""
			row.IsGlobal = true
		}
		rows = append(rows, row)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		group, err := s.rates.GetGroup(txCtx, gid)
		if err != nil {
			return err
		}
		if err := s.assignments.CreateBatch(txCtx, rows); err != nil {
			return err
		}
		return s.writeAudit(txCtx, actorID, model.ActionAssignTaxGroup, group.ID.String(), group.Name, req)
	})
	if err != nil {
		return nil, err
	}

	res := make([]TaxAssignmentResponse, 0, len(rows))
	refs := make([]model.Reference, 0, len(rows))
	for _, row := range rows {
		res = append(res, toTaxAssignmentResponse(*row))
		refs = append(refs, row.Reference())
	}

	if err := s.invalidate(ctx, op, Invalidation{GroupIDs: []uuid.UUID{gid}, References: refs}); err != nil {
		return nil, err
	}
	s.publish(EventAssignmentChanged, res)
	return res, nil
}

func (s *taxService) DeleteAssignment(ctx context.Context, actorID, id string) error {
	const op = "tax_assignment.delete"

	aid, err := parseID(op, "tax assignment", id)
	if err != nil {
		return err
	}

	var assignment *model.TaxAssignment
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if assignment, err = s.assignments.Get(txCtx, aid); err != nil {
			return err
		}
		if err := s.assignments.Delete(txCtx, aid); err != nil {
			return err
		}
		return s.writeAudit(txCtx, actorID, model.ActionDeleteTaxAssignment, assignment.ID.String(), assignment.Reference().String(), assignment)
	})
	if err != nil {
		return err
	}

	inv := Invalidation{GroupIDs: []uuid.UUID{assignment.TaxGroupID}, References: []model.Reference{assignment.Reference()}}
	if err := s.invalidate(ctx, op, inv); err != nil {
		return err
	}
	s.publish(EventAssignmentChanged, toTaxAssignmentResponse(*assignment))
	return nil
}

// DeleteAssignmentsForEntity is called when an entity is deleted elsewhere in
// the platform. It removes the entity's direct assignments.
func (s *taxService) DeleteAssignmentsForEntity(ctx context.Context, actorID string, ref model.Reference) (int64, error) {
	const op = "tax_assignment.delete_for_entity"

	ref = ref.Normalize()
	if ref.Type == "" || ref.ID == "" {
		return 0, apperr.Validation(op, "reference type and id are required")
	}
	if ref.IsGlobal() {
		return 0, apperr.Validation(op, "'%s' is not an entity id; delete global assignments individually", model.GlobalAssignableID)
	}

	var removed []model.TaxAssignment
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if removed, err = s.assignments.DeleteByReference(txCtx, ref); err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		return s.writeAudit(txCtx, actorID, model.ActionDeleteEntityTaxLinks, ref.ID, ref.String(), map[string]int{"removed": len(removed)})
	})
	if err != nil {
		return 0, err
	}

	groupIDs := make([]uuid.UUID, 0, len(removed))
	for _, a := range removed {
		groupIDs = append(groupIDs, a.TaxGroupID)
	}
	if err := s.invalidate(ctx, op, Invalidation{GroupIDs: groupIDs, References: []model.Reference{ref}}); err != nil {
		return 0, err
	}
	if len(removed) > 0 {
		s.publish(EventAssignmentChanged, map[string]interface{}{"reference": ref, "removed": len(removed)})
	}
	return int64(len(removed)), nil
}

// --- Helpers ---

func (s *taxService) invalidate(ctx context.Context, op string, inv Invalidation) error {
	if err := s.cache.Invalidate(ctx, inv); err != nil {
		s.logger.Error("cache invalidation failed after commit",
			zap.String("op", op),
			zap.Int("groups", len(inv.GroupIDs)),
			zap.Int("references", len(inv.References)),
			zap.Error(err),
		)
		return apperr.Unavailable(err, op, "change saved but tax cache could not be invalidated; retry the request")
	}
	return nil
}

func (s *taxService) publish(event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Publish(event, payload)
	}
}

func (s *taxService) writeAudit(ctx context.Context, actorID, action, entityID, entityName string, details interface{}) error {
	detailsJSON, _ := json.Marshal(details)

	entry := &model.AuditLog{
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(detailsJSON),
	}
	if parsed, err := uuid.Parse(actorID); err == nil {
		entry.ActorID = &parsed
	}
	return s.audit.Log(ctx, entry)
}

func parseID(op, resource, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.Validation(op, "invalid %s id: %s", resource, raw)
	}
	return id, nil
}

func parseOwner(op, ownerType, rawOwnerID string) (*uuid.UUID, error) {
	rawOwnerID = strings.TrimSpace(rawOwnerID)
	switch ownerType {
	case model.OwnerTypeSystem:
		if rawOwnerID != "" {
			return nil, apperr.Validation(op, "system owned records must not carry an owner_id")
		}
		return nil, nil
	case model.OwnerTypeMerchant, model.OwnerTypeFranchise:
		if rawOwnerID == "" {
			return nil, apperr.Validation(op, "owner_id is required for owner_type %s", ownerType)
		}
		id, err := uuid.Parse(rawOwnerID)
		if err != nil {
			return nil, apperr.Validation(op, "invalid owner_id: %s", rawOwnerID)
		}
		return &id, nil
	}
	return nil, apperr.Validation(op, "unknown owner_type '%s'", ownerType)
}

// parseRateRequest validates every field and the window/tier invariants.
func parseRateRequest(op string, req CreateTaxRateRequest) (model.TaxRate, error) {
	taxID, err := parseID(op, "tax", req.TaxID)
	if err != nil {
		return model.TaxRate{}, err
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(req.Rate))
	if err != nil {
		return model.TaxRate{}, apperr.Validation(op, "invalid rate value: %s", req.Rate)
	}
	if rate.IsNegative() {
		return model.TaxRate{}, apperr.Validation(op, "rate must not be negative")
	}

	switch req.Type {
	case model.RateTypePercentage, model.RateTypeFixed:
	default:
		return model.TaxRate{}, apperr.Validation(op, "type must be percentage or fixed")
	}

	basedOn := req.BasedOn
	if basedOn == "" {
		basedOn = model.BasedOnSubtotal
	}
	if basedOn != model.BasedOnSubtotal && basedOn != model.BasedOnTotalAfterPreviousTax {
		return model.TaxRate{}, apperr.Validation(op, "based_on must be subtotal or total_after_previous_tax")
	}

	validFrom, err := parseTimestamp(req.ValidFrom)
	if err != nil {
		return model.TaxRate{}, apperr.Validation(op, "invalid valid_from: %v", err)
	}
	var validUntil *time.Time
	if strings.TrimSpace(req.ValidUntil) != "" {
		t, err := parseTimestamp(req.ValidUntil)
		if err != nil {
			return model.TaxRate{}, apperr.Validation(op, "invalid valid_until: %v", err)
		}
		if !validFrom.Before(t) {
			return model.TaxRate{}, apperr.Validation(op, "valid_from must be before valid_until")
		}
		validUntil = &t
	}

	minPrice, err := parseOptionalAmount(op, "min_price", req.MinPrice)
	if err != nil {
		return model.TaxRate{}, err
	}
	maxPrice, err := parseOptionalAmount(op, "max_price", req.MaxPrice)
	if err != nil {
		return model.TaxRate{}, err
	}
	if minPrice != nil && maxPrice != nil && minPrice.GreaterThan(*maxPrice) {
		return model.TaxRate{}, apperr.Validation(op, "min_price must not exceed max_price")
	}

	return model.TaxRate{
		TaxID:       taxID,
		Rate:        rate,
		Type:        req.Type,
		IsInclusive: req.IsInclusive,
		Priority:    req.Priority,
		BasedOn:     basedOn,
		ValidFrom:   validFrom,
		ValidUntil:  validUntil,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
	}, nil
}

func parseOptionalAmount(op, field, raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, apperr.Validation(op, "invalid %s: %s", field, raw)
	}
	if d.IsNegative() {
		return nil, apperr.Validation(op, "%s must not be negative", field)
	}
	return &d, nil
}

// parseTimestamp accepts RFC3339 or a bare YYYY-MM-DD date (midnight UTC).
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}

func normalizePage(page, limit int) (int, int) {
	p := pagination.Normalize(page, limit)
	return p.Page, p.Limit
}

func referencesOf(assignments []model.TaxAssignment) []model.Reference {
	refs := make([]model.Reference, 0, len(assignments))
	for _, a := range assignments {
		refs = append(refs, a.Reference())
	}
	return refs
}

func taxNameOf(r model.TaxRate) string {
	if r.Tax != nil {
		return r.Tax.Name
	}
	return r.TaxID.String()
}

func ownerIDString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toTaxResponse(t model.Tax) TaxResponse {
	return TaxResponse{
		ID:          t.ID.String(),
		OwnerType:   t.OwnerType,
		OwnerID:     ownerIDString(t.OwnerID),
		Name:        t.Name,
		Slug:        t.Slug,
		Description: t.Description,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
}

func toTaxGroupResponse(g model.TaxGroup) TaxGroupResponse {
	return TaxGroupResponse{
		ID:          g.ID.String(),
		OwnerType:   g.OwnerType,
		OwnerID:     ownerIDString(g.OwnerID),
		Name:        g.Name,
		Description: g.Description,
		IsActive:    g.IsActive,
		CreatedAt:   g.CreatedAt.Format(time.RFC3339),
	}
}

func toTaxRateResponse(r model.TaxRate) TaxRateResponse {
	resp := TaxRateResponse{
		ID:          r.ID.String(),
		TaxGroupID:  r.TaxGroupID.String(),
		TaxID:       r.TaxID.String(),
		Rate:        r.Rate.StringFixed(4),
		Type:        r.Type,
		IsInclusive: r.IsInclusive,
		Priority:    r.Priority,
		BasedOn:     r.BasedOn,
		ValidFrom:   r.ValidFrom.Format(time.RFC3339),
	}
	if r.Tax != nil {
		resp.TaxName = r.Tax.Name
	}
	if r.ValidUntil != nil {
		s := r.ValidUntil.Format(time.RFC3339)
		resp.ValidUntil = &s
	}
	if r.MinPrice != nil {
		s := r.MinPrice.StringFixed(4)
		resp.MinPrice = &s
	}
	if r.MaxPrice != nil {
		s := r.MaxPrice.StringFixed(4)
		resp.MaxPrice = &s
	}
	return resp
}

func toTaxAssignmentResponse(a model.TaxAssignment) TaxAssignmentResponse {
	return TaxAssignmentResponse{
		ID:             a.ID.String(),
		TaxGroupID:     a.TaxGroupID.String(),
		AssignableType: a.AssignableType,
		AssignableID:   a.AssignableID,
		IsGlobal:       a.IsGlobal,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}
