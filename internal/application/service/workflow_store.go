package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/reimburse-approvals/internal/application/dispatcher"
	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
)

// WorkflowInput carries the editable fields of an approval workflow
type WorkflowInput struct {
	Name             string                   `json:"name"`
	Approvers        []string                 `json:"approvers"`
	ApprovalSequence []int                    `json:"approval_sequence"`
	ConditionalRules *entity.ConditionalRules `json:"conditional_rules"`
	IsActive         *bool                    `json:"is_active"`
}

// WorkflowStore exposes the active approval workflow of a company and the
// admin operations that maintain workflows. At most one workflow per
// company is active; activating one deactivates the rest.
type WorkflowStore interface {
	// GetActiveWorkflow returns the active workflow with approvers in
	// sequence order, or nil when none is usable.
	GetActiveWorkflow(ctx context.Context, companyID string) (*entity.ApprovalWorkflow, error)

	ListWorkflows(ctx context.Context, actor *entity.Principal) ([]*entity.ApprovalWorkflow, error)
	GetWorkflow(ctx context.Context, actor *entity.Principal, id string) (*entity.ApprovalWorkflow, error)
	CreateWorkflow(ctx context.Context, actor *entity.Principal, in WorkflowInput) (*entity.ApprovalWorkflow, error)
	UpdateWorkflow(ctx context.Context, actor *entity.Principal, id string, in WorkflowInput) (*entity.ApprovalWorkflow, error)
	SetActive(ctx context.Context, actor *entity.Principal, id string, active bool) (*entity.ApprovalWorkflow, error)
	DeleteWorkflow(ctx context.Context, actor *entity.Principal, id string) error
}

type workflowStoreImpl struct {
	workflowRepo  port.WorkflowRepository
	principalRepo port.PrincipalRepository
	txManager     port.TransactionManager
	publisher     dispatcher.Publisher
	logger        Logger
}

// NewWorkflowStore creates a new WorkflowStore
func NewWorkflowStore(
	workflowRepo port.WorkflowRepository,
	principalRepo port.PrincipalRepository,
	txManager port.TransactionManager,
	publisher dispatcher.Publisher,
	logger Logger,
) WorkflowStore {
	if publisher == nil {
		publisher = dispatcher.NopPublisher
	}
	return &workflowStoreImpl{
		workflowRepo:  workflowRepo,
		principalRepo: principalRepo,
		txManager:     txManager,
		publisher:     publisher,
		logger:        logger,
	}
}

func (s *workflowStoreImpl) GetActiveWorkflow(ctx context.Context, companyID string) (*entity.ApprovalWorkflow, error) {
	active, err := s.workflowRepo.ListActiveByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	if len(active) > 1 {
		s.logger.Warn("Multiple active workflows, using the earliest",
			"company_id", companyID,
			"workflow_id", active[0].ID,
			"active_count", len(active),
		)
	}

	w := active[0]
	ordered := w.OrderedApprovers()
	if len(ordered) == 0 {
		return nil, nil
	}

	cp := *w
	cp.Approvers = ordered
	cp.ApprovalSequence = make([]int, len(ordered))
	for i := range ordered {
		cp.ApprovalSequence[i] = i + 1
	}
	return &cp, nil
}

func (s *workflowStoreImpl) ListWorkflows(ctx context.Context, actor *entity.Principal) ([]*entity.ApprovalWorkflow, error) {
	if err := requireAdmin(actor, "manage workflows"); err != nil {
		return nil, err
	}
	return s.workflowRepo.ListByCompany(ctx, actor.CompanyID)
}

func (s *workflowStoreImpl) GetWorkflow(ctx context.Context, actor *entity.Principal, id string) (*entity.ApprovalWorkflow, error) {
	if err := requireAdmin(actor, "manage workflows"); err != nil {
		return nil, err
	}
	return s.load(ctx, actor, id)
}

func (s *workflowStoreImpl) CreateWorkflow(ctx context.Context, actor *entity.Principal, in WorkflowInput) (*entity.ApprovalWorkflow, error) {
	if err := requireAdmin(actor, "manage workflows"); err != nil {
		return nil, err
	}

	w := &entity.ApprovalWorkflow{CompanyID: actor.CompanyID, IsActive: true}
	if in.IsActive != nil {
		w.IsActive = *in.IsActive
	}
	if err := s.apply(ctx, w, in); err != nil {
		return nil, err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.workflowRepo.Create(txCtx, w); err != nil {
			return err
		}
		if w.IsActive {
			return s.workflowRepo.DeactivateOthers(txCtx, w.CompanyID, w.ID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create workflow", "company_id", w.CompanyID, "error", err)
		return nil, persistence("create workflow", err)
	}

	s.logger.Info("Workflow created", "workflow_id", w.ID, "company_id", w.CompanyID, "active", w.IsActive)
	if w.IsActive {
		s.publishActivated(ctx, actor, w)
	}
	return w, nil
}

func (s *workflowStoreImpl) UpdateWorkflow(ctx context.Context, actor *entity.Principal, id string, in WorkflowInput) (*entity.ApprovalWorkflow, error) {
	if err := requireAdmin(actor, "manage workflows"); err != nil {
		return nil, err
	}
	w, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	wasActive := w.IsActive
	if in.IsActive != nil {
		w.IsActive = *in.IsActive
	}
	if err := s.apply(ctx, w, in); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.workflowRepo.Update(txCtx, w); err != nil {
			return err
		}
		if w.IsActive {
			return s.workflowRepo.DeactivateOthers(txCtx, w.CompanyID, w.ID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to update workflow", "workflow_id", id, "error", err)
		return nil, persistence("update workflow", err)
	}

	if w.IsActive && !wasActive {
		s.publishActivated(ctx, actor, w)
	}
	return w, nil
}

func (s *workflowStoreImpl) SetActive(ctx context.Context, actor *entity.Principal, id string, active bool) (*entity.ApprovalWorkflow, error) {
	if err := requireAdmin(actor, "manage workflows"); err != nil {
		return nil, err
	}
	w, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.workflowRepo.SetActive(txCtx, id, active); err != nil {
			return err
		}
		if active {
			return s.workflowRepo.DeactivateOthers(txCtx, w.CompanyID, id)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to toggle workflow", "workflow_id", id, "error", err)
		return nil, persistence("toggle workflow", err)
	}

	w.IsActive = active
	if active {
		s.publishActivated(ctx, actor, w)
	}
	return w, nil
}

func (s *workflowStoreImpl) DeleteWorkflow(ctx context.Context, actor *entity.Principal, id string) error {
	if err := requireAdmin(actor, "manage workflows"); err != nil {
		return err
	}
	if _, err := s.load(ctx, actor, id); err != nil {
		return err
	}
	if err := s.workflowRepo.Delete(ctx, id); err != nil {
		return persistence("delete workflow", err)
	}
	s.logger.Info("Workflow deleted", "workflow_id", id)
	return nil
}

func (s *workflowStoreImpl) load(ctx context.Context, actor *entity.Principal, id string) (*entity.ApprovalWorkflow, error) {
	w, err := s.workflowRepo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("load workflow", err)
	}
	// workflows of other companies are invisible
	if w == nil || w.CompanyID != actor.CompanyID {
		return nil, notFoundf("workflow %s", id)
	}
	return w, nil
}

// apply validates in and copies it onto w
func (s *workflowStoreImpl) apply(ctx context.Context, w *entity.ApprovalWorkflow, in WorkflowInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return validationf("workflow name is required")
	}
	if len(in.Approvers) == 0 {
		return validationf("at least one approver is required")
	}

	seen := make(map[string]bool, len(in.Approvers))
	for _, id := range in.Approvers {
		if id == "" {
			return validationf("approver id is empty")
		}
		if seen[id] {
			return validationf("approver %s listed twice", id)
		}
		seen[id] = true

		p, err := s.principalRepo.GetByID(ctx, id)
		if err != nil {
			return persistence("load approver", err)
		}
		if p == nil || p.CompanyID != w.CompanyID {
			return validationf("approver %s is not a member of the company", id)
		}
		if !p.CanApprove() {
			return validationf("approver %s is not approval-eligible", id)
		}
	}

	sequence, err := normalizeSequence(in.Approvers, in.ApprovalSequence)
	if err != nil {
		return err
	}
	if err := validateRules(in.ConditionalRules, seen); err != nil {
		return err
	}

	w.Name = name
	w.Approvers = append([]string(nil), in.Approvers...)
	w.ApprovalSequence = sequence
	w.ConditionalRules = in.ConditionalRules
	return nil
}

func (s *workflowStoreImpl) publishActivated(ctx context.Context, actor *entity.Principal, w *entity.ApprovalWorkflow) {
	s.publisher.Publish(ctx, event.NewEvent(event.TypeWorkflowActivated, "", actor.ID, map[string]interface{}{
		"workflow_id": w.ID,
		"company_id":  w.CompanyID,
	}))
}

// normalizeSequence defaults to 1..n by position. A supplied sequence must
// be parallel to approvers with unique positive entries.
func normalizeSequence(approvers []string, sequence []int) ([]int, error) {
	if len(sequence) == 0 {
		out := make([]int, len(approvers))
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}
	if len(sequence) != len(approvers) {
		return nil, validationf("approval sequence has %d entries for %d approvers", len(sequence), len(approvers))
	}

	sorted := append([]int(nil), sequence...)
	sort.Ints(sorted)
	for i, n := range sorted {
		if n <= 0 {
			return nil, validationf("approval sequence entries must be positive")
		}
		if i > 0 && sorted[i-1] == n {
			return nil, validationf("approval sequence entry %d repeats", n)
		}
	}
	return append([]int(nil), sequence...), nil
}

func validateRules(rules *entity.ConditionalRules, approvers map[string]bool) error {
	if rules == nil {
		return nil
	}

	needPct, needSpecific := false, false
	switch rules.Type {
	case entity.RuleTypePercentage:
		needPct = true
	case entity.RuleTypeSpecificApprover:
		needSpecific = true
	case entity.RuleTypeHybrid:
		needPct, needSpecific = true, true
	default:
		return validationf("unknown conditional rule type %q", rules.Type)
	}

	if needPct {
		if rules.Percentage == nil {
			return validationf("percentage rule requires a percentage")
		}
		if *rules.Percentage < 0 || *rules.Percentage > 100 {
			return validationf("percentage must be between 0 and 100")
		}
	}
	if needSpecific {
		if rules.SpecificApproverID == nil || !approvers[*rules.SpecificApproverID] {
			return validationf("specific approver must be one of the workflow approvers")
		}
	}
	return nil
}

func requireAdmin(actor *entity.Principal, what string) error {
	if actor == nil {
		return validationf("acting principal is required")
	}
	if !actor.IsAdmin() {
		return authorizationf("only admins may %s", what)
	}
	return nil
}
