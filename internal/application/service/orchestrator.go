package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/reimburse-approvals/internal/application/dispatcher"
	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/application/workflow"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
)

// Outcome is the result of a recorded decision
type Outcome struct {
	Action    string `json:"action"`
	ExpenseID string `json:"expense_id"`

	// Finalized is true when no pending record is left for the expense
	Finalized bool `json:"finalized"`

	// Fallback is true when the record was synthesized for the acting
	// principal because none had been routed to them
	Fallback bool `json:"fallback"`
}

// ApprovalTrail is an expense with its approval records in sequence order
type ApprovalTrail struct {
	Expense   *entity.Expense           `json:"expense"`
	Approvals []*entity.ExpenseApproval `json:"approvals"`

	// RulesSatisfied reports whether the active workflow's conditional
	// rules accept the recorded decisions. Nil when no workflow applies.
	// Settlement does not consult it.
	RulesSatisfied *bool `json:"rules_satisfied,omitempty"`
}

// ApprovalOrchestrator is the entry point for approval decisions
type ApprovalOrchestrator interface {
	// Decide records action by acting on the expense. Approval records are
	// created on first use. Returns errors wrapping ErrValidation,
	// ErrAuthorization, ErrConflict, ErrNotFound or ErrPersistence, each
	// prefixed with the attempted action.
	Decide(ctx context.Context, expenseID string, acting *entity.Principal, action string, comments *string) (*Outcome, error)

	// ListPendingFor returns the approvals inbox of principal: expenses
	// holding one of its pending records or, for admins, every non-terminal
	// expense of the company.
	ListPendingFor(ctx context.Context, principal *entity.Principal) ([]*entity.PendingItem, error)

	// GetApprovalTrail returns the expense and its records. Visible to the
	// submitter, its approvers and the company's managers and admins.
	GetApprovalTrail(ctx context.Context, viewer *entity.Principal, expenseID string) (*ApprovalTrail, error)
}

type approvalOrchestratorImpl struct {
	expenseRepo     port.ExpenseRepository
	principalRepo   port.PrincipalRepository
	records         ApprovalRecordManager
	lifecycle       workflow.ExpenseLifecycle
	workflows       WorkflowStore
	publisher       dispatcher.Publisher
	fallbackEnabled bool
	logger          Logger
}

// OrchestratorOption configures the orchestrator
type OrchestratorOption func(*approvalOrchestratorImpl)

// WithFallbackApproval toggles the manager/admin escape hatch
func WithFallbackApproval(enabled bool) OrchestratorOption {
	return func(o *approvalOrchestratorImpl) {
		o.fallbackEnabled = enabled
	}
}

// WithOrchestratorPublisher sets the event publisher
func WithOrchestratorPublisher(p dispatcher.Publisher) OrchestratorOption {
	return func(o *approvalOrchestratorImpl) {
		o.publisher = p
	}
}

// WithWorkflowRules enables conditional-rule evaluation on approval trails
func WithWorkflowRules(store WorkflowStore) OrchestratorOption {
	return func(o *approvalOrchestratorImpl) {
		o.workflows = store
	}
}

// NewApprovalOrchestrator creates a new ApprovalOrchestrator
func NewApprovalOrchestrator(
	expenseRepo port.ExpenseRepository,
	principalRepo port.PrincipalRepository,
	records ApprovalRecordManager,
	lifecycle workflow.ExpenseLifecycle,
	logger Logger,
	opts ...OrchestratorOption,
) ApprovalOrchestrator {
	o := &approvalOrchestratorImpl{
		expenseRepo:     expenseRepo,
		principalRepo:   principalRepo,
		records:         records,
		lifecycle:       lifecycle,
		publisher:       dispatcher.NopPublisher,
		fallbackEnabled: true,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *approvalOrchestratorImpl) Decide(ctx context.Context, expenseID string, acting *entity.Principal, action string, comments *string) (*Outcome, error) {
	verb := action
	if !entity.IsValidAction(action) {
		verb = "decide"
	}

	outcome, err := o.decide(ctx, strings.TrimSpace(expenseID), acting, action, comments)
	if err != nil {
		return nil, actionError(verb, err)
	}
	return outcome, nil
}

func (o *approvalOrchestratorImpl) decide(ctx context.Context, expenseID string, acting *entity.Principal, action string, comments *string) (*Outcome, error) {
	// 1. validate
	if expenseID == "" {
		return nil, validationf("expense id is required")
	}
	if acting == nil || acting.ID == "" {
		return nil, validationf("acting principal is required")
	}
	if !entity.IsValidAction(action) {
		return nil, validationf("action must be %q or %q", entity.ActionApprove, entity.ActionReject)
	}

	expense, err := o.loadExpense(ctx, acting, expenseID)
	if err != nil {
		return nil, err
	}

	// a plain employee with no claim on the expense is refused before any
	// write; managers and admins go on to the escape hatch
	if !expense.IsTerminal() && !acting.HasManagerRole() {
		routed, err := o.records.IsRoutedApprover(ctx, expense, acting)
		if err != nil {
			return nil, err
		}
		if !routed {
			return nil, authorizationf("not authorized to %s this expense", action)
		}
	}

	// 2. pending, tolerating a refused status write
	if _, err := o.lifecycle.EnsurePending(ctx, expense, acting.ID); err != nil {
		if errors.Is(err, workflow.ErrTerminalExpense) {
			return nil, fmt.Errorf("%w: expense %s is already %s", ErrConflict, expense.ID, expense.Status)
		}
		return nil, err
	}

	// 3. lazy record initialization. An unresolvable sequence is not fatal
	// here: the escape hatch below may still apply.
	if _, err := o.records.EnsureApprovalRecords(ctx, expense, acting); err != nil {
		if !errors.Is(err, ErrResolution) {
			return nil, err
		}
		o.logger.Warn("Approver resolution failed during decision",
			"expense_id", expense.ID,
			"acting_id", acting.ID,
			"error", err,
		)
	}

	// 4. the actor's pending record, or the escape hatch
	record, err := o.records.FindDecidableRecord(ctx, expense.ID, acting.ID)
	if err != nil {
		return nil, err
	}

	fallback := false
	if record == nil {
		if err := o.grantFallback(ctx, expense, acting, action); err != nil {
			return nil, err
		}
		fallback = true

		// 5. confirm
		record, err = o.records.FindDecidableRecord(ctx, expense.ID, acting.ID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, authorizationf("not authorized to %s this expense", action)
		}
	}

	// 6. decision
	decided, err := o.records.RecordDecision(ctx, record, action, comments)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Approval decision recorded",
		"expense_id", expense.ID,
		"approval_id", decided.ID,
		"approver_id", acting.ID,
		"action", action,
		"fallback", fallback,
	)
	o.publisher.Publish(ctx, event.NewEvent(event.TypeApprovalRecorded, expense.ID, acting.ID, map[string]interface{}{
		"approval_id":    decided.ID,
		"action":         action,
		"sequence_order": decided.SequenceOrder,
		"fallback":       fallback,
	}))

	// 7. fresh pending count after the write
	pending, err := o.records.CountPending(ctx, expense.ID)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		o.lifecycle.Settle(ctx, expense.ID, action, acting.ID)
	}

	// 8.
	return &Outcome{
		Action:    action,
		ExpenseID: expense.ID,
		Finalized: pending == 0,
		Fallback:  fallback,
	}, nil
}

// grantFallback handles an actor with no pending record. An actor whose
// record was already decided gets ErrConflict; an actor without any record
// gets one synthesized if it holds the manager or admin role.
func (o *approvalOrchestratorImpl) grantFallback(ctx context.Context, expense *entity.Expense, acting *entity.Principal, action string) error {
	records, err := o.records.ListForExpense(ctx, expense.ID)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.ApproverID == acting.ID {
			return fmt.Errorf("%w: %s already %s this expense", ErrConflict, acting.ID, r.Status)
		}
	}

	if !o.fallbackEnabled || !acting.HasManagerRole() {
		return authorizationf("not authorized to %s this expense", action)
	}

	rec, err := o.records.CreateFallbackRecord(ctx, expense.ID, acting.ID)
	if err != nil {
		return err
	}

	o.logger.Warn("Fallback approval granted",
		"expense_id", expense.ID,
		"approval_id", rec.ID,
		"acting_id", acting.ID,
		"acting_role", acting.Role,
		"existing_records", len(records),
	)
	o.publisher.Publish(ctx, event.NewEvent(event.TypeFallbackGranted, expense.ID, acting.ID, map[string]interface{}{
		"approval_id":      rec.ID,
		"role":             acting.Role,
		"existing_records": len(records),
	}))
	return nil
}

// loadExpense returns the expense if it belongs to the actor's company
func (o *approvalOrchestratorImpl) loadExpense(ctx context.Context, actor *entity.Principal, expenseID string) (*entity.Expense, error) {
	expense, err := o.expenseRepo.GetByID(ctx, expenseID)
	if err != nil {
		return nil, persistence("load expense", err)
	}
	if expense == nil {
		return nil, notFoundf("expense %s", expenseID)
	}

	employee, err := o.principalRepo.GetByID(ctx, expense.EmployeeID)
	if err != nil {
		return nil, persistence("load employee", err)
	}
	if employee == nil || employee.CompanyID != actor.CompanyID {
		return nil, notFoundf("expense %s", expenseID)
	}
	return expense, nil
}

func (o *approvalOrchestratorImpl) ListPendingFor(ctx context.Context, principal *entity.Principal) ([]*entity.PendingItem, error) {
	if principal == nil {
		return nil, validationf("principal is required")
	}
	if !principal.IsAdmin() {
		return o.records.ListPendingByApprover(ctx, principal.ID)
	}

	expenses, err := o.expenseRepo.List(ctx, entity.ExpenseFilter{
		CompanyID: principal.CompanyID,
		Statuses:  []string{entity.ExpenseStatusDraft, entity.ExpenseStatusPending},
	})
	if err != nil {
		return nil, persistence("list company expenses", err)
	}

	members, err := o.principalRepo.ListByCompany(ctx, principal.CompanyID)
	if err != nil {
		return nil, persistence("list company members", err)
	}
	byID := make(map[string]*entity.Principal, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	items := make([]*entity.PendingItem, 0, len(expenses))
	for _, e := range expenses {
		own, err := o.records.FindDecidableRecord(ctx, e.ID, principal.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, &entity.PendingItem{
			Approval: own,
			Expense:  e,
			Employee: byID[e.EmployeeID],
		})
	}
	return items, nil
}

func (o *approvalOrchestratorImpl) GetApprovalTrail(ctx context.Context, viewer *entity.Principal, expenseID string) (*ApprovalTrail, error) {
	if viewer == nil {
		return nil, validationf("principal is required")
	}
	expense, err := o.loadExpense(ctx, viewer, expenseID)
	if err != nil {
		return nil, err
	}

	approvals, err := o.records.ListForExpense(ctx, expense.ID)
	if err != nil {
		return nil, err
	}

	if !viewer.HasManagerRole() && expense.EmployeeID != viewer.ID && !hasApprover(approvals, viewer.ID) {
		return nil, authorizationf("not authorized to view expense %s", expenseID)
	}
	trail := &ApprovalTrail{Expense: expense, Approvals: approvals}
	trail.RulesSatisfied = o.evaluateRules(ctx, viewer.CompanyID, approvals)
	return trail, nil
}

func (o *approvalOrchestratorImpl) evaluateRules(ctx context.Context, companyID string, approvals []*entity.ExpenseApproval) *bool {
	if o.workflows == nil || len(approvals) == 0 {
		return nil
	}
	wf, err := o.workflows.GetActiveWorkflow(ctx, companyID)
	if err != nil {
		o.logger.Warn("Failed to load workflow for rule evaluation", "company_id", companyID, "error", err)
		return nil
	}
	if wf == nil || wf.ConditionalRules == nil {
		return nil
	}
	ok := wf.Satisfied(approvals)
	return &ok
}

func hasApprover(records []*entity.ExpenseApproval, id string) bool {
	for _, r := range records {
		if r.ApproverID == id {
			return true
		}
	}
	return false
}
