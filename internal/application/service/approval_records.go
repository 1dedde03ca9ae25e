package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/reimburse-approvals/internal/application/dispatcher"
	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
)

// ApprovalRecordManager owns creation and decision of ExpenseApproval records.
type ApprovalRecordManager interface {
	// EnsureApprovalRecords materializes pending records for an expense that
	// has none. The approver sequence comes from the company's active
	// workflow, or the directory resolver when no workflow is usable.
	// Returns ErrResolution when no approver exists; nothing is written then.
	EnsureApprovalRecords(ctx context.Context, expense *entity.Expense, acting *entity.Principal) (bool, error)

	// IsRoutedApprover reports whether acting holds a record on the expense
	// or, when none exist yet, would receive one. It writes nothing.
	IsRoutedApprover(ctx context.Context, expense *entity.Expense, acting *entity.Principal) (bool, error)

	// FindDecidableRecord returns the pending record of approverID, or nil.
	FindDecidableRecord(ctx context.Context, expenseID, approverID string) (*entity.ExpenseApproval, error)

	// RecordDecision settles a pending record. Returns ErrConflict when the
	// record was decided by someone else first.
	RecordDecision(ctx context.Context, record *entity.ExpenseApproval, action string, comments *string) (*entity.ExpenseApproval, error)

	CountPending(ctx context.Context, expenseID string) (int, error)

	// CreateFallbackRecord inserts a pending record for approverID at
	// sequence 1, returning the existing record if one is already there.
	CreateFallbackRecord(ctx context.Context, expenseID, approverID string) (*entity.ExpenseApproval, error)

	ListForExpense(ctx context.Context, expenseID string) ([]*entity.ExpenseApproval, error)

	// ListPendingByApprover returns the approver's pending records joined
	// with their expenses, oldest first.
	ListPendingByApprover(ctx context.Context, approverID string) ([]*entity.PendingItem, error)
}

type approvalRecordManagerImpl struct {
	approvalRepo  port.ApprovalRepository
	principalRepo port.PrincipalRepository
	workflows     WorkflowStore
	resolver      DirectoryResolver
	txManager     port.TransactionManager
	publisher     dispatcher.Publisher
	clock         Clock
	logger        Logger
}

// RecordManagerOption configures the record manager
type RecordManagerOption func(*approvalRecordManagerImpl)

// WithRecordClock overrides the decision timestamp source
func WithRecordClock(c Clock) RecordManagerOption {
	return func(m *approvalRecordManagerImpl) {
		m.clock = c
	}
}

// WithRecordPublisher sets the event publisher
func WithRecordPublisher(p dispatcher.Publisher) RecordManagerOption {
	return func(m *approvalRecordManagerImpl) {
		m.publisher = p
	}
}

// NewApprovalRecordManager creates a new ApprovalRecordManager
func NewApprovalRecordManager(
	approvalRepo port.ApprovalRepository,
	principalRepo port.PrincipalRepository,
	workflows WorkflowStore,
	resolver DirectoryResolver,
	txManager port.TransactionManager,
	logger Logger,
	opts ...RecordManagerOption,
) ApprovalRecordManager {
	m := &approvalRecordManagerImpl{
		approvalRepo:  approvalRepo,
		principalRepo: principalRepo,
		workflows:     workflows,
		resolver:      resolver,
		txManager:     txManager,
		publisher:     dispatcher.NopPublisher,
		clock:         systemClock,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *approvalRecordManagerImpl) EnsureApprovalRecords(ctx context.Context, expense *entity.Expense, acting *entity.Principal) (bool, error) {
	if expense == nil {
		return false, validationf("expense is required")
	}
	if expense.Status != entity.ExpenseStatusDraft && expense.Status != entity.ExpenseStatusPending {
		return false, nil
	}

	existing, err := m.approvalRepo.CountByExpense(ctx, expense.ID)
	if err != nil {
		return false, persistence("count approval records", err)
	}
	if existing > 0 {
		return false, nil
	}

	approvers, source, err := m.resolveApprovers(ctx, expense, acting)
	if err != nil {
		return false, err
	}
	if len(approvers) == 0 {
		m.logger.Error("No approver could be resolved",
			"expense_id", expense.ID,
			"employee_id", expense.EmployeeID,
		)
		return false, fmt.Errorf("%w for expense %s", ErrResolution, expense.ID)
	}

	inserted := 0
	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// a concurrent caller may have initialized the records meanwhile
		n, err := m.approvalRepo.CountByExpense(txCtx, expense.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		for i, approverID := range approvers {
			ok, err := m.approvalRepo.CreateIfAbsent(txCtx, &entity.ExpenseApproval{
				ExpenseID:     expense.ID,
				ApproverID:    approverID,
				SequenceOrder: i + 1,
				Status:        entity.ApprovalStatusPending,
			})
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to create approval records", "expense_id", expense.ID, "error", err)
		return false, persistence("create approval records", err)
	}
	if inserted == 0 {
		return false, nil
	}

	m.logger.Info("Approval records created",
		"expense_id", expense.ID,
		"approvers", approvers,
		"source", source,
	)
	m.publisher.Publish(ctx, event.NewEvent(event.TypeApprovalsInitialized, expense.ID, actingID(acting), map[string]interface{}{
		"approvers": approvers,
		"source":    source,
	}))
	return true, nil
}

// resolveApprovers prefers the active workflow and falls back to the
// directory. source names which one answered.
func (m *approvalRecordManagerImpl) resolveApprovers(ctx context.Context, expense *entity.Expense, acting *entity.Principal) ([]string, string, error) {
	employee, err := m.principalRepo.GetByID(ctx, expense.EmployeeID)
	if err != nil {
		return nil, "", persistence("load employee", err)
	}
	if employee == nil {
		return nil, "", fmt.Errorf("%w: employee %s of expense %s does not exist", ErrResolution, expense.EmployeeID, expense.ID)
	}

	wf, err := m.workflows.GetActiveWorkflow(ctx, employee.CompanyID)
	if err != nil {
		return nil, "", persistence("load active workflow", err)
	}
	if wf != nil {
		approvers, err := m.liveApprovers(ctx, employee.CompanyID, wf)
		if err != nil {
			return nil, "", err
		}
		if len(approvers) > 0 {
			return approvers, "workflow", nil
		}
		m.logger.Warn("Active workflow has no usable approvers, using the directory",
			"workflow_id", wf.ID,
			"expense_id", expense.ID,
		)
	}

	approvers, err := m.resolver.ResolveDefaultApprovers(ctx, employee, acting)
	if err != nil {
		return nil, "", persistence("resolve default approvers", err)
	}
	return approvers, "directory", nil
}

func (m *approvalRecordManagerImpl) IsRoutedApprover(ctx context.Context, expense *entity.Expense, acting *entity.Principal) (bool, error) {
	records, err := m.approvalRepo.ListByExpense(ctx, expense.ID)
	if err != nil {
		return false, persistence("list approval records", err)
	}
	if len(records) > 0 {
		return hasApprover(records, acting.ID), nil
	}

	approvers, _, err := m.resolveApprovers(ctx, expense, acting)
	if errors.Is(err, ErrResolution) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, id := range approvers {
		if id == acting.ID {
			return true, nil
		}
	}
	return false, nil
}

// liveApprovers keeps the workflow approvers that still exist in the
// company and may approve. Workflows are validated when written, so users
// deleted or demoted since then are dropped here.
func (m *approvalRecordManagerImpl) liveApprovers(ctx context.Context, companyID string, wf *entity.ApprovalWorkflow) ([]string, error) {
	live := make([]string, 0, len(wf.Approvers))
	for _, id := range wf.Approvers {
		p, err := m.principalRepo.GetByID(ctx, id)
		if err != nil {
			return nil, persistence("load workflow approver", err)
		}
		if p == nil || p.CompanyID != companyID || !p.CanApprove() {
			m.logger.Warn("Skipping stale workflow approver",
				"workflow_id", wf.ID,
				"approver_id", id,
			)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

func (m *approvalRecordManagerImpl) FindDecidableRecord(ctx context.Context, expenseID, approverID string) (*entity.ExpenseApproval, error) {
	rec, err := m.approvalRepo.FindByExpenseAndApprover(ctx, expenseID, approverID)
	if err != nil {
		return nil, persistence("find approval record", err)
	}
	if rec == nil || !rec.IsPending() {
		return nil, nil
	}
	return rec, nil
}

func (m *approvalRecordManagerImpl) RecordDecision(ctx context.Context, record *entity.ExpenseApproval, action string, comments *string) (*entity.ExpenseApproval, error) {
	if record == nil {
		return nil, validationf("approval record is required")
	}

	var status string
	switch action {
	case entity.ActionApprove:
		status = entity.ApprovalStatusApproved
	case entity.ActionReject:
		status = entity.ApprovalStatusRejected
	default:
		return nil, validationf("unknown action %q", action)
	}

	if !record.IsPending() {
		return nil, fmt.Errorf("%w: record %s is %s", ErrConflict, record.ID, record.Status)
	}

	trimmed := trimComments(comments)
	at := m.clock()

	ok, err := m.approvalRepo.Decide(ctx, record.ID, status, trimmed, at)
	if err != nil {
		m.logger.Error("Failed to record decision", "approval_id", record.ID, "error", err)
		return nil, persistence("record decision", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: record %s was decided concurrently", ErrConflict, record.ID)
	}

	updated := *record
	updated.Status = status
	updated.Comments = trimmed
	updated.ApprovedAt = &at
	updated.UpdatedAt = at
	return &updated, nil
}

func (m *approvalRecordManagerImpl) CountPending(ctx context.Context, expenseID string) (int, error) {
	n, err := m.approvalRepo.CountPending(ctx, expenseID)
	if err != nil {
		return 0, persistence("count pending approvals", err)
	}
	return n, nil
}

func (m *approvalRecordManagerImpl) CreateFallbackRecord(ctx context.Context, expenseID, approverID string) (*entity.ExpenseApproval, error) {
	rec := &entity.ExpenseApproval{
		ExpenseID:     expenseID,
		ApproverID:    approverID,
		SequenceOrder: 1,
		Status:        entity.ApprovalStatusPending,
	}

	inserted, err := m.approvalRepo.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, persistence("create fallback approval record", err)
	}
	if inserted {
		return rec, nil
	}

	existing, err := m.approvalRepo.FindByExpenseAndApprover(ctx, expenseID, approverID)
	if err != nil {
		return nil, persistence("load fallback approval record", err)
	}
	return existing, nil
}

func (m *approvalRecordManagerImpl) ListForExpense(ctx context.Context, expenseID string) ([]*entity.ExpenseApproval, error) {
	records, err := m.approvalRepo.ListByExpense(ctx, expenseID)
	if err != nil {
		return nil, persistence("list approval records", err)
	}
	return records, nil
}

func (m *approvalRecordManagerImpl) ListPendingByApprover(ctx context.Context, approverID string) ([]*entity.PendingItem, error) {
	items, err := m.approvalRepo.ListPendingByApprover(ctx, approverID)
	if err != nil {
		return nil, persistence("list pending approvals", err)
	}
	return items, nil
}

func trimComments(comments *string) *string {
	if comments == nil {
		return nil
	}
	s := strings.TrimSpace(*comments)
	if s == "" {
		return nil
	}
	return &s
}

func actingID(p *entity.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}
