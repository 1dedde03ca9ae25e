package port

import (
	"context"
	"time"

	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
)

// CompanyRepository defines persistence operations for Company
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
	Update(ctx context.Context, company *entity.Company) error
}

// PrincipalRepository defines persistence operations for Principal
type PrincipalRepository interface {
	Create(ctx context.Context, p *entity.Principal) error
	GetByID(ctx context.Context, id string) (*entity.Principal, error)
	GetByEmail(ctx context.Context, email string) (*entity.Principal, error)
	ListByCompany(ctx context.Context, companyID string) ([]*entity.Principal, error)

	// ListByCompanyAndRoles returns principals ordered by creation time, then id
	ListByCompanyAndRoles(ctx context.Context, companyID string, roles []string) ([]*entity.Principal, error)

	ListByManager(ctx context.Context, managerID string) ([]*entity.Principal, error)
	Update(ctx context.Context, p *entity.Principal) error
	Delete(ctx context.Context, id string) error
}

// WorkflowRepository defines persistence operations for ApprovalWorkflow
type WorkflowRepository interface {
	Create(ctx context.Context, w *entity.ApprovalWorkflow) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error)
	ListByCompany(ctx context.Context, companyID string) ([]*entity.ApprovalWorkflow, error)

	// ListActiveByCompany returns active workflows, earliest created first
	ListActiveByCompany(ctx context.Context, companyID string) ([]*entity.ApprovalWorkflow, error)

	Update(ctx context.Context, w *entity.ApprovalWorkflow) error
	SetActive(ctx context.Context, id string, active bool) error

	// DeactivateOthers clears is_active on every company workflow except keepID
	DeactivateOthers(ctx context.Context, companyID, keepID string) error

	Delete(ctx context.Context, id string) error
}

// ExpenseRepository defines persistence operations for Expense
type ExpenseRepository interface {
	Create(ctx context.Context, e *entity.Expense) error
	GetByID(ctx context.Context, id string) (*entity.Expense, error)
	List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error)

	// TransitionStatus sets the status only if it currently equals from.
	// Returns false when no row matched.
	TransitionStatus(ctx context.Context, id, from, to string) (bool, error)
}

// ApprovalRepository defines persistence operations for ExpenseApproval
type ApprovalRepository interface {
	// CreateIfAbsent inserts the record unless one already exists for the
	// same expense and approver. Returns whether a row was inserted.
	CreateIfAbsent(ctx context.Context, a *entity.ExpenseApproval) (bool, error)

	GetByID(ctx context.Context, id string) (*entity.ExpenseApproval, error)
	CountByExpense(ctx context.Context, expenseID string) (int, error)
	CountPending(ctx context.Context, expenseID string) (int, error)

	// FindByExpenseAndApprover returns the approver's record, pending first
	FindByExpenseAndApprover(ctx context.Context, expenseID, approverID string) (*entity.ExpenseApproval, error)

	// Decide updates a pending record to status. Returns false when the
	// record was no longer pending.
	Decide(ctx context.Context, id, status string, comments *string, at time.Time) (bool, error)

	ListByExpense(ctx context.Context, expenseID string) ([]*entity.ExpenseApproval, error)
	ListPendingByApprover(ctx context.Context, approverID string) ([]*entity.PendingItem, error)
}

// HistoryRepository defines persistence operations for ExpenseHistory
type HistoryRepository interface {
	Create(ctx context.Context, h *entity.ExpenseHistory) error
	ListByExpense(ctx context.Context, expenseID string) ([]*entity.ExpenseHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
