package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/reimburse-approvals/internal/application/dispatcher"
	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/application/workflow"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
	"github.com/garyjia/reimburse-approvals/pkg/utils"
)

const expenseDateLayout = "2006-01-02"

// ExpenseInput is a new expense claim
type ExpenseInput struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ExpenseDate string          `json:"expense_date"`
	ReceiptURL  *string         `json:"receipt_url"`
}

// ExpenseService handles expense claims outside the approval protocol
type ExpenseService interface {
	// CreateExpense stores a new claim of actor as draft
	CreateExpense(ctx context.Context, actor *entity.Principal, in ExpenseInput) (*entity.Expense, error)

	GetExpense(ctx context.Context, actor *entity.Principal, id string) (*entity.Expense, error)

	// ListExpenses returns the expenses visible to actor: its own for
	// employees, direct reports for managers, the company for admins
	ListExpenses(ctx context.Context, actor *entity.Principal, statuses []string) ([]*entity.Expense, error)

	// SubmitExpense routes a draft to its approvers and moves it to pending.
	// Fails with ErrResolution when nobody can approve it.
	SubmitExpense(ctx context.Context, actor *entity.Principal, id string) (*entity.Expense, error)
}

type expenseServiceImpl struct {
	expenseRepo   port.ExpenseRepository
	principalRepo port.PrincipalRepository
	records       ApprovalRecordManager
	lifecycle     workflow.ExpenseLifecycle
	publisher     dispatcher.Publisher
	clock         Clock
	logger        Logger
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(
	expenseRepo port.ExpenseRepository,
	principalRepo port.PrincipalRepository,
	records ApprovalRecordManager,
	lifecycle workflow.ExpenseLifecycle,
	publisher dispatcher.Publisher,
	logger Logger,
) ExpenseService {
	if publisher == nil {
		publisher = dispatcher.NopPublisher
	}
	return &expenseServiceImpl{
		expenseRepo:   expenseRepo,
		principalRepo: principalRepo,
		records:       records,
		lifecycle:     lifecycle,
		publisher:     publisher,
		clock:         systemClock,
		logger:        logger,
	}
}

func (s *expenseServiceImpl) CreateExpense(ctx context.Context, actor *entity.Principal, in ExpenseInput) (*entity.Expense, error) {
	if actor == nil {
		return nil, validationf("acting principal is required")
	}
	e, err := s.buildExpense(actor, in)
	if err != nil {
		return nil, err
	}

	if err := s.expenseRepo.Create(ctx, e); err != nil {
		s.logger.Error("Failed to create expense", "employee_id", actor.ID, "error", err)
		return nil, persistence("create expense", err)
	}

	s.logger.Info("Expense created",
		"expense_id", e.ID,
		"employee_id", e.EmployeeID,
		"amount", e.Amount.String(),
		"currency", e.Currency,
	)
	return e, nil
}

func (s *expenseServiceImpl) buildExpense(actor *entity.Principal, in ExpenseInput) (*entity.Expense, error) {
	if err := utils.ValidateAmount(in.Amount); err != nil {
		return nil, validationf("%v", err)
	}
	code, err := utils.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, validationf("%v", err)
	}
	category := utils.SanitizeString(in.Category)
	if category == "" {
		return nil, validationf("category is required")
	}
	description := utils.SanitizeString(in.Description)
	if description == "" {
		return nil, validationf("description is required")
	}

	date, err := time.Parse(expenseDateLayout, strings.TrimSpace(in.ExpenseDate))
	if err != nil {
		return nil, validationf("expense date must be YYYY-MM-DD: %q", in.ExpenseDate)
	}
	if date.After(s.clock().AddDate(0, 0, 1)) {
		return nil, validationf("expense date %s is in the future", in.ExpenseDate)
	}

	var receipt *string
	if in.ReceiptURL != nil && strings.TrimSpace(*in.ReceiptURL) != "" {
		r := strings.TrimSpace(*in.ReceiptURL)
		receipt = &r
	}

	return &entity.Expense{
		EmployeeID:  actor.ID,
		Amount:      in.Amount,
		Currency:    code,
		Category:    category,
		Description: description,
		ExpenseDate: date,
		ReceiptURL:  receipt,
		Status:      entity.ExpenseStatusDraft,
	}, nil
}

func (s *expenseServiceImpl) GetExpense(ctx context.Context, actor *entity.Principal, id string) (*entity.Expense, error) {
	if actor == nil {
		return nil, validationf("acting principal is required")
	}
	e, err := s.expenseRepo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("load expense", err)
	}
	if e == nil {
		return nil, notFoundf("expense %s", id)
	}
	if e.EmployeeID == actor.ID {
		return e, nil
	}

	owner, err := s.principalRepo.GetByID(ctx, e.EmployeeID)
	if err != nil {
		return nil, persistence("load employee", err)
	}
	if owner == nil || owner.CompanyID != actor.CompanyID {
		return nil, notFoundf("expense %s", id)
	}
	if !actor.CanApprove() {
		return nil, authorizationf("not authorized to view expense %s", id)
	}
	return e, nil
}

func (s *expenseServiceImpl) ListExpenses(ctx context.Context, actor *entity.Principal, statuses []string) ([]*entity.Expense, error) {
	filter, err := scopeFilter(ctx, s.principalRepo, actor)
	if err != nil {
		return nil, err
	}
	filter.Statuses = statuses

	list, err := s.expenseRepo.List(ctx, filter)
	if err != nil {
		return nil, persistence("list expenses", err)
	}
	return list, nil
}

func (s *expenseServiceImpl) SubmitExpense(ctx context.Context, actor *entity.Principal, id string) (*entity.Expense, error) {
	if actor == nil {
		return nil, validationf("acting principal is required")
	}
	e, err := s.expenseRepo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("load expense", err)
	}
	if e == nil {
		return nil, notFoundf("expense %s", id)
	}
	if e.EmployeeID != actor.ID {
		return nil, authorizationf("only the submitter may submit expense %s", id)
	}
	if e.IsTerminal() {
		return nil, validationf("expense %s is already %s", id, e.Status)
	}

	created, err := s.records.EnsureApprovalRecords(ctx, e, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to submit expense: %w", err)
	}

	if err := s.lifecycle.Submit(ctx, e, actor.ID); err != nil {
		if errors.Is(err, workflow.ErrTerminalExpense) {
			return nil, validationf("%v", err)
		}
		return nil, fmt.Errorf("failed to submit expense: %w", persistence("submit expense", err))
	}

	s.logger.Info("Expense submitted", "expense_id", e.ID, "records_created", created)
	s.publisher.Publish(ctx, event.NewEvent(event.TypeExpenseSubmitted, e.ID, actor.ID, map[string]interface{}{
		"amount":   e.Amount.String(),
		"currency": e.Currency,
	}))
	return e, nil
}

// scopeFilter narrows expense listings to what actor may see. Managers
// without direct reports see their own expenses.
func scopeFilter(ctx context.Context, principalRepo port.PrincipalRepository, actor *entity.Principal) (entity.ExpenseFilter, error) {
	if actor == nil {
		return entity.ExpenseFilter{}, validationf("acting principal is required")
	}

	switch actor.Role {
	case entity.RoleAdmin:
		return entity.ExpenseFilter{CompanyID: actor.CompanyID}, nil
	case entity.RoleManager:
		reports, err := principalRepo.ListByManager(ctx, actor.ID)
		if err != nil {
			return entity.ExpenseFilter{}, persistence("list direct reports", err)
		}
		if len(reports) == 0 {
			return entity.ExpenseFilter{EmployeeIDs: []string{actor.ID}}, nil
		}
		ids := make([]string, len(reports))
		for i, r := range reports {
			ids[i] = r.ID
		}
		return entity.ExpenseFilter{EmployeeIDs: ids}, nil
	default:
		return entity.ExpenseFilter{EmployeeIDs: []string{actor.ID}}, nil
	}
}
