package service

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/pkg/utils"
)

const recentExpenseCount = 5

// Summary is the dashboard view of the expenses visible to a principal.
// Amounts are in Currency.
type Summary struct {
	Currency         string            `json:"currency"`
	TotalExpenses    int               `json:"total_expenses"`
	DraftExpenses    int               `json:"draft_expenses"`
	PendingExpenses  int               `json:"pending_expenses"`
	ApprovedExpenses int               `json:"approved_expenses"`
	RejectedExpenses int               `json:"rejected_expenses"`
	TotalAmount      decimal.Decimal   `json:"total_amount"`
	PendingAmount    decimal.Decimal   `json:"pending_amount"`
	ApprovedAmount   decimal.Decimal   `json:"approved_amount"`
	Recent           []*entity.Expense `json:"recent"`
}

// ReportService builds role-scoped expense summaries and exports
type ReportService interface {
	// Summary converts every visible expense to currency, or to the
	// company default when currency is empty
	Summary(ctx context.Context, actor *entity.Principal, currency string) (*Summary, error)

	// Export writes the visible expenses as a spreadsheet
	Export(ctx context.Context, actor *entity.Principal, currency string, w io.Writer) error
}

type reportServiceImpl struct {
	expenseRepo   port.ExpenseRepository
	principalRepo port.PrincipalRepository
	companyRepo   port.CompanyRepository
	converter     port.CurrencyConverter
	writer        port.ReportWriter
	logger        Logger
}

// NewReportService creates a new ReportService
func NewReportService(
	expenseRepo port.ExpenseRepository,
	principalRepo port.PrincipalRepository,
	companyRepo port.CompanyRepository,
	converter port.CurrencyConverter,
	writer port.ReportWriter,
	logger Logger,
) ReportService {
	return &reportServiceImpl{
		expenseRepo:   expenseRepo,
		principalRepo: principalRepo,
		companyRepo:   companyRepo,
		converter:     converter,
		writer:        writer,
		logger:        logger,
	}
}

func (s *reportServiceImpl) Summary(ctx context.Context, actor *entity.Principal, currency string) (*Summary, error) {
	target, expenses, err := s.load(ctx, actor, currency)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Currency:       target,
		TotalExpenses:  len(expenses),
		TotalAmount:    decimal.Zero,
		PendingAmount:  decimal.Zero,
		ApprovedAmount: decimal.Zero,
	}
	for _, e := range expenses {
		amount := ConvertOrIdentity(ctx, s.converter, s.logger, e.Amount, e.Currency, target).Amount
		sum.TotalAmount = sum.TotalAmount.Add(amount)

		switch e.Status {
		case entity.ExpenseStatusDraft:
			sum.DraftExpenses++
		case entity.ExpenseStatusPending:
			sum.PendingExpenses++
			sum.PendingAmount = sum.PendingAmount.Add(amount)
		case entity.ExpenseStatusApproved:
			sum.ApprovedExpenses++
			sum.ApprovedAmount = sum.ApprovedAmount.Add(amount)
		case entity.ExpenseStatusRejected:
			sum.RejectedExpenses++
		}
	}

	n := recentExpenseCount
	if len(expenses) < n {
		n = len(expenses)
	}
	sum.Recent = expenses[:n]

	sum.TotalAmount = sum.TotalAmount.Round(2)
	sum.PendingAmount = sum.PendingAmount.Round(2)
	sum.ApprovedAmount = sum.ApprovedAmount.Round(2)
	return sum, nil
}

func (s *reportServiceImpl) Export(ctx context.Context, actor *entity.Principal, currency string, w io.Writer) error {
	if s.writer == nil {
		return fmt.Errorf("report writer is not configured")
	}
	target, expenses, err := s.load(ctx, actor, currency)
	if err != nil {
		return err
	}

	members, err := s.principalRepo.ListByCompany(ctx, actor.CompanyID)
	if err != nil {
		return persistence("list company members", err)
	}
	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.ID] = m.FullName
	}

	rows := make([]port.ReportRow, 0, len(expenses))
	for _, e := range expenses {
		c := ConvertOrIdentity(ctx, s.converter, s.logger, e.Amount, e.Currency, target)
		rows = append(rows, port.ReportRow{
			Expense:         e,
			EmployeeName:    names[e.EmployeeID],
			ConvertedAmount: c.Amount.Round(2),
			Rate:            c.Rate,
		})
	}

	if err := s.writer.Write(w, "Expenses", target, rows); err != nil {
		s.logger.Error("Failed to write expense report", "actor_id", actor.ID, "error", err)
		return fmt.Errorf("failed to write expense report: %w", err)
	}
	s.logger.Info("Expense report exported", "actor_id", actor.ID, "rows", len(rows), "currency", target)
	return nil
}

// load resolves the target currency and the visible expenses
func (s *reportServiceImpl) load(ctx context.Context, actor *entity.Principal, currency string) (string, []*entity.Expense, error) {
	filter, err := scopeFilter(ctx, s.principalRepo, actor)
	if err != nil {
		return "", nil, err
	}

	target := currency
	if target == "" {
		company, err := s.companyRepo.GetByID(ctx, actor.CompanyID)
		if err != nil {
			return "", nil, persistence("load company", err)
		}
		if company == nil {
			return "", nil, notFoundf("company %s", actor.CompanyID)
		}
		target = company.DefaultCurrency
	}
	target, err = utils.NormalizeCurrency(target)
	if err != nil {
		return "", nil, validationf("%v", err)
	}

	expenses, err := s.expenseRepo.List(ctx, filter)
	if err != nil {
		return "", nil, persistence("list expenses", err)
	}
	return target, expenses, nil
}
