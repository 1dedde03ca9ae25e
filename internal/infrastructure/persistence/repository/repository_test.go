package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/reimburse-approvals/pkg/database"
)

type fixture struct {
	db         *sqldb.DB
	companies  *CompanyRepository
	principals *PrincipalRepository
	workflows  *WorkflowRepository
	expenses   *ExpenseRepository
	approvals  *ApprovalRepository
	history    *HistoryRepository
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	raw, err := database.New(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "repo.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	require.NoError(t, database.NewMigrator(raw, logger).Run())

	db := sqldb.NewDB(raw.DB, raw.Driver(), logger)
	return &fixture{
		db:         db,
		companies:  NewCompanyRepository(db, logger).(*CompanyRepository),
		principals: NewPrincipalRepository(db, logger).(*PrincipalRepository),
		workflows:  NewWorkflowRepository(db, logger).(*WorkflowRepository),
		expenses:   NewExpenseRepository(db, logger).(*ExpenseRepository),
		approvals:  NewApprovalRepository(db, logger).(*ApprovalRepository),
		history:    NewHistoryRepository(db, logger).(*HistoryRepository),
	}
}

func (f *fixture) company(t *testing.T) *entity.Company {
	t.Helper()
	c := &entity.Company{Name: "Acme", DefaultCurrency: "USD"}
	require.NoError(t, f.companies.Create(context.Background(), c))
	return c
}

func (f *fixture) principal(t *testing.T, companyID, email, role string, createdAt time.Time) *entity.Principal {
	t.Helper()
	p := &entity.Principal{
		Email:     email,
		FullName:  email,
		Role:      role,
		CompanyID: companyID,
		CreatedAt: createdAt,
	}
	require.NoError(t, f.principals.Create(context.Background(), p))
	return p
}

func (f *fixture) expense(t *testing.T, employeeID string) *entity.Expense {
	t.Helper()
	e := &entity.Expense{
		EmployeeID:  employeeID,
		Amount:      decimal.RequireFromString("42.50"),
		Currency:    "USD",
		Category:    "Meals",
		Description: "team lunch",
		ExpenseDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.expenses.Create(context.Background(), e))
	return e
}

func TestPrincipalRepository_ListByCompanyAndRolesOrdersByCreation(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	later := f.principal(t, c.ID, "later@acme.test", entity.RoleManager, base.Add(2*time.Hour))
	earliest := f.principal(t, c.ID, "first@acme.test", entity.RoleAdmin, base)
	f.principal(t, c.ID, "emp@acme.test", entity.RoleEmployee, base.Add(-time.Hour))

	got, err := f.principals.ListByCompanyAndRoles(ctx, c.ID, []string{entity.RoleManager, entity.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, earliest.ID, got[0].ID)
	assert.Equal(t, later.ID, got[1].ID)
}

func TestPrincipalRepository_ManagerRoundTrip(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)

	mgr := f.principal(t, c.ID, "mgr@acme.test", entity.RoleManager, time.Time{})
	emp := &entity.Principal{
		Email: "emp@acme.test", FullName: "Emp", Role: entity.RoleEmployee,
		CompanyID: c.ID, ManagerID: &mgr.ID,
	}
	require.NoError(t, f.principals.Create(ctx, emp))

	got, err := f.principals.GetByID(ctx, emp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ManagerID)
	assert.Equal(t, mgr.ID, *got.ManagerID)

	reports, err := f.principals.ListByManager(ctx, mgr.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, emp.ID, reports[0].ID)

	missing, err := f.principals.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkflowRepository_ActiveOrderingAndDeactivate(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pct := 60

	second := &entity.ApprovalWorkflow{
		CompanyID: c.ID, Name: "second", Approvers: []string{"b"}, ApprovalSequence: []int{1},
		IsActive: true, CreatedAt: base.Add(time.Hour),
	}
	first := &entity.ApprovalWorkflow{
		CompanyID: c.ID, Name: "first", Approvers: []string{"a", "b"}, ApprovalSequence: []int{1, 2},
		ConditionalRules: &entity.ConditionalRules{Type: entity.RuleTypePercentage, Percentage: &pct},
		IsActive:         true, CreatedAt: base,
	}
	require.NoError(t, f.workflows.Create(ctx, second))
	require.NoError(t, f.workflows.Create(ctx, first))

	active, err := f.workflows.ListActiveByCompany(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, []string{"a", "b"}, active[0].Approvers)
	require.NotNil(t, active[0].ConditionalRules)
	assert.Equal(t, 60, *active[0].ConditionalRules.Percentage)

	require.NoError(t, f.workflows.DeactivateOthers(ctx, c.ID, second.ID))
	active, err = f.workflows.ListActiveByCompany(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestExpenseRepository_TransitionStatusIsConditional(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	emp := f.principal(t, c.ID, "emp@acme.test", entity.RoleEmployee, time.Time{})
	e := f.expense(t, emp.ID)
	assert.Equal(t, entity.ExpenseStatusDraft, e.Status)

	ok, err := f.expenses.TransitionStatus(ctx, e.ID, entity.ExpenseStatusDraft, entity.ExpenseStatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.expenses.TransitionStatus(ctx, e.ID, entity.ExpenseStatusDraft, entity.ExpenseStatusPending)
	require.NoError(t, err)
	assert.False(t, ok, "second transition from draft must not match")

	got, err := f.expenses.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseStatusPending, got.Status)
	assert.True(t, decimal.RequireFromString("42.5").Equal(got.Amount))
}

func TestExpenseRepository_ListFilters(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	other := f.company(t)
	emp := f.principal(t, c.ID, "emp@acme.test", entity.RoleEmployee, time.Time{})
	outsider := f.principal(t, other.ID, "out@other.test", entity.RoleEmployee, time.Time{})

	e1 := f.expense(t, emp.ID)
	f.expense(t, outsider.ID)
	_, err := f.expenses.TransitionStatus(ctx, e1.ID, entity.ExpenseStatusDraft, entity.ExpenseStatusApproved)
	require.NoError(t, err)
	f.expense(t, emp.ID)

	byCompany, err := f.expenses.List(ctx, entity.ExpenseFilter{CompanyID: c.ID})
	require.NoError(t, err)
	assert.Len(t, byCompany, 2)

	open, err := f.expenses.List(ctx, entity.ExpenseFilter{
		CompanyID: c.ID,
		Statuses:  []string{entity.ExpenseStatusDraft, entity.ExpenseStatusPending},
	})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	byEmployee, err := f.expenses.List(ctx, entity.ExpenseFilter{EmployeeIDs: []string{outsider.ID}})
	require.NoError(t, err)
	assert.Len(t, byEmployee, 1)
}

func TestApprovalRepository_CreateIfAbsentIsIdempotent(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	emp := f.principal(t, c.ID, "emp@acme.test", entity.RoleEmployee, time.Time{})
	mgr := f.principal(t, c.ID, "mgr@acme.test", entity.RoleManager, time.Time{})
	e := f.expense(t, emp.ID)

	created, err := f.approvals.CreateIfAbsent(ctx, &entity.ExpenseApproval{ExpenseID: e.ID, ApproverID: mgr.ID, SequenceOrder: 1})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.approvals.CreateIfAbsent(ctx, &entity.ExpenseApproval{ExpenseID: e.ID, ApproverID: mgr.ID, SequenceOrder: 1})
	require.NoError(t, err)
	assert.False(t, created)

	n, err := f.approvals.CountByExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApprovalRepository_DecideOnlyOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	emp := f.principal(t, c.ID, "emp@acme.test", entity.RoleEmployee, time.Time{})
	mgr := f.principal(t, c.ID, "mgr@acme.test", entity.RoleManager, time.Time{})
	e := f.expense(t, emp.ID)

	rec := &entity.ExpenseApproval{ExpenseID: e.ID, ApproverID: mgr.ID, SequenceOrder: 1}
	_, err := f.approvals.CreateIfAbsent(ctx, rec)
	require.NoError(t, err)

	first := "looks fine"
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ok, err := f.approvals.Decide(ctx, rec.ID, entity.ApprovalStatusApproved, &first, at)
	require.NoError(t, err)
	assert.True(t, ok)

	second := "changed my mind"
	ok, err = f.approvals.Decide(ctx, rec.ID, entity.ApprovalStatusRejected, &second, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.approvals.FindByExpenseAndApprover(ctx, e.ID, mgr.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalStatusApproved, got.Status)
	require.NotNil(t, got.Comments)
	assert.Equal(t, first, *got.Comments)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, at.Equal(*got.ApprovedAt))

	pending, err := f.approvals.CountPending(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestApprovalRepository_ListPendingByApprover(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	emp := f.principal(t, c.ID, "emp@acme.test", entity.RoleEmployee, time.Time{})
	mgr := f.principal(t, c.ID, "mgr@acme.test", entity.RoleManager, time.Time{})
	e1 := f.expense(t, emp.ID)
	e2 := f.expense(t, emp.ID)

	r1 := &entity.ExpenseApproval{ExpenseID: e1.ID, ApproverID: mgr.ID, SequenceOrder: 1}
	r2 := &entity.ExpenseApproval{ExpenseID: e2.ID, ApproverID: mgr.ID, SequenceOrder: 1}
	_, err := f.approvals.CreateIfAbsent(ctx, r1)
	require.NoError(t, err)
	_, err = f.approvals.CreateIfAbsent(ctx, r2)
	require.NoError(t, err)
	_, err = f.approvals.Decide(ctx, r2.ID, entity.ApprovalStatusApproved, nil, time.Now())
	require.NoError(t, err)

	items, err := f.approvals.ListPendingByApprover(ctx, mgr.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, e1.ID, items[0].Expense.ID)
	assert.Equal(t, emp.ID, items[0].Employee.ID)
	assert.Equal(t, r1.ID, items[0].Approval.ID)
}

func TestHistoryRepository_CreateAndList(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	emp := f.principal(t, c.ID, "emp@acme.test", entity.RoleEmployee, time.Time{})
	e := f.expense(t, emp.ID)

	require.NoError(t, f.history.Create(ctx, &entity.ExpenseHistory{
		ExpenseID: e.ID, ActorID: emp.ID,
		PreviousStatus: entity.ExpenseStatusDraft, NewStatus: entity.ExpenseStatusPending,
		ActionType: entity.HistoryActionSubmitted,
	}))

	records, err := f.history.ListByExpense(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entity.HistoryActionSubmitted, records[0].ActionType)
}

func TestDB_WithTransactionRollsBack(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	c := f.company(t)
	boom := errors.New("boom")

	err := f.db.WithTransaction(ctx, func(txCtx context.Context) error {
		p := &entity.Principal{Email: "tx@acme.test", FullName: "Tx", Role: entity.RoleEmployee, CompanyID: c.ID}
		require.NoError(t, f.principals.Create(txCtx, p))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := f.principals.GetByEmail(ctx, "tx@acme.test")
	require.NoError(t, err)
	assert.Nil(t, got)
}
