package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/application/workflow"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/repository"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/reimburse-approvals/pkg/database"
)

// testingT is satisfied by *testing.T and *rapid.T
type testingT interface {
	require.TestingT
	Helper()
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// eventLog is a synchronous publisher that keeps every event
type eventLog struct {
	mu     sync.Mutex
	events []*event.Event
}

func (l *eventLog) Publish(_ context.Context, evt *event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) ofType(t event.Type) []*event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*event.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// refusingExpenseRepo rejects every status write, standing in for a store
// that denies the update
type refusingExpenseRepo struct {
	port.ExpenseRepository
}

func (r refusingExpenseRepo) TransitionStatus(context.Context, string, string, string) (bool, error) {
	return false, fmt.Errorf("permission denied for expenses")
}

// resolverFunc adapts a function to DirectoryResolver
type resolverFunc func(ctx context.Context, employee, acting *entity.Principal) ([]string, error)

func (f resolverFunc) ResolveDefaultApprovers(ctx context.Context, employee, acting *entity.Principal) ([]string, error) {
	return f(ctx, employee, acting)
}

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

type harness struct {
	db         *sqldb.DB
	companies  port.CompanyRepository
	principals port.PrincipalRepository
	workflowsR port.WorkflowRepository
	expensesR  port.ExpenseRepository
	approvals  port.ApprovalRepository
	history    port.HistoryRepository

	events       *eventLog
	resolver     DirectoryResolver
	workflows    WorkflowStore
	records      ApprovalRecordManager
	lifecycle    workflow.ExpenseLifecycle
	orchestrator ApprovalOrchestrator
	expenses     ExpenseService

	seq int64
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	resolver      func(base DirectoryResolver) DirectoryResolver
	refuseStatus  bool
	disableFallbk bool
}

func withResolver(r DirectoryResolver) harnessOption {
	return func(c *harnessConfig) {
		c.resolver = func(DirectoryResolver) DirectoryResolver { return r }
	}
}

func withRefusedStatusWrites() harnessOption {
	return func(c *harnessConfig) { c.refuseStatus = true }
}

func withoutFallback() harnessOption {
	return func(c *harnessConfig) { c.disableFallbk = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := &harnessConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	zl := zap.NewNop()
	raw, err := database.New(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "approvals.db"),
	}, zl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	require.NoError(t, database.NewMigrator(raw, zl).Run())

	db := sqldb.NewDB(raw.DB, raw.Driver(), zl)
	h := &harness{
		db:         db,
		companies:  repository.NewCompanyRepository(db, zl),
		principals: repository.NewPrincipalRepository(db, zl),
		workflowsR: repository.NewWorkflowRepository(db, zl),
		expensesR:  repository.NewExpenseRepository(db, zl),
		approvals:  repository.NewApprovalRepository(db, zl),
		history:    repository.NewHistoryRepository(db, zl),
		events:     &eventLog{},
	}

	log := nopLogger{}
	statusRepo := h.expensesR
	if cfg.refuseStatus {
		statusRepo = refusingExpenseRepo{h.expensesR}
	}

	h.resolver = NewDirectoryResolver(h.principals, log)
	if cfg.resolver != nil {
		h.resolver = cfg.resolver(h.resolver)
	}
	h.workflows = NewWorkflowStore(h.workflowsR, h.principals, db, h.events, log)
	h.records = NewApprovalRecordManager(h.approvals, h.principals, h.workflows, h.resolver, db, log,
		WithRecordClock(func() time.Time { return fixedNow }),
		WithRecordPublisher(h.events),
	)
	h.lifecycle = workflow.NewExpenseLifecycle(statusRepo, h.history, db, log, workflow.WithPublisher(h.events))
	h.orchestrator = NewApprovalOrchestrator(h.expensesR, h.principals, h.records, h.lifecycle, log,
		WithFallbackApproval(!cfg.disableFallbk),
		WithOrchestratorPublisher(h.events),
		WithWorkflowRules(h.workflows),
	)
	h.expenses = NewExpenseService(h.expensesR, h.principals, h.records, h.lifecycle, h.events, log)
	return h
}

func (h *harness) next() int64 {
	return atomic.AddInt64(&h.seq, 1)
}

func (h *harness) company(t testingT) *entity.Company {
	t.Helper()
	c := &entity.Company{Name: "Acme", DefaultCurrency: "USD"}
	require.NoError(t, h.companies.Create(context.Background(), c))
	return c
}

type principalOption func(*entity.Principal)

func managedBy(m *entity.Principal) principalOption {
	return func(p *entity.Principal) { p.ManagerID = &m.ID }
}

func approverFlag() principalOption {
	return func(p *entity.Principal) { p.IsManagerApprover = true }
}

func (h *harness) principal(t testingT, companyID, role string, opts ...principalOption) *entity.Principal {
	t.Helper()
	n := h.next()
	p := &entity.Principal{
		Email:     fmt.Sprintf("user%d@acme.test", n),
		FullName:  fmt.Sprintf("User %d", n),
		Role:      role,
		CompanyID: companyID,
		CreatedAt: fixedNow.Add(time.Duration(n) * time.Minute),
	}
	for _, opt := range opts {
		opt(p)
	}
	require.NoError(t, h.principals.Create(context.Background(), p))
	return p
}

// demote turns an approver into a plain employee without touching workflows
func (h *harness) demote(t testingT, id string) {
	t.Helper()
	ctx := context.Background()
	p, err := h.principals.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	p.Role = entity.RoleEmployee
	p.IsManagerApprover = false
	require.NoError(t, h.principals.Update(ctx, p))
}

func (h *harness) draft(t testingT, employeeID string) *entity.Expense {
	t.Helper()
	e := &entity.Expense{
		EmployeeID:  employeeID,
		Amount:      decimal.RequireFromString("120.00"),
		Currency:    "USD",
		Category:    "Travel",
		Description: "client visit",
		ExpenseDate: fixedNow.AddDate(0, 0, -3),
		Status:      entity.ExpenseStatusDraft,
	}
	require.NoError(t, h.expensesR.Create(context.Background(), e))
	return e
}

// activeWorkflow stores an active workflow directly, bypassing approver
// eligibility checks
func (h *harness) activeWorkflow(t testingT, companyID string, approvers ...string) *entity.ApprovalWorkflow {
	t.Helper()
	seq := make([]int, len(approvers))
	for i := range seq {
		seq[i] = i + 1
	}
	w := &entity.ApprovalWorkflow{
		CompanyID:        companyID,
		Name:             "default",
		Approvers:        approvers,
		ApprovalSequence: seq,
		IsActive:         true,
	}
	require.NoError(t, h.workflowsR.Create(context.Background(), w))
	return w
}

func (h *harness) status(t testingT, expenseID string) string {
	t.Helper()
	e, err := h.expensesR.GetByID(context.Background(), expenseID)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e.Status
}

func (h *harness) recordsOf(t testingT, expenseID string) []*entity.ExpenseApproval {
	t.Helper()
	list, err := h.approvals.ListByExpense(context.Background(), expenseID)
	require.NoError(t, err)
	return list
}

func strPtr(s string) *string { return &s }
