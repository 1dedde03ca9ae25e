package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
)

var noApprovers = resolverFunc(func(context.Context, *entity.Principal, *entity.Principal) ([]string, error) {
	return nil, nil
})

func TestDecide_LastDecisionSettles(t *testing.T) {
	tests := []struct {
		name       string
		second     string
		wantStatus string
	}{
		{"both approve", entity.ActionApprove, entity.ExpenseStatusApproved},
		{"last rejects", entity.ActionReject, entity.ExpenseStatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			c := h.company(t)
			x := h.principal(t, c.ID, entity.RoleManager)
			y := h.principal(t, c.ID, entity.RoleManager)
			emp := h.principal(t, c.ID, entity.RoleEmployee)
			h.activeWorkflow(t, c.ID, x.ID, y.ID)
			e := h.draft(t, emp.ID)

			out, err := h.orchestrator.Decide(ctx, e.ID, x, entity.ActionApprove, nil)
			require.NoError(t, err)
			assert.False(t, out.Finalized)
			assert.False(t, out.Fallback)
			assert.Equal(t, entity.ExpenseStatusPending, h.status(t, e.ID))

			out, err = h.orchestrator.Decide(ctx, e.ID, y, tt.second, strPtr("  done  "))
			require.NoError(t, err)
			assert.True(t, out.Finalized)
			assert.Equal(t, tt.second, out.Action)
			assert.Equal(t, tt.wantStatus, h.status(t, e.ID))

			records := h.recordsOf(t, e.ID)
			require.Len(t, records, 2)
			require.NotNil(t, records[1].Comments)
			assert.Equal(t, "done", *records[1].Comments)
			assert.Len(t, h.events.ofType(event.TypeExpenseSettled), 1)
		})
	}
}

func TestDecide_SecondDecisionConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	other := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	h.activeWorkflow(t, c.ID, mgr.ID, other.ID)
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(ctx, e.ID, mgr, entity.ActionApprove, strPtr("looks fine"))
	require.NoError(t, err)
	before := h.recordsOf(t, e.ID)[0]

	_, err = h.orchestrator.Decide(ctx, e.ID, mgr, entity.ActionApprove, strPtr("again"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "failed to approve expense")

	after := h.recordsOf(t, e.ID)[0]
	assert.Equal(t, before.ID, after.ID)
	require.NotNil(t, after.Comments)
	assert.Equal(t, "looks fine", *after.Comments)
	require.NotNil(t, after.ApprovedAt)
	assert.True(t, before.ApprovedAt.Equal(*after.ApprovedAt))
	assert.Len(t, h.recordsOf(t, e.ID), 2, "no fallback record for an actor who already decided")
}

func TestDecide_ConcurrentDecisionsRecordOnce(t *testing.T) {
	h := newHarness(t)
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))
	e := h.draft(t, emp.ID)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orchestrator.Decide(context.Background(), e.ID, mgr, entity.ActionApprove, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, h.recordsOf(t, e.ID), 1)
	assert.Equal(t, entity.ExpenseStatusApproved, h.status(t, e.ID))
}

func TestDecide_FallbackForAdminWithoutApprovers(t *testing.T) {
	h := newHarness(t, withResolver(noApprovers))
	ctx := context.Background()
	c := h.company(t)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	e := h.draft(t, emp.ID)

	out, err := h.orchestrator.Decide(ctx, e.ID, admin, entity.ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.True(t, out.Fallback)
	assert.Equal(t, entity.ExpenseStatusApproved, h.status(t, e.ID))

	records := h.recordsOf(t, e.ID)
	require.Len(t, records, 1)
	assert.Equal(t, admin.ID, records[0].ApproverID)
	assert.Equal(t, 1, records[0].SequenceOrder)
	assert.Equal(t, entity.ApprovalStatusApproved, records[0].Status)

	granted := h.events.ofType(event.TypeFallbackGranted)
	require.Len(t, granted, 1)
	assert.Equal(t, admin.ID, granted[0].ActorID)
	assert.Equal(t, entity.RoleAdmin, granted[0].GetPayloadString("role"))
}

func TestDecide_EmployeeDeniedWithoutApprovers(t *testing.T) {
	h := newHarness(t, withResolver(noApprovers))
	ctx := context.Background()
	c := h.company(t)
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	colleague := h.principal(t, c.ID, entity.RoleEmployee)
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(ctx, e.ID, colleague, entity.ActionReject, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.Contains(t, err.Error(), "failed to reject expense")
	assert.Empty(t, h.recordsOf(t, e.ID))
	assert.Empty(t, h.events.ofType(event.TypeFallbackGranted))
	assert.Equal(t, entity.ExpenseStatusDraft, h.status(t, e.ID))
}

func TestDecide_FallbackAlongsideRoutedApprover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))
	e := h.draft(t, emp.ID)

	out, err := h.orchestrator.Decide(ctx, e.ID, admin, entity.ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.False(t, out.Finalized, "the manager's record is still pending")
	assert.Equal(t, entity.ExpenseStatusPending, h.status(t, e.ID))

	records := h.recordsOf(t, e.ID)
	require.Len(t, records, 2)

	out, err = h.orchestrator.Decide(ctx, e.ID, mgr, entity.ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
	assert.Equal(t, entity.ExpenseStatusApproved, h.status(t, e.ID))
}

func TestDecide_FallbackDisabled(t *testing.T) {
	h := newHarness(t, withResolver(noApprovers), withoutFallback())
	c := h.company(t)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(context.Background(), e.ID, admin, entity.ActionApprove, nil)
	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.Empty(t, h.recordsOf(t, e.ID))
}

func TestDecide_ManagerApproverFlagIsNotEnoughForFallback(t *testing.T) {
	h := newHarness(t, withResolver(noApprovers))
	c := h.company(t)
	flagged := h.principal(t, c.ID, entity.RoleEmployee, approverFlag())
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(context.Background(), e.ID, flagged, entity.ActionApprove, nil)
	assert.True(t, errors.Is(err, ErrAuthorization))
}

func TestDecide_ToleratesRefusedStatusWrites(t *testing.T) {
	h := newHarness(t, withRefusedStatusWrites())
	ctx := context.Background()
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))
	e := h.draft(t, emp.ID)

	out, err := h.orchestrator.Decide(ctx, e.ID, mgr, entity.ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, out.Finalized)

	assert.Equal(t, entity.ExpenseStatusDraft, h.status(t, e.ID), "denormalized status lags")
	records := h.recordsOf(t, e.ID)
	require.Len(t, records, 1)
	assert.Equal(t, entity.ApprovalStatusApproved, records[0].Status)
	assert.NotEmpty(t, h.events.ofType(event.TypeExpenseStatusSoftFail))
}

func TestDecide_Validation(t *testing.T) {
	h := newHarness(t)
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)

	tests := []struct {
		name      string
		expenseID string
		acting    *entity.Principal
		action    string
	}{
		{"missing expense", "  ", mgr, entity.ActionApprove},
		{"missing principal", "e-1", nil, entity.ActionApprove},
		{"unknown action", "e-1", mgr, "escalate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orchestrator.Decide(context.Background(), tt.expenseID, tt.acting, tt.action, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestDecide_ExpenseOfAnotherCompanyIsNotFound(t *testing.T) {
	h := newHarness(t)
	c := h.company(t)
	other := h.company(t)
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	outsider := h.principal(t, other.ID, entity.RoleAdmin)
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(context.Background(), e.ID, outsider, entity.ActionApprove, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, h.recordsOf(t, e.ID))
	assert.Equal(t, entity.ExpenseStatusDraft, h.status(t, e.ID))
}

func TestDecide_SettledExpenseConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(ctx, e.ID, mgr, entity.ActionReject, nil)
	require.NoError(t, err)

	_, err = h.orchestrator.Decide(ctx, e.ID, admin, entity.ActionApprove, nil)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, entity.ExpenseStatusRejected, h.status(t, e.ID))
	assert.Len(t, h.recordsOf(t, e.ID), 1)
}

func TestListPendingFor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))

	submitted := h.draft(t, emp.ID)
	_, err := h.expenses.SubmitExpense(ctx, emp, submitted.ID)
	require.NoError(t, err)
	untouched := h.draft(t, emp.ID)

	inbox, err := h.orchestrator.ListPendingFor(ctx, mgr)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, submitted.ID, inbox[0].Expense.ID)
	assert.Equal(t, emp.ID, inbox[0].Employee.ID)

	adminInbox, err := h.orchestrator.ListPendingFor(ctx, admin)
	require.NoError(t, err)
	ids := []string{}
	for _, item := range adminInbox {
		ids = append(ids, item.Expense.ID)
		assert.Nil(t, item.Approval, "admin holds no record on these expenses")
	}
	assert.ElementsMatch(t, []string{submitted.ID, untouched.ID}, ids)

	_, err = h.orchestrator.Decide(ctx, submitted.ID, mgr, entity.ActionApprove, nil)
	require.NoError(t, err)

	inbox, err = h.orchestrator.ListPendingFor(ctx, mgr)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	empInbox, err := h.orchestrator.ListPendingFor(ctx, emp)
	require.NoError(t, err)
	assert.Empty(t, empInbox)
}

func TestGetApprovalTrail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))
	colleague := h.principal(t, c.ID, entity.RoleEmployee)
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(ctx, e.ID, mgr, entity.ActionApprove, nil)
	require.NoError(t, err)

	trail, err := h.orchestrator.GetApprovalTrail(ctx, emp, e.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseStatusApproved, trail.Expense.Status)
	require.Len(t, trail.Approvals, 1)
	assert.Equal(t, mgr.ID, trail.Approvals[0].ApproverID)

	_, err = h.orchestrator.GetApprovalTrail(ctx, colleague, e.ID)
	assert.True(t, errors.Is(err, ErrAuthorization))
}

func TestGetApprovalTrail_EvaluatesRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	m1 := h.principal(t, c.ID, entity.RoleManager)
	m2 := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	e := h.draft(t, emp.ID)

	pct := 50
	w := &entity.ApprovalWorkflow{
		CompanyID:        c.ID,
		Name:             "half",
		Approvers:        []string{m1.ID, m2.ID},
		ApprovalSequence: []int{1, 2},
		ConditionalRules: &entity.ConditionalRules{Type: entity.RuleTypePercentage, Percentage: &pct},
		IsActive:         true,
	}
	require.NoError(t, h.workflowsR.Create(ctx, w))

	_, err := h.orchestrator.Decide(ctx, e.ID, m1, entity.ActionApprove, nil)
	require.NoError(t, err)

	trail, err := h.orchestrator.GetApprovalTrail(ctx, emp, e.ID)
	require.NoError(t, err)
	require.Len(t, trail.Approvals, 2)
	require.NotNil(t, trail.RulesSatisfied)
	assert.True(t, *trail.RulesSatisfied)
	assert.Equal(t, entity.ExpenseStatusPending, trail.Expense.Status)
}

func TestDecide_DeletedWorkflowApprover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	a := h.principal(t, c.ID, entity.RoleManager)
	b := h.principal(t, c.ID, entity.RoleManager)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	emp := h.principal(t, c.ID, entity.RoleEmployee)
	h.activeWorkflow(t, c.ID, a.ID, b.ID)
	require.NoError(t, h.principals.Delete(ctx, b.ID))

	routed := h.draft(t, emp.ID)
	out, err := h.orchestrator.Decide(ctx, routed.ID, a, entity.ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.True(t, out.Finalized)
	assert.Equal(t, entity.ExpenseStatusApproved, h.status(t, routed.ID))

	escalated := h.draft(t, emp.ID)
	out, err = h.orchestrator.Decide(ctx, escalated.ID, admin, entity.ActionReject, nil)
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.False(t, out.Finalized, "a's record is still pending")

	ids := []string{}
	for _, r := range h.recordsOf(t, escalated.ID) {
		ids = append(ids, r.ApproverID)
	}
	assert.ElementsMatch(t, []string{a.ID, admin.ID}, ids)
}

func TestDecide_DemotedWorkflowApprover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	listed := h.principal(t, c.ID, entity.RoleManager)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))
	h.activeWorkflow(t, c.ID, listed.ID)
	h.demote(t, listed.ID)
	e := h.draft(t, emp.ID)

	current, err := h.principals.GetByID(ctx, listed.ID)
	require.NoError(t, err)
	_, err = h.orchestrator.Decide(ctx, e.ID, current, entity.ActionApprove, nil)
	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.Empty(t, h.recordsOf(t, e.ID))
	assert.Equal(t, entity.ExpenseStatusDraft, h.status(t, e.ID))

	out, err := h.orchestrator.Decide(ctx, e.ID, mgr, entity.ActionApprove, nil)
	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.True(t, out.Finalized)
	assert.Equal(t, entity.ExpenseStatusApproved, h.status(t, e.ID))
}

func TestDecide_UnroutedEmployeeLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.company(t)
	mgr := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee, managedBy(mgr))
	colleague := h.principal(t, c.ID, entity.RoleEmployee)
	e := h.draft(t, emp.ID)

	_, err := h.orchestrator.Decide(ctx, e.ID, colleague, entity.ActionApprove, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.Contains(t, err.Error(), "failed to approve expense")

	assert.Equal(t, entity.ExpenseStatusDraft, h.status(t, e.ID))
	assert.Empty(t, h.recordsOf(t, e.ID))
	history, err := h.history.ListByExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, h.events.ofType(event.TypeApprovalsInitialized))
}
