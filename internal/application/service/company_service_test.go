package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
)

func TestCurrencyForCountry(t *testing.T) {
	tests := map[string]string{
		"India":          "INR",
		"GB":             "GBP",
		" Australia ":    "AUD",
		"European Union": "EUR",
		"Narnia":         "USD",
		"":               "USD",
	}
	for country, want := range tests {
		assert.Equal(t, want, CurrencyForCountry(country), country)
	}
}

func TestCompanyService_Signup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := NewCompanyService(h.companies, h.principals, h.db, nopLogger{})

	company, admin, err := svc.Signup(ctx, SignupInput{
		CompanyName: "Globex",
		Country:     "IN",
		Email:       "Founder@Globex.test",
		FullName:    "Hank Scorpio",
	})
	require.NoError(t, err)
	assert.Equal(t, "INR", company.DefaultCurrency)
	assert.Equal(t, entity.RoleAdmin, admin.Role)
	assert.True(t, admin.IsManagerApprover)
	assert.Equal(t, company.ID, admin.CompanyID)
	assert.Equal(t, "founder@globex.test", admin.Email)

	_, _, err = svc.Signup(ctx, SignupInput{CompanyName: "Other", Country: "US", Email: "founder@globex.test", FullName: "Someone"})
	assert.True(t, errors.Is(err, ErrValidation))

	_, _, err = svc.Signup(ctx, SignupInput{CompanyName: "X", Country: "US", Email: "a@b.test", FullName: "Someone"})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCompanyService_UpdateSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := NewCompanyService(h.companies, h.principals, h.db, nopLogger{})
	c := h.company(t)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	mgr := h.principal(t, c.ID, entity.RoleManager)

	_, err := svc.UpdateSettings(ctx, mgr, CompanySettings{Currency: "EUR"})
	assert.True(t, errors.Is(err, ErrAuthorization))

	_, err = svc.UpdateSettings(ctx, admin, CompanySettings{Currency: "EURO"})
	assert.True(t, errors.Is(err, ErrValidation))

	updated, err := svc.UpdateSettings(ctx, admin, CompanySettings{Name: "Acme Europe", Currency: "eur"})
	require.NoError(t, err)
	assert.Equal(t, "EUR", updated.DefaultCurrency)

	got, err := svc.GetCompany(ctx, mgr)
	require.NoError(t, err)
	assert.Equal(t, "Acme Europe", got.Name)
	assert.Equal(t, "EUR", got.DefaultCurrency)
}

func TestPrincipalService_Manage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := NewPrincipalService(h.principals, nopLogger{})
	c := h.company(t)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	outsider := h.principal(t, h.company(t).ID, entity.RoleManager)

	mgr, err := svc.CreatePrincipal(ctx, admin, PrincipalInput{Email: "boss@acme.test", FullName: "Boss", Role: entity.RoleManager})
	require.NoError(t, err)

	emp, err := svc.CreatePrincipal(ctx, admin, PrincipalInput{
		Email: "worker@acme.test", FullName: "Worker", Role: entity.RoleEmployee, ManagerID: &mgr.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, emp.ManagerID)
	assert.Equal(t, mgr.ID, *emp.ManagerID)

	_, err = svc.CreatePrincipal(ctx, admin, PrincipalInput{Email: "x@acme.test", FullName: "Xavier", Role: "owner"})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreatePrincipal(ctx, admin, PrincipalInput{
		Email: "y@acme.test", FullName: "Yvonne", Role: entity.RoleEmployee, ManagerID: &outsider.ID,
	})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreatePrincipal(ctx, admin, PrincipalInput{Email: "worker@acme.test", FullName: "Dup", Role: entity.RoleEmployee})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreatePrincipal(ctx, mgr, PrincipalInput{Email: "z@acme.test", FullName: "Zed", Role: entity.RoleEmployee})
	assert.True(t, errors.Is(err, ErrAuthorization))

	promoted, err := svc.UpdatePrincipal(ctx, admin, emp.ID, PrincipalInput{
		Email: emp.Email, FullName: emp.FullName, Role: entity.RoleEmployee, IsManagerApprover: true,
	})
	require.NoError(t, err)
	assert.True(t, promoted.CanApprove())
	assert.Nil(t, promoted.ManagerID)

	approvers, err := svc.ListApprovers(ctx, emp)
	require.NoError(t, err)
	ids := []string{}
	for _, p := range approvers {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{admin.ID, mgr.ID}, ids)

	_, err = svc.ListPrincipals(ctx, emp)
	assert.True(t, errors.Is(err, ErrAuthorization))
	all, err := svc.ListPrincipals(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.True(t, errors.Is(svc.DeletePrincipal(ctx, admin, admin.ID), ErrValidation))
	assert.True(t, errors.Is(svc.DeletePrincipal(ctx, admin, outsider.ID), ErrNotFound))
	require.NoError(t, svc.DeletePrincipal(ctx, admin, emp.ID))
	_, err = svc.GetPrincipal(ctx, emp.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPrincipalService_DeleteRemovesWorkflowApprover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := NewPrincipalService(h.principals, nopLogger{}, WithWorkflowCleanup(h.workflowsR, h.db))
	c := h.company(t)
	admin := h.principal(t, c.ID, entity.RoleAdmin)
	first := h.principal(t, c.ID, entity.RoleManager)
	second := h.principal(t, c.ID, entity.RoleManager)
	emp := h.principal(t, c.ID, entity.RoleEmployee)

	w := &entity.ApprovalWorkflow{
		CompanyID:        c.ID,
		Name:             "two step",
		Approvers:        []string{second.ID, first.ID},
		ApprovalSequence: []int{2, 1},
		ConditionalRules: &entity.ConditionalRules{Type: entity.RuleTypeSpecificApprover, SpecificApproverID: &second.ID},
		IsActive:         true,
	}
	require.NoError(t, h.workflowsR.Create(ctx, w))

	require.NoError(t, svc.DeletePrincipal(ctx, admin, second.ID))

	stored, err := h.workflowsR.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, stored.Approvers)
	assert.Equal(t, []int{1}, stored.ApprovalSequence)
	assert.Nil(t, stored.ConditionalRules)
	assert.True(t, stored.IsActive)

	e := h.draft(t, emp.ID)
	out, err := h.orchestrator.Decide(ctx, e.ID, first, entity.ActionApprove, nil)
	require.NoError(t, err)
	assert.True(t, out.Finalized)
}

func TestStripApprover(t *testing.T) {
	half := 50
	gone := "gone"
	tests := []struct {
		name      string
		w         entity.ApprovalWorkflow
		changed   bool
		approvers []string
		sequence  []int
		rules     *entity.ConditionalRules
	}{
		{
			name:      "not listed",
			w:         entity.ApprovalWorkflow{Approvers: []string{"a"}, ApprovalSequence: []int{1}},
			approvers: []string{"a"},
			sequence:  []int{1},
		},
		{
			name:      "listed",
			w:         entity.ApprovalWorkflow{Approvers: []string{"a", gone, "b"}, ApprovalSequence: []int{1, 2, 3}},
			changed:   true,
			approvers: []string{"a", "b"},
			sequence:  []int{1, 3},
		},
		{
			name: "hybrid keeps the percentage",
			w: entity.ApprovalWorkflow{
				Approvers:        []string{"a", gone},
				ApprovalSequence: []int{1, 2},
				ConditionalRules: &entity.ConditionalRules{Type: entity.RuleTypeHybrid, Percentage: &half, SpecificApproverID: &gone},
			},
			changed:   true,
			approvers: []string{"a"},
			sequence:  []int{1},
			rules:     &entity.ConditionalRules{Type: entity.RuleTypePercentage, Percentage: &half},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.w
			assert.Equal(t, tt.changed, stripApprover(&w, gone))
			assert.Equal(t, tt.approvers, w.Approvers)
			assert.Equal(t, tt.sequence, w.ApprovalSequence)
			assert.Equal(t, tt.rules, w.ConditionalRules)
		})
	}
}
