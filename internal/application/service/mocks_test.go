package service

import (
	"context"

	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
)

type mockPrincipalRepo struct {
	principals            map[string]*entity.Principal
	getByIDErr            error
	listByCompanyRolesFn  func(ctx context.Context, companyID string, roles []string) ([]*entity.Principal, error)
	listByCompanyRolesHit int
}

func newMockPrincipalRepo(ps ...*entity.Principal) *mockPrincipalRepo {
	m := &mockPrincipalRepo{principals: make(map[string]*entity.Principal)}
	for _, p := range ps {
		m.principals[p.ID] = p
	}
	return m
}

func (m *mockPrincipalRepo) Create(ctx context.Context, p *entity.Principal) error {
	m.principals[p.ID] = p
	return nil
}

func (m *mockPrincipalRepo) GetByID(ctx context.Context, id string) (*entity.Principal, error) {
	if m.getByIDErr != nil {
		return nil, m.getByIDErr
	}
	return m.principals[id], nil
}

func (m *mockPrincipalRepo) GetByEmail(ctx context.Context, email string) (*entity.Principal, error) {
	for _, p := range m.principals {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockPrincipalRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.Principal, error) {
	var out []*entity.Principal
	for _, p := range m.principals {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPrincipalRepo) ListByCompanyAndRoles(ctx context.Context, companyID string, roles []string) ([]*entity.Principal, error) {
	m.listByCompanyRolesHit++
	if m.listByCompanyRolesFn != nil {
		return m.listByCompanyRolesFn(ctx, companyID, roles)
	}
	return nil, nil
}

func (m *mockPrincipalRepo) ListByManager(ctx context.Context, managerID string) ([]*entity.Principal, error) {
	var out []*entity.Principal
	for _, p := range m.principals {
		if p.ManagerID != nil && *p.ManagerID == managerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPrincipalRepo) Update(ctx context.Context, p *entity.Principal) error {
	m.principals[p.ID] = p
	return nil
}

func (m *mockPrincipalRepo) Delete(ctx context.Context, id string) error {
	delete(m.principals, id)
	return nil
}

type mockWorkflowRepo struct {
	active    []*entity.ApprovalWorkflow
	activeErr error
}

func (m *mockWorkflowRepo) Create(ctx context.Context, w *entity.ApprovalWorkflow) error { return nil }

func (m *mockWorkflowRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error) {
	for _, w := range m.active {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, nil
}

func (m *mockWorkflowRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.ApprovalWorkflow, error) {
	return m.active, nil
}

func (m *mockWorkflowRepo) ListActiveByCompany(ctx context.Context, companyID string) ([]*entity.ApprovalWorkflow, error) {
	return m.active, m.activeErr
}

func (m *mockWorkflowRepo) Update(ctx context.Context, w *entity.ApprovalWorkflow) error { return nil }

func (m *mockWorkflowRepo) SetActive(ctx context.Context, id string, active bool) error { return nil }

func (m *mockWorkflowRepo) DeactivateOthers(ctx context.Context, companyID, keepID string) error {
	return nil
}

func (m *mockWorkflowRepo) Delete(ctx context.Context, id string) error { return nil }

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingLogger keeps warn messages
type recordingLogger struct {
	nopLogger
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...interface{}) {
	l.warns = append(l.warns, msg)
}
