package service

import (
	"context"
	"strings"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/pkg/utils"
)

// PrincipalInput carries the admin-editable fields of a user
type PrincipalInput struct {
	Email             string  `json:"email"`
	FullName          string  `json:"full_name"`
	Role              string  `json:"role"`
	ManagerID         *string `json:"manager_id"`
	IsManagerApprover bool    `json:"is_manager_approver"`
}

// PrincipalService manages the users of a company
type PrincipalService interface {
	GetPrincipal(ctx context.Context, id string) (*entity.Principal, error)
	ListPrincipals(ctx context.Context, actor *entity.Principal) ([]*entity.Principal, error)

	// ListApprovers returns the company's managers and admins, the
	// candidates offered when editing workflows
	ListApprovers(ctx context.Context, actor *entity.Principal) ([]*entity.Principal, error)

	CreatePrincipal(ctx context.Context, actor *entity.Principal, in PrincipalInput) (*entity.Principal, error)
	UpdatePrincipal(ctx context.Context, actor *entity.Principal, id string, in PrincipalInput) (*entity.Principal, error)
	DeletePrincipal(ctx context.Context, actor *entity.Principal, id string) error
}

type principalServiceImpl struct {
	principalRepo port.PrincipalRepository
	workflowRepo  port.WorkflowRepository
	txManager     port.TransactionManager
	logger        Logger
}

// PrincipalOption configures the principal service
type PrincipalOption func(*principalServiceImpl)

// WithWorkflowCleanup removes deleted users from the company's workflows
// in the same transaction as the delete
func WithWorkflowCleanup(workflowRepo port.WorkflowRepository, txManager port.TransactionManager) PrincipalOption {
	return func(s *principalServiceImpl) {
		s.workflowRepo = workflowRepo
		s.txManager = txManager
	}
}

// NewPrincipalService creates a new PrincipalService
func NewPrincipalService(principalRepo port.PrincipalRepository, logger Logger, opts ...PrincipalOption) PrincipalService {
	s := &principalServiceImpl{principalRepo: principalRepo, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *principalServiceImpl) GetPrincipal(ctx context.Context, id string) (*entity.Principal, error) {
	p, err := s.principalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("load principal", err)
	}
	if p == nil {
		return nil, notFoundf("principal %s", id)
	}
	return p, nil
}

func (s *principalServiceImpl) ListPrincipals(ctx context.Context, actor *entity.Principal) ([]*entity.Principal, error) {
	if actor == nil {
		return nil, validationf("acting principal is required")
	}
	if !actor.HasManagerRole() {
		return nil, authorizationf("only managers and admins may list users")
	}
	list, err := s.principalRepo.ListByCompany(ctx, actor.CompanyID)
	if err != nil {
		return nil, persistence("list principals", err)
	}
	return list, nil
}

func (s *principalServiceImpl) ListApprovers(ctx context.Context, actor *entity.Principal) ([]*entity.Principal, error) {
	if actor == nil {
		return nil, validationf("acting principal is required")
	}
	list, err := s.principalRepo.ListByCompanyAndRoles(ctx, actor.CompanyID,
		[]string{entity.RoleManager, entity.RoleAdmin})
	if err != nil {
		return nil, persistence("list approvers", err)
	}
	return list, nil
}

func (s *principalServiceImpl) CreatePrincipal(ctx context.Context, actor *entity.Principal, in PrincipalInput) (*entity.Principal, error) {
	if err := requireAdmin(actor, "manage users"); err != nil {
		return nil, err
	}

	p := &entity.Principal{CompanyID: actor.CompanyID}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}

	existing, err := s.principalRepo.GetByEmail(ctx, p.Email)
	if err != nil {
		return nil, persistence("check email", err)
	}
	if existing != nil {
		return nil, validationf("email %s is already registered", p.Email)
	}

	if err := s.principalRepo.Create(ctx, p); err != nil {
		s.logger.Error("Failed to create principal", "email", p.Email, "error", err)
		return nil, persistence("create principal", err)
	}
	s.logger.Info("Principal created", "principal_id", p.ID, "role", p.Role, "company_id", p.CompanyID)
	return p, nil
}

func (s *principalServiceImpl) UpdatePrincipal(ctx context.Context, actor *entity.Principal, id string, in PrincipalInput) (*entity.Principal, error) {
	if err := requireAdmin(actor, "manage users"); err != nil {
		return nil, err
	}
	p, err := s.loadInCompany(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	oldEmail := p.Email
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if p.Email != oldEmail {
		other, err := s.principalRepo.GetByEmail(ctx, p.Email)
		if err != nil {
			return nil, persistence("check email", err)
		}
		if other != nil && other.ID != p.ID {
			return nil, validationf("email %s is already registered", p.Email)
		}
	}

	if err := s.principalRepo.Update(ctx, p); err != nil {
		return nil, persistence("update principal", err)
	}
	return p, nil
}

func (s *principalServiceImpl) DeletePrincipal(ctx context.Context, actor *entity.Principal, id string) error {
	if err := requireAdmin(actor, "manage users"); err != nil {
		return err
	}
	if id == actor.ID {
		return validationf("admins cannot delete themselves")
	}
	if _, err := s.loadInCompany(ctx, actor, id); err != nil {
		return err
	}

	if s.workflowRepo == nil {
		if err := s.principalRepo.Delete(ctx, id); err != nil {
			return persistence("delete principal", err)
		}
		s.logger.Info("Principal deleted", "principal_id", id)
		return nil
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.removeFromWorkflows(txCtx, actor.CompanyID, id); err != nil {
			return err
		}
		return s.principalRepo.Delete(txCtx, id)
	})
	if err != nil {
		return persistence("delete principal", err)
	}
	s.logger.Info("Principal deleted", "principal_id", id)
	return nil
}

// removeFromWorkflows drops id from every company workflow along with its
// sequence entry. A specific-approver rule naming id is cleared.
func (s *principalServiceImpl) removeFromWorkflows(ctx context.Context, companyID, id string) error {
	workflows, err := s.workflowRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return err
	}
	for _, w := range workflows {
		if !stripApprover(w, id) {
			continue
		}
		if err := s.workflowRepo.Update(ctx, w); err != nil {
			return err
		}
		s.logger.Info("Approver removed from workflow",
			"workflow_id", w.ID,
			"approver_id", id,
			"remaining", len(w.Approvers),
		)
	}
	return nil
}

func stripApprover(w *entity.ApprovalWorkflow, id string) bool {
	changed := false
	approvers := make([]string, 0, len(w.Approvers))
	sequence := make([]int, 0, len(w.Approvers))
	for i, a := range w.Approvers {
		if a == id {
			changed = true
			continue
		}
		approvers = append(approvers, a)
		if i < len(w.ApprovalSequence) {
			sequence = append(sequence, w.ApprovalSequence[i])
		} else {
			sequence = append(sequence, i+1)
		}
	}

	if r := w.ConditionalRules; r != nil && r.SpecificApproverID != nil && *r.SpecificApproverID == id {
		changed = true
		if r.Type == entity.RuleTypeSpecificApprover {
			w.ConditionalRules = nil
		} else {
			r.SpecificApproverID = nil
			if r.Type == entity.RuleTypeHybrid {
				r.Type = entity.RuleTypePercentage
			}
		}
	}

	w.Approvers = approvers
	w.ApprovalSequence = sequence
	return changed
}

func (s *principalServiceImpl) loadInCompany(ctx context.Context, actor *entity.Principal, id string) (*entity.Principal, error) {
	p, err := s.principalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("load principal", err)
	}
	if p == nil || p.CompanyID != actor.CompanyID {
		return nil, notFoundf("principal %s", id)
	}
	return p, nil
}

func (s *principalServiceImpl) apply(ctx context.Context, p *entity.Principal, in PrincipalInput) error {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := utils.ValidateEmail(email); err != nil {
		return validationf("%v", err)
	}
	fullName := utils.SanitizeString(in.FullName)
	if len(fullName) < 2 {
		return validationf("full name must be at least 2 characters")
	}
	if !entity.IsValidRole(in.Role) {
		return validationf("unknown role %q", in.Role)
	}

	var managerID *string
	if in.ManagerID != nil && *in.ManagerID != "" {
		if p.ID != "" && *in.ManagerID == p.ID {
			return validationf("a user cannot manage themselves")
		}
		m, err := s.principalRepo.GetByID(ctx, *in.ManagerID)
		if err != nil {
			return persistence("load manager", err)
		}
		if m == nil || m.CompanyID != p.CompanyID {
			return validationf("manager %s is not a member of the company", *in.ManagerID)
		}
		id := m.ID
		managerID = &id
	}

	p.Email = email
	p.FullName = fullName
	p.Role = in.Role
	p.ManagerID = managerID
	p.IsManagerApprover = in.IsManagerApprover
	return nil
}
