package service

import (
	"context"
	"fmt"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
)

// DirectoryResolver produces a default approver sequence for an employee
// when the company has no usable workflow.
type DirectoryResolver interface {
	// ResolveDefaultApprovers applies, in order: the employee's manager if
	// approval-eligible; the earliest-created manager or admin of the
	// company; the acting principal if it is a manager or admin. An empty
	// result means no approver exists.
	ResolveDefaultApprovers(ctx context.Context, employee, acting *entity.Principal) ([]string, error)
}

type directoryResolverImpl struct {
	principalRepo port.PrincipalRepository
	logger        Logger
}

// NewDirectoryResolver creates a new DirectoryResolver
func NewDirectoryResolver(principalRepo port.PrincipalRepository, logger Logger) DirectoryResolver {
	return &directoryResolverImpl{principalRepo: principalRepo, logger: logger}
}

func (r *directoryResolverImpl) ResolveDefaultApprovers(ctx context.Context, employee, acting *entity.Principal) ([]string, error) {
	if employee == nil {
		return nil, validationf("employee is required")
	}

	if employee.ManagerID != nil && *employee.ManagerID != "" {
		manager, err := r.principalRepo.GetByID(ctx, *employee.ManagerID)
		if err != nil {
			return nil, fmt.Errorf("load manager: %w", err)
		}
		if manager != nil && manager.CanApprove() {
			return []string{manager.ID}, nil
		}
	}

	candidates, err := r.principalRepo.ListByCompanyAndRoles(ctx, employee.CompanyID,
		[]string{entity.RoleManager, entity.RoleAdmin})
	if err != nil {
		return nil, fmt.Errorf("list company approvers: %w", err)
	}
	if len(candidates) > 0 {
		return []string{candidates[0].ID}, nil
	}

	if acting.HasManagerRole() {
		r.logger.Warn("Falling back to acting principal as approver",
			"employee_id", employee.ID,
			"acting_id", acting.ID,
			"acting_role", acting.Role,
		)
		return []string{acting.ID}, nil
	}

	return nil, nil
}
