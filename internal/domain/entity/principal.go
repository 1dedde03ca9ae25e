package entity

import "time"

// Principal is a user of the system acting within one company
type Principal struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	FullName          string    `json:"full_name"`
	Role              string    `json:"role"`
	CompanyID         string    `json:"company_id"`
	ManagerID         *string   `json:"manager_id,omitempty"`
	IsManagerApprover bool      `json:"is_manager_approver"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CanApprove reports whether the principal may be routed expenses for decision.
func (p *Principal) CanApprove() bool {
	if p == nil {
		return false
	}
	return p.Role == RoleManager || p.Role == RoleAdmin || p.IsManagerApprover
}

// IsAdmin reports whether the principal holds the admin role
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// HasManagerRole reports role manager or admin, ignoring the approver flag.
func (p *Principal) HasManagerRole() bool {
	return p != nil && (p.Role == RoleManager || p.Role == RoleAdmin)
}
