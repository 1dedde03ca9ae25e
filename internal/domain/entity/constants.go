package entity

// Role constants for Principal
const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// Status constants for Expense
const (
	ExpenseStatusDraft    = "draft"
	ExpenseStatusPending  = "pending"
	ExpenseStatusApproved = "approved"
	ExpenseStatusRejected = "rejected"
)

// Status constants for ExpenseApproval
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Decision actions accepted by the orchestrator
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Conditional rule types for ApprovalWorkflow
const (
	RuleTypePercentage       = "percentage"
	RuleTypeSpecificApprover = "specific_approver"
	RuleTypeHybrid           = "hybrid"
)

// Expense categories offered by the submission form
var ExpenseCategories = []string{
	"Travel",
	"Meals",
	"Accommodation",
	"Transportation",
	"Office Supplies",
	"Software",
	"Training",
	"Other",
}

// IsValidRole reports whether role is one of the known roles
func IsValidRole(role string) bool {
	switch role {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// IsValidAction reports whether action is approve or reject
func IsValidAction(action string) bool {
	return action == ActionApprove || action == ActionReject
}

// IsTerminalExpenseStatus reports whether status is approved or rejected
func IsTerminalExpenseStatus(status string) bool {
	return status == ExpenseStatusApproved || status == ExpenseStatusRejected
}
