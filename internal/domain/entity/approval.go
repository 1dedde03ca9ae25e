package entity

import "time"

// ExpenseApproval is one approver's decision slot for one expense
type ExpenseApproval struct {
	ID            string     `json:"id"`
	ExpenseID     string     `json:"expense_id"`
	ApproverID    string     `json:"approver_id"`
	SequenceOrder int        `json:"sequence_order"`
	Status        string     `json:"status"`
	Comments      *string    `json:"comments,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsPending reports whether the record still awaits a decision
func (a *ExpenseApproval) IsPending() bool {
	return a.Status == ApprovalStatusPending
}

// PendingItem is an inbox row: a pending record joined with its expense
// and the submitting employee.
type PendingItem struct {
	Approval *ExpenseApproval `json:"approval"`
	Expense  *Expense         `json:"expense"`
	Employee *Principal       `json:"employee"`
}
