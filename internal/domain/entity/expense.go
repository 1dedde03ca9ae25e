package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense is a reimbursement claim submitted by an employee
type Expense struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ExpenseDate time.Time       `json:"expense_date"`
	ReceiptURL  *string         `json:"receipt_url,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the expense has been approved or rejected
func (e *Expense) IsTerminal() bool {
	return IsTerminalExpenseStatus(e.Status)
}

// ExpenseFilter narrows expense listings
type ExpenseFilter struct {
	EmployeeIDs []string
	CompanyID   string
	Statuses    []string
}
