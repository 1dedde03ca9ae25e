package entity

import (
	"sort"
	"time"
)

// ConditionalRules is the optional settlement rule attached to a workflow.
// Rules are stored and evaluated for reporting; settlement still requires
// every approval record to be decided.
type ConditionalRules struct {
	Type               string  `json:"type"`
	Percentage         *int    `json:"percentage,omitempty"`
	SpecificApproverID *string `json:"specific_approver_id,omitempty"`
}

// ApprovalWorkflow is a company-configured ordered list of approvers
type ApprovalWorkflow struct {
	ID               string            `json:"id"`
	CompanyID        string            `json:"company_id"`
	Name             string            `json:"name"`
	Approvers        []string          `json:"approvers"`
	ApprovalSequence []int             `json:"approval_sequence"`
	ConditionalRules *ConditionalRules `json:"conditional_rules,omitempty"`
	IsActive         bool              `json:"is_active"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// OrderedApprovers returns approver ids sorted by their sequence number.
// Ties keep their stored order.
func (w *ApprovalWorkflow) OrderedApprovers() []string {
	if w == nil || len(w.Approvers) == 0 {
		return nil
	}

	idx := make([]int, len(w.Approvers))
	for i := range idx {
		idx[i] = i
	}
	seq := func(i int) int {
		if i < len(w.ApprovalSequence) {
			return w.ApprovalSequence[i]
		}
		return i + 1
	}
	sort.SliceStable(idx, func(a, b int) bool { return seq(idx[a]) < seq(idx[b]) })

	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = w.Approvers[j]
	}
	return out
}

// Satisfied evaluates the conditional rules against a set of approval
// records. A workflow without rules is satisfied when all records approved.
func (w *ApprovalWorkflow) Satisfied(approvals []*ExpenseApproval) bool {
	if len(approvals) == 0 {
		return false
	}

	approved := 0
	specificApproved := false
	for _, a := range approvals {
		if a.Status == ApprovalStatusRejected && (w.ConditionalRules == nil) {
			return false
		}
		if a.Status == ApprovalStatusApproved {
			approved++
			if w.ConditionalRules != nil && w.ConditionalRules.SpecificApproverID != nil &&
				*w.ConditionalRules.SpecificApproverID == a.ApproverID {
				specificApproved = true
			}
		}
	}

	if w.ConditionalRules == nil {
		return approved == len(approvals)
	}

	pctMet := false
	if w.ConditionalRules.Percentage != nil {
		pctMet = approved*100 >= *w.ConditionalRules.Percentage*len(approvals)
	}

	switch w.ConditionalRules.Type {
	case RuleTypePercentage:
		return pctMet
	case RuleTypeSpecificApprover:
		return specificApproved
	case RuleTypeHybrid:
		return pctMet || specificApproved
	}
	return false
}
