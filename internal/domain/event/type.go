package event

// Type identifies the type of domain event
type Type string

const (
	TypeExpenseSubmitted      Type = "expense.submitted"
	TypeApprovalsInitialized  Type = "approval.initialized"
	TypeApprovalRecorded      Type = "approval.recorded"
	TypeFallbackGranted       Type = "approval.fallback_granted"
	TypeExpenseSettled        Type = "expense.settled"
	TypeExpenseStatusSoftFail Type = "expense.status_soft_failure"
	TypeWorkflowActivated     Type = "workflow.activated"
)

func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeExpenseSubmitted,
		TypeApprovalsInitialized,
		TypeApprovalRecorded,
		TypeFallbackGranted,
		TypeExpenseSettled,
		TypeExpenseStatusSoftFail,
		TypeWorkflowActivated:
		return true
	default:
		return false
	}
}
