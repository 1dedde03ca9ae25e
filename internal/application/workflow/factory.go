package workflow

import (
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/reimburse-approvals/internal/domain/workflow"
)

// BuildExpenseStateMachine creates a state machine for the expense lifecycle:
// draft -> pending -> approved | rejected.
func BuildExpenseStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateDraft).
		Permit(domainwf.TriggerSubmit, domainwf.StatePending)

	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	// approved and rejected are terminal

	return builder.Build(initialState)
}

// TriggerForAction maps a decision action onto its lifecycle trigger
func TriggerForAction(action string) (domainwf.Trigger, bool) {
	switch action {
	case entity.ActionApprove:
		return domainwf.TriggerApprove, true
	case entity.ActionReject:
		return domainwf.TriggerReject, true
	}
	return "", false
}
