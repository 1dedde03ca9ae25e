package entity

import "time"

// ExpenseHistory is one entry in the trail of lifecycle changes of an expense.
type ExpenseHistory struct {
	ID             string    `json:"id"`
	ExpenseID      string    `json:"expense_id"`
	ActorID        string    `json:"actor_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActionType     string    `json:"action_type"`
	ActionData     string    `json:"action_data"`
	Timestamp      time.Time `json:"timestamp"`
}

// History action types
const (
	HistoryActionSubmitted      = "SUBMITTED"
	HistoryActionDecision       = "DECISION"
	HistoryActionFallback       = "FALLBACK_APPROVAL"
	HistoryActionSettled        = "SETTLED"
	HistoryActionStatusSoftFail = "STATUS_SOFT_FAILURE"
)
