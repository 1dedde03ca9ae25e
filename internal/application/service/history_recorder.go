package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/reimburse-approvals/internal/application/dispatcher"
	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
)

// HistoryRecorder appends approval events to the expense history so that
// every decision, fallback grant and refused status write is attributable.
// Status transitions are written by the lifecycle itself.
type HistoryRecorder struct {
	historyRepo port.HistoryRepository
	logger      Logger
}

// NewHistoryRecorder creates a new HistoryRecorder
func NewHistoryRecorder(historyRepo port.HistoryRepository, logger Logger) *HistoryRecorder {
	return &HistoryRecorder{historyRepo: historyRepo, logger: logger}
}

// Register subscribes the recorder to d
func (r *HistoryRecorder) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeApprovalRecorded, "history.decision", r.handle(entity.HistoryActionDecision))
	d.SubscribeNamed(event.TypeFallbackGranted, "history.fallback", r.handle(entity.HistoryActionFallback))
	d.SubscribeNamed(event.TypeExpenseStatusSoftFail, "history.soft_failure", r.handle(entity.HistoryActionStatusSoftFail))
	d.SubscribeNamed(event.TypeExpenseSettled, "history.settled", r.handle(entity.HistoryActionSettled))
}

func (r *HistoryRecorder) handle(actionType string) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		if evt.ExpenseID == "" {
			return nil
		}

		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}

		h := &entity.ExpenseHistory{
			ExpenseID:  evt.ExpenseID,
			ActorID:    evt.ActorID,
			ActionType: actionType,
			ActionData: string(data),
			Timestamp:  evt.Timestamp,
		}
		if actionType == entity.HistoryActionStatusSoftFail {
			h.PreviousStatus = evt.GetPayloadString("from")
			h.NewStatus = evt.GetPayloadString("to")
		}
		if actionType == entity.HistoryActionSettled {
			h.NewStatus = evt.GetPayloadString("status")
		}

		if err := r.historyRepo.Create(ctx, h); err != nil {
			r.logger.Error("Failed to record expense history",
				"expense_id", evt.ExpenseID,
				"event", evt.Type.String(),
				"error", err,
			)
			return err
		}
		return nil
	}
}
