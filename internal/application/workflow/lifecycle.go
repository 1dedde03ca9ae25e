package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/reimburse-approvals/internal/application/dispatcher"
	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/domain/event"
	domainwf "github.com/garyjia/reimburse-approvals/internal/domain/workflow"
)

// ErrTerminalExpense is returned when a transition is attempted out of
// approved or rejected
var ErrTerminalExpense = errors.New("expense is already settled")

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ExpenseLifecycle drives the persisted expense status.
//
// Status writes are best effort: when the store refuses a write the failure
// is logged and published as expense.status_soft_failure, and the caller
// continues. Approval records stay the source of truth.
type ExpenseLifecycle interface {
	// EnsurePending moves a draft expense to pending. Returns true when the
	// expense is pending or the write was refused but tolerated. Fails with
	// ErrTerminalExpense for approved or rejected expenses.
	EnsurePending(ctx context.Context, expense *entity.Expense, actorID string) (bool, error)

	// Submit is the strict variant used by the submission endpoint: a refused
	// write is returned to the caller.
	Submit(ctx context.Context, expense *entity.Expense, actorID string) error

	// Settle moves the expense to the terminal status matching action.
	// Never returns an error to the caller; every refusal is logged.
	Settle(ctx context.Context, expenseID, action, actorID string)
}

type lifecycleImpl struct {
	expenseRepo port.ExpenseRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	publisher   dispatcher.Publisher
	logger      Logger
}

// Option configures the lifecycle
type Option func(*lifecycleImpl)

// WithPublisher sets the event publisher
func WithPublisher(p dispatcher.Publisher) Option {
	return func(l *lifecycleImpl) {
		l.publisher = p
	}
}

// NewExpenseLifecycle creates a new ExpenseLifecycle
func NewExpenseLifecycle(
	expenseRepo port.ExpenseRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) ExpenseLifecycle {
	l := &lifecycleImpl{
		expenseRepo: expenseRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		publisher:   dispatcher.NopPublisher,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lifecycleImpl) EnsurePending(ctx context.Context, expense *entity.Expense, actorID string) (bool, error) {
	state, err := domainwf.ParseState(expense.Status)
	if err != nil {
		return false, fmt.Errorf("expense %s has unknown status %q: %w", expense.ID, expense.Status, err)
	}

	switch {
	case state == domainwf.StatePending:
		return true, nil
	case state.IsTerminal():
		return false, fmt.Errorf("%w: %s is %s", ErrTerminalExpense, expense.ID, state)
	}

	if err := l.transition(ctx, expense, domainwf.TriggerSubmit, actorID); err != nil {
		l.softFailure(ctx, expense, domainwf.StatePending, actorID, err)
		return true, nil
	}
	return true, nil
}

func (l *lifecycleImpl) Submit(ctx context.Context, expense *entity.Expense, actorID string) error {
	if entity.IsTerminalExpenseStatus(expense.Status) {
		return fmt.Errorf("%w: %s is %s", ErrTerminalExpense, expense.ID, expense.Status)
	}
	if expense.Status == entity.ExpenseStatusPending {
		return nil
	}
	return l.transition(ctx, expense, domainwf.TriggerSubmit, actorID)
}

func (l *lifecycleImpl) Settle(ctx context.Context, expenseID, action, actorID string) {
	trigger, ok := TriggerForAction(action)
	if !ok {
		l.logger.Error("Cannot settle expense with unknown action", "expense_id", expenseID, "action", action)
		return
	}

	target := domainwf.StateApproved
	if trigger == domainwf.TriggerReject {
		target = domainwf.StateRejected
	}

	expense, err := l.expenseRepo.GetByID(ctx, expenseID)
	if err != nil || expense == nil {
		l.logger.Warn("Failed to load expense for settlement", "expense_id", expenseID, "error", err)
		l.publishSoftFailure(ctx, expenseID, "", target.String(), actorID, fmt.Errorf("expense not loaded: %v", err))
		return
	}

	if entity.IsTerminalExpenseStatus(expense.Status) {
		l.logger.Info("Expense already settled", "expense_id", expenseID, "status", expense.Status)
		return
	}

	// a lagging draft walks the full path through pending
	if expense.Status == entity.ExpenseStatusDraft {
		if err := l.transition(ctx, expense, domainwf.TriggerSubmit, actorID); err != nil {
			l.softFailure(ctx, expense, domainwf.StatePending, actorID, err)
			return
		}
	}

	if err := l.transition(ctx, expense, trigger, actorID); err != nil {
		l.softFailure(ctx, expense, target, actorID, err)
		return
	}

	l.publisher.Publish(ctx, event.NewEvent(event.TypeExpenseSettled, expenseID, actorID, map[string]interface{}{
		"status": expense.Status,
		"action": action,
	}))
	l.logger.Info("Expense settled", "expense_id", expenseID, "status", expense.Status)
}

// transition fires trigger on a machine built from the expense's current
// status and persists the result with a conditional write. On success the
// expense's Status is updated in place.
func (l *lifecycleImpl) transition(ctx context.Context, expense *entity.Expense, trigger domainwf.Trigger, actorID string) error {
	current, err := domainwf.ParseState(expense.Status)
	if err != nil {
		return err
	}

	machine := BuildExpenseStateMachine(current)
	if err := machine.Fire(ctx, trigger); err != nil {
		if errors.Is(err, domainwf.ErrTerminalState) {
			return fmt.Errorf("%w: %v", ErrTerminalExpense, err)
		}
		return err
	}
	next := machine.State()

	err = l.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := l.expenseRepo.TransitionStatus(txCtx, expense.ID, current.String(), next.String())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("expense %s is no longer %s", expense.ID, current)
		}

		return l.historyRepo.Create(txCtx, &entity.ExpenseHistory{
			ExpenseID:      expense.ID,
			ActorID:        actorID,
			PreviousStatus: current.String(),
			NewStatus:      next.String(),
			ActionType:     trigger.String(),
		})
	})
	if err != nil {
		return err
	}

	expense.Status = next.String()
	return nil
}

func (l *lifecycleImpl) softFailure(ctx context.Context, expense *entity.Expense, target domainwf.State, actorID string, cause error) {
	l.logger.Warn("Expense status write refused, continuing",
		"expense_id", expense.ID,
		"from", expense.Status,
		"to", target.String(),
		"error", cause,
	)
	l.publishSoftFailure(ctx, expense.ID, expense.Status, target.String(), actorID, cause)
}

func (l *lifecycleImpl) publishSoftFailure(ctx context.Context, expenseID, from, to, actorID string, cause error) {
	l.publisher.Publish(ctx, event.NewEvent(event.TypeExpenseStatusSoftFail, expenseID, actorID, map[string]interface{}{
		"from":  from,
		"to":    to,
		"error": fmt.Sprint(cause),
	}))
}
