package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqldb.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

func (r *HistoryRepository) Create(ctx context.Context, h *entity.ExpenseHistory) error {
	if h.ID == "" {
		h.ID = newID()
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = now()
	}

	query := r.db.Rebind(`
		INSERT INTO expense_history (
			id, expense_id, actor_id, previous_status, new_status,
			action_type, action_data, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		h.ID,
		h.ExpenseID,
		h.ActorID,
		h.PreviousStatus,
		h.NewStatus,
		h.ActionType,
		h.ActionData,
		h.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListByExpense(ctx context.Context, expenseID string) ([]*entity.ExpenseHistory, error) {
	query := r.db.Rebind(`
		SELECT id, expense_id, actor_id, previous_status, new_status,
			action_type, action_data, occurred_at
		FROM expense_history
		WHERE expense_id = ?
		ORDER BY occurred_at ASC, id ASC
	`)

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to get history", zap.String("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.ExpenseHistory
	for rows.Next() {
		var h entity.ExpenseHistory
		err := rows.Scan(
			&h.ID,
			&h.ExpenseID,
			&h.ActorID,
			&h.PreviousStatus,
			&h.NewStatus,
			&h.ActionType,
			&h.ActionData,
			&h.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &h)
	}
	return records, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
