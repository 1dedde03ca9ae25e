package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
)

const expenseColumns = `e.id, e.employee_id, e.amount, e.currency, e.category, e.description,
	e.expense_date, e.receipt_url, e.status, e.created_at, e.updated_at`

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sqldb.DB, logger *zap.Logger) port.ExpenseRepository {
	return &ExpenseRepository{db: db, logger: logger}
}

// Create inserts a new expense. Status defaults to draft.
func (r *ExpenseRepository) Create(ctx context.Context, e *entity.Expense) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = entity.ExpenseStatusDraft
	}
	ts := now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = ts
	}
	e.UpdatedAt = ts

	query := r.db.Rebind(`
		INSERT INTO expenses (
			id, employee_id, amount, currency, category, description,
			expense_date, receipt_url, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		e.ID,
		e.EmployeeID,
		e.Amount.String(),
		e.Currency,
		e.Category,
		e.Description,
		e.ExpenseDate,
		toNullString(e.ReceiptURL),
		e.Status,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.String("employee_id", e.EmployeeID), zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	query := r.db.Rebind(`SELECT ` + expenseColumns + ` FROM expenses e WHERE e.id = ?`)
	e, err := scanExpense(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return e, nil
}

// List returns expenses matching every non-empty filter field, newest first
func (r *ExpenseRepository) List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error) {
	var where []string
	var args []interface{}

	from := `expenses e`
	if filter.CompanyID != "" {
		from = `expenses e JOIN principals p ON p.id = e.employee_id`
		where = append(where, "p.company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if len(filter.EmployeeIDs) > 0 {
		in, inArgs := inClause(filter.EmployeeIDs)
		where = append(where, "e.employee_id IN "+in)
		args = append(args, inArgs...)
	}
	if len(filter.Statuses) > 0 {
		in, inArgs := inClause(filter.Statuses)
		where = append(where, "e.status IN "+in)
		args = append(args, inArgs...)
	}

	query := `SELECT ` + expenseColumns + ` FROM ` + from
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY e.created_at DESC, e.id ASC`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var out []*entity.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TransitionStatus is a conditional write: the row changes only while its
// status still equals from.
func (r *ExpenseRepository) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	query := r.db.Rebind(`UPDATE expenses SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, to, now(), id, from)
	if err != nil {
		r.logger.Error("Failed to transition expense status",
			zap.String("id", id), zap.String("from", from), zap.String("to", to), zap.Error(err))
		return false, fmt.Errorf("failed to update expense status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func scanExpense(row rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var receiptURL sql.NullString
	err := row.Scan(
		&e.ID,
		&e.EmployeeID,
		&e.Amount,
		&e.Currency,
		&e.Category,
		&e.Description,
		&e.ExpenseDate,
		&receiptURL,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ReceiptURL = fromNullString(receiptURL)
	return &e, nil
}

var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
