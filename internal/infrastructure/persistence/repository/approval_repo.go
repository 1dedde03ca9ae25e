package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
)

const approvalColumns = `a.id, a.expense_id, a.approver_id, a.sequence_order, a.status,
	a.comments, a.approved_at, a.created_at, a.updated_at`

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new expense approval repository
func NewApprovalRepository(db *sqldb.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

// CreateIfAbsent relies on the (expense_id, approver_id) unique index.
func (r *ApprovalRepository) CreateIfAbsent(ctx context.Context, a *entity.ExpenseApproval) (bool, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.Status == "" {
		a.Status = entity.ApprovalStatusPending
	}
	ts := now()
	a.CreatedAt, a.UpdatedAt = ts, ts

	query := r.db.Rebind(`
		INSERT INTO expense_approvals (
			id, expense_id, approver_id, sequence_order, status,
			comments, approved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (expense_id, approver_id) DO NOTHING
	`)
	result, err := r.db.Conn(ctx).ExecContext(ctx, query,
		a.ID,
		a.ExpenseID,
		a.ApproverID,
		a.SequenceOrder,
		a.Status,
		toNullString(a.Comments),
		toNullTime(a.ApprovedAt),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create expense approval",
			zap.String("expense_id", a.ExpenseID), zap.String("approver_id", a.ApproverID), zap.Error(err))
		return false, fmt.Errorf("failed to create expense approval: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*entity.ExpenseApproval, error) {
	query := r.db.Rebind(`SELECT ` + approvalColumns + ` FROM expense_approvals a WHERE a.id = ?`)
	a, err := scanApproval(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense approval", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense approval: %w", err)
	}
	return a, nil
}

func (r *ApprovalRepository) CountByExpense(ctx context.Context, expenseID string) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM expense_approvals WHERE expense_id = ?`, expenseID)
}

func (r *ApprovalRepository) CountPending(ctx context.Context, expenseID string) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM expense_approvals WHERE expense_id = ? AND status = ?`,
		expenseID, entity.ApprovalStatusPending)
}

func (r *ApprovalRepository) FindByExpenseAndApprover(ctx context.Context, expenseID, approverID string) (*entity.ExpenseApproval, error) {
	query := r.db.Rebind(`
		SELECT ` + approvalColumns + `
		FROM expense_approvals a
		WHERE a.expense_id = ? AND a.approver_id = ?
		ORDER BY CASE WHEN a.status = ? THEN 0 ELSE 1 END, a.sequence_order ASC
		LIMIT 1
	`)
	a, err := scanApproval(r.db.Conn(ctx).QueryRowContext(ctx, query, expenseID, approverID, entity.ApprovalStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find expense approval",
			zap.String("expense_id", expenseID), zap.String("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to find expense approval: %w", err)
	}
	return a, nil
}

// Decide is a conditional write guarded by status = pending
func (r *ApprovalRepository) Decide(ctx context.Context, id, status string, comments *string, at time.Time) (bool, error) {
	query := r.db.Rebind(`
		UPDATE expense_approvals
		SET status = ?, comments = ?, approved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`)
	result, err := r.db.Conn(ctx).ExecContext(ctx, query,
		status, toNullString(comments), at, now(), id, entity.ApprovalStatusPending,
	)
	if err != nil {
		r.logger.Error("Failed to record decision", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to record decision: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *ApprovalRepository) ListByExpense(ctx context.Context, expenseID string) ([]*entity.ExpenseApproval, error) {
	query := r.db.Rebind(`
		SELECT ` + approvalColumns + `
		FROM expense_approvals a
		WHERE a.expense_id = ?
		ORDER BY a.sequence_order ASC, a.created_at ASC, a.id ASC
	`)

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to list expense approvals", zap.String("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to list expense approvals: %w", err)
	}
	defer rows.Close()

	var out []*entity.ExpenseApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListPendingByApprover joins each pending record with its expense and the
// submitting employee, oldest expense first.
func (r *ApprovalRepository) ListPendingByApprover(ctx context.Context, approverID string) ([]*entity.PendingItem, error) {
	query := r.db.Rebind(`
		SELECT ` + approvalColumns + `,
			` + expenseColumns + `,
			p.id, p.email, p.full_name, p.role, p.company_id, p.manager_id,
			p.is_manager_approver, p.created_at, p.updated_at
		FROM expense_approvals a
		JOIN expenses e ON e.id = a.expense_id
		JOIN principals p ON p.id = e.employee_id
		WHERE a.approver_id = ? AND a.status = ?
		ORDER BY e.created_at ASC, e.id ASC
	`)

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, approverID, entity.ApprovalStatusPending)
	if err != nil {
		r.logger.Error("Failed to list pending approvals", zap.String("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*entity.PendingItem
	for rows.Next() {
		var a entity.ExpenseApproval
		var e entity.Expense
		var p entity.Principal
		var comments, receiptURL, managerID sql.NullString
		var approvedAt sql.NullTime

		err := rows.Scan(
			&a.ID, &a.ExpenseID, &a.ApproverID, &a.SequenceOrder, &a.Status,
			&comments, &approvedAt, &a.CreatedAt, &a.UpdatedAt,
			&e.ID, &e.EmployeeID, &e.Amount, &e.Currency, &e.Category, &e.Description,
			&e.ExpenseDate, &receiptURL, &e.Status, &e.CreatedAt, &e.UpdatedAt,
			&p.ID, &p.Email, &p.FullName, &p.Role, &p.CompanyID, &managerID,
			&p.IsManagerApprover, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}
		a.Comments = fromNullString(comments)
		a.ApprovedAt = fromNullTime(approvedAt)
		e.ReceiptURL = fromNullString(receiptURL)
		p.ManagerID = fromNullString(managerID)

		out = append(out, &entity.PendingItem{Approval: &a, Expense: &e, Employee: &p})
	}
	return out, rows.Err()
}

func (r *ApprovalRepository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := r.db.Conn(ctx).QueryRowContext(ctx, r.db.Rebind(query), args...).Scan(&n); err != nil {
		r.logger.Error("Failed to count expense approvals", zap.Error(err))
		return 0, fmt.Errorf("failed to count expense approvals: %w", err)
	}
	return n, nil
}

func scanApproval(row rowScanner) (*entity.ExpenseApproval, error) {
	var a entity.ExpenseApproval
	var comments sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.ExpenseID,
		&a.ApproverID,
		&a.SequenceOrder,
		&a.Status,
		&comments,
		&approvedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Comments = fromNullString(comments)
	a.ApprovedAt = fromNullTime(approvedAt)
	return &a, nil
}

var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
