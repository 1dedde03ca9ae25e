package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
)

const workflowColumns = `id, company_id, name, approvers, approval_sequence, conditional_rules, is_active, created_at, updated_at`

// WorkflowRepository implements port.WorkflowRepository.
// Approvers, sequence and rules are stored as JSON text.
type WorkflowRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sqldb.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Create(ctx context.Context, w *entity.ApprovalWorkflow) error {
	if w.ID == "" {
		w.ID = newID()
	}
	ts := now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = ts
	}
	w.UpdatedAt = ts

	approvers, sequence, rules, err := encodeWorkflow(w)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`
		INSERT INTO approval_workflows (` + workflowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.Conn(ctx).ExecContext(ctx, query,
		w.ID, w.CompanyID, w.Name, approvers, sequence, rules, w.IsActive, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("company_id", w.CompanyID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error) {
	query := r.db.Rebind(`SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = ?`)
	w, err := scanWorkflow(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return w, nil
}

func (r *WorkflowRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.ApprovalWorkflow, error) {
	query := r.db.Rebind(`
		SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE company_id = ?
		ORDER BY created_at DESC, id ASC
	`)
	return r.list(ctx, query, companyID)
}

func (r *WorkflowRepository) ListActiveByCompany(ctx context.Context, companyID string) ([]*entity.ApprovalWorkflow, error) {
	query := r.db.Rebind(`
		SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE company_id = ? AND is_active = ?
		ORDER BY created_at ASC, id ASC
	`)
	return r.list(ctx, query, companyID, true)
}

func (r *WorkflowRepository) Update(ctx context.Context, w *entity.ApprovalWorkflow) error {
	w.UpdatedAt = now()
	approvers, sequence, rules, err := encodeWorkflow(w)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`
		UPDATE approval_workflows
		SET name = ?, approvers = ?, approval_sequence = ?, conditional_rules = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err = r.db.Conn(ctx).ExecContext(ctx, query, w.Name, approvers, sequence, rules, w.IsActive, w.UpdatedAt, w.ID)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.String("id", w.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := r.db.Rebind(`UPDATE approval_workflows SET is_active = ?, updated_at = ? WHERE id = ?`)
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, active, now(), id); err != nil {
		r.logger.Error("Failed to toggle workflow", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to set workflow active: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) DeactivateOthers(ctx context.Context, companyID, keepID string) error {
	query := r.db.Rebind(`
		UPDATE approval_workflows
		SET is_active = ?, updated_at = ?
		WHERE company_id = ? AND id <> ? AND is_active = ?
	`)
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, false, now(), companyID, keepID, true); err != nil {
		r.logger.Error("Failed to deactivate workflows", zap.String("company_id", companyID), zap.Error(err))
		return fmt.Errorf("failed to deactivate workflows: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM approval_workflows WHERE id = ?`)
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, id); err != nil {
		r.logger.Error("Failed to delete workflow", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalWorkflow, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovalWorkflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func encodeWorkflow(w *entity.ApprovalWorkflow) (approvers, sequence string, rules sql.NullString, err error) {
	a := w.Approvers
	if a == nil {
		a = []string{}
	}
	s := w.ApprovalSequence
	if s == nil {
		s = []int{}
	}

	ab, err := json.Marshal(a)
	if err != nil {
		return "", "", rules, fmt.Errorf("failed to encode approvers: %w", err)
	}
	sb, err := json.Marshal(s)
	if err != nil {
		return "", "", rules, fmt.Errorf("failed to encode approval sequence: %w", err)
	}
	if w.ConditionalRules != nil {
		rb, err := json.Marshal(w.ConditionalRules)
		if err != nil {
			return "", "", rules, fmt.Errorf("failed to encode conditional rules: %w", err)
		}
		rules = sql.NullString{String: string(rb), Valid: true}
	}
	return string(ab), string(sb), rules, nil
}

func scanWorkflow(row rowScanner) (*entity.ApprovalWorkflow, error) {
	var w entity.ApprovalWorkflow
	var approvers, sequence string
	var rules sql.NullString

	err := row.Scan(
		&w.ID,
		&w.CompanyID,
		&w.Name,
		&approvers,
		&sequence,
		&rules,
		&w.IsActive,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(approvers), &w.Approvers); err != nil {
		return nil, fmt.Errorf("failed to decode approvers: %w", err)
	}
	if err := json.Unmarshal([]byte(sequence), &w.ApprovalSequence); err != nil {
		return nil, fmt.Errorf("failed to decode approval sequence: %w", err)
	}
	if rules.Valid && rules.String != "" {
		var cr entity.ConditionalRules
		if err := json.Unmarshal([]byte(rules.String), &cr); err != nil {
			return nil, fmt.Errorf("failed to decode conditional rules: %w", err)
		}
		w.ConditionalRules = &cr
	}
	return &w, nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
