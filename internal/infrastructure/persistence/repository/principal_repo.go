package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
)

const principalColumns = `id, email, full_name, role, company_id, manager_id, is_manager_approver, created_at, updated_at`

// PrincipalRepository implements port.PrincipalRepository
type PrincipalRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *sqldb.DB, logger *zap.Logger) port.PrincipalRepository {
	return &PrincipalRepository{db: db, logger: logger}
}

func (r *PrincipalRepository) Create(ctx context.Context, p *entity.Principal) error {
	if p.ID == "" {
		p.ID = newID()
	}
	ts := now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = ts
	}
	p.UpdatedAt = ts

	query := r.db.Rebind(`
		INSERT INTO principals (` + principalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		p.ID,
		p.Email,
		p.FullName,
		p.Role,
		p.CompanyID,
		toNullString(p.ManagerID),
		p.IsManagerApprover,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create principal", zap.String("email", p.Email), zap.Error(err))
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*entity.Principal, error) {
	query := r.db.Rebind(`SELECT ` + principalColumns + ` FROM principals WHERE id = ?`)
	p, err := scanPrincipal(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get principal", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*entity.Principal, error) {
	query := r.db.Rebind(`SELECT ` + principalColumns + ` FROM principals WHERE email = ?`)
	p, err := scanPrincipal(r.db.Conn(ctx).QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get principal by email", zap.Error(err))
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

func (r *PrincipalRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.Principal, error) {
	query := r.db.Rebind(`
		SELECT ` + principalColumns + `
		FROM principals
		WHERE company_id = ?
		ORDER BY created_at ASC, id ASC
	`)
	return r.list(ctx, query, companyID)
}

func (r *PrincipalRepository) ListByCompanyAndRoles(ctx context.Context, companyID string, roles []string) ([]*entity.Principal, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	in, args := inClause(roles)
	query := r.db.Rebind(`
		SELECT ` + principalColumns + `
		FROM principals
		WHERE company_id = ? AND role IN ` + in + `
		ORDER BY created_at ASC, id ASC
	`)
	return r.list(ctx, query, append([]interface{}{companyID}, args...)...)
}

func (r *PrincipalRepository) ListByManager(ctx context.Context, managerID string) ([]*entity.Principal, error) {
	query := r.db.Rebind(`
		SELECT ` + principalColumns + `
		FROM principals
		WHERE manager_id = ?
		ORDER BY created_at ASC, id ASC
	`)
	return r.list(ctx, query, managerID)
}

func (r *PrincipalRepository) Update(ctx context.Context, p *entity.Principal) error {
	p.UpdatedAt = now()
	query := r.db.Rebind(`
		UPDATE principals
		SET email = ?, full_name = ?, role = ?, manager_id = ?, is_manager_approver = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		p.Email, p.FullName, p.Role, toNullString(p.ManagerID), p.IsManagerApprover, p.UpdatedAt, p.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update principal", zap.String("id", p.ID), zap.Error(err))
		return fmt.Errorf("failed to update principal: %w", err)
	}
	return nil
}

func (r *PrincipalRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM principals WHERE id = ?`)
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, id); err != nil {
		r.logger.Error("Failed to delete principal", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete principal: %w", err)
	}
	return nil
}

func (r *PrincipalRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Principal, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list principals", zap.Error(err))
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var out []*entity.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipal(row rowScanner) (*entity.Principal, error) {
	var p entity.Principal
	var managerID sql.NullString
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&p.Role,
		&p.CompanyID,
		&managerID,
		&p.IsManagerApprover,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ManagerID = fromNullString(managerID)
	return &p, nil
}

var _ port.PrincipalRepository = (*PrincipalRepository)(nil)
