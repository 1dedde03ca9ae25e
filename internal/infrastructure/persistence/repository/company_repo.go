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

// CompanyRepository implements port.CompanyRepository
type CompanyRepository struct {
	db     *sqldb.DB
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *sqldb.DB, logger *zap.Logger) port.CompanyRepository {
	return &CompanyRepository{db: db, logger: logger}
}

func (r *CompanyRepository) Create(ctx context.Context, c *entity.Company) error {
	if c.ID == "" {
		c.ID = newID()
	}
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts

	query := r.db.Rebind(`
		INSERT INTO companies (id, name, default_currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, c.ID, c.Name, c.DefaultCurrency, c.CreatedAt, c.UpdatedAt); err != nil {
		r.logger.Error("Failed to create company", zap.Error(err))
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := r.db.Rebind(`
		SELECT id, name, default_currency, created_at, updated_at
		FROM companies
		WHERE id = ?
	`)

	var c entity.Company
	err := r.db.Conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.DefaultCurrency, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

func (r *CompanyRepository) Update(ctx context.Context, c *entity.Company) error {
	c.UpdatedAt = now()
	query := r.db.Rebind(`UPDATE companies SET name = ?, default_currency = ?, updated_at = ? WHERE id = ?`)
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, c.Name, c.DefaultCurrency, c.UpdatedAt, c.ID); err != nil {
		r.logger.Error("Failed to update company", zap.String("id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to update company: %w", err)
	}
	return nil
}

var _ port.CompanyRepository = (*CompanyRepository)(nil)
