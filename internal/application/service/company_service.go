package service

import (
	"context"
	"strings"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
	"github.com/garyjia/reimburse-approvals/pkg/utils"
)

// countryCurrencies maps the signup country field to a default currency.
// Both display names and ISO country codes are accepted.
var countryCurrencies = map[string]string{
	"United States":  "USD",
	"United Kingdom": "GBP",
	"European Union": "EUR",
	"India":          "INR",
	"Canada":         "CAD",
	"Australia":      "AUD",
	"US":             "USD",
	"GB":             "GBP",
	"EU":             "EUR",
	"IN":             "INR",
	"CA":             "CAD",
	"AU":             "AUD",
}

// CurrencyForCountry returns the default currency of country, USD if unknown
func CurrencyForCountry(country string) string {
	if c, ok := countryCurrencies[strings.TrimSpace(country)]; ok {
		return c
	}
	return "USD"
}

// SignupInput creates a company together with its first admin
type SignupInput struct {
	CompanyName string `json:"company_name"`
	Country     string `json:"country"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
}

// CompanySettings are the admin-editable company fields
type CompanySettings struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// CompanyService handles tenant signup and settings
type CompanyService interface {
	Signup(ctx context.Context, in SignupInput) (*entity.Company, *entity.Principal, error)
	GetCompany(ctx context.Context, actor *entity.Principal) (*entity.Company, error)
	UpdateSettings(ctx context.Context, actor *entity.Principal, in CompanySettings) (*entity.Company, error)
}

type companyServiceImpl struct {
	companyRepo   port.CompanyRepository
	principalRepo port.PrincipalRepository
	txManager     port.TransactionManager
	logger        Logger
}

// NewCompanyService creates a new CompanyService
func NewCompanyService(
	companyRepo port.CompanyRepository,
	principalRepo port.PrincipalRepository,
	txManager port.TransactionManager,
	logger Logger,
) CompanyService {
	return &companyServiceImpl{
		companyRepo:   companyRepo,
		principalRepo: principalRepo,
		txManager:     txManager,
		logger:        logger,
	}
}

func (s *companyServiceImpl) Signup(ctx context.Context, in SignupInput) (*entity.Company, *entity.Principal, error) {
	name := utils.SanitizeString(in.CompanyName)
	fullName := utils.SanitizeString(in.FullName)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if len(name) < 2 {
		return nil, nil, validationf("company name must be at least 2 characters")
	}
	if len(fullName) < 2 {
		return nil, nil, validationf("full name must be at least 2 characters")
	}
	if err := utils.ValidateEmail(email); err != nil {
		return nil, nil, validationf("%v", err)
	}
	if len(strings.TrimSpace(in.Country)) < 2 {
		return nil, nil, validationf("country is required")
	}

	existing, err := s.principalRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, persistence("check email", err)
	}
	if existing != nil {
		return nil, nil, validationf("email %s is already registered", email)
	}

	company := &entity.Company{
		Name:            name,
		DefaultCurrency: CurrencyForCountry(in.Country),
	}
	admin := &entity.Principal{
		Email:             email,
		FullName:          fullName,
		Role:              entity.RoleAdmin,
		IsManagerApprover: true,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.companyRepo.Create(txCtx, company); err != nil {
			return err
		}
		admin.CompanyID = company.ID
		return s.principalRepo.Create(txCtx, admin)
	})
	if err != nil {
		s.logger.Error("Signup failed", "company", name, "error", err)
		return nil, nil, persistence("signup", err)
	}

	s.logger.Info("Company created",
		"company_id", company.ID,
		"admin_id", admin.ID,
		"currency", company.DefaultCurrency,
	)
	return company, admin, nil
}

func (s *companyServiceImpl) GetCompany(ctx context.Context, actor *entity.Principal) (*entity.Company, error) {
	if actor == nil {
		return nil, validationf("acting principal is required")
	}
	c, err := s.companyRepo.GetByID(ctx, actor.CompanyID)
	if err != nil {
		return nil, persistence("load company", err)
	}
	if c == nil {
		return nil, notFoundf("company %s", actor.CompanyID)
	}
	return c, nil
}

func (s *companyServiceImpl) UpdateSettings(ctx context.Context, actor *entity.Principal, in CompanySettings) (*entity.Company, error) {
	if err := requireAdmin(actor, "change company settings"); err != nil {
		return nil, err
	}
	c, err := s.GetCompany(ctx, actor)
	if err != nil {
		return nil, err
	}

	if name := utils.SanitizeString(in.Name); name != "" {
		if len(name) < 2 {
			return nil, validationf("company name must be at least 2 characters")
		}
		c.Name = name
	}
	if in.Currency != "" {
		code, err := utils.NormalizeCurrency(in.Currency)
		if err != nil {
			return nil, validationf("%v", err)
		}
		c.DefaultCurrency = code
	}

	if err := s.companyRepo.Update(ctx, c); err != nil {
		return nil, persistence("update company", err)
	}
	s.logger.Info("Company settings updated", "company_id", c.ID, "currency", c.DefaultCurrency)
	return c, nil
}
