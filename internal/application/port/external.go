package port

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
)

// Conversion is the result of converting an amount between currencies
type Conversion struct {
	Amount   decimal.Decimal
	Rate     decimal.Decimal
	RateDate time.Time
	Source   string
}

// CurrencyConverter converts amounts between ISO 4217 currencies
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error)
}

// ReportRow is one expense line of an exported report
type ReportRow struct {
	Expense         *entity.Expense
	EmployeeName    string
	ConvertedAmount decimal.Decimal
	Rate            decimal.Decimal
}

// ReportWriter renders expense rows into a document
type ReportWriter interface {
	Write(w io.Writer, title, currency string, rows []ReportRow) error
}
