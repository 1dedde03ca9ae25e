package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
)

const (
	sheetName = "Expenses"

	// row 1 holds the title, row 3 the column headers
	titleRow   = 1
	headerRow  = 3
	dataRowTop = 4
)

var columns = []string{
	"Date", "Employee", "Category", "Description", "Status",
	"Amount", "Currency", "Rate", "Converted",
}

// XLSXWriter renders expense rows into an Excel workbook
type XLSXWriter struct {
	logger *zap.Logger
}

// NewXLSXWriter creates a new XLSXWriter
func NewXLSXWriter(logger *zap.Logger) *XLSXWriter {
	return &XLSXWriter{logger: logger}
}

var _ port.ReportWriter = (*XLSXWriter)(nil)

// Write builds the workbook in memory and streams it to w
func (x *XLSXWriter) Write(w io.Writer, title, currency string, rows []port.ReportRow) error {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := file.SetCellValue(sheetName, cell("A", titleRow), fmt.Sprintf("%s (%s)", title, currency)); err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}

	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	for i, name := range columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := file.SetCellValue(sheetName, cell(col, headerRow), name); err != nil {
			return fmt.Errorf("failed to set header %s: %w", name, err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	if err := file.SetCellStyle(sheetName, cell("A", headerRow), cell(lastCol, headerRow), bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		row := dataRowTop + i
		e := r.Expense
		amount, _ := e.Amount.Float64()
		converted, _ := r.ConvertedAmount.Float64()
		rate, _ := r.Rate.Float64()

		values := []interface{}{
			e.ExpenseDate.Format("2006-01-02"),
			r.EmployeeName,
			e.Category,
			e.Description,
			e.Status,
			amount,
			e.Currency,
			rate,
			converted,
		}
		if err := file.SetSheetRow(sheetName, cell("A", row), &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
	}

	if len(rows) > 0 {
		totalRow := dataRowTop + len(rows)
		convertedCol, _ := excelize.ColumnNumberToName(len(columns))
		if err := file.SetCellValue(sheetName, cell("A", totalRow), "Total"); err != nil {
			return fmt.Errorf("failed to set total label: %w", err)
		}
		formula := fmt.Sprintf("SUM(%s:%s)", cell(convertedCol, dataRowTop), cell(convertedCol, totalRow-1))
		if err := file.SetCellFormula(sheetName, cell(convertedCol, totalRow), formula); err != nil {
			return fmt.Errorf("failed to set total formula: %w", err)
		}
	}

	if err := file.SetColWidth(sheetName, "B", "D", 24); err != nil {
		x.logger.Warn("Failed to widen report columns", zap.Error(err))
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	x.logger.Debug("Expense report rendered", zap.Int("rows", len(rows)), zap.String("currency", currency))
	return nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
