package ingest

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet = "Requisitions"
	summarySheet = "Summary"
)

var resultHeaders = []string{
	"Requisition ID",
	"External Reference",
	"Business Unit",
	"Requester",
	"Status",
	"Fusion Requisition ID",
	"Requisition Number",
	"Submitted At",
	"Lines",
	"Total Amount",
	"Error Message",
}

// ExportBatchXLSX renders a batch and its requisitions as an XLSX workbook.
func ExportBatchXLSX(b *domain.Batch) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("batch is required")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	for i, h := range resultHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(resultsSheet, cell, h)
	}

	for i, r := range b.Requisitions {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(resultsSheet, cell, v)
		}

		write(1, r.ID)
		write(2, deref(r.ExternalReference))
		write(3, r.BusinessUnit)
		write(4, r.Requester)
		write(5, r.Status.String())
		write(6, deref(r.FusionRequisitionID))
		write(7, deref(r.RequisitionNumber))
		if r.SubmittedAt != nil {
			write(8, r.SubmittedAt.UTC().Format(time.RFC3339))
		}
		write(9, len(r.Lines))
		write(10, totalAmount(r.Lines).InexactFloat64())
		write(11, deref(r.ErrorMessage))
	}

	summary := [][2]any{
		{"Batch ID", b.ID},
		{"File Name", b.FileName},
		{"Status", b.Status.String()},
		{"Total Items", b.TotalItems},
		{"Processed Items", b.ProcessedItems},
		{"Successful Items", b.SuccessfulItems},
		{"Failed Items", b.FailedItems},
		{"Created At", b.CreatedAt.UTC().Format(time.RFC3339)},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 38)
	_ = f.SetColWidth(resultsSheet, "B", "G", 22)
	_ = f.SetColWidth(resultsSheet, "K", "K", 60)
	_ = f.SetColWidth(summarySheet, "A", "B", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportFileName is the download name for a batch export.
func ExportFileName(batchID string) string {
	return fmt.Sprintf("batch_%s_results.xlsx", batchID)
}

func totalAmount(lines []domain.RequisitionLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Quantity.Mul(l.UnitPrice))
	}
	return total
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
