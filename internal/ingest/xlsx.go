package ingest

import (
	"fmt"
	"io"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/xuri/excelize/v2"
)

// readXLSX returns the raw cell values of the first worksheet.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: excel parsing error: %v", domain.ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no worksheet found in excel file", domain.ErrValidation)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: excel parsing error: %v", domain.ErrValidation, err)
	}
	return rows, nil
}
