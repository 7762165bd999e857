package ingest

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
)

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: csv parsing error: %v", domain.ErrValidation, err)
	}
	return records, nil
}
