package ingest

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
)

// Metadata summarizes a parsed file.
type Metadata struct {
	TotalRows   int `json:"totalRows"`
	ValidRows   int `json:"validRows"`
	InvalidRows int `json:"invalidRows"`
}

// Result holds the requisitions accepted from a file and the per-row problems of the rest.
type Result struct {
	Requisitions []domain.RequisitionRequest `json:"requisitions"`
	Errors       []string                    `json:"errors"`
	Metadata     Metadata                    `json:"metadata"`
}

// Parse reads a CSV or XLSX upload. Each data row becomes one single-line requisition.
// Rows failing validation are reported in Result.Errors rather than failing the parse.
func Parse(fileName string, r io.Reader) (*Result, error) {
	var (
		records [][]string
		err     error
	)

	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: unsupported file format %q", domain.ErrValidation, ext)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: file has no header row", domain.ErrValidation)
	}

	return mapRecords(records), nil
}

func mapRecords(records [][]string) *Result {
	header := normalizeHeader(records[0])
	result := &Result{
		Requisitions: make([]domain.RequisitionRequest, 0, len(records)-1),
		Errors:       []string{},
	}

	for i, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		rowNumber := i + 2
		result.Metadata.TotalRows++

		req, problems := mapRow(rowFromRecord(header, record))
		if len(problems) > 0 {
			result.Metadata.InvalidRows++
			for _, p := range problems {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: %s", rowNumber, p))
			}
			continue
		}

		result.Metadata.ValidRows++
		result.Requisitions = append(result.Requisitions, req)
	}

	return result
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
