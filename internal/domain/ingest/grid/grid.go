// Package grid turns uploaded spreadsheet bytes into a rectangular cell
// grid. This is the boundary between raw files and the ingestion core:
// everything downstream works on [][]string.
package grid

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stocktally/stocktally/internal/domain/common"
)

// Parse dispatches on the file extension. CSV/TSV and XLSX are supported.
func Parse(fileName string, data []byte) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(data)
	case ".csv", ".tsv", ".txt", "":
		return ParseCSV(data)
	default:
		return nil, fmt.Errorf("unsupported file type %q: %w", filepath.Ext(fileName), common.ErrParseFailure)
	}
}

// ParseCSV reads a delimited text file, sniffing the delimiter from the
// first lines. Rows may have varying widths; quoting is lenient because
// exports from legacy systems rarely quote correctly.
func ParseCSV(data []byte) ([][]string, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file: %w", common.ErrParseFailure)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %v: %w", err, common.ErrParseFailure)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// ParseXLSX reads the first sheet of an xlsx workbook.
func ParseXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %v: %w", err, common.ErrParseFailure)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets: %w", common.ErrParseFailure)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %v: %w", sheets[0], err, common.ErrParseFailure)
	}
	return rows, nil
}

// detectDelimiter picks the candidate that appears most often in the first
// few lines. Comma wins ties, matching the most common export format.
func detectDelimiter(data []byte) rune {
	sample := string(data)
	if idx := strings.IndexByte(sample, '\n'); idx > 0 {
		// Up to three lines is enough signal.
		lines := strings.SplitN(sample, "\n", 4)
		if len(lines) > 3 {
			lines = lines[:3]
		}
		sample = strings.Join(lines, "\n")
	}

	best := ','
	bestCount := strings.Count(sample, ",")
	for _, d := range []rune{';', '\t', '|'} {
		if c := strings.Count(sample, string(d)); c > bestCount {
			best = d
			bestCount = c
		}
	}
	return best
}
