// Package exporter rebuilds export views from stored state. The raw view
// lists every line item per file; the aggregated view replays the files'
// structural templates with live aggregate totals, so the section layout is
// frozen at upload time while the numbers are always current.
package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/stocktally/stocktally/internal/domain/ingest/aggregate"
	"github.com/stocktally/stocktally/internal/domain/ingest/normalizer"
	"github.com/stocktally/stocktally/internal/domain/ingest/repository"
)

// RawRow is one line item annotated with its owning file.
type RawRow struct {
	FileID   uuid.UUID `json:"fileId"`
	FileName string    `json:"fileName"`
	RowIndex int       `json:"rowIndex"`
	ItemID   string    `json:"itemId,omitempty"`
	Name     string    `json:"name"`
	Quantity float64   `json:"quantity"`
	Unit     string    `json:"unit"`
}

// AggregatedRowKind discriminates section banners from numbered item rows.
type AggregatedRowKind string

const (
	RowHeader AggregatedRowKind = "header"
	RowItem   AggregatedRowKind = "item"
)

// AggregatedRow is one emitted row of the merged view.
type AggregatedRow struct {
	Kind     AggregatedRowKind `json:"kind"`
	LineNo   int               `json:"lineNo,omitempty"`
	Label    string            `json:"label,omitempty"`
	ItemID   string            `json:"itemId,omitempty"`
	Name     string            `json:"name,omitempty"`
	Quantity float64           `json:"quantity,omitempty"`
	Unit     string            `json:"unit,omitempty"`
	Count    int               `json:"count,omitempty"`
}

// BuildRaw flattens stored line items, which arrive ordered by file then by
// original row position, into annotated rows.
func BuildRaw(files []*repository.SourceFile, items []*repository.LineItem) []RawRow {
	names := make(map[uuid.UUID]string, len(files))
	for _, f := range files {
		names[f.ID] = f.FileName
	}

	rows := make([]RawRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, RawRow{
			FileID:   item.FileID,
			FileName: names[item.FileID],
			RowIndex: item.RowIndex,
			ItemID:   item.ItemID,
			Name:     item.Name,
			Quantity: item.Quantity,
			Unit:     item.Unit,
		})
	}
	return rows
}

// BuildAggregated walks the stored templates in upload order: each distinct
// header label is emitted once, each aggregate key at its first template
// reference with its current quantity. Aggregates never referenced by any
// template are appended afterwards in the stable order the repository
// returns them. Line numbers are assigned sequentially as rows are emitted.
func BuildAggregated(templates []*repository.FileTemplate, aggregates []*repository.AggregatedItem) []AggregatedRow {
	byKey := make(map[aggregate.Key]*repository.AggregatedItem, len(aggregates))
	for _, agg := range aggregates {
		byKey[agg.Key] = agg
	}

	var rows []AggregatedRow
	emittedKeys := make(map[aggregate.Key]bool)
	emittedHeaders := make(map[string]bool)
	lineNo := 0

	emitItem := func(agg *repository.AggregatedItem) {
		lineNo++
		rows = append(rows, AggregatedRow{
			Kind:     RowItem,
			LineNo:   lineNo,
			ItemID:   agg.ItemID,
			Name:     agg.Name,
			Quantity: agg.Quantity,
			Unit:     agg.Unit,
			Count:    agg.Count,
		})
		emittedKeys[agg.Key] = true
	}

	for _, tpl := range templates {
		for _, entry := range tpl.Entries {
			switch entry.Kind {
			case repository.EntryHeader:
				labelKey := normalizer.Key(entry.Label)
				if labelKey == "" || emittedHeaders[labelKey] {
					continue
				}
				emittedHeaders[labelKey] = true
				rows = append(rows, AggregatedRow{Kind: RowHeader, Label: entry.Label})
			case repository.EntryItem:
				agg, ok := byKey[entry.Key]
				if !ok || emittedKeys[entry.Key] {
					continue
				}
				emitItem(agg)
			}
		}
	}

	for _, agg := range aggregates {
		if !emittedKeys[agg.Key] {
			emitItem(agg)
		}
	}

	return rows
}

// WriteRawCSV serializes the raw view for download.
func WriteRawCSV(w io.Writer, rows []RawRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", "row", "item_id", "name", "quantity", "unit"}); err != nil {
		return fmt.Errorf("write raw header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.FileName,
			fmt.Sprintf("%d", row.RowIndex),
			row.ItemID,
			row.Name,
			formatQuantity(row.Quantity),
			row.Unit,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write raw row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAggregatedCSV serializes the merged view for download. Header rows
// keep their label in the name column, mirroring the uploaded layout.
func WriteAggregatedCSV(w io.Writer, rows []AggregatedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"no", "item_id", "name", "quantity", "unit", "contributions"}); err != nil {
		return fmt.Errorf("write aggregated header: %w", err)
	}
	for _, row := range rows {
		var record []string
		if row.Kind == RowHeader {
			record = []string{"", "", row.Label, "", "", ""}
		} else {
			record = []string{
				fmt.Sprintf("%d", row.LineNo),
				row.ItemID,
				row.Name,
				formatQuantity(row.Quantity),
				row.Unit,
				fmt.Sprintf("%d", row.Count),
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write aggregated row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
