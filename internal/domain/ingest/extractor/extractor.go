// Package extractor applies a resolved column mapping to a parsed grid,
// yielding typed line items and the file's structural template. Malformed
// rows are skipped silently; section banner rows become template headers.
package extractor

import (
	"github.com/stocktally/stocktally/internal/domain/ingest/aggregate"
	"github.com/stocktally/stocktally/internal/domain/ingest/mapping"
	"github.com/stocktally/stocktally/internal/domain/ingest/normalizer"
	"github.com/stocktally/stocktally/internal/domain/ingest/repository"
)

// Section banners commonly found in inventory exports. A row whose single
// populated cell folds to one of these is always treated as a header.
var bannerLabels = map[string]bool{
	"surowce":        true,
	"opakowania":     true,
	"polprodukty":    true,
	"wyroby gotowe":  true,
	"towary":         true,
	"materialy":      true,
	"raw materials":  true,
	"packaging":      true,
	"semi finished":  true,
	"finished goods": true,
	"goods":          true,
	"materials":      true,
}

// A short text-only row is heuristically a banner too.
const bannerMaxWords = 4

// Result is the outcome of extracting one grid.
type Result struct {
	// Items are the usable rows in grid order, with Key precomputed and
	// RowIndex preserved from the original grid.
	Items []*repository.LineItem
	// Template is the file's structural skeleton: headers and item refs in
	// the order they appeared.
	Template []repository.TemplateEntry
	// Skipped counts non-empty rows dropped for missing name, unparseable
	// quantity or missing unit. Not an error: the caller may report it.
	Skipped int
}

// Extract walks data rows below headerRowIndex and applies the role mapping.
// Pure with respect to its inputs; rows failing validation are never
// partially returned.
func Extract(grid [][]string, roleMap mapping.RoleMap, headerRowIndex int) *Result {
	res := &Result{}

	for rowIdx := headerRowIndex + 1; rowIdx < len(grid); rowIdx++ {
		row := grid[rowIdx]

		populated := populatedCells(row)
		if len(populated) == 0 {
			continue
		}

		if label, ok := bannerLabel(row, populated); ok {
			res.Template = append(res.Template, repository.TemplateEntry{
				Kind:  repository.EntryHeader,
				Label: label,
			})
			continue
		}

		name := normalizer.CleanText(cell(row, roleMap.NameCol))
		unit := normalizer.CleanText(cell(row, roleMap.UnitCol))
		quantity, qtyErr := normalizer.ParseQuantity(cell(row, roleMap.QuantityCol))

		if normalizer.Key(name) == "" || normalizer.Key(unit) == "" || qtyErr != nil {
			res.Skipped++
			continue
		}

		itemID := ""
		if roleMap.ItemIDCol != mapping.ColumnUnset {
			itemID = normalizer.CleanText(cell(row, roleMap.ItemIDCol))
		}

		res.Items = append(res.Items, &repository.LineItem{
			Key:      aggregate.ComputeKey(itemID, name, unit),
			ItemID:   itemID,
			Name:     name,
			Quantity: quantity,
			Unit:     unit,
			RowIndex: rowIdx,
		})
		res.Template = append(res.Template, repository.TemplateEntry{
			Kind:   repository.EntryItem,
			Key:    aggregate.ComputeKey(itemID, name, unit),
			ItemID: itemID,
			Name:   name,
			Unit:   unit,
		})
	}

	return res
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func populatedCells(row []string) []int {
	var out []int
	for i, c := range row {
		if normalizer.CleanText(c) != "" {
			out = append(out, i)
		}
	}
	return out
}

// bannerLabel decides whether a row is a section banner: a single populated
// cell that is not a number and is either a known label or short free text.
func bannerLabel(row []string, populated []int) (string, bool) {
	if len(populated) != 1 {
		return "", false
	}
	text := normalizer.CleanText(row[populated[0]])
	if _, err := normalizer.ParseQuantity(text); err == nil {
		return "", false
	}
	key := normalizer.Key(text)
	if key == "" {
		return "", false
	}
	if bannerLabels[key] {
		return text, true
	}
	if countWords(key) <= bannerMaxWords {
		return text, true
	}
	return "", false
}

func countWords(key string) int {
	n := 0
	inWord := false
	for _, r := range key {
		if r == ' ' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
