// Package normalizer turns free-form spreadsheet text into canonical tokens.
// The same folding is used for header matching and aggregate key construction,
// so "Kg", " kg " and "KG" collapse to one key.
package normalizer

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrInvalidQuantity = errors.New("invalid quantity format")

// foldDiacritics decomposes to NFD, drops combining marks and recomposes.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Letters that decompose to nothing useful under NFD and need explicit folding.
// Polish ł carries a stroke, not a combining mark.
var strokeFold = strings.NewReplacer(
	"ł", "l", "Ł", "l",
	"ø", "o", "Ø", "o",
	"đ", "d", "Đ", "d",
)

var spaceRun = regexp.MustCompile(`\s+`)

// Key folds text into a canonical matching key: trimmed, lower-cased,
// diacritics stripped, punctuation dropped, inner whitespace collapsed.
// Pure function, empty input yields empty key.
func Key(raw string) string {
	folded, _, err := transform.String(foldDiacritics, raw)
	if err != nil {
		folded = raw
	}
	folded = strokeFold.Replace(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// Punctuation and symbols are matching noise and are dropped.
	}

	return strings.TrimSpace(spaceRun.ReplaceAllString(b.String(), " "))
}

// CleanText trims and collapses whitespace while preserving case.
// Used for display values (item names) where folding would lose information.
func CleanText(raw string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(raw, " "))
}

// ParseQuantity converts a cell value to a finite, non-negative float64.
// Accepts both decimal-comma ("1 234,56") and decimal-point ("1,234.56")
// conventions; when both separators appear, the last one wins as the decimal
// mark. Anything that does not parse to a finite non-negative number fails.
func ParseQuantity(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
	if cleaned == "" {
		return 0, ErrInvalidQuantity
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// European: 1.234,56
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			// American: 1,234.56
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	}

	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, ErrInvalidQuantity
	}
	if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 {
		return 0, ErrInvalidQuantity
	}
	return val, nil
}
