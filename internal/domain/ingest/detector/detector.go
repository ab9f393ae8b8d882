// Package detector scores spreadsheet header rows against a bilingual role
// vocabulary and assigns semantic roles to column indices. Detection is
// deterministic and side-effect free; the same headers and samples always
// produce the same mapping and confidence.
package detector

import (
	"sort"
	"strings"

	"github.com/stocktally/stocktally/internal/domain/common"
	"github.com/stocktally/stocktally/internal/domain/ingest/mapping"
	"github.com/stocktally/stocktally/internal/domain/ingest/normalizer"
)

// Match weights, exact beats prefix beats substring.
const (
	weightExact     = 1.0
	weightPrefix    = 0.8
	weightSubstring = 0.6

	quantityNumericBoost = 0.3
	lineNumberBoost      = 0.2
	unitShapeBoost       = 0.25
	emptyColumnPenalty   = 0.2

	// Positional fallback suggestions carry a nominal score so a UI can
	// still pre-select something when nothing matched the vocabulary.
	fallbackScore = 0.1
)

// Header synonyms per role. Inventory exports in the wild mix Polish and
// English headers, sometimes within one file, so both are always checked.
// All terms are pre-normalized (normalizer.Key form).
var vocabulary = map[mapping.Role][]string{
	mapping.RoleItemID: {
		"nr indeksu", "indeks", "kod towaru", "kod", "symbol", "sku",
		"item id", "item code", "index no", "product code", "article no",
	},
	mapping.RoleName: {
		"nazwa towaru", "nazwa", "towar", "asortyment", "material",
		"name", "item name", "item", "product", "description", "opis",
	},
	mapping.RoleQuantity: {
		"ilosc", "stan", "stan magazynowy", "liczba",
		"quantity", "qty", "amount", "count", "stock",
	},
	mapping.RoleUnit: {
		"jmz", "jm", "j m", "jedn", "jednostka", "jednostka miary", "miara",
		"unit", "uom", "unit of measure", "measure",
	},
	mapping.RoleLineNumber: {
		"lp", "l p", "poz", "pozycja", "nr poz",
		"no", "line", "line no", "ordinal", "row",
	},
}

// Candidate is one scored (column, role) pairing.
type Candidate struct {
	Column int          `json:"column"`
	Header string       `json:"header"`
	Role   mapping.Role `json:"role"`
	Score  float64      `json:"score"`
}

// Result carries the assignment plus per-role scores and the full ranked
// candidate list, which doubles as the manual-mapping suggestion set.
type Result struct {
	RoleMap     mapping.RoleMap          `json:"roleMap"`
	Confidence  float64                  `json:"confidence"`
	RoleScores  map[mapping.Role]float64 `json:"roleScores"`
	Suggestions []Candidate              `json:"suggestions"`
}

// Detect assigns roles to columns. sampleRows may be nil; when present they
// refine quantity/unit scores. Fails with common.ErrDetectionFailed if any of
// the name, quantity or unit roles cannot be assigned; the returned Result is
// still populated with best-effort suggestions in that case.
func Detect(headers []string, sampleRows [][]string) (*Result, error) {
	result := &Result{
		RoleMap:    mapping.NewRoleMap(),
		RoleScores: make(map[mapping.Role]float64),
	}

	var assignable []Candidate
	for col, header := range headers {
		key := normalizer.Key(header)
		samples := columnSamples(sampleRows, col)
		emptiness := emptyRatio(samples)

		for _, role := range mapping.Roles {
			vocabScore := bestVocabScore(key, vocabulary[role])
			// Raw scores may exceed 1 when a boost stacks on an exact match;
			// ranking uses the raw value, reported scores are clamped below.
			score := vocabScore + sampleBoost(role, samples)
			if emptiness > 0.6 {
				score -= emptyColumnPenalty
			}
			if score <= 0 {
				continue
			}

			cand := Candidate{Column: col, Header: header, Role: role, Score: score}
			result.Suggestions = append(result.Suggestions, cand)
			// Only vocabulary-backed candidates are confident enough to assign;
			// sample shape alone stays a suggestion.
			if vocabScore > 0 {
				assignable = append(assignable, cand)
			}
		}
	}

	sortCandidates(result.Suggestions)
	sortCandidates(assignable)

	// Greedy highest-score-first, one role per column and one column per role.
	usedCols := make(map[int]bool)
	for _, cand := range assignable {
		if usedCols[cand.Column] || result.RoleMap.Column(cand.Role) != mapping.ColumnUnset {
			continue
		}
		result.RoleMap.Assign(cand.Role, cand.Column)
		result.RoleScores[cand.Role] = clamp01(cand.Score)
		usedCols[cand.Column] = true
	}

	if len(result.RoleScores) > 0 {
		sum := 0.0
		for _, s := range result.RoleScores {
			sum += s
		}
		result.Confidence = sum / float64(len(result.RoleScores))
	}

	for _, role := range mapping.MandatoryRoles {
		if result.RoleMap.Column(role) == mapping.ColumnUnset {
			if len(result.Suggestions) == 0 {
				result.Suggestions = positionalFallback(headers)
			}
			return result, common.ErrDetectionFailed
		}
	}

	return result, nil
}

// bestVocabScore returns the strongest match between a normalized header and
// a role's synonym list.
func bestVocabScore(key string, terms []string) float64 {
	if key == "" {
		return 0
	}
	best := 0.0
	for _, term := range terms {
		var w float64
		switch {
		case key == term:
			w = weightExact
		case strings.HasPrefix(key, term) || strings.HasPrefix(term, key):
			w = weightPrefix
		case strings.Contains(key, term):
			w = weightSubstring
		}
		if w > best {
			best = w
		}
	}
	return best
}

// sampleBoost refines a role score from sample cell shapes: quantity and line
// number columns should be numeric, unit columns hold short repeated tokens.
func sampleBoost(role mapping.Role, samples []string) float64 {
	nonEmpty := nonEmptySamples(samples)
	if len(nonEmpty) == 0 {
		return 0
	}

	switch role {
	case mapping.RoleQuantity:
		return quantityNumericBoost * numericRatio(nonEmpty)
	case mapping.RoleLineNumber:
		return lineNumberBoost * numericRatio(nonEmpty)
	case mapping.RoleUnit:
		short := 0
		distinct := make(map[string]bool)
		for _, s := range nonEmpty {
			key := normalizer.Key(s)
			if key != "" && len(key) <= 5 && numericRatio([]string{s}) == 0 {
				short++
			}
			distinct[key] = true
		}
		shortRatio := float64(short) / float64(len(nonEmpty))
		// Units repeat: a column with as many values as rows is unlikely a unit.
		distinctFactor := 1.0
		if len(nonEmpty) > 1 && len(distinct) == len(nonEmpty) {
			distinctFactor = 0.5
		}
		return unitShapeBoost * shortRatio * distinctFactor
	}
	return 0
}

func columnSamples(rows [][]string, col int) []string {
	var out []string
	for _, row := range rows {
		if col < len(row) {
			out = append(out, row[col])
		} else {
			out = append(out, "")
		}
	}
	return out
}

func nonEmptySamples(samples []string) []string {
	var out []string
	for _, s := range samples {
		if normalizer.CleanText(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func emptyRatio(samples []string) float64 {
	if len(samples) == 0 {
		return 0
	}
	empty := 0
	for _, s := range samples {
		if normalizer.CleanText(s) == "" {
			empty++
		}
	}
	return float64(empty) / float64(len(samples))
}

func numericRatio(samples []string) float64 {
	if len(samples) == 0 {
		return 0
	}
	numeric := 0
	for _, s := range samples {
		if _, err := normalizer.ParseQuantity(s); err == nil {
			numeric++
		}
	}
	return float64(numeric) / float64(len(samples))
}

// sortCandidates orders by score descending with full tie-breakers so
// detection stays deterministic.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Column != cands[j].Column {
			return cands[i].Column < cands[j].Column
		}
		return roleOrder(cands[i].Role) < roleOrder(cands[j].Role)
	})
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func roleOrder(role mapping.Role) int {
	for i, r := range mapping.Roles {
		if r == role {
			return i
		}
	}
	return len(mapping.Roles)
}

// positionalFallback guesses mandatory roles by column position when the
// vocabulary matched nothing, so manual mapping always has a starting point.
func positionalFallback(headers []string) []Candidate {
	var out []Candidate
	for i, role := range mapping.MandatoryRoles {
		if i >= len(headers) {
			break
		}
		out = append(out, Candidate{Column: i, Header: headers[i], Role: role, Score: fallbackScore})
	}
	return out
}
