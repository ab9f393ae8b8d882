// Package mapping defines the semantic column roles and validates
// header-to-role assignments before they are saved or applied.
package mapping

import "fmt"

// Role is a semantic column purpose assigned during detection.
type Role string

const (
	RoleItemID     Role = "item_id"
	RoleName       Role = "name"
	RoleQuantity   Role = "quantity"
	RoleUnit       Role = "unit"
	RoleLineNumber Role = "line_number"
)

// Roles lists every role in a stable order, mandatory first.
var Roles = []Role{RoleName, RoleQuantity, RoleUnit, RoleItemID, RoleLineNumber}

// MandatoryRoles must all be assigned for a mapping to be usable.
var MandatoryRoles = []Role{RoleName, RoleQuantity, RoleUnit}

// ColumnUnset marks a role without an assigned column.
const ColumnUnset = -1

// RoleMap assigns a column index to each role. Name, Quantity and Unit are
// mandatory; ItemID and LineNumber may stay ColumnUnset.
type RoleMap struct {
	ItemIDCol     int `json:"itemIdCol"`
	NameCol       int `json:"nameCol"`
	QuantityCol   int `json:"quantityCol"`
	UnitCol       int `json:"unitCol"`
	LineNumberCol int `json:"lineNumberCol"`
}

// NewRoleMap returns a RoleMap with every column unset.
func NewRoleMap() RoleMap {
	return RoleMap{
		ItemIDCol:     ColumnUnset,
		NameCol:       ColumnUnset,
		QuantityCol:   ColumnUnset,
		UnitCol:       ColumnUnset,
		LineNumberCol: ColumnUnset,
	}
}

// Column returns the column index assigned to a role, or ColumnUnset.
func (m RoleMap) Column(role Role) int {
	switch role {
	case RoleItemID:
		return m.ItemIDCol
	case RoleName:
		return m.NameCol
	case RoleQuantity:
		return m.QuantityCol
	case RoleUnit:
		return m.UnitCol
	case RoleLineNumber:
		return m.LineNumberCol
	}
	return ColumnUnset
}

// Assign sets the column index for a role.
func (m *RoleMap) Assign(role Role, col int) {
	switch role {
	case RoleItemID:
		m.ItemIDCol = col
	case RoleName:
		m.NameCol = col
	case RoleQuantity:
		m.QuantityCol = col
	case RoleUnit:
		m.UnitCol = col
	case RoleLineNumber:
		m.LineNumberCol = col
	}
}

// ValidationResult accumulates every structural problem found in a mapping
// so a caller can present all of them at once.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks that mandatory roles are assigned to distinct, in-range
// column indices. headers may be nil when the target file is not yet known.
// It never fails fast; one error string is produced per violation.
func Validate(m RoleMap, headers []string) ValidationResult {
	var errs []string

	for _, role := range MandatoryRoles {
		if m.Column(role) == ColumnUnset {
			errs = append(errs, fmt.Sprintf("mandatory role %q has no column assigned", role))
		}
	}

	for _, role := range Roles {
		col := m.Column(role)
		if col == ColumnUnset {
			continue
		}
		if col < 0 {
			errs = append(errs, fmt.Sprintf("role %q has a negative column index %d", role, col))
			continue
		}
		if headers != nil && col >= len(headers) {
			errs = append(errs, fmt.Sprintf("role %q points at column %d, file only has %d columns", role, col, len(headers)))
		}
	}

	// Mandatory roles reading the same column would make rows self-contradictory.
	seen := map[int]Role{}
	for _, role := range MandatoryRoles {
		col := m.Column(role)
		if col < 0 {
			continue
		}
		if prev, ok := seen[col]; ok {
			errs = append(errs, fmt.Sprintf("roles %q and %q are both assigned to column %d", prev, role, col))
			continue
		}
		seen[col] = role
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
