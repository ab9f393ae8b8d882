package mapping

import (
	"strings"
	"testing"
)

func TestValidate_Complete(t *testing.T) {
	m := RoleMap{ItemIDCol: 1, NameCol: 2, QuantityCol: 3, UnitCol: 4, LineNumberCol: 0}
	res := Validate(m, []string{"L.p.", "Nr indeksu", "Nazwa towaru", "Ilość", "JMZ"})
	if !res.Valid {
		t.Fatalf("expected valid mapping, got errors: %v", res.Errors)
	}
}

func TestValidate_MissingMandatoryRoles(t *testing.T) {
	m := NewRoleMap()
	m.NameCol = 0

	res := Validate(m, nil)
	if res.Valid {
		t.Fatal("expected invalid mapping")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected exactly 2 errors, got %d: %v", len(res.Errors), res.Errors)
	}

	joined := strings.Join(res.Errors, "\n")
	if !strings.Contains(joined, string(RoleQuantity)) {
		t.Errorf("errors do not name the quantity role: %v", res.Errors)
	}
	if !strings.Contains(joined, string(RoleUnit)) {
		t.Errorf("errors do not name the unit role: %v", res.Errors)
	}
}

func TestValidate_OutOfRangeAndOverlap(t *testing.T) {
	m := RoleMap{ItemIDCol: ColumnUnset, NameCol: 1, QuantityCol: 1, UnitCol: 7, LineNumberCol: ColumnUnset}
	res := Validate(m, []string{"A", "B", "C"})
	if res.Valid {
		t.Fatal("expected invalid mapping")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors (out of range + overlap), got %v", res.Errors)
	}
}

func TestValidate_NegativeIndex(t *testing.T) {
	m := RoleMap{ItemIDCol: -3, NameCol: 0, QuantityCol: 1, UnitCol: 2, LineNumberCol: ColumnUnset}
	res := Validate(m, nil)
	if res.Valid {
		t.Fatal("expected invalid mapping for negative index")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "negative") {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
}
