package terminology

import "testing"

func TestResolveByLOINC(t *testing.T) {
	cat := DefaultCatalog()

	concept, ok := cat.Resolve("8480-6", "")
	if !ok {
		t.Fatal("expected LOINC 8480-6 to resolve")
	}
	if concept.Field != FieldSBP {
		t.Errorf("field = %q, want %q", concept.Field, FieldSBP)
	}
}

func TestResolveDescriptionPrefersMostSpecificKey(t *testing.T) {
	cat := DefaultCatalog()

	// The text contains both the "systolic blood pressure" and the
	// "blood pressure" concept keys. The longer key must win every time.
	for i := 0; i < 200; i++ {
		concept, ok := cat.Resolve("", "Systolic Blood Pressure reading at clinic")
		if !ok {
			t.Fatal("expected description to resolve")
		}
		if concept.Field != FieldSBP {
			t.Fatalf("call %d: field = %q, want %q", i, concept.Field, FieldSBP)
		}
	}
}

func TestResolveDescriptionAliases(t *testing.T) {
	cat := DefaultCatalog()

	tests := []struct {
		description string
		field       string
	}{
		{"resting pulse", FieldHeartRate},
		{"diastolic blood pressure, sitting", FieldDBP},
		{"BP panel, automated cuff", FieldBP},
		{"fasting glucose level", FieldGlucose},
	}
	for _, tt := range tests {
		concept, ok := cat.Resolve("", tt.description)
		if !ok {
			t.Errorf("Resolve(%q): expected a match", tt.description)
			continue
		}
		if concept.Field != tt.field {
			t.Errorf("Resolve(%q) field = %q, want %q", tt.description, concept.Field, tt.field)
		}
	}
}

func TestResolveNoMatch(t *testing.T) {
	cat := DefaultCatalog()

	if _, ok := cat.Resolve("", "respiratory rate"); ok {
		t.Error("expected no match for unknown vital")
	}
	if _, ok := cat.Resolve("", ""); ok {
		t.Error("expected no match for empty description")
	}
	if _, ok := (Catalog{}).Resolve("8480-6", "systolic"); ok {
		t.Error("expected no match on empty catalog")
	}
}
