package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vital fields recognized by the insight engine.
const (
	FieldSBP         = "sbp"
	FieldDBP         = "dbp"
	FieldBP          = "bp" // composite "120/80" readings
	FieldHeartRate   = "heart_rate"
	FieldTemperature = "temperature"
	FieldSpO2        = "spo2"
	FieldWeight      = "weight"
	FieldGlucose     = "glucose"
)

type VitalConcept struct {
	Display string   `yaml:"display" json:"display"`
	Field   string   `yaml:"field" json:"field"`
	LOINC   string   `yaml:"loinc" json:"loinc"`
	Aliases []string `yaml:"aliases" json:"aliases"`
}

// Catalog maps observation codes and free-text descriptions to canonical
// vital fields.
type Catalog struct {
	Concepts map[string]VitalConcept `yaml:"concepts" json:"concepts"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Concepts) == 0 {
		return Catalog{}, fmt.Errorf("vital catalog empty")
	}
	return cat, nil
}

// Resolve matches an observation's LOINC code first, then its description
// against concept keys and aliases. Description matching walks keys from the
// most specific (longest) down so "systolic blood pressure" wins over
// "blood pressure" when both occur in the text.
func (c Catalog) Resolve(code, description string) (VitalConcept, bool) {
	if c.Concepts == nil {
		return VitalConcept{}, false
	}

	code = strings.TrimSpace(code)
	if code != "" {
		for _, key := range c.orderedKeys() {
			concept := c.Concepts[key]
			if concept.LOINC != "" && concept.LOINC == code {
				return concept, true
			}
		}
	}

	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return VitalConcept{}, false
	}
	if concept, ok := c.Concepts[desc]; ok {
		return concept, true
	}
	for _, key := range c.orderedKeys() {
		if strings.Contains(desc, key) {
			return c.Concepts[key], true
		}
	}
	for _, key := range c.orderedKeys() {
		for _, alias := range c.Concepts[key].Aliases {
			if strings.Contains(desc, strings.ToLower(alias)) {
				return c.Concepts[key], true
			}
		}
	}
	return VitalConcept{}, false
}

// orderedKeys returns concept keys longest-first, ties broken
// lexicographically, so substring matches resolve the same way on every call.
func (c Catalog) orderedKeys() []string {
	keys := make([]string, 0, len(c.Concepts))
	for key := range c.Concepts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func DefaultCatalog() Catalog {
	return Catalog{Concepts: map[string]VitalConcept{
		"systolic blood pressure": {
			Display: "Systolic Blood Pressure",
			Field:   FieldSBP,
			LOINC:   "8480-6",
			Aliases: []string{"systolic", "sbp"},
		},
		"diastolic blood pressure": {
			Display: "Diastolic Blood Pressure",
			Field:   FieldDBP,
			LOINC:   "8462-4",
			Aliases: []string{"diastolic", "dbp"},
		},
		"blood pressure": {
			Display: "Blood Pressure Panel",
			Field:   FieldBP,
			LOINC:   "85354-9",
			Aliases: []string{"bp panel", "bp reading"},
		},
		"heart rate": {
			Display: "Heart Rate",
			Field:   FieldHeartRate,
			LOINC:   "8867-4",
			Aliases: []string{"pulse", "hr"},
		},
		"body temperature": {
			Display: "Body Temperature",
			Field:   FieldTemperature,
			LOINC:   "8310-5",
			Aliases: []string{"temperature", "temp"},
		},
		"oxygen saturation": {
			Display: "Oxygen Saturation",
			Field:   FieldSpO2,
			LOINC:   "2708-6",
			Aliases: []string{"spo2", "sat"},
		},
		"body weight": {
			Display: "Body Weight",
			Field:   FieldWeight,
			LOINC:   "29463-7",
			Aliases: []string{"weight"},
		},
		"blood glucose": {
			Display: "Blood Glucose",
			Field:   FieldGlucose,
			LOINC:   "2339-0",
			Aliases: []string{"glucose", "fasting glucose"},
		},
	}}
}
