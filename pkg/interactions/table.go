package interactions

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/clinsight-ai/platform/pkg/common/config"
	"github.com/clinsight-ai/platform/pkg/common/logger"
)

// Interaction is one known medication pair with clinical significance.
type Interaction struct {
	A        string `yaml:"a" json:"a"`
	B        string `yaml:"b" json:"b"`
	Severity string `yaml:"severity" json:"severity"`
	Note     string `yaml:"note" json:"note"`
}

type Table struct {
	Interactions []Interaction `yaml:"interactions" json:"interactions"`

	index map[string]Interaction
}

var (
	table     Table
	tableOnce sync.Once
	tableErr  error
)

// Get returns the process-wide interaction table. The load happens exactly
// once, on first use, no matter how many callers race here.
func Get() (Table, error) {
	tableOnce.Do(func() {
		cfg := config.Load()
		table, tableErr = load(cfg.InteractionsPath)
		if tableErr != nil {
			logger.Log.WithError(tableErr).Warn("falling back to built-in interaction table")
			table, tableErr = DefaultTable(), nil
		}
	})
	return table, tableErr
}

func load(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Table{}, err
	}
	var t Table
	if err := yaml.Unmarshal(content, &t); err != nil {
		return Table{}, err
	}
	t.buildIndex()
	return t, nil
}

func (t *Table) buildIndex() {
	t.index = make(map[string]Interaction, len(t.Interactions))
	for _, in := range t.Interactions {
		t.index[pairKey(in.A, in.B)] = in
	}
}

func pairKey(a, b string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Check returns every known interaction among the given medication names.
func (t Table) Check(medications []string) []Interaction {
	if t.index == nil || len(medications) < 2 {
		return nil
	}
	var found []Interaction
	seen := map[string]bool{}
	for i := 0; i < len(medications); i++ {
		for j := i + 1; j < len(medications); j++ {
			key := pairKey(medications[i], medications[j])
			if seen[key] {
				continue
			}
			if in, ok := t.index[key]; ok {
				found = append(found, in)
				seen[key] = true
			}
		}
	}
	return found
}

func DefaultTable() Table {
	t := Table{Interactions: []Interaction{
		{A: "warfarin", B: "aspirin", Severity: "high", Note: "Increased bleeding risk"},
		{A: "warfarin", B: "ibuprofen", Severity: "high", Note: "Increased bleeding risk"},
		{A: "lisinopril", B: "spironolactone", Severity: "medium", Note: "Risk of hyperkalemia"},
		{A: "metformin", B: "furosemide", Severity: "low", Note: "May affect glycemic control"},
		{A: "simvastatin", B: "amiodarone", Severity: "high", Note: "Risk of myopathy at high statin doses"},
	}}
	t.buildIndex()
	return t
}
