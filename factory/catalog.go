/*
Package factory provides JSON to Go concept-catalog conversion.

PURPOSE:
  Converts JSON concept definitions into payroll.Concept values. This
  enables catalog configuration without code changes - administrators can
  define earnings, deductions, and benefits in JSON, stored in the
  database or shipped as files.

JSON SCHEMA:
  [
    {
      "code": "BASE_BONUS",
      "name": "Monthly bonus",
      "kind": "earning",
      "formula": "fixed_amount",
      "priority": 10,
      "amount": "150.00"
    },
    {
      "code": "HEALTH",
      "name": "Health insurance",
      "kind": "deduction",
      "formula": "salary_percent",
      "priority": 1,
      "mandatory": true,
      "rate": "0.04"
    }
  ]

KEY FEATURES:
  - Validates kind and formula against the registry
  - Decimal fields parse from strings to avoid float drift
  - Priority defaults keep catalog order stable

SEE ALSO:
  - payroll/concept.go: Concept type and registry
  - concepts: Built-in formula kinds
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// ConceptJSON is the JSON representation of one catalog entry.
type ConceptJSON struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Formula   string `json:"formula"`
	Priority  int    `json:"priority,omitempty"`
	Mandatory bool   `json:"mandatory,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Rate      string `json:"rate,omitempty"`
}

// CatalogFactory parses JSON concept catalogs, validating formula kinds
// against a registry so unresolvable concepts fail at load time, not
// mid-run.
type CatalogFactory struct {
	Registry *payroll.Registry
}

func NewCatalogFactory(registry *payroll.Registry) *CatalogFactory {
	return &CatalogFactory{Registry: registry}
}

// ParseCatalog converts a JSON array of concept definitions.
func (f *CatalogFactory) ParseCatalog(raw string) ([]payroll.Concept, error) {
	var entries []ConceptJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}

	concepts := make([]payroll.Concept, 0, len(entries))
	for i, entry := range entries {
		concept, err := f.parseConcept(entry, i)
		if err != nil {
			return nil, err
		}
		concepts = append(concepts, concept)
	}
	return concepts, nil
}

func (f *CatalogFactory) parseConcept(entry ConceptJSON, index int) (payroll.Concept, error) {
	if entry.Code == "" {
		return payroll.Concept{}, fmt.Errorf("catalog entry %d: missing code", index)
	}

	kind := payroll.ConceptKind(entry.Kind)
	switch kind {
	case payroll.KindEarning, payroll.KindDeduction, payroll.KindBenefit:
	default:
		return payroll.Concept{}, fmt.Errorf("concept %s: unknown kind %q", entry.Code, entry.Kind)
	}

	formula := payroll.FormulaKind(entry.Formula)
	if f.Registry != nil {
		if _, err := f.Registry.Resolve(formula); err != nil {
			return payroll.Concept{}, fmt.Errorf("concept %s: %w", entry.Code, err)
		}
	}

	amount, err := parseOptionalDecimal(entry.Amount)
	if err != nil {
		return payroll.Concept{}, fmt.Errorf("concept %s: amount: %w", entry.Code, err)
	}
	rate, err := parseOptionalDecimal(entry.Rate)
	if err != nil {
		return payroll.Concept{}, fmt.Errorf("concept %s: rate: %w", entry.Code, err)
	}

	priority := entry.Priority
	if priority == 0 {
		priority = index + 1 // Preserve catalog order by default
	}

	return payroll.Concept{
		Code:      payroll.ConceptCode(entry.Code),
		Name:      entry.Name,
		Kind:      kind,
		Formula:   formula,
		Priority:  priority,
		Mandatory: entry.Mandatory,
		Amount:    amount,
		Rate:      rate,
	}, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
