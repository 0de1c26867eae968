/*
fields.go - The field registry: ownership, categories, replication order

PURPOSE:
  A single table describing every updatable field of the hierarchy:
  which level owns it (invoice / plan / installment), its change
  category, whether the change detector replicates it to series
  siblings, and whether a detected change is pre-selected for the
  operator.

  Update routing (manager.go) and change detection (changes.go) both
  read this registry so the two can never disagree about a field.

VALUE REPRESENTATION:
  Field values cross the API boundary and the change detector as Value,
  a small tagged union over text / amount / date / reference. Empty
  string, zero ref and nil all normalize to "absent".
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEVELS AND CATEGORIES
// =============================================================================

// Level identifies which row of the hierarchy owns a field.
type Level string

const (
	LevelInvoice     Level = "invoice"
	LevelPlan        Level = "plan"
	LevelInstallment Level = "installment"
)

// Category classifies a field for change presentation and selection.
type Category string

const (
	CategoryBasic        Category = "basic"
	CategoryFinancial    Category = "financial"
	CategoryDate         Category = "date"
	CategoryRelationship Category = "relationship"
	CategoryDocument     Category = "document"
	CategoryConfig       Category = "config"
	CategoryText         Category = "text"
)

// =============================================================================
// FIELD SPECS
// =============================================================================

type FieldSpec struct {
	Name       string
	Level      Level
	Category   Category
	Replicable bool
	// DefaultSelected marks changes the operator approval dialog pre-checks.
	DefaultSelected bool
	Label           string
}

// fieldRegistry is the fixed, ordered list of updatable fields. The order of
// the replicable entries is the order DetectChanges reports them in.
var fieldRegistry = []FieldSpec{
	// Installment-level, replicable.
	{Name: "amount", Level: LevelInstallment, Category: CategoryFinancial, Replicable: true, DefaultSelected: true, Label: "Amount"},
	{Name: "due_date", Level: LevelInstallment, Category: CategoryDate, Replicable: true, DefaultSelected: true, Label: "Due date"},
	{Name: "description", Level: LevelInstallment, Category: CategoryBasic, Replicable: true, DefaultSelected: false, Label: "Description"},
	{Name: "category", Level: LevelInstallment, Category: CategoryRelationship, Replicable: true, DefaultSelected: true, Label: "Category"},
	{Name: "department", Level: LevelInstallment, Category: CategoryRelationship, Replicable: true, DefaultSelected: true, Label: "Department"},
	{Name: "billing_method", Level: LevelInstallment, Category: CategoryRelationship, Replicable: true, DefaultSelected: true, Label: "Billing method"},
	{Name: "account", Level: LevelInstallment, Category: CategoryRelationship, Replicable: true, DefaultSelected: true, Label: "Account"},
	{Name: "document_ref", Level: LevelInstallment, Category: CategoryDocument, Replicable: true, DefaultSelected: false, Label: "Document reference"},
	{Name: "notes", Level: LevelInstallment, Category: CategoryText, Replicable: true, DefaultSelected: false, Label: "Notes"},
	{Name: "authorization_id", Level: LevelInstallment, Category: CategoryConfig, Replicable: true, DefaultSelected: false, Label: "Authorization"},

	// Plan-level add-ons and discounts.
	{Name: "interest", Level: LevelPlan, Category: CategoryFinancial, Label: "Interest"},
	{Name: "fines", Level: LevelPlan, Category: CategoryFinancial, Label: "Fines"},
	{Name: "correction", Level: LevelPlan, Category: CategoryFinancial, Label: "Monetary correction"},
	{Name: "discounts", Level: LevelPlan, Category: CategoryFinancial, Label: "Discounts"},
	{Name: "rebates", Level: LevelPlan, Category: CategoryFinancial, Label: "Rebates"},

	// Invoice-level descriptive fields.
	{Name: "origin_doc_number", Level: LevelInvoice, Category: CategoryDocument, Label: "Origin document"},
	{Name: "counterparty_name", Level: LevelInvoice, Category: CategoryBasic, Label: "Counterparty"},
}

var fieldsByName = func() map[string]FieldSpec {
	m := make(map[string]FieldSpec, len(fieldRegistry))
	for _, f := range fieldRegistry {
		m[f.Name] = f
	}
	return m
}()

// LookupField returns the spec for a field name.
func LookupField(name string) (FieldSpec, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

// ReplicableFields returns the ordered list the change detector iterates.
func ReplicableFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range fieldRegistry {
		if f.Replicable {
			out = append(out, f)
		}
	}
	return out
}

// =============================================================================
// FIELDS - a partial update, keyed by registry name
// =============================================================================

// Fields is the payload of an update: registry field name to new value.
// Values are Value, decimal.Decimal, time.Time, Ref or string; the manager
// coerces and validates them against the registry before routing.
type Fields map[string]any

// =============================================================================
// VALUE - tagged union over the field value kinds
// =============================================================================

// Value carries one field value through change detection and the API.
// Exactly one member is set; the zero Value means "absent".
type Value struct {
	Text   string           `json:"text,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Date   *time.Time       `json:"date,omitempty"`
	Ref    *Ref             `json:"ref,omitempty"`
}

func TextValue(s string) Value { return Value{Text: s} }

func AmountValue(d decimal.Decimal) Value { return Value{Amount: &d} }

func DateValue(t time.Time) Value {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Value{Date: &day}
}

func RefValue(r Ref) Value {
	if r.IsZero() {
		return Value{}
	}
	return Value{Ref: &r}
}

// IsAbsent reports whether the value normalizes to "nothing": empty string,
// nil amount/date, zero ref.
func (v Value) IsAbsent() bool {
	return v.Text == "" && v.Amount == nil && v.Date == nil && (v.Ref == nil || v.Ref.IsZero())
}

// Equal compares two values after normalization. Absent equals absent
// regardless of representation; references compare by id only (display
// names are denormalized and may lag).
func (v Value) Equal(o Value) bool {
	if v.IsAbsent() || o.IsAbsent() {
		return v.IsAbsent() == o.IsAbsent()
	}
	switch {
	case v.Amount != nil && o.Amount != nil:
		return v.Amount.Equal(*o.Amount)
	case v.Date != nil && o.Date != nil:
		return v.Date.Equal(*o.Date)
	case v.Ref != nil && o.Ref != nil:
		return v.Ref.ID == o.Ref.ID
	default:
		return v.Text == o.Text
	}
}

func (v Value) String() string {
	switch {
	case v.IsAbsent():
		return "(none)"
	case v.Amount != nil:
		return v.Amount.StringFixed(2)
	case v.Date != nil:
		return v.Date.Format("2006-01-02")
	case v.Ref != nil:
		if v.Ref.Name != "" {
			return v.Ref.Name
		}
		return v.Ref.ID
	default:
		return v.Text
	}
}

// coerceValue validates a raw Fields entry against the field's category and
// returns the typed value the stores expect.
func coerceValue(spec FieldSpec, raw any) (any, error) {
	if v, ok := raw.(Value); ok {
		switch spec.Category {
		case CategoryFinancial:
			if v.Amount == nil {
				return nil, &ValidationError{Field: spec.Name, Message: "expected a monetary amount"}
			}
			raw = *v.Amount
		case CategoryDate:
			if v.Date == nil {
				return nil, &ValidationError{Field: spec.Name, Message: "expected a date"}
			}
			raw = *v.Date
		case CategoryRelationship:
			if v.Ref == nil {
				return nil, &ValidationError{Field: spec.Name, Message: "expected a reference"}
			}
			raw = *v.Ref
		default:
			raw = v.Text
		}
	}

	switch spec.Category {
	case CategoryFinancial:
		d, ok := raw.(decimal.Decimal)
		if !ok {
			return nil, &ValidationError{Field: spec.Name, Message: fmt.Sprintf("expected a monetary amount, got %T", raw)}
		}
		if d.IsNegative() {
			return nil, &ValidationError{Field: spec.Name, Message: "amount must not be negative"}
		}
		return d, nil
	case CategoryDate:
		t, ok := raw.(time.Time)
		if !ok {
			return nil, &ValidationError{Field: spec.Name, Message: fmt.Sprintf("expected a date, got %T", raw)}
		}
		if t.IsZero() {
			return nil, &ValidationError{Field: spec.Name, Message: "date is required"}
		}
		return t, nil
	case CategoryRelationship:
		r, ok := raw.(Ref)
		if !ok {
			return nil, &ValidationError{Field: spec.Name, Message: fmt.Sprintf("expected a reference, got %T", raw)}
		}
		if r.ID == "" {
			return nil, &ValidationError{Field: spec.Name, Message: "reference id is required"}
		}
		return r, nil
	default:
		s, ok := raw.(string)
		if !ok {
			return nil, &ValidationError{Field: spec.Name, Message: fmt.Sprintf("expected text, got %T", raw)}
		}
		return s, nil
	}
}
