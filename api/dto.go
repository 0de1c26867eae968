/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures decoupling the wire contract from the domain model.
  Monetary values travel as decimal strings, dates as YYYY-MM-DD.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response: response wrappers

VALIDATION:
  Struct tags are checked with go-playground/validator in the handlers;
  semantic validation (amount positivity, field routing) stays in the
  ledger package.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parcelo/ledger-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RefRequest is a reference entity as the caller supplies it.
type RefRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r RefRequest) ref() ledger.Ref { return ledger.Ref{ID: r.ID, Name: r.Name} }

// CreateObligationRequest is the payload expanding into a plan of
// installments or recurring occurrences.
type CreateObligationRequest struct {
	Kind                 string          `json:"kind" validate:"required,oneof=payable receivable"`
	DocTypeCode          string          `json:"doc_type_code"`
	OriginDocNumber      string          `json:"origin_doc_number"`
	IssueDate            string          `json:"issue_date" validate:"required"`
	OriginalAmount       decimal.Decimal `json:"original_amount" validate:"required"`
	Counterparty         RefRequest      `json:"counterparty"`
	CounterpartyDocument string          `json:"counterparty_document"`
	Description          string          `json:"description"`

	DownPayment    decimal.Decimal `json:"down_payment"`
	DownPaymentDue string          `json:"down_payment_due"`
	Interest       decimal.Decimal `json:"interest"`
	Fines          decimal.Decimal `json:"fines"`
	Correction     decimal.Decimal `json:"correction"`
	Discounts      decimal.Decimal `json:"discounts"`
	Rebates        decimal.Decimal `json:"rebates"`

	InitialOffsetDays int `json:"initial_offset_days" validate:"min=0"`
	IntervalDays      int `json:"interval_days" validate:"min=0"`
	Count             int `json:"count" validate:"required,min=1"`

	Recurring bool   `json:"recurring"`
	Lineage   string `json:"lineage"`

	Category      RefRequest `json:"category"`
	Department    RefRequest `json:"department"`
	BillingMethod RefRequest `json:"billing_method"`
	Account       RefRequest `json:"account"`

	Notes           string `json:"notes"`
	AuthorizationID string `json:"authorization_id"`
	DocumentRef     string `json:"document_ref"`
}

func (r CreateObligationRequest) toInput() (ledger.ObligationInput, error) {
	issueDate, err := parseDate(r.IssueDate)
	if err != nil {
		return ledger.ObligationInput{}, &ledger.ValidationError{Field: "issue_date", Message: "use YYYY-MM-DD"}
	}
	var downDue time.Time
	if r.DownPaymentDue != "" {
		downDue, err = parseDate(r.DownPaymentDue)
		if err != nil {
			return ledger.ObligationInput{}, &ledger.ValidationError{Field: "down_payment_due", Message: "use YYYY-MM-DD"}
		}
	}

	return ledger.ObligationInput{
		Kind:                 ledger.Kind(r.Kind),
		DocTypeCode:          r.DocTypeCode,
		OriginDocNumber:      r.OriginDocNumber,
		IssueDate:            issueDate,
		OriginalAmount:       r.OriginalAmount,
		Counterparty:         r.Counterparty.ref(),
		CounterpartyDocument: r.CounterpartyDocument,
		Description:          r.Description,
		DownPayment:          r.DownPayment,
		DownPaymentDue:       downDue,
		Interest:             r.Interest,
		Fines:                r.Fines,
		Correction:           r.Correction,
		Discounts:            r.Discounts,
		Rebates:              r.Rebates,
		InitialOffsetDays:    r.InitialOffsetDays,
		IntervalDays:         r.IntervalDays,
		Count:                r.Count,
		Recurring:            r.Recurring,
		Lineage:              ledger.LineageID(r.Lineage),
		Category:             r.Category.ref(),
		Department:           r.Department.ref(),
		BillingMethod:        r.BillingMethod.ref(),
		Account:              r.Account.ref(),
		Notes:                r.Notes,
		AuthorizationID:      r.AuthorizationID,
		DocumentRef:          r.DocumentRef,
	}, nil
}

// UpdateInstallmentRequest carries a partial update keyed by registry
// field name. Values are decoded per field category in fieldsFromJSON.
type UpdateInstallmentRequest struct {
	Fields map[string]json.RawMessage `json:"fields" validate:"required,min=1"`
}

// DetectChangesRequest holds the edited field values; the handler builds
// the post-edit snapshot from them and runs detection against the current
// one.
type DetectChangesRequest struct {
	Fields map[string]json.RawMessage `json:"fields" validate:"required,min=1"`
}

// ApplyChangesRequest is the operator-approved subset of detected changes,
// passed back verbatim from the detect response.
type ApplyChangesRequest struct {
	Changes []ledger.FieldChange `json:"changes" validate:"required,min=1"`
}

// CancelBatchRequest lists the installments to cancel.
type CancelBatchRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

// RecordPaymentRequest appends one settlement record.
type RecordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	PaidAt string          `json:"paid_at" validate:"required"`
	Notes  string          `json:"notes"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// BatchResponse reports batch outcomes: requested versus actually modified,
// so partial failures are visible rather than silently swallowed.
type BatchResponse struct {
	Requested int    `json:"requested"`
	Modified  int    `json:"modified"`
	Error     string `json:"error,omitempty"`
}

// ApplyChangesResponse reports the replication outcome.
type ApplyChangesResponse struct {
	UpdatedCount int    `json:"updated_count"`
	Error        string `json:"error,omitempty"`
}

// =============================================================================
// FIELD DECODING
// =============================================================================

// fieldsFromJSON decodes raw JSON field values into typed ledger values
// guided by the field registry: financial fields expect decimal strings or
// numbers, date fields YYYY-MM-DD strings, relationship fields {id, name}
// objects, everything else plain strings.
func fieldsFromJSON(raw map[string]json.RawMessage) (ledger.Fields, error) {
	fields := ledger.Fields{}
	for name, msg := range raw {
		spec, ok := ledger.LookupField(name)
		if !ok {
			return nil, &ledger.ValidationError{Field: name, Message: "unknown field"}
		}
		switch spec.Category {
		case ledger.CategoryFinancial:
			var d decimal.Decimal
			if err := json.Unmarshal(msg, &d); err != nil {
				return nil, &ledger.ValidationError{Field: name, Message: "expected a decimal amount"}
			}
			fields[name] = d
		case ledger.CategoryDate:
			var s string
			if err := json.Unmarshal(msg, &s); err != nil {
				return nil, &ledger.ValidationError{Field: name, Message: "expected a date string"}
			}
			t, err := parseDate(s)
			if err != nil {
				return nil, &ledger.ValidationError{Field: name, Message: "use YYYY-MM-DD"}
			}
			fields[name] = t
		case ledger.CategoryRelationship:
			var r RefRequest
			if err := json.Unmarshal(msg, &r); err != nil {
				return nil, &ledger.ValidationError{Field: name, Message: "expected {id, name}"}
			}
			fields[name] = r.ref()
		default:
			var s string
			if err := json.Unmarshal(msg, &s); err != nil {
				return nil, &ledger.ValidationError{Field: name, Message: "expected a string"}
			}
			fields[name] = s
		}
	}
	return fields, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
