/*
Package ledger implements the hierarchical installment ledger and
change-propagation engine.

PURPOSE:
  This package owns the four-level entity graph

      Invoice -> Plan -> Installment -> Payment

  and the algorithms around it: exact monetary distribution of a plan
  total across installments, structured installment identifiers,
  field-level change detection with propagation to future open entries
  of a series, cancellation eligibility, and cascading soft-deletion.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice:     the originating billable/payable event
  - Plan:        the breakdown policy turning one Invoice into a schedule
  - Installment: one scheduled due amount (the row the caller displays)
  - Payment:     a settlement record against one Installment
  - SeriesKind:  tagged variant distinguishing installment series from
                 recurring series (never re-derived from flags)

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Soft deletion: rows carry a tombstone timestamp, reads filter them
  3. Type safety: typed string IDs prevent mixing entity levels
  4. Derived status: settlement status is computed from payments,
     never edited directly (cancellation goes through CancelBatch)

SEE ALSO:
  - distribute.go: monetary distribution rules
  - identifier.go: structured installment codes
  - manager.go:    create/update/delete across the hierarchy
  - changes.go:    change detection and replication
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InvoiceID string
type PlanID string
type InstallmentID string
type PaymentID string

// LineageID links recurring occurrences across plans into one series.
type LineageID string

// =============================================================================
// KIND - payable vs receivable
// =============================================================================

type Kind string

const (
	KindPayable    Kind = "payable"
	KindReceivable Kind = "receivable"
)

func (k Kind) Valid() bool { return k == KindPayable || k == KindReceivable }

// =============================================================================
// STATUS - per-installment settlement state machine
// =============================================================================

// Status transitions:
//
//	open -> partially_settled -> settled   (driven by aggregate payments)
//	open | partially_settled -> cancelled  (via CancelBatch only)
//
// settled and cancelled are terminal.
type Status string

const (
	StatusOpen             Status = "open"
	StatusPartiallySettled Status = "partially_settled"
	StatusSettled          Status = "settled"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether no further amount/date/status changes are allowed.
func (s Status) Terminal() bool { return s == StatusSettled || s == StatusCancelled }

// statusFor derives the settlement status from the aggregate paid amount.
// Cancellation is not derivable; callers must not pass a cancelled row here.
func statusFor(amount, paid decimal.Decimal) Status {
	switch {
	case paid.GreaterThanOrEqual(amount) && amount.IsPositive():
		return StatusSettled
	case paid.IsPositive():
		return StatusPartiallySettled
	default:
		return StatusOpen
	}
}

// =============================================================================
// SERIES KIND - tagged variant, carried explicitly
// =============================================================================

type SeriesKind string

const (
	// SeriesInstallment groups installments sharing one Plan.
	SeriesInstallment SeriesKind = "installment"
	// SeriesRecurring groups occurrences across plans sharing a LineageID.
	SeriesRecurring SeriesKind = "recurring"
)

// =============================================================================
// REFERENCE ENTITY - supplied by the external collaborator
// =============================================================================

// Ref is a reference entity (category, department, billing method, account,
// counterparty) as the surrounding system hands it to the core: id plus
// display name. The core never resolves or validates these beyond presence.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r Ref) IsZero() bool { return r.ID == "" && r.Name == "" }

// =============================================================================
// ENTITIES
// =============================================================================

// Invoice is the originating financial event. Created once per obligation and
// immutable except for a small set of descriptive fields.
type Invoice struct {
	ID              InvoiceID
	Kind            Kind
	DocTypeCode     string
	OriginDocNumber string
	IssueDate       time.Time
	OriginalAmount  decimal.Decimal
	Counterparty    Ref
	// CounterpartyDocument is the counterparty's document number (tax id);
	// its last two digits feed the installment identifier.
	CounterpartyDocument string
	Description          string

	CreatedAt time.Time
	DeletedAt *time.Time
}

// Plan is the breakdown policy for one Invoice. Exactly one plan belongs to
// one invoice at creation; re-planning means creating a new plan.
type Plan struct {
	ID        PlanID
	InvoiceID InvoiceID

	DownPayment    decimal.Decimal
	DownPaymentDue time.Time
	Interest       decimal.Decimal
	Fines          decimal.Decimal
	Correction     decimal.Decimal
	Discounts      decimal.Decimal
	Rebates        decimal.Decimal

	// Base = OriginalAmount - DownPayment.
	Base decimal.Decimal
	// Total = Base + Interest + Fines + Correction - Discounts - Rebates.
	// For a non-recurring plan the installment amounts sum to Total within
	// SumTolerance.
	Total decimal.Decimal

	InitialOffsetDays int
	IntervalDays      int
	Count             int

	Recurring bool
	Lineage   LineageID

	CreatedAt time.Time
	DeletedAt *time.Time
}

// Installment is one scheduled obligation, the unit presented as a row.
// Seq 0 is the down payment; 1..N are regular installments, or the
// occurrence number for a recurring series.
type Installment struct {
	ID     InstallmentID
	PlanID PlanID
	Seq    int
	// Code is the structured identifier (DD-OOOOOO-S-PP-TT), generated at
	// creation and stored, never recomputed on read.
	Code    string
	DueDate time.Time
	Amount  decimal.Decimal
	Status  Status

	Category      Ref
	Department    Ref
	BillingMethod Ref
	Account       Ref

	Description     string
	Notes           string
	AuthorizationID string
	DocumentRef     string

	CreatedAt time.Time
	DeletedAt *time.Time
}

// Payment is a settlement record against one Installment. Append-only; it is
// never mutated, only soft-deleted as part of the cascade.
type Payment struct {
	ID            PaymentID
	InstallmentID InstallmentID
	Amount        decimal.Decimal
	PaidAt        time.Time
	Notes         string

	CreatedAt time.Time
	DeletedAt *time.Time
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// SumTolerance is the accepted rounding drift between a plan total and the
// sum of its installment amounts: one cent.
var SumTolerance = decimal.NewFromFloat(0.01)

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// withinTolerance reports whether |a-b| <= SumTolerance.
func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(SumTolerance)
}
