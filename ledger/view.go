/*
view.go - Denormalized read model

PURPOSE:
  InstallmentView is the flattened record the caller displays: one row
  joining Invoice + Plan + Installment plus the payment aggregates.
  Assembly is a pure function over the four entities, kept strictly
  separate from the write path.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentView flattens the four-level hierarchy into one record,
// including computed AmountPaid and RemainingBalance.
type InstallmentView struct {
	InstallmentID InstallmentID `json:"installment_id"`
	PlanID        PlanID        `json:"plan_id"`
	InvoiceID     InvoiceID     `json:"invoice_id"`

	// Invoice level.
	Kind                 Kind            `json:"kind"`
	DocTypeCode          string          `json:"doc_type_code"`
	OriginDocNumber      string          `json:"origin_doc_number"`
	IssueDate            time.Time       `json:"issue_date"`
	OriginalAmount       decimal.Decimal `json:"original_amount"`
	Counterparty         Ref             `json:"counterparty"`
	CounterpartyDocument string          `json:"counterparty_document"`

	// Plan level.
	DownPayment decimal.Decimal `json:"down_payment"`
	Interest    decimal.Decimal `json:"interest"`
	Fines       decimal.Decimal `json:"fines"`
	Correction  decimal.Decimal `json:"correction"`
	Discounts   decimal.Decimal `json:"discounts"`
	Rebates     decimal.Decimal `json:"rebates"`
	Base        decimal.Decimal `json:"base"`
	Total       decimal.Decimal `json:"total"`
	Count       int             `json:"count"`
	Recurring   bool            `json:"recurring"`
	Lineage     LineageID       `json:"lineage,omitempty"`

	// Installment level.
	Seq             int             `json:"seq"`
	Code            string          `json:"code"`
	DueDate         time.Time       `json:"due_date"`
	Amount          decimal.Decimal `json:"amount"`
	Status          Status          `json:"status"`
	Category        Ref             `json:"category"`
	Department      Ref             `json:"department"`
	BillingMethod   Ref             `json:"billing_method"`
	Account         Ref             `json:"account"`
	Description     string          `json:"description"`
	Notes           string          `json:"notes"`
	AuthorizationID string          `json:"authorization_id"`
	DocumentRef     string          `json:"document_ref"`

	// Payment aggregates.
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

// NewInstallmentView assembles the flattened record. Pure; tombstoned
// payments must already be filtered by the store.
func NewInstallmentView(inv Invoice, p Plan, in Installment, payments []Payment) InstallmentView {
	paid := decimal.Zero
	for _, pay := range payments {
		paid = paid.Add(pay.Amount)
	}

	return InstallmentView{
		InstallmentID: in.ID,
		PlanID:        p.ID,
		InvoiceID:     inv.ID,

		Kind:                 inv.Kind,
		DocTypeCode:          inv.DocTypeCode,
		OriginDocNumber:      inv.OriginDocNumber,
		IssueDate:            inv.IssueDate,
		OriginalAmount:       inv.OriginalAmount,
		Counterparty:         inv.Counterparty,
		CounterpartyDocument: inv.CounterpartyDocument,

		DownPayment: p.DownPayment,
		Interest:    p.Interest,
		Fines:       p.Fines,
		Correction:  p.Correction,
		Discounts:   p.Discounts,
		Rebates:     p.Rebates,
		Base:        p.Base,
		Total:       p.Total,
		Count:       p.Count,
		Recurring:   p.Recurring,
		Lineage:     p.Lineage,

		Seq:             in.Seq,
		Code:            in.Code,
		DueDate:         in.DueDate,
		Amount:          in.Amount,
		Status:          in.Status,
		Category:        in.Category,
		Department:      in.Department,
		BillingMethod:   in.BillingMethod,
		Account:         in.Account,
		Description:     in.Description,
		Notes:           in.Notes,
		AuthorizationID: in.AuthorizationID,
		DocumentRef:     in.DocumentRef,

		AmountPaid:       paid,
		RemainingBalance: in.Amount.Sub(paid),
	}
}

// SeriesKind returns the tagged series variant for this row.
func (v InstallmentView) SeriesKind() SeriesKind {
	if v.Recurring {
		return SeriesRecurring
	}
	return SeriesInstallment
}

// WithFields returns a copy of the view with the given replicable field
// values applied, without persisting anything. Callers use it to build the
// post-edit snapshot handed to DetectChanges.
func (v InstallmentView) WithFields(fields Fields) (InstallmentView, error) {
	for name, raw := range fields {
		spec, ok := LookupField(name)
		if !ok || !spec.Replicable {
			return v, &ValidationError{Field: name, Message: "not a replicable field"}
		}
		value, err := coerceValue(spec, raw)
		if err != nil {
			return v, err
		}
		switch name {
		case "amount":
			v.Amount = value.(decimal.Decimal)
		case "due_date":
			v.DueDate = value.(time.Time)
		case "description":
			v.Description = value.(string)
		case "category":
			v.Category = value.(Ref)
		case "department":
			v.Department = value.(Ref)
		case "billing_method":
			v.BillingMethod = value.(Ref)
		case "account":
			v.Account = value.(Ref)
		case "document_ref":
			v.DocumentRef = value.(string)
		case "notes":
			v.Notes = value.(string)
		case "authorization_id":
			v.AuthorizationID = value.(string)
		}
	}
	return v, nil
}

// FieldValue extracts a replicable field as a normalized Value.
// Unknown names return the absent value.
func (v InstallmentView) FieldValue(name string) Value {
	switch name {
	case "amount":
		return AmountValue(v.Amount)
	case "due_date":
		if v.DueDate.IsZero() {
			return Value{}
		}
		return DateValue(v.DueDate)
	case "description":
		return TextValue(v.Description)
	case "category":
		return RefValue(v.Category)
	case "department":
		return RefValue(v.Department)
	case "billing_method":
		return RefValue(v.BillingMethod)
	case "account":
		return RefValue(v.Account)
	case "document_ref":
		return TextValue(v.DocumentRef)
	case "notes":
		return TextValue(v.Notes)
	case "authorization_id":
		return TextValue(v.AuthorizationID)
	default:
		return Value{}
	}
}
