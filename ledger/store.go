/*
store.go - The persistence collaborator interface

PURPOSE:
  Defines what the engine requires of storage: per-entity get / list /
  insert / update / soft-delete, plus an atomic transaction wrapper.
  Different implementations can use SQLite, PostgreSQL or memory.

SOFT-DELETE CONTRACT:
  Nothing is ever physically removed. SoftDelete* sets a tombstone
  timestamp; every read implicitly filters tombstoned rows. Soft-deleting
  an already-tombstoned or missing row is a no-op, which is what makes
  the deletion cascade idempotent and safe to retry.

ATOMICITY:
  WithTx executes fn against a transactional view of the store. The
  multi-row obligation Create and the bottom-up deletion cascade both run
  inside one transaction, so a mid-sequence failure never leaves a
  partial hierarchy behind.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - ledger/store/memory.go: in-memory for tests and dev
*/
package ledger

import (
	"context"
	"time"
)

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	Kind Kind // empty = all kinds
}

// InvoiceStore persists the top level of the hierarchy.
type InvoiceStore interface {
	InsertInvoice(ctx context.Context, inv Invoice) error
	// GetInvoice returns nil when the invoice is missing or tombstoned.
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
	// UpdateInvoice applies coerced registry fields and returns the row.
	UpdateInvoice(ctx context.Context, id InvoiceID, fields Fields) (*Invoice, error)
	SoftDeleteInvoice(ctx context.Context, id InvoiceID, at time.Time) error
}

// PlanStore persists installment plans.
type PlanStore interface {
	InsertPlan(ctx context.Context, p Plan) error
	GetPlan(ctx context.Context, id PlanID) (*Plan, error)
	ListPlansByInvoice(ctx context.Context, id InvoiceID) ([]Plan, error)
	// ListPlansByLineage returns active recurring plans sharing a lineage.
	ListPlansByLineage(ctx context.Context, lineage LineageID) ([]Plan, error)
	UpdatePlan(ctx context.Context, id PlanID, fields Fields) (*Plan, error)
	SoftDeletePlan(ctx context.Context, id PlanID, at time.Time) error
}

// InstallmentStore persists the scheduled rows.
type InstallmentStore interface {
	// InsertInstallments writes a whole series in one logical batch.
	InsertInstallments(ctx context.Context, ins []Installment) error
	GetInstallment(ctx context.Context, id InstallmentID) (*Installment, error)
	// ListInstallmentsByPlan returns active rows ordered by Seq.
	ListInstallmentsByPlan(ctx context.Context, id PlanID) ([]Installment, error)
	UpdateInstallment(ctx context.Context, id InstallmentID, fields Fields) (*Installment, error)
	// SetInstallmentStatus is the only way status is written. Exposed on the
	// store rather than as an updatable field so cancellation and settlement
	// cannot arrive through a generic field update.
	SetInstallmentStatus(ctx context.Context, id InstallmentID, status Status) error
	SoftDeleteInstallment(ctx context.Context, id InstallmentID, at time.Time) error
}

// PaymentStore persists settlement records. Payments are append-only.
type PaymentStore interface {
	InsertPayment(ctx context.Context, p Payment) error
	ListPaymentsByInstallment(ctx context.Context, id InstallmentID) ([]Payment, error)
	SoftDeletePaymentsByInstallment(ctx context.Context, id InstallmentID, at time.Time) error
}

// Store is the full persistence collaborator.
type Store interface {
	InvoiceStore
	PlanStore
	InstallmentStore
	PaymentStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
