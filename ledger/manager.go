/*
manager.go - Ledger hierarchy manager

PURPOSE:
  Owns creation, update routing and cascading soft-deletion across the
  four-level hierarchy. All callers (the API layer, the replicator, the
  cancellation workflow) mutate the hierarchy exclusively through this
  service.

OPERATIONS:
  CreateObligation   invoice + plan + distributed installments, one tx
  UpdateInstallment  routes fields to the level that owns them
  DeleteInstallment  idempotent bottom-up soft-delete cascade
  CancelBatch        mass cancellation with defensive eligibility filter
  RecordPayment      appends a settlement and advances the status machine
  ListByKind         denormalized read model (payable / receivable)

ORDERING AND CONCURRENCY:
  Create writes Invoice -> Plan -> Installments in strict dependency
  order inside one store transaction. The deletion cascade checks
  "are there other active siblings" under a per-invoice lock so two
  concurrent deletes on the same series cannot race past each other's
  check and double-cascade.

SEE ALSO:
  - changes.go: replication writes go through UpdateInstallment
  - cancel.go:  eligibility gate in front of DeleteInstallment
*/
package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service is the ledger hierarchy manager. The persistence collaborator is
// injected at construction so tests can swap in the memory store.
type Service struct {
	store Store
	log   zerolog.Logger
	locks keyedLocks
}

func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
		locks: keyedLocks{m: make(map[string]*sync.Mutex)},
	}
}

// =============================================================================
// OBLIGATION INPUT
// =============================================================================

// ObligationInput describes one financial obligation to be expanded into a
// plan of installments or recurring occurrences.
type ObligationInput struct {
	Kind                 Kind
	DocTypeCode          string
	OriginDocNumber      string
	IssueDate            time.Time
	OriginalAmount       decimal.Decimal
	Counterparty         Ref
	CounterpartyDocument string
	Description          string

	DownPayment    decimal.Decimal
	DownPaymentDue time.Time
	Interest       decimal.Decimal
	Fines          decimal.Decimal
	Correction     decimal.Decimal
	Discounts      decimal.Decimal
	Rebates        decimal.Decimal

	InitialOffsetDays int
	IntervalDays      int
	Count             int

	Recurring bool
	// Lineage joins this obligation to an existing recurring series.
	// Minted when recurring and empty.
	Lineage LineageID

	Category      Ref
	Department    Ref
	BillingMethod Ref
	Account       Ref

	Notes           string
	AuthorizationID string
	DocumentRef     string
}

func (in ObligationInput) validate() error {
	switch {
	case !in.Kind.Valid():
		return &ValidationError{Field: "kind", Message: "must be payable or receivable"}
	case in.IssueDate.IsZero():
		return &ValidationError{Field: "issue_date", Message: "is required"}
	case !in.OriginalAmount.IsPositive():
		return &ValidationError{Field: "original_amount", Message: "must be positive"}
	case in.Count < 1:
		return &ValidationError{Field: "count", Message: "must be at least 1"}
	case in.DownPayment.IsNegative():
		return &ValidationError{Field: "down_payment", Message: "must not be negative"}
	case in.DownPayment.GreaterThanOrEqual(in.OriginalAmount):
		return &ValidationError{Field: "down_payment", Message: "must be below the original amount"}
	case in.Counterparty.ID == "":
		return &ValidationError{Field: "counterparty", Message: "reference is required"}
	case in.IntervalDays < 0 || in.InitialOffsetDays < 0:
		return &ValidationError{Field: "interval_days", Message: "offsets must not be negative"}
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateObligation expands one obligation into Invoice -> Plan ->
// Installments, all written in a single store transaction, and returns the
// materialized views for immediate display.
func (s *Service) CreateObligation(ctx context.Context, in ObligationInput) ([]InstallmentView, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	inv := Invoice{
		ID:                   InvoiceID(uuid.NewString()),
		Kind:                 in.Kind,
		DocTypeCode:          in.DocTypeCode,
		OriginDocNumber:      in.OriginDocNumber,
		IssueDate:            dayOf(in.IssueDate),
		OriginalAmount:       in.OriginalAmount,
		Counterparty:         in.Counterparty,
		CounterpartyDocument: in.CounterpartyDocument,
		Description:          in.Description,
		CreatedAt:            now,
	}

	base := in.OriginalAmount.Sub(in.DownPayment)
	total := base.Add(in.Interest).Add(in.Fines).Add(in.Correction).
		Sub(in.Discounts).Sub(in.Rebates)
	if !total.IsPositive() {
		return nil, &ValidationError{Field: "total", Message: "discounts exceed the amount to be installmented"}
	}

	lineage := in.Lineage
	if in.Recurring && lineage == "" {
		lineage = LineageID(uuid.NewString())
	}

	plan := Plan{
		ID:                PlanID(uuid.NewString()),
		InvoiceID:         inv.ID,
		DownPayment:       in.DownPayment,
		DownPaymentDue:    dayOf(in.DownPaymentDue),
		Interest:          in.Interest,
		Fines:             in.Fines,
		Correction:        in.Correction,
		Discounts:         in.Discounts,
		Rebates:           in.Rebates,
		Base:              base,
		Total:             total,
		InitialOffsetDays: in.InitialOffsetDays,
		IntervalDays:      in.IntervalDays,
		Count:             in.Count,
		Recurring:         in.Recurring,
		Lineage:           lineage,
		CreatedAt:         now,
	}

	installments, err := s.buildInstallments(inv, plan, in, now)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return persistErr("insert invoice", err)
		}
		if err := tx.InsertPlan(ctx, plan); err != nil {
			return persistErr("insert plan", err)
		}
		if err := tx.InsertInstallments(ctx, installments); err != nil {
			return persistErr("insert installments", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", string(inv.ID)).
		Str("kind", string(inv.Kind)).
		Int("installments", len(installments)).
		Str("total", plan.Total.StringFixed(2)).
		Bool("recurring", plan.Recurring).
		Msg("obligation created")

	views := make([]InstallmentView, len(installments))
	for i, ins := range installments {
		views[i] = NewInstallmentView(inv, plan, ins, nil)
	}
	return views, nil
}

// buildInstallments materializes the schedule. For a recurring plan every
// occurrence carries the full total; otherwise the total is distributed
// and the sum invariant is verified before anything is written.
func (s *Service) buildInstallments(inv Invoice, plan Plan, in ObligationInput, now time.Time) ([]Installment, error) {
	hasDown := plan.DownPayment.IsPositive()

	var amounts []decimal.Decimal
	if plan.Recurring {
		amounts = make([]decimal.Decimal, plan.Count)
		for i := range amounts {
			amounts[i] = plan.Total
		}
	} else {
		amounts = Distribute(plan.Total, plan.Count, false)
		if sum := sumAmounts(amounts); !withinTolerance(sum, plan.Total) {
			return nil, &InvariantError{Expected: plan.Total, Actual: sum}
		}
	}

	size := len(amounts)
	if hasDown {
		size++
	}

	var installments []Installment
	if hasDown {
		due := plan.DownPaymentDue
		if due.IsZero() {
			due = inv.IssueDate
		}
		installments = append(installments, s.newInstallment(inv, plan, in, now, 0, size, plan.DownPayment, due))
	}
	for i, amount := range amounts {
		due := inv.IssueDate.AddDate(0, 0, plan.InitialOffsetDays+i*plan.IntervalDays)
		installments = append(installments, s.newInstallment(inv, plan, in, now, i+1, size, amount, due))
	}
	return installments, nil
}

func (s *Service) newInstallment(inv Invoice, plan Plan, in ObligationInput, now time.Time, seq, size int, amount decimal.Decimal, due time.Time) Installment {
	return Installment{
		ID:              InstallmentID(uuid.NewString()),
		PlanID:          plan.ID,
		Seq:             seq,
		Code:            CodeForInvoice(inv, size, seq),
		DueDate:         dayOf(due),
		Amount:          amount,
		Status:          StatusOpen,
		Category:        in.Category,
		Department:      in.Department,
		BillingMethod:   in.BillingMethod,
		Account:         in.Account,
		Description:     in.Description,
		Notes:           in.Notes,
		AuthorizationID: in.AuthorizationID,
		DocumentRef:     in.DocumentRef,
		CreatedAt:       now,
	}
}

// =============================================================================
// UPDATE - level-scoped field routing
// =============================================================================

// UpdateInstallment splits the field changes by owning level, issues
// level-scoped updates inside one transaction and returns the refreshed
// view. Unknown fields are rejected; amount/date edits on settled or
// cancelled installments are refused.
func (s *Service) UpdateInstallment(ctx context.Context, id InstallmentID, fields Fields) (InstallmentView, error) {
	if len(fields) == 0 {
		return InstallmentView{}, &ValidationError{Message: "no fields to update"}
	}

	ins, err := s.store.GetInstallment(ctx, id)
	if err != nil {
		return InstallmentView{}, persistErr("get installment", err)
	}
	if ins == nil {
		return InstallmentView{}, &NotFoundError{Entity: "installment", ID: string(id)}
	}

	byLevel, err := splitByLevel(fields, ins.Status)
	if err != nil {
		return InstallmentView{}, err
	}

	plan, err := s.store.GetPlan(ctx, ins.PlanID)
	if err != nil {
		return InstallmentView{}, persistErr("get plan", err)
	}
	if plan == nil {
		return InstallmentView{}, &NotFoundError{Entity: "plan", ID: string(ins.PlanID)}
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if f := byLevel[LevelInvoice]; len(f) > 0 {
			if _, err := tx.UpdateInvoice(ctx, plan.InvoiceID, f); err != nil {
				return persistErr("update invoice", err)
			}
		}
		if f := byLevel[LevelPlan]; len(f) > 0 {
			if _, err := tx.UpdatePlan(ctx, plan.ID, f); err != nil {
				return persistErr("update plan", err)
			}
		}
		if f := byLevel[LevelInstallment]; len(f) > 0 {
			if _, err := tx.UpdateInstallment(ctx, id, f); err != nil {
				return persistErr("update installment", err)
			}
		}
		return nil
	})
	if err != nil {
		return InstallmentView{}, err
	}

	return s.GetView(ctx, id)
}

// splitByLevel validates each field against the registry and groups the
// coerced values by owning level.
func splitByLevel(fields Fields, status Status) (map[Level]Fields, error) {
	byLevel := map[Level]Fields{}
	for name, raw := range fields {
		spec, ok := LookupField(name)
		if !ok {
			return nil, &ValidationError{Field: name, Message: "unknown field"}
		}
		if status.Terminal() && spec.Level == LevelInstallment &&
			(spec.Category == CategoryFinancial || spec.Category == CategoryDate) {
			return nil, &ValidationError{Field: name, Message: ErrTerminalStatus.Error()}
		}
		value, err := coerceValue(spec, raw)
		if err != nil {
			return nil, err
		}
		if byLevel[spec.Level] == nil {
			byLevel[spec.Level] = Fields{}
		}
		byLevel[spec.Level][name] = value
	}
	return byLevel, nil
}

// =============================================================================
// READ MODEL
// =============================================================================

// GetView returns the denormalized record for one installment.
func (s *Service) GetView(ctx context.Context, id InstallmentID) (InstallmentView, error) {
	ins, err := s.store.GetInstallment(ctx, id)
	if err != nil {
		return InstallmentView{}, persistErr("get installment", err)
	}
	if ins == nil {
		return InstallmentView{}, &NotFoundError{Entity: "installment", ID: string(id)}
	}
	return s.viewOf(ctx, *ins)
}

func (s *Service) viewOf(ctx context.Context, ins Installment) (InstallmentView, error) {
	plan, err := s.store.GetPlan(ctx, ins.PlanID)
	if err != nil {
		return InstallmentView{}, persistErr("get plan", err)
	}
	if plan == nil {
		return InstallmentView{}, &NotFoundError{Entity: "plan", ID: string(ins.PlanID)}
	}
	inv, err := s.store.GetInvoice(ctx, plan.InvoiceID)
	if err != nil {
		return InstallmentView{}, persistErr("get invoice", err)
	}
	if inv == nil {
		return InstallmentView{}, &NotFoundError{Entity: "invoice", ID: string(plan.InvoiceID)}
	}
	payments, err := s.store.ListPaymentsByInstallment(ctx, ins.ID)
	if err != nil {
		return InstallmentView{}, persistErr("list payments", err)
	}
	return NewInstallmentView(*inv, *plan, ins, payments), nil
}

// ListByKind returns the read model for all active installments of payable
// or receivable obligations, ordered by due date.
func (s *Service) ListByKind(ctx context.Context, kind Kind) ([]InstallmentView, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Message: "must be payable or receivable"}
	}

	invoices, err := s.store.ListInvoices(ctx, InvoiceFilter{Kind: kind})
	if err != nil {
		return nil, persistErr("list invoices", err)
	}

	var views []InstallmentView
	for _, inv := range invoices {
		plans, err := s.store.ListPlansByInvoice(ctx, inv.ID)
		if err != nil {
			return nil, persistErr("list plans", err)
		}
		for _, plan := range plans {
			installments, err := s.store.ListInstallmentsByPlan(ctx, plan.ID)
			if err != nil {
				return nil, persistErr("list installments", err)
			}
			for _, ins := range installments {
				payments, err := s.store.ListPaymentsByInstallment(ctx, ins.ID)
				if err != nil {
					return nil, persistErr("list payments", err)
				}
				views = append(views, NewInstallmentView(inv, plan, ins, payments))
			}
		}
	}

	sortViews(views)
	return views, nil
}

// =============================================================================
// DELETE - idempotent bottom-up cascade
// =============================================================================

// DeleteInstallment soft-deletes the installment and its payments, then
// cascades: a plan with no remaining active installments is soft-deleted,
// and an invoice with no remaining active plans follows. Deleting an
// already-deleted id is a no-op.
//
// Callers wanting the eligibility rules apply CanDelete first; this method
// performs the deletion unconditionally.
func (s *Service) DeleteInstallment(ctx context.Context, id InstallmentID) error {
	ins, err := s.store.GetInstallment(ctx, id)
	if err != nil {
		return persistErr("get installment", err)
	}
	if ins == nil {
		// Already tombstoned (or never existed): same end state either way.
		return nil
	}

	plan, err := s.store.GetPlan(ctx, ins.PlanID)
	if err != nil {
		return persistErr("get plan", err)
	}
	if plan == nil {
		return &NotFoundError{Entity: "plan", ID: string(ins.PlanID)}
	}

	// Serialize cascade checks for this invoice so two concurrent deletes
	// cannot both observe "siblings remain" and skip the cascade.
	unlock := s.locks.lock(string(plan.InvoiceID))
	defer unlock()

	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.SoftDeletePaymentsByInstallment(ctx, id, now); err != nil {
			return persistErr("soft-delete payments", err)
		}
		if err := tx.SoftDeleteInstallment(ctx, id, now); err != nil {
			return persistErr("soft-delete installment", err)
		}

		siblings, err := tx.ListInstallmentsByPlan(ctx, plan.ID)
		if err != nil {
			return persistErr("list installments", err)
		}
		if len(siblings) > 0 {
			return nil
		}

		if err := tx.SoftDeletePlan(ctx, plan.ID, now); err != nil {
			return persistErr("soft-delete plan", err)
		}

		plans, err := tx.ListPlansByInvoice(ctx, plan.InvoiceID)
		if err != nil {
			return persistErr("list plans", err)
		}
		if len(plans) > 0 {
			return nil
		}

		if err := tx.SoftDeleteInvoice(ctx, plan.InvoiceID, now); err != nil {
			return persistErr("soft-delete invoice", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("installment_id", string(id)).
		Str("plan_id", string(plan.ID)).
		Msg("installment soft-deleted")
	return nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancelBatch sets every given installment to cancelled. Eligibility is
// re-applied defensively: settled, cancelled and tombstoned entries are
// skipped, never failed. Returns the count actually modified so partial
// application is visible to the caller.
func (s *Service) CancelBatch(ctx context.Context, ids []InstallmentID) (int, error) {
	modified := 0
	var errs []error
	for _, id := range ids {
		ins, err := s.store.GetInstallment(ctx, id)
		if err != nil {
			errs = append(errs, persistErr("get installment", err))
			continue
		}
		if ins == nil || ins.Status.Terminal() {
			continue
		}
		if err := s.store.SetInstallmentStatus(ctx, id, StatusCancelled); err != nil {
			errs = append(errs, persistErr("set status", err))
			continue
		}
		modified++
	}

	s.log.Info().
		Int("requested", len(ids)).
		Int("modified", modified).
		Msg("batch cancellation")
	return modified, errors.Join(errs...)
}

// =============================================================================
// PAYMENTS - drives the settlement status machine
// =============================================================================

// RecordPayment appends a settlement record and advances the installment
// status from the aggregate paid amount. Cancelled installments do not
// accept payments.
func (s *Service) RecordPayment(ctx context.Context, id InstallmentID, amount decimal.Decimal, paidAt time.Time, notes string) (InstallmentView, error) {
	if !amount.IsPositive() {
		return InstallmentView{}, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if paidAt.IsZero() {
		return InstallmentView{}, &ValidationError{Field: "paid_at", Message: "is required"}
	}

	ins, err := s.store.GetInstallment(ctx, id)
	if err != nil {
		return InstallmentView{}, persistErr("get installment", err)
	}
	if ins == nil {
		return InstallmentView{}, &NotFoundError{Entity: "installment", ID: string(id)}
	}
	if ins.Status == StatusCancelled {
		return InstallmentView{}, &ValidationError{Field: "status", Message: "cancelled installments do not accept payments"}
	}

	payment := Payment{
		ID:            PaymentID(uuid.NewString()),
		InstallmentID: id,
		Amount:        amount,
		PaidAt:        dayOf(paidAt),
		Notes:         notes,
		CreatedAt:     time.Now().UTC(),
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return persistErr("insert payment", err)
		}
		payments, err := tx.ListPaymentsByInstallment(ctx, id)
		if err != nil {
			return persistErr("list payments", err)
		}
		paid := decimal.Zero
		for _, p := range payments {
			paid = paid.Add(p.Amount)
		}
		if next := statusFor(ins.Amount, paid); next != ins.Status {
			if err := tx.SetInstallmentStatus(ctx, id, next); err != nil {
				return persistErr("set status", err)
			}
		}
		return nil
	})
	if err != nil {
		return InstallmentView{}, err
	}

	return s.GetView(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func dayOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sortViews orders the read model for display: due date, then seq.
func sortViews(views []InstallmentView) {
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].DueDate.Equal(views[j].DueDate) {
			return views[i].DueDate.Before(views[j].DueDate)
		}
		return views[i].Seq < views[j].Seq
	})
}

// keyedLocks serializes cascade checks per invoice.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
