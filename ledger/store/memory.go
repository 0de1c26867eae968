// Package store provides an in-memory ledger.Store implementation for
// tests and development. Transactions are simulated with a full snapshot
// that is restored on rollback; a dedicated tx mutex keeps writers
// single-file, which also serializes cascade checks at the storage level.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parcelo/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	invoices     map[ledger.InvoiceID]ledger.Invoice
	plans        map[ledger.PlanID]ledger.Plan
	installments map[ledger.InstallmentID]ledger.Installment
	payments     map[ledger.PaymentID]ledger.Payment
}

func NewMemory() *Memory {
	return &Memory{
		invoices:     make(map[ledger.InvoiceID]ledger.Invoice),
		plans:        make(map[ledger.PlanID]ledger.Plan),
		installments: make(map[ledger.InstallmentID]ledger.Installment),
		payments:     make(map[ledger.PaymentID]ledger.Payment),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) InsertInvoice(_ context.Context, inv ledger.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return nil, nil
	}
	return &inv, nil
}

func (m *Memory) ListInvoices(_ context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Invoice
	for _, inv := range m.invoices {
		if inv.DeletedAt != nil {
			continue
		}
		if f.Kind != "" && inv.Kind != f.Kind {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateInvoice(_ context.Context, id ledger.InvoiceID, fields ledger.Fields) (*ledger.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return nil, nil
	}
	for name, v := range fields {
		switch name {
		case "origin_doc_number":
			inv.OriginDocNumber = v.(string)
		case "counterparty_name":
			inv.Counterparty.Name = v.(string)
		}
	}
	m.invoices[id] = inv
	return &inv, nil
}

func (m *Memory) SoftDeleteInvoice(_ context.Context, id ledger.InvoiceID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return nil // no-op: already gone
	}
	inv.DeletedAt = &at
	m.invoices[id] = inv
	return nil
}

// =============================================================================
// PLANS
// =============================================================================

func (m *Memory) InsertPlan(_ context.Context, p ledger.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
	return nil
}

func (m *Memory) GetPlan(_ context.Context, id ledger.PlanID) (*ledger.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok || p.DeletedAt != nil {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPlansByInvoice(_ context.Context, id ledger.InvoiceID) ([]ledger.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Plan
	for _, p := range m.plans {
		if p.DeletedAt == nil && p.InvoiceID == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListPlansByLineage(_ context.Context, lineage ledger.LineageID) ([]ledger.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Plan
	for _, p := range m.plans {
		if p.DeletedAt == nil && p.Recurring && p.Lineage == lineage {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdatePlan(_ context.Context, id ledger.PlanID, fields ledger.Fields) (*ledger.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.DeletedAt != nil {
		return nil, nil
	}
	for name, v := range fields {
		d := v.(decimal.Decimal)
		switch name {
		case "interest":
			p.Interest = d
		case "fines":
			p.Fines = d
		case "correction":
			p.Correction = d
		case "discounts":
			p.Discounts = d
		case "rebates":
			p.Rebates = d
		}
	}
	p.Total = p.Base.Add(p.Interest).Add(p.Fines).Add(p.Correction).
		Sub(p.Discounts).Sub(p.Rebates)
	m.plans[id] = p
	return &p, nil
}

func (m *Memory) SoftDeletePlan(_ context.Context, id ledger.PlanID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.DeletedAt != nil {
		return nil
	}
	p.DeletedAt = &at
	m.plans[id] = p
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (m *Memory) InsertInstallments(_ context.Context, ins []ledger.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range ins {
		m.installments[i.ID] = i
	}
	return nil
}

func (m *Memory) GetInstallment(_ context.Context, id ledger.InstallmentID) (*ledger.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.installments[id]
	if !ok || i.DeletedAt != nil {
		return nil, nil
	}
	return &i, nil
}

func (m *Memory) ListInstallmentsByPlan(_ context.Context, id ledger.PlanID) ([]ledger.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Installment
	for _, i := range m.installments {
		if i.DeletedAt == nil && i.PlanID == id {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

func (m *Memory) UpdateInstallment(_ context.Context, id ledger.InstallmentID, fields ledger.Fields) (*ledger.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installments[id]
	if !ok || i.DeletedAt != nil {
		return nil, nil
	}
	for name, v := range fields {
		switch name {
		case "amount":
			i.Amount = v.(decimal.Decimal)
		case "due_date":
			i.DueDate = v.(time.Time)
		case "description":
			i.Description = v.(string)
		case "category":
			i.Category = v.(ledger.Ref)
		case "department":
			i.Department = v.(ledger.Ref)
		case "billing_method":
			i.BillingMethod = v.(ledger.Ref)
		case "account":
			i.Account = v.(ledger.Ref)
		case "document_ref":
			i.DocumentRef = v.(string)
		case "notes":
			i.Notes = v.(string)
		case "authorization_id":
			i.AuthorizationID = v.(string)
		}
	}
	m.installments[id] = i
	return &i, nil
}

func (m *Memory) SetInstallmentStatus(_ context.Context, id ledger.InstallmentID, status ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installments[id]
	if !ok || i.DeletedAt != nil {
		return nil
	}
	i.Status = status
	m.installments[id] = i
	return nil
}

func (m *Memory) SoftDeleteInstallment(_ context.Context, id ledger.InstallmentID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installments[id]
	if !ok || i.DeletedAt != nil {
		return nil
	}
	i.DeletedAt = &at
	m.installments[id] = i
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) InsertPayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) ListPaymentsByInstallment(_ context.Context, id ledger.InstallmentID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Payment
	for _, p := range m.payments {
		if p.DeletedAt == nil && p.InstallmentID == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt.Before(out[j].PaidAt) })
	return out, nil
}

func (m *Memory) SoftDeletePaymentsByInstallment(_ context.Context, id ledger.InstallmentID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, p := range m.payments {
		if p.DeletedAt == nil && p.InstallmentID == id {
			p.DeletedAt = &at
			m.payments[pid] = p
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS - snapshot + restore
// =============================================================================

// WithTx simulates a transaction: the state is snapshotted, fn runs against
// the store itself, and the snapshot is restored when fn fails. The tx
// mutex keeps concurrent transactions from interleaving.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	invoices     map[ledger.InvoiceID]ledger.Invoice
	plans        map[ledger.PlanID]ledger.Plan
	installments map[ledger.InstallmentID]ledger.Installment
	payments     map[ledger.PaymentID]ledger.Payment
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := memorySnapshot{
		invoices:     make(map[ledger.InvoiceID]ledger.Invoice, len(m.invoices)),
		plans:        make(map[ledger.PlanID]ledger.Plan, len(m.plans)),
		installments: make(map[ledger.InstallmentID]ledger.Installment, len(m.installments)),
		payments:     make(map[ledger.PaymentID]ledger.Payment, len(m.payments)),
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	for k, v := range m.plans {
		s.plans[k] = v
	}
	for k, v := range m.installments {
		s.installments[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices = s.invoices
	m.plans = s.plans
	m.installments = s.installments
	m.payments = s.payments
}
