/*
Package sqlite provides the SQLite-backed ledger.Store implementation.

PURPOSE:
  Persists the four-level hierarchy (invoices, plans, installments,
  payments) in SQLite. The same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

SOFT-DELETE ENFORCEMENT:
  Rows are never physically deleted. Every table carries deleted_at;
  every SELECT filters "deleted_at IS NULL"; SoftDelete* issues an
  UPDATE guarded by the same filter, so re-deleting a tombstoned row
  matches zero rows and is a no-op.

MONEY AND TIME:
  Monetary columns are stored as TEXT in decimal string form to avoid
  float drift; dates as RFC3339 TEXT.

TRANSACTIONS:
  WithTx opens a database transaction and hands the callback a Store
  view bound to it. The obligation Create and the deletion cascade both
  run through this, so partial multi-row writes roll back together.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, one
  writer at a time, better crash recovery.

SEE ALSO:
  - ledger/store.go: interface contract
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/parcelo/ledger-engine/ledger"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
	q  dbtx
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		doc_type_code TEXT NOT NULL DEFAULT '',
		origin_doc_number TEXT NOT NULL DEFAULT '',
		issue_date TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		counterparty_id TEXT NOT NULL,
		counterparty_name TEXT NOT NULL DEFAULT '',
		counterparty_document TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_kind
		ON invoices(kind) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		down_payment TEXT NOT NULL,
		down_payment_due TEXT,
		interest TEXT NOT NULL,
		fines TEXT NOT NULL,
		correction TEXT NOT NULL,
		discounts TEXT NOT NULL,
		rebates TEXT NOT NULL,
		base TEXT NOT NULL,
		total TEXT NOT NULL,
		initial_offset_days INTEGER NOT NULL DEFAULT 0,
		interval_days INTEGER NOT NULL DEFAULT 0,
		count INTEGER NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		lineage TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_plans_invoice
		ON plans(invoice_id) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_plans_lineage
		ON plans(lineage) WHERE lineage != '' AND deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES plans(id),
		seq INTEGER NOT NULL,
		code TEXT NOT NULL,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		category_name TEXT NOT NULL DEFAULT '',
		department_id TEXT NOT NULL DEFAULT '',
		department_name TEXT NOT NULL DEFAULT '',
		billing_method_id TEXT NOT NULL DEFAULT '',
		billing_method_name TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL DEFAULT '',
		account_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		authorization_id TEXT NOT NULL DEFAULT '',
		document_ref TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_installments_plan_seq
		ON installments(plan_id, seq) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_installments_status
		ON installments(status) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		installment_id TEXT NOT NULL REFERENCES installments(id),
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_installment
		ON payments(installment_id) WHERE deleted_at IS NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a Store bound to one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if _, alreadyTx := s.q.(*sql.Tx); alreadyTx {
		// Nested call: reuse the surrounding transaction.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	view := &Store{db: s.db, q: tx}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, kind, doc_type_code, origin_doc_number, issue_date,
	original_amount, counterparty_id, counterparty_name, counterparty_document,
	description, created_at, deleted_at`

func (s *Store) InsertInvoice(ctx context.Context, inv ledger.Invoice) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		inv.ID, inv.Kind, inv.DocTypeCode, inv.OriginDocNumber,
		fmtTime(inv.IssueDate), inv.OriginalAmount.String(),
		inv.Counterparty.ID, inv.Counterparty.Name, inv.CounterpartyDocument,
		inv.Description, fmtTime(inv.CreatedAt),
	)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE id = ? AND deleted_at IS NULL`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE deleted_at IS NULL`
	args := []any{}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInvoice(ctx context.Context, id ledger.InvoiceID, fields ledger.Fields) (*ledger.Invoice, error) {
	set, args := buildSet(fields, map[string]string{
		"origin_doc_number": "origin_doc_number",
		"counterparty_name": "counterparty_name",
	})
	if set == "" {
		return s.GetInvoice(ctx, id)
	}
	args = append(args, id)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE invoices SET `+set+` WHERE id = ? AND deleted_at IS NULL`, args...); err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, id)
}

func (s *Store) SoftDeleteInvoice(ctx context.Context, id ledger.InvoiceID, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE invoices SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(at), id)
	return err
}

type scannable interface{ Scan(dest ...any) error }

func scanInvoice(r scannable) (*ledger.Invoice, error) {
	var inv ledger.Invoice
	var issueDate, originalAmount, createdAt string
	var deletedAt sql.NullString
	err := r.Scan(&inv.ID, &inv.Kind, &inv.DocTypeCode, &inv.OriginDocNumber,
		&issueDate, &originalAmount, &inv.Counterparty.ID, &inv.Counterparty.Name,
		&inv.CounterpartyDocument, &inv.Description, &createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	inv.IssueDate = parseTime(issueDate)
	inv.OriginalAmount = ledger.MustParseDecimal(originalAmount)
	inv.CreatedAt = parseTime(createdAt)
	inv.DeletedAt = nullTime(deletedAt)
	return &inv, nil
}

// =============================================================================
// PLANS
// =============================================================================

const planColumns = `id, invoice_id, down_payment, down_payment_due, interest,
	fines, correction, discounts, rebates, base, total, initial_offset_days,
	interval_days, count, recurring, lineage, created_at, deleted_at`

func (s *Store) InsertPlan(ctx context.Context, p ledger.Plan) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		p.ID, p.InvoiceID, p.DownPayment.String(), fmtNullableTime(p.DownPaymentDue),
		p.Interest.String(), p.Fines.String(), p.Correction.String(),
		p.Discounts.String(), p.Rebates.String(), p.Base.String(), p.Total.String(),
		p.InitialOffsetDays, p.IntervalDays, p.Count, p.Recurring, p.Lineage,
		fmtTime(p.CreatedAt),
	)
	return err
}

func (s *Store) GetPlan(ctx context.Context, id ledger.PlanID) (*ledger.Plan, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE id = ? AND deleted_at IS NULL`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPlansByInvoice(ctx context.Context, id ledger.InvoiceID) ([]ledger.Plan, error) {
	return s.listPlans(ctx, `invoice_id = ?`, id)
}

func (s *Store) ListPlansByLineage(ctx context.Context, lineage ledger.LineageID) ([]ledger.Plan, error) {
	return s.listPlans(ctx, `lineage = ? AND recurring`, lineage)
}

func (s *Store) listPlans(ctx context.Context, where string, arg any) ([]ledger.Plan, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE `+where+` AND deleted_at IS NULL ORDER BY created_at`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePlan(ctx context.Context, id ledger.PlanID, fields ledger.Fields) (*ledger.Plan, error) {
	set, args := buildSet(fields, map[string]string{
		"interest":   "interest",
		"fines":      "fines",
		"correction": "correction",
		"discounts":  "discounts",
		"rebates":    "rebates",
	})
	if set == "" {
		return s.GetPlan(ctx, id)
	}
	args = append(args, id)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE plans SET `+set+` WHERE id = ? AND deleted_at IS NULL`, args...); err != nil {
		return nil, err
	}

	// Add-on changes move the plan total with them. Recomputed in decimal
	// space, not SQL floats.
	p, err := s.GetPlan(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	total := p.Base.Add(p.Interest).Add(p.Fines).Add(p.Correction).
		Sub(p.Discounts).Sub(p.Rebates)
	if !total.Equal(p.Total) {
		if _, err := s.q.ExecContext(ctx,
			`UPDATE plans SET total = ? WHERE id = ? AND deleted_at IS NULL`,
			total.String(), id); err != nil {
			return nil, err
		}
		p.Total = total
	}
	return p, nil
}

func (s *Store) SoftDeletePlan(ctx context.Context, id ledger.PlanID, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE plans SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(at), id)
	return err
}

func scanPlan(r scannable) (*ledger.Plan, error) {
	var p ledger.Plan
	var downPayment, interest, fines, correction, discounts, rebates, base, total string
	var downPaymentDue sql.NullString
	var createdAt string
	var deletedAt sql.NullString
	err := r.Scan(&p.ID, &p.InvoiceID, &downPayment, &downPaymentDue, &interest,
		&fines, &correction, &discounts, &rebates, &base, &total,
		&p.InitialOffsetDays, &p.IntervalDays, &p.Count, &p.Recurring, &p.Lineage,
		&createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	p.DownPayment = ledger.MustParseDecimal(downPayment)
	if downPaymentDue.Valid {
		p.DownPaymentDue = parseTime(downPaymentDue.String)
	}
	p.Interest = ledger.MustParseDecimal(interest)
	p.Fines = ledger.MustParseDecimal(fines)
	p.Correction = ledger.MustParseDecimal(correction)
	p.Discounts = ledger.MustParseDecimal(discounts)
	p.Rebates = ledger.MustParseDecimal(rebates)
	p.Base = ledger.MustParseDecimal(base)
	p.Total = ledger.MustParseDecimal(total)
	p.CreatedAt = parseTime(createdAt)
	p.DeletedAt = nullTime(deletedAt)
	return &p, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, plan_id, seq, code, due_date, amount, status,
	category_id, category_name, department_id, department_name,
	billing_method_id, billing_method_name, account_id, account_name,
	description, notes, authorization_id, document_ref, created_at, deleted_at`

func (s *Store) InsertInstallments(ctx context.Context, ins []ledger.Installment) error {
	for _, i := range ins {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO installments (`+installmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			i.ID, i.PlanID, i.Seq, i.Code, fmtTime(i.DueDate), i.Amount.String(),
			i.Status,
			i.Category.ID, i.Category.Name,
			i.Department.ID, i.Department.Name,
			i.BillingMethod.ID, i.BillingMethod.Name,
			i.Account.ID, i.Account.Name,
			i.Description, i.Notes, i.AuthorizationID, i.DocumentRef,
			fmtTime(i.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetInstallment(ctx context.Context, id ledger.InstallmentID) (*ledger.Installment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE id = ? AND deleted_at IS NULL`, id)
	i, err := scanInstallment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (s *Store) ListInstallmentsByPlan(ctx context.Context, id ledger.PlanID) ([]ledger.Installment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE plan_id = ? AND deleted_at IS NULL ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInstallment(ctx context.Context, id ledger.InstallmentID, fields ledger.Fields) (*ledger.Installment, error) {
	// Reference fields expand to the id + name column pair.
	expanded := ledger.Fields{}
	for name, v := range fields {
		if ref, ok := v.(ledger.Ref); ok {
			expanded[name+"_id"] = ref.ID
			expanded[name+"_name"] = ref.Name
			continue
		}
		expanded[name] = v
	}

	set, args := buildSet(expanded, map[string]string{
		"amount":              "amount",
		"due_date":            "due_date",
		"description":         "description",
		"category_id":         "category_id",
		"category_name":       "category_name",
		"department_id":       "department_id",
		"department_name":     "department_name",
		"billing_method_id":   "billing_method_id",
		"billing_method_name": "billing_method_name",
		"account_id":          "account_id",
		"account_name":        "account_name",
		"document_ref":        "document_ref",
		"notes":               "notes",
		"authorization_id":    "authorization_id",
	})
	if set == "" {
		return s.GetInstallment(ctx, id)
	}
	args = append(args, id)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE installments SET `+set+` WHERE id = ? AND deleted_at IS NULL`, args...); err != nil {
		return nil, err
	}
	return s.GetInstallment(ctx, id)
}

func (s *Store) SetInstallmentStatus(ctx context.Context, id ledger.InstallmentID, status ledger.Status) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE installments SET status = ? WHERE id = ? AND deleted_at IS NULL`,
		status, id)
	return err
}

func (s *Store) SoftDeleteInstallment(ctx context.Context, id ledger.InstallmentID, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE installments SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(at), id)
	return err
}

func scanInstallment(r scannable) (*ledger.Installment, error) {
	var i ledger.Installment
	var dueDate, amount, createdAt string
	var deletedAt sql.NullString
	err := r.Scan(&i.ID, &i.PlanID, &i.Seq, &i.Code, &dueDate, &amount, &i.Status,
		&i.Category.ID, &i.Category.Name,
		&i.Department.ID, &i.Department.Name,
		&i.BillingMethod.ID, &i.BillingMethod.Name,
		&i.Account.ID, &i.Account.Name,
		&i.Description, &i.Notes, &i.AuthorizationID, &i.DocumentRef,
		&createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	i.DueDate = parseTime(dueDate)
	i.Amount = ledger.MustParseDecimal(amount)
	i.CreatedAt = parseTime(createdAt)
	i.DeletedAt = nullTime(deletedAt)
	return &i, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) InsertPayment(ctx context.Context, p ledger.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (id, installment_id, amount, paid_at, notes, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		p.ID, p.InstallmentID, p.Amount.String(), fmtTime(p.PaidAt), p.Notes,
		fmtTime(p.CreatedAt),
	)
	return err
}

func (s *Store) ListPaymentsByInstallment(ctx context.Context, id ledger.InstallmentID) ([]ledger.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, installment_id, amount, paid_at, notes, created_at, deleted_at
		FROM payments
		WHERE installment_id = ? AND deleted_at IS NULL ORDER BY paid_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		var p ledger.Payment
		var amount, paidAt, createdAt string
		var deletedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.InstallmentID, &amount, &paidAt, &p.Notes,
			&createdAt, &deletedAt); err != nil {
			return nil, err
		}
		p.Amount = ledger.MustParseDecimal(amount)
		p.PaidAt = parseTime(paidAt)
		p.CreatedAt = parseTime(createdAt)
		p.DeletedAt = nullTime(deletedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SoftDeletePaymentsByInstallment(ctx context.Context, id ledger.InstallmentID, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE payments SET deleted_at = ? WHERE installment_id = ? AND deleted_at IS NULL`,
		fmtTime(at), id)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// buildSet turns coerced registry fields into a SET clause, restricted to
// the allowed column map for the table.
func buildSet(fields ledger.Fields, columns map[string]string) (string, []any) {
	set := ""
	var args []any
	for name, v := range fields {
		col, ok := columns[name]
		if !ok {
			continue
		}
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, toArg(v))
	}
	return set, args
}

func toArg(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return fmtTime(t)
	default:
		return v
	}
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func fmtNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
