package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelo/ledger-engine/ledger"
	"github.com/parcelo/ledger-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

func seedHierarchy(t *testing.T, st *sqlite.Store) (ledger.Invoice, ledger.Plan, ledger.Installment) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

	inv := ledger.Invoice{
		ID:                   "inv-1",
		Kind:                 ledger.KindPayable,
		DocTypeCode:          "NF",
		OriginDocNumber:      "000123",
		IssueDate:            now,
		OriginalAmount:       dec("1000.00"),
		Counterparty:         ledger.Ref{ID: "cp-1", Name: "Acme"},
		CounterpartyDocument: "12345678901",
		CreatedAt:            now,
	}
	require.NoError(t, st.InsertInvoice(ctx, inv))

	plan := ledger.Plan{
		ID:           "plan-1",
		InvoiceID:    inv.ID,
		DownPayment:  dec("100.00"),
		Interest:     dec("1.00"),
		Fines:        dec("2.00"),
		Correction:   dec("3.00"),
		Discounts:    dec("4.00"),
		Rebates:      dec("5.00"),
		Base:         dec("900.00"),
		Total:        dec("897.00"),
		IntervalDays: 30,
		Count:        5,
		CreatedAt:    now,
	}
	require.NoError(t, st.InsertPlan(ctx, plan))

	ins := ledger.Installment{
		ID:       "ins-1",
		PlanID:   plan.ID,
		Seq:      1,
		Code:     "NF-000123-5-01-01",
		DueDate:  now.AddDate(0, 0, 30),
		Amount:   dec("180.00"),
		Status:   ledger.StatusOpen,
		Category: ledger.Ref{ID: "cat-1", Name: "Facilities"},
		CreatedAt: now,
	}
	require.NoError(t, st.InsertInstallments(ctx, []ledger.Installment{ins}))
	return inv, plan, ins
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestSQLiteStore_HierarchyRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv, plan, ins := seedHierarchy(t, st)

	gotInv, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, gotInv)
	assert.Equal(t, inv.Kind, gotInv.Kind)
	assert.True(t, gotInv.OriginalAmount.Equal(dec("1000.00")))
	assert.Equal(t, "Acme", gotInv.Counterparty.Name)

	gotPlan, err := st.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, gotPlan)
	assert.True(t, gotPlan.Total.Equal(dec("897.00")))
	assert.Equal(t, 5, gotPlan.Count)

	gotIns, err := st.GetInstallment(ctx, ins.ID)
	require.NoError(t, err)
	require.NotNil(t, gotIns)
	assert.Equal(t, ins.Code, gotIns.Code)
	assert.True(t, gotIns.DueDate.Equal(ins.DueDate))
	assert.Equal(t, "cat-1", gotIns.Category.ID)
}

func TestSQLiteStore_GetMissingReturnsNil(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inv, err := st.GetInvoice(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, inv)

	ins, err := st.GetInstallment(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, ins)
}

// =============================================================================
// UPDATES
// =============================================================================

func TestSQLiteStore_UpdatePlanRecomputesTotal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, plan, _ := seedHierarchy(t, st)

	got, err := st.UpdatePlan(ctx, plan.ID, ledger.Fields{"interest": dec("50.00")})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Interest.Equal(dec("50.00")))
	assert.True(t, got.Total.Equal(dec("946.00")), "total = %s", got.Total)
}

func TestSQLiteStore_UpdateInstallmentRefColumns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, _, ins := seedHierarchy(t, st)

	got, err := st.UpdateInstallment(ctx, ins.ID, ledger.Fields{
		"department": ledger.Ref{ID: "dep-2", Name: "Finance"},
		"notes":      "revised",
		"amount":     dec("200.00"),
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dep-2", got.Department.ID)
	assert.Equal(t, "Finance", got.Department.Name)
	assert.Equal(t, "revised", got.Notes)
	assert.True(t, got.Amount.Equal(dec("200.00")))
}

func TestSQLiteStore_SetInstallmentStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, _, ins := seedHierarchy(t, st)

	require.NoError(t, st.SetInstallmentStatus(ctx, ins.ID, ledger.StatusSettled))
	got, err := st.GetInstallment(ctx, ins.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, got.Status)
}

// =============================================================================
// SOFT DELETION
// =============================================================================

func TestSQLiteStore_SoftDeleteHidesRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, plan, ins := seedHierarchy(t, st)
	at := time.Now().UTC()

	require.NoError(t, st.SoftDeleteInstallment(ctx, ins.ID, at))

	got, err := st.GetInstallment(ctx, ins.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "tombstoned rows are invisible")

	rows, err := st.ListInstallmentsByPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Tombstoning again is a no-op.
	require.NoError(t, st.SoftDeleteInstallment(ctx, ins.ID, at.Add(time.Hour)))
}

func TestSQLiteStore_SoftDeletePayments(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, _, ins := seedHierarchy(t, st)

	require.NoError(t, st.InsertPayment(ctx, ledger.Payment{
		ID: "pay-1", InstallmentID: ins.ID, Amount: dec("80.00"),
		PaidAt: time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), CreatedAt: time.Now().UTC(),
	}))

	payments, err := st.ListPaymentsByInstallment(ctx, ins.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Amount.Equal(dec("80.00")))

	require.NoError(t, st.SoftDeletePaymentsByInstallment(ctx, ins.ID, time.Now().UTC()))
	payments, err = st.ListPaymentsByInstallment(ctx, ins.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

// =============================================================================
// FILTERED LISTS
// =============================================================================

func TestSQLiteStore_ListInvoicesByKind(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedHierarchy(t, st)

	payables, err := st.ListInvoices(ctx, ledger.InvoiceFilter{Kind: ledger.KindPayable})
	require.NoError(t, err)
	assert.Len(t, payables, 1)

	receivables, err := st.ListInvoices(ctx, ledger.InvoiceFilter{Kind: ledger.KindReceivable})
	require.NoError(t, err)
	assert.Empty(t, receivables)
}

func TestSQLiteStore_ListPlansByLineage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv, _, _ := seedHierarchy(t, st)
	now := time.Now().UTC()

	for _, id := range []ledger.PlanID{"plan-r1", "plan-r2"} {
		require.NoError(t, st.InsertPlan(ctx, ledger.Plan{
			ID: id, InvoiceID: inv.ID, Base: dec("500.00"), Total: dec("500.00"),
			Count: 1, Recurring: true, Lineage: "lin-1", CreatedAt: now,
		}))
	}

	plans, err := st.ListPlansByLineage(ctx, "lin-1")
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLiteStore_WithTxRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv, _, _ := seedHierarchy(t, st)

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.SoftDeleteInvoice(ctx, inv.ID, time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "rollback must restore the invoice")
}

func TestSQLiteStore_WithTxCommits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, _, ins := seedHierarchy(t, st)

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		return tx.SoftDeleteInstallment(ctx, ins.ID, time.Now().UTC())
	})
	require.NoError(t, err)

	got, err := st.GetInstallment(ctx, ins.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
