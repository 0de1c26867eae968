package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelo/ledger-engine/ledger"
)

// =============================================================================
// DETECTION
// =============================================================================

func TestDetectChanges_IdenticalSnapshots(t *testing.T) {
	svc, _ := newTestService(t)

	views, err := svc.CreateObligation(context.Background(), payableInput())
	require.NoError(t, err)

	assert.Empty(t, ledger.DetectChanges(views[1], views[1]))
}

func TestDetectChanges_ReportsInRegistryOrder(t *testing.T) {
	// GIVEN: an edit touching amount, due date and department at once
	// THEN: the changes come back in the registry's fixed order with
	//       category metadata and pre-selection flags
	svc, _ := newTestService(t)

	views, err := svc.CreateObligation(context.Background(), payableInput())
	require.NoError(t, err)
	before := views[1]

	after, err := before.WithFields(ledger.Fields{
		"amount":     dec("200.00"),
		"due_date":   before.DueDate.AddDate(0, 0, 5),
		"department": ledger.Ref{ID: "dep-2", Name: "Finance"},
		"notes":      "escalated",
	})
	require.NoError(t, err)

	changes := ledger.DetectChanges(before, after)
	require.Len(t, changes, 4)

	assert.Equal(t, "amount", changes[0].Field)
	assert.Equal(t, ledger.CategoryFinancial, changes[0].Category)
	assert.True(t, changes[0].DefaultSelected)
	assert.True(t, changes[0].Old.Amount.Equal(dec("180")))
	assert.True(t, changes[0].New.Amount.Equal(dec("200.00")))

	assert.Equal(t, "due_date", changes[1].Field)
	assert.Equal(t, ledger.CategoryDate, changes[1].Category)

	assert.Equal(t, "department", changes[2].Field)
	assert.Equal(t, ledger.CategoryRelationship, changes[2].Category)
	assert.True(t, changes[2].DefaultSelected)

	assert.Equal(t, "notes", changes[3].Field)
	assert.False(t, changes[3].DefaultSelected, "free text is not pre-selected")
}

func TestDetectChanges_RefsCompareByID(t *testing.T) {
	// A renamed reference with the same id is not a change.
	svc, _ := newTestService(t)

	views, err := svc.CreateObligation(context.Background(), payableInput())
	require.NoError(t, err)
	before := views[1]

	after, err := before.WithFields(ledger.Fields{
		"department": ledger.Ref{ID: "dep-1", Name: "Ops (renamed)"},
	})
	require.NoError(t, err)

	assert.Empty(t, ledger.DetectChanges(before, after))
}

// =============================================================================
// REPLICATION
// =============================================================================

func TestApplyChanges_DateShiftsByDelta(t *testing.T) {
	// GIVEN: installment 2 of 5 moved 5 days later
	// WHEN: applying the approved date change
	// THEN: entries 3..5 each shift 5 days relative to their OWN dates,
	//       entry 1 and the down payment stay put
	svc, _ := newTestService(t)
	ctx := context.Background()

	views, err := svc.CreateObligation(ctx, payableInput())
	require.NoError(t, err)

	template := views[2] // seq 2
	origDates := map[ledger.InstallmentID]time.Time{}
	for _, v := range views {
		origDates[v.InstallmentID] = v.DueDate
	}

	newDue := template.DueDate.AddDate(0, 0, 5)
	before := template
	after, err := svc.UpdateInstallment(ctx, template.InstallmentID, ledger.Fields{"due_date": newDue})
	require.NoError(t, err)

	changes := ledger.DetectChanges(before, after)
	require.Len(t, changes, 1)
	require.Equal(t, "due_date", changes[0].Field)

	modified, err := svc.ApplyChanges(ctx, template.InstallmentID, changes)
	require.NoError(t, err)
	assert.Equal(t, 3, modified)

	for _, v := range views {
		got, err := svc.GetView(ctx, v.InstallmentID)
		require.NoError(t, err)
		want := origDates[v.InstallmentID]
		if v.Seq > template.Seq {
			want = want.AddDate(0, 0, 5)
		} else if v.Seq == template.Seq {
			want = newDue
		}
		assert.Equal(t, want, got.DueDate, "seq %d", v.Seq)
	}
}

func TestApplyChanges_AmountIsCopiedLiterally(t *testing.T) {
	// Amount replication replaces each future amount, no redistribution.
	svc, _ := newTestService(t)
	ctx := context.Background()

	views, err := svc.CreateObligation(ctx, payableInput())
	require.NoError(t, err)
	template := views[3] // seq 3

	before := template
	after, err := svc.UpdateInstallment(ctx, template.InstallmentID, ledger.Fields{"amount": dec("150.00")})
	require.NoError(t, err)

	changes := ledger.DetectChanges(before, after)
	modified, err := svc.ApplyChanges(ctx, template.InstallmentID, changes)
	require.NoError(t, err)
	assert.Equal(t, 2, modified)

	for _, v := range []ledger.InstallmentView{views[4], views[5]} {
		got, err := svc.GetView(ctx, v.InstallmentID)
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(dec("150.00")))
	}

	// Earlier entries untouched.
	got, err := svc.GetView(ctx, views[1].InstallmentID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("180")))
}

func TestApplyChanges_SkipsTerminalEntries(t *testing.T) {
	// GIVEN: entry 4 already settled
	// THEN: replication writes entries 3 and 5 only
	svc, st := newTestService(t)
	ctx := context.Background()

	views, err := svc.CreateObligation(ctx, payableInput())
	require.NoError(t, err)
	template := views[2]
	settled := views[4]
	require.NoError(t, st.SetInstallmentStatus(ctx, settled.InstallmentID, ledger.StatusSettled))

	before := template
	after, err := svc.UpdateInstallment(ctx, template.InstallmentID, ledger.Fields{"notes": "carry forward"})
	require.NoError(t, err)

	modified, err := svc.ApplyChanges(ctx, template.InstallmentID, ledger.DetectChanges(before, after))
	require.NoError(t, err)
	assert.Equal(t, 2, modified)

	got, err := svc.GetView(ctx, settled.InstallmentID)
	require.NoError(t, err)
	assert.Empty(t, got.Notes, "settled entries are never written")
}

func TestApplyChanges_NothingApproved(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	views, err := svc.CreateObligation(ctx, payableInput())
	require.NoError(t, err)

	modified, err := svc.ApplyChanges(ctx, views[1].InstallmentID, nil)
	require.NoError(t, err)
	assert.Zero(t, modified)
}

func TestApplyChanges_RecurringUsesDayOfMonthDelta(t *testing.T) {
	// GIVEN: a recurring series due on the 15th, occurrence 1 moved to the 20th
	// THEN: later occurrences move to the 20th of their OWN month
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := payableInput()
	in.OriginalAmount = dec("500.00")
	in.DownPayment = dec("0")
	in.Interest = dec("0")
	in.Fines = dec("0")
	in.Correction = dec("0")
	in.Discounts = dec("0")
	in.Rebates = dec("0")
	in.Count = 3
	in.Recurring = true
	in.InitialOffsetDays = 0
	in.IntervalDays = 31

	views, err := svc.CreateObligation(ctx, in)
	require.NoError(t, err)
	template := views[0]

	before := template
	after, err := svc.UpdateInstallment(ctx, template.InstallmentID,
		ledger.Fields{"due_date": template.DueDate.AddDate(0, 0, 5)})
	require.NoError(t, err)

	modified, err := svc.ApplyChanges(ctx, template.InstallmentID, ledger.DetectChanges(before, after))
	require.NoError(t, err)
	assert.Equal(t, 2, modified)

	for _, v := range views[1:] {
		got, err := svc.GetView(ctx, v.InstallmentID)
		require.NoError(t, err)
		assert.Equal(t, v.DueDate.Day()+5, got.DueDate.Day(), "seq %d keeps its month, shifts its day", v.Seq)
		assert.Equal(t, v.DueDate.Month(), got.DueDate.Month())
	}
}

func TestApplyChanges_RejectsNonReplicableField(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	views, err := svc.CreateObligation(ctx, payableInput())
	require.NoError(t, err)

	_, err = svc.ApplyChanges(ctx, views[1].InstallmentID, []ledger.FieldChange{
		{Field: "interest", New: ledger.AmountValue(dec("9.00"))},
	})
	require.Error(t, err)
}
