package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelo/ledger-engine/ledger"
	memstore "github.com/parcelo/ledger-engine/ledger/store"
)

func seedInvoice(t *testing.T, m *memstore.Memory) ledger.Invoice {
	t.Helper()
	inv := ledger.Invoice{
		ID:             "inv-1",
		Kind:           ledger.KindPayable,
		DocTypeCode:    "NF",
		IssueDate:      time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		OriginalAmount: ledger.MustParseDecimal("1000.00"),
		Counterparty:   ledger.Ref{ID: "cp-1", Name: "Acme"},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, m.InsertInvoice(context.Background(), inv))
	return inv
}

func TestMemory_SoftDeleteFiltersReads(t *testing.T) {
	m := memstore.NewMemory()
	ctx := context.Background()
	inv := seedInvoice(t, m)

	require.NoError(t, m.SoftDeleteInvoice(ctx, inv.ID, time.Now().UTC()))

	got, err := m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	list, err := m.ListInvoices(ctx, ledger.InvoiceFilter{Kind: ledger.KindPayable})
	require.NoError(t, err)
	assert.Empty(t, list)

	// Updating a tombstoned row is a silent miss, not an error.
	updated, err := m.UpdateInvoice(ctx, inv.ID, ledger.Fields{"counterparty_name": "New Name"})
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestMemory_UpdateInvoiceFields(t *testing.T) {
	m := memstore.NewMemory()
	ctx := context.Background()
	inv := seedInvoice(t, m)

	got, err := m.UpdateInvoice(ctx, inv.ID, ledger.Fields{
		"origin_doc_number": "000777",
		"counterparty_name": "Acme Holdings",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "000777", got.OriginDocNumber)
	assert.Equal(t, "Acme Holdings", got.Counterparty.Name)
	assert.Equal(t, "cp-1", got.Counterparty.ID, "reference id is untouched")
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// The snapshot taken at tx start must be restored wholesale when the
	// callback fails, leaving no partial writes behind.
	m := memstore.NewMemory()
	ctx := context.Background()
	inv := seedInvoice(t, m)

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertPlan(ctx, ledger.Plan{
			ID: "plan-1", InvoiceID: inv.ID,
			Base: ledger.MustParseDecimal("900.00"), Total: ledger.MustParseDecimal("900.00"),
			Count: 1, CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoice(ctx, inv.ID, time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "invoice delete must be rolled back")

	plan, err := m.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Nil(t, plan, "plan insert must be rolled back")
}

func TestMemory_WithTxCommits(t *testing.T) {
	m := memstore.NewMemory()
	ctx := context.Background()
	inv := seedInvoice(t, m)

	err := m.WithTx(ctx, func(tx ledger.Store) error {
		return tx.SoftDeleteInvoice(ctx, inv.ID, time.Now().UTC())
	})
	require.NoError(t, err)

	got, err := m.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
