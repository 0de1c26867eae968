package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelo/ledger-engine/ledger"
)

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

func sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

func TestDistribute_Scenario897Over5(t *testing.T) {
	// GIVEN: a total of 897.00 split over 5 installments
	// THEN: non-final amounts are whole units rounded up, the last carries
	//       the exact remainder, and the sum is exactly 897.00

	amounts := ledger.Distribute(dec("897.00"), 5, false)

	require.Len(t, amounts, 5)
	expected := []string{"180", "180", "179", "179", "179"}
	for i, e := range expected {
		assert.True(t, amounts[i].Equal(dec(e)), "amounts[%d] = %s, want %s", i, amounts[i], e)
	}
	assert.True(t, sum(amounts).Equal(dec("897.00")), "sum = %s", sum(amounts))
}

func TestDistribute_SumInvariant(t *testing.T) {
	// Property: for any total and count, sum(Distribute(total, count)) equals
	// the total within 0.01.
	cases := []struct {
		total string
		count int
	}{
		{"100.00", 3},
		{"0.01", 2},
		{"999.99", 7},
		{"1234.56", 12},
		{"10.00", 1},
		{"333.33", 9},
	}
	for _, tc := range cases {
		amounts := ledger.Distribute(dec(tc.total), tc.count, false)
		require.Len(t, amounts, tc.count, "total=%s", tc.total)
		diff := sum(amounts).Sub(dec(tc.total)).Abs()
		assert.True(t, diff.LessThanOrEqual(dec("0.01")),
			"total=%s count=%d: sum drift %s", tc.total, tc.count, diff)
	}
}

func TestDistribute_NonFinalAmountsAreWholeUnits(t *testing.T) {
	amounts := ledger.Distribute(dec("1234.56"), 10, false)
	require.Len(t, amounts, 10)
	for i := 0; i < len(amounts)-1; i++ {
		assert.True(t, amounts[i].Equal(amounts[i].Ceil()),
			"amounts[%d] = %s is not a whole unit", i, amounts[i])
	}
}

func TestDistribute_DownPaymentReservesOnePosition(t *testing.T) {
	// GIVEN: count 6 with one position reserved for the down payment
	// THEN: the total is spread over 5 entries
	amounts := ledger.Distribute(dec("897.00"), 6, true)
	require.Len(t, amounts, 5)
	assert.True(t, sum(amounts).Equal(dec("897.00")))
}

func TestDistribute_NonPositiveCount(t *testing.T) {
	assert.Empty(t, ledger.Distribute(dec("100"), 0, false))
	assert.Empty(t, ledger.Distribute(dec("100"), -1, false))
	assert.Empty(t, ledger.Distribute(dec("100"), 1, true), "single down-payment slot leaves nothing to distribute")
}

// =============================================================================
// REDISTRIBUTION AFTER MANUAL EDIT
// =============================================================================

func TestRedistribute_KeepsEditedPrefixFixed(t *testing.T) {
	// GIVEN: [180 180 179 179 179] where entry 1 was manually raised to 300
	// WHEN: redistributing over the remaining entries
	// THEN: entries 0..1 stay, the remainder 897-480=417 spreads over 3
	amounts := []decimal.Decimal{dec("180"), dec("300"), dec("179"), dec("179"), dec("179")}

	out := ledger.Redistribute(amounts, dec("897.00"), 1)

	require.Len(t, out, 5)
	assert.True(t, out[0].Equal(dec("180")))
	assert.True(t, out[1].Equal(dec("300")))
	assert.True(t, sum(out).Equal(dec("897.00")), "sum = %s", sum(out))
	assert.True(t, out[2].Equal(dec("139")))
	assert.True(t, out[3].Equal(dec("139")))
	assert.True(t, out[4].Equal(dec("139")))
}

func TestRedistribute_NegativeRemainderZeroesTail(t *testing.T) {
	// GIVEN: a manual edit that already exceeds the total
	// THEN: subsequent entries become zero, never negative
	amounts := []decimal.Decimal{dec("500"), dec("600"), dec("100"), dec("100")}

	out := ledger.Redistribute(amounts, dec("897.00"), 1)

	assert.True(t, out[2].IsZero())
	assert.True(t, out[3].IsZero())
}

func TestRedistribute_EditedLastEntry(t *testing.T) {
	amounts := []decimal.Decimal{dec("300"), dec("300"), dec("297")}
	out := ledger.Redistribute(amounts, dec("897.00"), 2)
	assert.Equal(t, amounts, out, "nothing after the edited index to redistribute")
}

func TestAutoDistribute_DiscardsManualEdits(t *testing.T) {
	amounts := []decimal.Decimal{dec("500"), dec("100"), dec("100"), dec("100"), dec("97")}
	out := ledger.AutoDistribute(amounts, dec("897.00"))

	require.Len(t, out, 5)
	assert.True(t, out[0].Equal(dec("180")))
	assert.True(t, sum(out).Equal(dec("897.00")))
}
