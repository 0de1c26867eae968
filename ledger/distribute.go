/*
distribute.go - Exact monetary distribution across installments

PURPOSE:
  Splits a plan total into per-installment amounts without ever losing a
  cent to rounding drift.

THE RULE:
  For every installment except the last:

      amount = ceil(remaining / remainingCount)   -- whole currency units

  and the amount is subtracted from the running remainder. The final
  installment receives exactly the remaining balance, rounded to two
  decimal places (so it may be fractional).

  Distribute(897.00, 5, false) = [180, 180, 179, 179, 179.00]

INVARIANT:
  sum(output) == total within SumTolerance, always. The intermediate
  amounts are integers but the final one carries the exact remainder.

SEE ALSO:
  - manager.go: calls Distribute on obligation creation
*/
package ledger

import "github.com/shopspring/decimal"

// Distribute computes per-installment amounts for a total. When
// hasDownPayment is true, one position of count is reserved for the down
// payment and the total is spread over count-1 entries. A non-positive
// effective count yields an empty slice.
func Distribute(total decimal.Decimal, count int, hasDownPayment bool) []decimal.Decimal {
	if hasDownPayment {
		count--
	}
	if count <= 0 {
		return nil
	}

	amounts := make([]decimal.Decimal, count)
	remaining := total
	for i := 0; i < count-1; i++ {
		share := remaining.Div(decimal.NewFromInt(int64(count - i))).Ceil()
		amounts[i] = share
		remaining = remaining.Sub(share)
	}
	amounts[count-1] = remaining.Round(2)
	return amounts
}

// Redistribute recomputes amounts after a manual edit at editedIndex.
// Entries [0..editedIndex] are kept as-is; the remainder of the original
// total is spread over the following entries with the same ceil rule.
// If the fixed entries already exceed the total, all subsequent entries
// are zeroed rather than going negative.
func Redistribute(amounts []decimal.Decimal, total decimal.Decimal, editedIndex int) []decimal.Decimal {
	if editedIndex < 0 || editedIndex >= len(amounts) {
		return amounts
	}

	out := make([]decimal.Decimal, len(amounts))
	fixed := decimal.Zero
	for i := 0; i <= editedIndex; i++ {
		out[i] = amounts[i]
		fixed = fixed.Add(amounts[i])
	}

	rest := len(amounts) - editedIndex - 1
	if rest == 0 {
		return out
	}

	remaining := total.Sub(fixed)
	if remaining.LessThanOrEqual(decimal.Zero) {
		for i := editedIndex + 1; i < len(amounts); i++ {
			out[i] = decimal.Zero
		}
		return out
	}

	redistributed := Distribute(remaining, rest, false)
	copy(out[editedIndex+1:], redistributed)
	return out
}

// AutoDistribute reapplies the whole-total distribution from scratch over
// the current number of entries, discarding prior manual edits.
func AutoDistribute(amounts []decimal.Decimal, total decimal.Decimal) []decimal.Decimal {
	return Distribute(total, len(amounts), false)
}

// sumAmounts is the invariant side of Distribute: callers verify the
// produced amounts against the plan total before anything is written.
func sumAmounts(amounts []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum
}
