/*
identifier.go - Structured installment identifiers

FORMAT:
  DD-OOOOOO-S-PP-TT

  DD      document-type code, left-padded to 2 chars
  OOOOOO  origin document number, left-padded/truncated to 6 chars;
          falls back to the digits of the owning invoice's own id
  S       series size as a single digit (last digit for sizes > 9)
  PP      position within the series, zero-padded to 2 digits
          (position 0 is the down payment)
  TT      last two numeric digits of the counterparty's document,
          "00" when unavailable

  Same inputs always produce the same identifier. The code is generated
  once at creation and stored on the Installment, never recomputed.
*/
package ledger

import (
	"fmt"
	"strings"
)

// GenerateCode builds the structured identifier for one installment.
// originDocNumber may be empty; fallback is derived from the digits of the
// invoice id (or the raw id when it contains no digits).
func GenerateCode(docTypeCode, originDocNumber string, seriesSize, position int, counterpartyDocument string) string {
	dd := padLeft(docTypeCode, 2)
	oo := padLeft(originDocNumber, 6)
	s := seriesDigit(seriesSize)
	pp := fmt.Sprintf("%02d", position)
	tt := documentSuffix(counterpartyDocument)
	return fmt.Sprintf("%s-%s-%s-%s-%s", dd, oo, s, pp, tt)
}

// CodeForInvoice is GenerateCode with the origin-number fallback applied:
// an invoice without an origin document number borrows its own id.
func CodeForInvoice(inv Invoice, seriesSize, position int) string {
	origin := inv.OriginDocNumber
	if origin == "" {
		origin = digitsOf(string(inv.ID))
		if origin == "" {
			origin = string(inv.ID)
		}
	}
	return GenerateCode(inv.DocTypeCode, origin, seriesSize, position, inv.CounterpartyDocument)
}

// padLeft zero-pads s to width, truncating to the last width chars when
// longer (the tail of a document number is the discriminating part).
func padLeft(s string, width int) string {
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}

func seriesDigit(size int) string {
	if size < 0 {
		size = 0
	}
	return fmt.Sprintf("%d", size%10)
}

// documentSuffix extracts the last two numeric digits of a document number.
func documentSuffix(doc string) string {
	digits := digitsOf(doc)
	if len(digits) == 0 {
		return "00"
	}
	return padLeft(digits, 2)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
