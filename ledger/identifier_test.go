package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parcelo/ledger-engine/ledger"
)

func TestGenerateCode_Format(t *testing.T) {
	code := ledger.GenerateCode("NF", "123456", 5, 1, "12345678901")
	assert.Equal(t, "NF-123456-5-01-01", code)
}

func TestGenerateCode_Padding(t *testing.T) {
	// Short segments are zero-padded on the left.
	code := ledger.GenerateCode("X", "42", 3, 2, "7")
	assert.Equal(t, "0X-000042-3-02-07", code)
}

func TestGenerateCode_Truncation(t *testing.T) {
	// Overlong segments keep their tail, which is the discriminating part
	// of a document number.
	code := ledger.GenerateCode("ABC", "99123456", 12, 3, "555")
	assert.Equal(t, "BC-123456-2-03-55", code)
}

func TestGenerateCode_MissingCounterpartyDocument(t *testing.T) {
	code := ledger.GenerateCode("NF", "000100", 2, 1, "")
	assert.Equal(t, "NF-000100-2-01-00", code)

	// A document with no digits at all also falls back to 00.
	code = ledger.GenerateCode("NF", "000100", 2, 1, "N/A")
	assert.Equal(t, "NF-000100-2-01-00", code)
}

func TestGenerateCode_Deterministic(t *testing.T) {
	a := ledger.GenerateCode("NF", "123456", 5, 4, "901")
	b := ledger.GenerateCode("NF", "123456", 5, 4, "901")
	assert.Equal(t, a, b)
}

func TestCodeForInvoice_OriginFallback(t *testing.T) {
	// GIVEN: an invoice without an origin document number
	// THEN: the digits of its own id fill the origin slot
	inv := ledger.Invoice{
		ID:                   ledger.InvoiceID("inv-20240042"),
		DocTypeCode:          "NF",
		CounterpartyDocument: "12345678",
	}
	code := ledger.CodeForInvoice(inv, 5, 0)
	assert.Equal(t, "NF-240042-5-00-78", code)
}

func TestCodeForInvoice_WithOrigin(t *testing.T) {
	inv := ledger.Invoice{
		ID:                   ledger.InvoiceID("inv-1"),
		DocTypeCode:          "NF",
		OriginDocNumber:      "777",
		CounterpartyDocument: "9",
	}
	code := ledger.CodeForInvoice(inv, 3, 2)
	assert.Equal(t, "NF-000777-3-02-09", code)
}
