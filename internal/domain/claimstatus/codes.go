package claimstatus

import "strings"

// ediStatusCodes maps 277 status codes to engine statuses. Keys cover the
// X12 claim status category codes (STC01-1) and the numeric claim status
// codes (STC01-2) payers commonly send alone. Codes not listed resolve to
// under_review via MapStatusCode.
var ediStatusCodes = map[string]Status{
	// Acknowledgements
	"A0": StatusAcknowledged, // forwarded to another entity
	"A1": StatusAcknowledged, // receipt acknowledged
	"A2": StatusPending,      // accepted into adjudication
	"A3": StatusRejected,     // returned as unprocessable
	"A4": StatusRejected,     // not found
	"A6": StatusRejected,     // missing information
	"A7": StatusRejected,     // invalid information
	"A8": StatusRejected,     // relational field in error

	// Pending
	"P0": StatusPending,     // adjudication not finalized
	"P1": StatusPending,     // in process
	"P2": StatusUnderReview, // payer review
	"P3": StatusPended,      // provider requested information
	"P4": StatusPended,      // patient requested information
	"P5": StatusUnderReview, // payer administrative/system hold

	// Finalized
	"F0": StatusClosed,             // finalized
	"F1": StatusPaid,               // finalized, payment
	"F2": StatusDenied,             // finalized, denial
	"F3": StatusApprovedForPayment, // finalized, revised
	"F4": StatusClosed,             // adjudication complete, no payment

	// Requests for additional information
	"R0": StatusPended,
	"R1": StatusPended,
	"R3": StatusPended,
	"R4": StatusPended,

	// Numeric claim status codes
	"1":  StatusAcknowledged, // see remittance advice
	"3":  StatusApprovedForPayment,
	"15": StatusRejected,
	"19": StatusAcknowledged,
	"20": StatusPending, // accepted for processing
	"21": StatusRejected,
	"65": StatusPaid,
	"88": StatusDenied,
	"97": StatusUnderReview,
}

// MapStatusCode resolves a payer code. ok is false when the code is not in
// the table and the under_review fallback was used.
func MapStatusCode(code string) (status Status, ok bool) {
	status, ok = ediStatusCodes[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return StatusUnderReview, false
	}
	return status, true
}
