// Package model defines the domain types shared across the intake pipeline:
// document formats, business intents, agent results, action outcomes, and
// audit trace records.
package model

// Format is the detected document format. Derived purely from the
// filename extension; never fails, unknown extensions map to FormatUnknown.
type Format string

const (
	FormatEmail   Format = "Email"
	FormatJSON    Format = "JSON"
	FormatPDF     Format = "PDF"
	FormatUnknown Format = "Unknown"
)

// Intent is the classified business intent of a document.
type Intent string

const (
	IntentInvoice    Intent = "Invoice"
	IntentRFQ        Intent = "RFQ"
	IntentComplaint  Intent = "Complaint"
	IntentRegulation Intent = "Regulation"
	IntentFraudRisk  Intent = "FraudRisk"
	IntentUnknown    Intent = "Unknown"
)

// Document is one ingested document. It lives only for the duration of a
// single pipeline run; the audit trace is the durable artifact.
type Document struct {
	// Filename is the declared name of the upload, used for format
	// classification and recorded in the audit trace.
	Filename string

	// Path is a filesystem location the document was saved to. The PDF
	// agent re-opens it for structured (table) extraction; other agents
	// never touch it.
	Path string

	// Text is the already-extracted plain text, supplied by the front
	// door. Empty when extraction failed or the format has no text form.
	Text string

	// Raw is the original uploaded bytes.
	Raw []byte

	// Source optionally names where the document came from (e.g.
	// "webhook") when that differs from the filename. Recorded in the
	// audit trace when set.
	Source string
}
