package model

// Urgency is the detected urgency level of an email-like document.
type Urgency string

const (
	UrgencyHigh Urgency = "high"
	UrgencyLow  Urgency = "low"
)

// Tone is the detected tone of an email-like document.
type Tone string

const (
	ToneAngry   Tone = "angry"
	TonePolite  Tone = "polite"
	ToneNeutral Tone = "neutral"
)

// AgentResult is the structured output of one extraction agent.
// Exactly one of the format-specific sections is populated, matching the
// format the agent handles. Immutable once returned by an agent.
type AgentResult struct {
	Format Format `json:"format"`

	// Valid reports whether extraction/validation succeeded. The precise
	// meaning is format-specific: the email agent is always valid, the
	// JSON agent is valid iff no anomalies were found, the PDF agent is
	// valid iff extracted text was non-empty.
	Valid bool `json:"valid"`

	// Anomalies lists validation violations in the order they were
	// detected. Empty for a valid result.
	Anomalies []string `json:"anomalies"`

	Email *EmailResult `json:"email,omitempty"`
	JSON  *JSONResult  `json:"json,omitempty"`
	PDF   *PDFResult   `json:"pdf,omitempty"`
}

// EmailResult holds the email agent's heuristic extraction.
type EmailResult struct {
	Sender  string  `json:"sender"`
	Urgency Urgency `json:"urgency"`
	Tone    Tone    `json:"tone"`
}

// JSONResult holds the parsed payload of a JSON document.
// Data is nil when parsing failed.
type JSONResult struct {
	Data map[string]any `json:"data"`
}

// PDFResult holds the PDF agent's invoice and compliance analysis.
type PDFResult struct {
	InvoiceTotal float64    `json:"invoice_total"`
	LineItems    []LineItem `json:"line_items"`
	FlaggedTerms []string   `json:"flagged_terms"`
	RiskFlag     bool       `json:"risk_flag"`
}

// LineItem is one parsed invoice table row. Rows that fail numeric
// coercion are dropped before a LineItem is ever constructed, so
// Quantity and Price are always non-negative.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// Total returns the line item's contribution to the invoice total.
func (li LineItem) Total() float64 {
	return float64(li.Quantity) * li.Price
}
