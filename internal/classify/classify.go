// Package classify maps documents onto the fixed format and intent
// taxonomies. Both classifiers are pure functions over small rule tables
// evaluated first-match-wins, so the routing policy stays testable in
// isolation from the pipeline.
package classify

import (
	"strings"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// formatByExt maps a lower-cased filename extension to a format.
var formatByExt = map[string]model.Format{
	"pdf":  model.FormatPDF,
	"json": model.FormatJSON,
	"txt":  model.FormatEmail,
	"eml":  model.FormatEmail,
}

// Format classifies a document by its filename extension. Total and
// case-insensitive: a missing or unrecognized extension yields
// FormatUnknown, never an error.
func Format(filename string) model.Format {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return model.FormatUnknown
	}
	ext := strings.ToLower(filename[idx+1:])
	if f, ok := formatByExt[ext]; ok {
		return f
	}
	return model.FormatUnknown
}

// intentRule pairs a set of trigger keywords with the intent they select.
type intentRule struct {
	keywords []string
	intent   model.Intent
}

// intentRules is evaluated in order; the first rule with any matching
// keyword wins. Order encodes priority: Invoice > RFQ > Complaint >
// Regulation > FraudRisk.
var intentRules = []intentRule{
	{[]string{"invoice"}, model.IntentInvoice},
	{[]string{"rfq", "quote"}, model.IntentRFQ},
	{[]string{"complaint", "issue"}, model.IntentComplaint},
	{[]string{"gdpr", "fda", "regulation"}, model.IntentRegulation},
	{[]string{"fraud", "suspicious"}, model.IntentFraudRisk},
}

// Intent classifies extracted text into exactly one business intent via
// case-insensitive keyword search. Deterministic and total; text matching
// no rule yields IntentUnknown.
func Intent(text string) model.Intent {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return model.IntentUnknown
}
