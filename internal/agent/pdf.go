package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// complianceTerms is the fixed keyword set flagged in PDF text.
var complianceTerms = []string{"GDPR", "FDA", "HIPAA", "FCA"}

// riskThreshold is the invoice total above which a risk flag is raised.
const riskThreshold = 10_000

// totalPattern matches a "Total: $12,345.67" style amount in free text,
// used as a fallback when no line items could be parsed from tables.
var totalPattern = regexp.MustCompile(`(?i)total(?:\s+amount)?[:\s]*\$?([0-9,]+\.?[0-9]{0,2})`)

var (
	nonDigits        = regexp.MustCompile(`[^0-9]`)
	nonDecimalDigits = regexp.MustCompile(`[^0-9.]`)
)

// PDFAgent analyzes invoice-like PDFs: compliance keyword flagging, line
// item table parsing, invoice totals, and high-value risk flagging. The
// text is supplied already extracted; the document is re-opened through
// the TableExtractor for structured rows.
type PDFAgent struct {
	tables TableExtractor
	logger *slog.Logger
}

// NewPDFAgent creates a PDFAgent using the given table extractor.
func NewPDFAgent(tables TableExtractor, logger *slog.Logger) *PDFAgent {
	return &PDFAgent{tables: tables, logger: logger}
}

// Process implements Agent. Table-extraction failure degrades to empty
// line items plus the regex fallback; it never fails the run.
func (a *PDFAgent) Process(ctx context.Context, in Input) model.AgentResult {
	lineItems := []model.LineItem{}

	if a.tables != nil && in.Path != "" {
		rows, err := a.tables.Tables(ctx, in.Path)
		if err != nil {
			a.logger.Warn("pdf table extraction failed, degrading to text fallback",
				"filename", in.Filename,
				"error", err,
			)
		} else {
			lineItems = parseLineItems(rows)
		}
	}

	// Table-derived totals strictly override the regex fallback, but
	// only when line items were actually parsed. The two totals are
	// never combined.
	var total float64
	if len(lineItems) > 0 {
		for _, li := range lineItems {
			total += li.Total()
		}
	} else if in.Text != "" {
		total = fallbackTotal(in.Text)
	}

	return model.AgentResult{
		Format:    model.FormatPDF,
		Valid:     in.Text != "",
		Anomalies: []string{},
		PDF: &model.PDFResult{
			InvoiceTotal: total,
			LineItems:    lineItems,
			FlaggedTerms: flaggedTerms(in.Text),
			RiskFlag:     total > riskThreshold,
		},
	}
}

// flaggedTerms returns the compliance keywords present in text,
// case-insensitively, in the keyword table's order.
func flaggedTerms(text string) []string {
	flagged := []string{}
	if text == "" {
		return flagged
	}
	lower := strings.ToLower(text)
	for _, term := range complianceTerms {
		if strings.Contains(lower, strings.ToLower(term)) {
			flagged = append(flagged, term)
		}
	}
	return flagged
}

// parseLineItems coerces raw table rows into line items. A row with
// fewer than three columns or any failed numeric coercion is dropped
// silently; dropped rows are not anomalies.
func parseLineItems(tables [][][]string) []model.LineItem {
	items := []model.LineItem{}
	for _, table := range tables {
		for _, row := range table {
			if li, ok := coerceRow(row); ok {
				items = append(items, li)
			}
		}
	}
	return items
}

// coerceRow interprets a row as description | quantity | price.
func coerceRow(row []string) (model.LineItem, bool) {
	if len(row) < 3 {
		return model.LineItem{}, false
	}

	desc := strings.TrimSpace(row[0])
	qtyRaw := nonDigits.ReplaceAllString(row[1], "")
	priceRaw := nonDecimalDigits.ReplaceAllString(row[2], "")
	if desc == "" || qtyRaw == "" || priceRaw == "" {
		return model.LineItem{}, false
	}

	qty, err := strconv.Atoi(qtyRaw)
	if err != nil {
		return model.LineItem{}, false
	}
	price, err := strconv.ParseFloat(priceRaw, 64)
	if err != nil {
		return model.LineItem{}, false
	}

	return model.LineItem{Description: desc, Quantity: qty, Price: price}, true
}

// fallbackTotal pulls an invoice total out of free text. Thousands
// separators are stripped before coercion; a coercion failure counts as
// "no value", never an error.
func fallbackTotal(text string) float64 {
	m := totalPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	total, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	return total
}
