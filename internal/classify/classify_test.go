package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kiroku-ai/kiroku/internal/classify"
	"github.com/kiroku-ai/kiroku/internal/model"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     model.Format
	}{
		{"invoice.pdf", model.FormatPDF},
		{"invoice.PDF", model.FormatPDF},
		{"payload.json", model.FormatJSON},
		{"payload.JSON", model.FormatJSON},
		{"message.txt", model.FormatEmail},
		{"message.eml", model.FormatEmail},
		{"archive.tar.json", model.FormatJSON},
		{"noextension", model.FormatUnknown},
		{"trailing.", model.FormatUnknown},
		{"", model.FormatUnknown},
		{"image.png", model.FormatUnknown},
		{".json", model.FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, classify.Format(tt.filename))
		})
	}
}

func TestFormat_CaseInsensitive(t *testing.T) {
	// Same document, different extension casing, same classification.
	assert.Equal(t, classify.Format("x.pdf"), classify.Format("X.PDF"))
	assert.Equal(t, classify.Format("a.eml"), classify.Format("a.EML"))
}

func TestIntent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.Intent
	}{
		{"invoice", "Please find the INVOICE attached", model.IntentInvoice},
		{"rfq", "Requesting an RFQ for 500 units", model.IntentRFQ},
		{"quote", "can you send a quote", model.IntentRFQ},
		{"complaint", "I have a complaint about your service", model.IntentComplaint},
		{"issue", "there is an issue with my order", model.IntentComplaint},
		{"gdpr", "per GDPR article 17", model.IntentRegulation},
		{"fda", "FDA approval pending", model.IntentRegulation},
		{"regulation", "new regulation applies", model.IntentRegulation},
		{"fraud", "possible fraud detected", model.IntentFraudRisk},
		{"suspicious", "suspicious activity on the account", model.IntentFraudRisk},
		{"none", "hello world", model.IntentUnknown},
		{"empty", "", model.IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify.Intent(tt.text))
		})
	}
}

func TestIntent_PriorityOrder(t *testing.T) {
	// Invoice outranks Complaint when both keywords are present.
	assert.Equal(t, model.IntentInvoice, classify.Intent("complaint about an invoice"))
	// Complaint outranks Regulation.
	assert.Equal(t, model.IntentComplaint, classify.Intent("GDPR complaint"))
	// RFQ outranks FraudRisk.
	assert.Equal(t, model.IntentRFQ, classify.Intent("suspicious quote"))
}

func TestIntent_Deterministic(t *testing.T) {
	const text = "urgent complaint about invoice 42"
	first := classify.Intent(text)
	for range 10 {
		assert.Equal(t, first, classify.Intent(text))
	}
}
