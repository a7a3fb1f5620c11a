package agent

import (
	"context"
	"strings"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// EmailAgent scans email-like text for urgency and tone cues.
// It has no anomaly concept; every input produces a valid result.
type EmailAgent struct{}

// NewEmailAgent creates an EmailAgent.
func NewEmailAgent() *EmailAgent {
	return &EmailAgent{}
}

// defaultSender is recorded when no From: header is present in the text.
const defaultSender = "unknown@example.com"

// Process implements Agent.
func (a *EmailAgent) Process(_ context.Context, in Input) model.AgentResult {
	lower := strings.ToLower(in.Text)

	urgency := model.UrgencyLow
	if strings.Contains(lower, "urgent") {
		urgency = model.UrgencyHigh
	}

	tone := model.ToneNeutral
	switch {
	case strings.Contains(lower, "complaint"):
		tone = model.ToneAngry
	case strings.Contains(lower, "thank you"):
		tone = model.TonePolite
	}

	return model.AgentResult{
		Format:    model.FormatEmail,
		Valid:     true,
		Anomalies: []string{},
		Email: &model.EmailResult{
			Sender:  sender(in.Text),
			Urgency: urgency,
			Tone:    tone,
		},
	}
}

// sender pulls the address off a "From:" header line, if one exists.
func sender(text string) string {
	for _, line := range strings.Split(text, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "From:")
		if !ok {
			continue
		}
		if addr := strings.TrimSpace(rest); addr != "" {
			return addr
		}
	}
	return defaultSender
}
