package action

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// Action name constants recorded in outcomes and the audit trace.
const (
	ActionEscalateToCRM   = "escalate_to_crm"
	ActionFlagRiskInvoice = "flag_high_risk_invoice"
	ActionComplianceAlert = "compliance_alert"
)

// routeRule is one row of the routing decision table.
type routeRule struct {
	name     string
	typeTag  string
	endpoint string
	matches  func(intent model.Intent, res model.AgentResult) bool
}

// rules is evaluated in order; the first matching rule fires and no
// further rules are considered. No match means skip.
var rules = []routeRule{
	{
		name:     ActionEscalateToCRM,
		typeTag:  "crm_escalation",
		endpoint: EndpointCRMEscalate,
		matches: func(intent model.Intent, res model.AgentResult) bool {
			return intent == model.IntentComplaint &&
				res.Email != nil &&
				res.Email.Tone == model.ToneAngry &&
				res.Email.Urgency == model.UrgencyHigh
		},
	},
	{
		name:     ActionFlagRiskInvoice,
		typeTag:  "invoice_risk",
		endpoint: EndpointRiskAlert,
		matches: func(intent model.Intent, res model.AgentResult) bool {
			return intent == model.IntentInvoice &&
				res.PDF != nil &&
				res.PDF.RiskFlag
		},
	},
	{
		name:     ActionComplianceAlert,
		typeTag:  "compliance_alert",
		endpoint: EndpointComplianceAlert,
		matches: func(intent model.Intent, res model.AgentResult) bool {
			return intent == model.IntentRegulation &&
				res.PDF != nil &&
				len(res.PDF.FlaggedTerms) > 0
		},
	},
}

// alertPayload is the outbound body: the serialized agent result plus a
// type tag identifying the triggering rule.
type alertPayload struct {
	Type string `json:"type"`
	model.AgentResult
}

// Router maps (intent, agent result) pairs onto follow-up actions via
// the fixed decision table. Stateless per call.
type Router struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewRouter creates a Router that delivers actions through d.
func NewRouter(d *Dispatcher, logger *slog.Logger) *Router {
	return &Router{dispatcher: d, logger: logger}
}

// Route evaluates the decision table and dispatches the first matching
// action. It always returns a well-formed outcome: no rule matching
// yields status=skipped, a delivery failure yields status=failed, and an
// encoding fault yields status=error. Route never panics and never
// returns an error to the caller.
func (r *Router) Route(ctx context.Context, intent model.Intent, res model.AgentResult) model.ActionOutcome {
	for _, rule := range rules {
		if !rule.matches(intent, res) {
			continue
		}

		body, err := json.Marshal(alertPayload{Type: rule.typeTag, AgentResult: res})
		if err != nil {
			return model.ActionOutcome{
				Action:  rule.name,
				Status:  model.ActionError,
				Details: "encode payload: " + err.Error(),
			}
		}

		echo, err := r.dispatcher.Post(ctx, rule.endpoint, body)
		if err != nil {
			r.logger.Warn("action delivery failed",
				"action", rule.name,
				"intent", intent,
				"error", err,
			)
			return model.ActionOutcome{
				Action:  rule.name,
				Status:  model.ActionFailed,
				Details: err.Error(),
			}
		}

		r.logger.Info("action dispatched",
			"action", rule.name,
			"intent", intent,
			"endpoint", rule.endpoint,
		)
		if echo == "" {
			echo = "delivered"
		}
		return model.ActionOutcome{
			Action:  rule.name,
			Status:  model.ActionSuccess,
			Details: echo,
		}
	}

	return model.ActionOutcome{
		Status:  model.ActionSkipped,
		Details: "no action required",
	}
}
