package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiroku-ai/kiroku/internal/action"
	"github.com/kiroku-ai/kiroku/internal/model"
)

// Action-taken markers recorded by the standalone JSON intake path.
const (
	JSONActionParseError  = "parse_error"
	JSONActionLogged      = "logged"
	JSONActionAlertOK     = "risk_alert_success"
	JSONActionAlertFailed = "risk_alert_failed"
)

// requiredField pairs a required payload field with its type check.
type requiredField struct {
	name  string
	kind  string
	check func(v any) bool
}

// allowedStatus is the closed set of accepted status values.
var allowedStatus = []string{"OPEN", "CLOSED", "IN_PROGRESS"}

// requiredFields is validated in order; each violation yields one anomaly.
var requiredFields = []requiredField{
	{name: "id", kind: "integer", check: isInteger},
	{name: "timestamp", kind: "string", check: isString},
	{name: "status", kind: "string", check: isString},
}

// JSONAgent parses and validates JSON payloads. It is the one agent with
// a built-in side effect: an invalid-but-parsable payload triggers a
// retrying risk alert before the result is returned, independent of the
// action router.
type JSONAgent struct {
	dispatcher *action.Dispatcher
	logger     *slog.Logger
}

// NewJSONAgent creates a JSONAgent that delivers validation alerts
// through d.
func NewJSONAgent(d *action.Dispatcher, logger *slog.Logger) *JSONAgent {
	return &JSONAgent{dispatcher: d, logger: logger}
}

// Process implements Agent.
func (a *JSONAgent) Process(ctx context.Context, in Input) model.AgentResult {
	res, _ := a.ProcessDetailed(ctx, in)
	return res
}

// ProcessDetailed runs the full agent pipeline and additionally reports
// the action-taken marker for call sites (the standalone JSON intake)
// that persist their own trace record.
func (a *JSONAgent) ProcessDetailed(ctx context.Context, in Input) (model.AgentResult, string) {
	raw := in.Raw
	if len(raw) == 0 {
		raw = []byte(in.Text)
	}

	data, err := parsePayload(raw)
	if err != nil {
		// A parse failure is terminal: the anomaly report is never
		// enriched by validation and no alert fires.
		return model.AgentResult{
			Format:    model.FormatJSON,
			Valid:     false,
			Anomalies: []string{fmt.Sprintf("invalid JSON: %v", err)},
			JSON:      &model.JSONResult{},
		}, JSONActionParseError
	}

	anomalies := validatePayload(data)
	valid := len(anomalies) == 0

	res := model.AgentResult{
		Format:    model.FormatJSON,
		Valid:     valid,
		Anomalies: anomalies,
		JSON:      &model.JSONResult{Data: data},
	}
	if valid {
		return res, JSONActionLogged
	}

	// Anomalies found: raise a risk alert before returning.
	taken := JSONActionAlertOK
	if err := a.alert(ctx, data, anomalies); err != nil {
		a.logger.Warn("json agent risk alert failed",
			"filename", in.Filename,
			"error", err,
		)
		taken = fmt.Sprintf("%s: %v", JSONActionAlertFailed, err)
	}
	return res, taken
}

// alert posts the anomalous payload to the risk endpoint with the
// dispatcher's standard retry policy.
func (a *JSONAgent) alert(ctx context.Context, data map[string]any, anomalies []string) error {
	body, err := json.Marshal(map[string]any{
		"data":      data,
		"anomalies": anomalies,
	})
	if err != nil {
		return fmt.Errorf("agent: encode risk alert: %w", err)
	}
	_, err = a.dispatcher.Post(ctx, action.EndpointRiskAlert, body)
	return err
}

// parsePayload decodes raw bytes into a JSON object. Numbers are kept as
// json.Number so integer-ness survives decoding.
func parsePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return data, nil
}

// validatePayload returns one anomaly string per violation, in detection
// order. An empty result means the payload is valid.
func validatePayload(data map[string]any) []string {
	anomalies := []string{}

	for _, f := range requiredFields {
		v, ok := data[f.name]
		if !ok {
			anomalies = append(anomalies, fmt.Sprintf("missing field %q", f.name))
			continue
		}
		if !f.check(v) {
			anomalies = append(anomalies,
				fmt.Sprintf("type mismatch for %q: expected %s, got %s", f.name, f.kind, kindOf(v)))
		}
	}

	if v, ok := data["status"]; ok {
		if s, ok := v.(string); ok && !statusAllowed(s) {
			anomalies = append(anomalies,
				fmt.Sprintf("invalid status %q (allowed: %s)", s, strings.Join(allowedStatus, ", ")))
		}
	}

	return anomalies
}

func statusAllowed(s string) bool {
	for _, allowed := range allowedStatus {
		if s == allowed {
			return true
		}
	}
	return false
}

func isInteger(v any) bool {
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	_, err := n.Int64()
	return err == nil
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// kindOf names a decoded JSON value's type for anomaly messages.
func kindOf(v any) string {
	switch t := v.(type) {
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
