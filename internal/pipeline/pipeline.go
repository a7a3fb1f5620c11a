// Package pipeline drives one document through the full intake sequence:
// classify format → run the matching extraction agent → classify intent →
// route follow-up actions → append the audit trace record.
//
// A Runner is stateless apart from its store handle; any number of runs
// may be in flight concurrently. Within a run the stages are strictly
// sequential.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiroku-ai/kiroku/internal/action"
	"github.com/kiroku-ai/kiroku/internal/agent"
	"github.com/kiroku-ai/kiroku/internal/classify"
	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/trace"
)

// Runner executes pipeline runs.
type Runner struct {
	store  trace.Store
	router *action.Router
	email  *agent.EmailAgent
	json   *agent.JSONAgent
	pdf    *agent.PDFAgent
	hooks  []RunHook
	logger *slog.Logger
}

// RunHook receives each audit record after it has been written. Hooks
// run on their own goroutine; a hook failure is logged and never fails
// the originating run.
type RunHook func(ctx context.Context, rec model.TraceRecord) error

// New creates a Runner. The store handle is shared, mutable state; the
// agents and router are stateless per call.
func New(store trace.Store, router *action.Router, jsonAgent *agent.JSONAgent, pdfAgent *agent.PDFAgent, logger *slog.Logger) *Runner {
	return &Runner{
		store:  store,
		router: router,
		email:  agent.NewEmailAgent(),
		json:   jsonAgent,
		pdf:    pdfAgent,
		logger: logger,
	}
}

// AddHook registers a hook for subsequent runs. Not safe to call
// concurrently with Run; register all hooks before serving traffic.
func (r *Runner) AddHook(h RunHook) {
	r.hooks = append(r.hooks, h)
}

// Run processes one document end to end and appends exactly one audit
// record. Malformed input and dispatch failures degrade into the
// returned result; the only error Run itself returns is an audit
// persistence failure, which must not be swallowed.
func (r *Runner) Run(ctx context.Context, doc model.Document) (model.IngestResult, error) {
	format := classify.Format(doc.Filename)
	intent := classify.Intent(doc.Text)

	in := agent.Input{
		Filename: doc.Filename,
		Path:     doc.Path,
		Text:     doc.Text,
		Raw:      doc.Raw,
	}

	var (
		res        model.AgentResult
		agentTaken string
	)
	switch format {
	case model.FormatEmail:
		res = r.email.Process(ctx, in)
	case model.FormatJSON:
		res, agentTaken = r.json.ProcessDetailed(ctx, in)
	case model.FormatPDF:
		res = r.pdf.Process(ctx, in)
	default:
		res = model.AgentResult{
			Format:    model.FormatUnknown,
			Valid:     false,
			Anomalies: []string{fmt.Sprintf("unsupported file format for %q", doc.Filename)},
		}
	}

	outcome := r.router.Route(ctx, intent, res)

	// The router's decision names the audit action, except when the
	// JSON agent's built-in alert was the only side effect of the run.
	taken := outcome.Taken()
	if outcome.Action == "" && agentTaken != "" && agentTaken != agent.JSONActionLogged {
		taken = agentTaken
	}

	rec, err := r.append(ctx, model.TraceEntry{
		Source:      doc.Source,
		Filename:    doc.Filename,
		Format:      format,
		Intent:      intent,
		AgentResult: res,
		ActionTaken: taken,
	})
	if err != nil {
		return model.IngestResult{}, err
	}

	r.logger.Info("pipeline run complete",
		"filename", doc.Filename,
		"format", format,
		"intent", intent,
		"valid", res.Valid,
		"action", taken,
		"trace_id", rec.ID,
	)

	return model.IngestResult{
		Filename:    doc.Filename,
		SavedAs:     doc.Path,
		Format:      format,
		Intent:      intent,
		AgentResult: res,
		Action:      outcome,
		TraceID:     rec.ID,
	}, nil
}

// RunJSONWebhook processes a raw JSON payload that arrived without a
// file, running the JSON agent directly. The agent's built-in alert is
// the only dispatch on this path; the record's source column names the
// originating channel.
func (r *Runner) RunJSONWebhook(ctx context.Context, raw []byte, source string) (model.IngestResult, error) {
	intent := classify.Intent(string(raw))
	res, taken := r.json.ProcessDetailed(ctx, agent.Input{Filename: source, Raw: raw})

	rec, err := r.append(ctx, model.TraceEntry{
		Source:      source,
		Filename:    source,
		Format:      model.FormatJSON,
		Intent:      intent,
		AgentResult: res,
		ActionTaken: taken,
	})
	if err != nil {
		return model.IngestResult{}, err
	}

	return model.IngestResult{
		Filename: source,
		Format:   model.FormatJSON,
		Intent:   intent,
		AgentResult: res,
		Action: model.ActionOutcome{
			Status:  model.ActionSkipped,
			Details: taken,
		},
		TraceID: rec.ID,
	}, nil
}

// append persists the audit record. The write is detached from the
// request's cancellation: a caller that vanished mid-run should not cost
// us the audit trail for work that already happened.
func (r *Runner) append(ctx context.Context, e model.TraceEntry) (model.TraceRecord, error) {
	rec, err := r.store.Append(context.WithoutCancel(ctx), e)
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("pipeline: audit append: %w", err)
	}

	for _, h := range r.hooks {
		go func(h RunHook) {
			if err := h(context.WithoutCancel(ctx), rec); err != nil {
				r.logger.Warn("run hook failed", "trace_id", rec.ID, "error", err)
			}
		}(h)
	}
	return rec, nil
}

// Recent exposes the audit query surface: up to limit records, most
// recent first.
func (r *Runner) Recent(ctx context.Context, limit int) ([]model.TraceRecord, error) {
	return r.store.Recent(ctx, limit)
}

// Trace returns one audit record by ID.
func (r *Runner) Trace(ctx context.Context, id int64) (model.TraceRecord, error) {
	return r.store.Get(ctx, id)
}
