package model

// ActionStatus is the terminal state of an action decision.
type ActionStatus string

const (
	// ActionSuccess: an action fired and the endpoint acknowledged it.
	ActionSuccess ActionStatus = "success"
	// ActionFailed: an action fired but all delivery attempts failed.
	ActionFailed ActionStatus = "failed"
	// ActionSkipped: no routing rule matched, nothing was dispatched.
	ActionSkipped ActionStatus = "skipped"
	// ActionError: an unexpected error occurred while dispatching.
	ActionError ActionStatus = "error"
)

// ActionOutcome records what the action router decided for one pipeline
// run. Produced exactly once per run, including when no action fires.
type ActionOutcome struct {
	// Action names the dispatched action (e.g. "escalate_to_crm"),
	// empty when nothing fired.
	Action string `json:"action,omitempty"`

	Status ActionStatus `json:"status"`

	// Details carries the endpoint's response body on success or the
	// final error message on failure.
	Details string `json:"details,omitempty"`
}

// Taken returns the value recorded in the audit trace's action_taken
// column: the action name when one fired, otherwise a log-only marker.
func (o ActionOutcome) Taken() string {
	if o.Action != "" {
		return o.Action
	}
	return "log_only"
}
