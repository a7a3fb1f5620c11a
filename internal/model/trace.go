package model

import (
	"encoding/json"
	"time"
)

// TraceEntry is the caller-supplied portion of an audit trace record.
// The store assigns the ID and timestamp on append.
type TraceEntry struct {
	// Source optionally names the originating channel when it differs
	// from the filename (e.g. "webhook"). Stored as NULL when empty.
	Source      string
	Filename    string
	Format      Format
	Intent      Intent
	AgentResult AgentResult
	ActionTaken string
}

// TraceRecord is one immutable audit trace record. Records are never
// mutated or deleted after insertion; IDs are strictly increasing and
// assigned by the store.
type TraceRecord struct {
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source,omitempty"`
	Filename    string          `json:"filename"`
	Format      Format          `json:"format"`
	Intent      Intent          `json:"intent"`
	AgentResult json.RawMessage `json:"agent_result"`
	ActionTaken string          `json:"action_taken"`
}

// DecodeResult unmarshals the serialized agent result.
func (r TraceRecord) DecodeResult() (AgentResult, error) {
	var res AgentResult
	err := json.Unmarshal(r.AgentResult, &res)
	return res, err
}
