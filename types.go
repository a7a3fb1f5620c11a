package kiroku

import (
	"encoding/json"
	"time"
)

// Record is the public representation of one audit trace record.
// It is a curated view of the internal record for use in extension
// interfaces. No internal package imports — safe to use from outside
// the module.
type Record struct {
	ID        int64
	Timestamp time.Time
	// Source names the originating channel when it differs from the
	// filename (e.g. the authenticated client ID for webhook payloads).
	Source      string
	Filename    string
	Format      string
	Intent      string
	AgentResult json.RawMessage
	ActionTaken string
}
