// Package agent implements the format-specific extraction agents.
//
// Every agent satisfies the same contract: given raw input, produce a
// structured result with a validity signal and an ordered anomaly list.
// Agents tolerate malformed input without failing — a broken document
// degrades into an invalid result, never an error, so the pipeline can
// always route and audit the run.
package agent

import (
	"context"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// Input is the raw material handed to an agent for one pipeline run.
type Input struct {
	// Filename is the declared upload name.
	Filename string
	// Path is where the document was saved; only the PDF agent re-opens
	// it, for table extraction.
	Path string
	// Text is the already-extracted plain text, when the format has one.
	Text string
	// Raw is the original uploaded bytes.
	Raw []byte
}

// Agent is the capability shared by all extraction agents.
type Agent interface {
	Process(ctx context.Context, in Input) model.AgentResult
}

// TableExtractor extracts raw tabular rows from a document on disk.
// Implementations are external collaborators (the PDF library binding);
// the PDF agent treats extraction failure as a degraded, not fatal, case.
type TableExtractor interface {
	Tables(ctx context.Context, path string) ([][][]string, error)
}
