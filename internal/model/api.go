package model

import "time"

// APIResponse is the standard success response envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// IngestResult is the structured outcome of one pipeline run, returned
// by the ingestion endpoints. Callers always receive one of these, even
// when an optional stage failed; only audit-store failure escalates to
// an error response.
type IngestResult struct {
	Filename    string        `json:"filename"`
	SavedAs     string        `json:"saved_as,omitempty"`
	Format      Format        `json:"detected_format"`
	Intent      Intent        `json:"business_intent"`
	AgentResult AgentResult   `json:"agent_result"`
	Action      ActionOutcome `json:"action"`
	TraceID     int64         `json:"trace_id"`
}

// BatchIngestResult is the per-file outcome list for a batch upload.
// Each file is an independent pipeline run; there is no cross-file
// transaction.
type BatchIngestResult struct {
	Results []BatchItemResult `json:"results"`
}

// BatchItemResult is one file's outcome within a batch.
type BatchItemResult struct {
	Filename string        `json:"filename"`
	Result   *IngestResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}
