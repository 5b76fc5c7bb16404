package receiver

import (
	"context"

	"github.com/parishworks/hookgate/internal/audit"
	"github.com/parishworks/hookgate/internal/dispatch"
	"github.com/parishworks/hookgate/internal/verify"
)

// Verifier decides whether an inbound request is authentic for its source.
type Verifier interface {
	Verify(source string, rawBody []byte, headers map[string]string) verify.Result
}

// Auditor records webhook traffic. Both methods are best-effort by contract:
// a nil handle means the request proceeds without audit.
type Auditor interface {
	Record(ctx context.Context, req audit.RecordRequest) *audit.Handle
	UpdateStatus(ctx context.Context, h *audit.Handle, status audit.Status, extra map[string]any)
}

// Dispatcher triggers exactly one downstream CI action per call.
type Dispatcher interface {
	Dispatch(ctx context.Context, triggeredBy string) dispatch.Result
}

// WebhookResponse is the JSON body returned for accepted webhook requests
// (and for dispatch failures, where the event was still received).
type WebhookResponse struct {
	Received          bool   `json:"received"`
	Source            string `json:"source"`
	WorkflowTriggered bool   `json:"workflow_triggered"`
	LogID             string `json:"log_id,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ErrorResponse is the JSON body for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string `json:"status"`
	Stage     string `json:"stage"`
	Timestamp string `json:"timestamp"`
}

// RequestIDHeader carries the gateway-generated request id on every
// response, distinct from any upstream-provided id.
const RequestIDHeader = "X-Request-Id"

// DefaultMaxBodySize caps inbound request bodies.
const DefaultMaxBodySize = 1048576 // 1 MB
