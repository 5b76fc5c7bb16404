package audit

import (
	"encoding/json"
	"time"
)

// Status is the processing state of an inbound webhook event.
//
// Transitions are monotonic:
//
//	received -> signature_failed (terminal)
//	received -> verified -> logged_only | processed | workflow_failed (terminal)
type Status string

const (
	StatusReceived        Status = "received"
	StatusSignatureFailed Status = "signature_failed"
	StatusVerified        Status = "verified"
	StatusLoggedOnly      Status = "logged_only"
	StatusProcessed       Status = "processed"
	StatusWorkflowFailed  Status = "workflow_failed"
)

// Metadata is caller/environment context captured with every record.
type Metadata struct {
	RequestID string `json:"request_id"`
	Service   string `json:"service"`
	SourceIP  string `json:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Stage     string `json:"stage,omitempty"`
}

// Event is one persisted audit record.
type Event struct {
	ID           string
	ReceivedAt   time.Time
	ReceivedDate string
	Source       string
	EventType    string
	Status       Status
	Payload      json.RawMessage
	RawBody      string
	BodyDigest   string
	Headers      map[string]string
	Metadata     Metadata
	Extra        map[string]any
	UpdatedAt    *time.Time
	ExpiresAt    time.Time
}

// Handle identifies a record for status updates. ReceivedAt keeps the exact
// stored string so updates always target the (id, received_at) key produced
// at creation.
type Handle struct {
	ID         string
	ReceivedAt string
}

// LogID is the opaque identifier exposed to webhook senders.
func (h *Handle) LogID() string {
	if h == nil {
		return ""
	}
	return h.ID
}

// RecordRequest carries everything the store needs to create a record.
type RecordRequest struct {
	Source    string
	EventType string
	RawBody   []byte
	Headers   map[string]string
	Metadata  Metadata
}

// TruncationMarker is appended to stored bodies that exceeded the cap, so
// truncation is visible rather than silent.
const TruncationMarker = "...[truncated]"
