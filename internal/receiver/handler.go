package receiver

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/parishworks/hookgate/internal/audit"
	"github.com/parishworks/hookgate/internal/config"
)

// handleWebhook handles POST /webhook/{source}.
//
// Sequence: resolve source -> normalize -> record(received) -> verify ->
// route by policy -> dispatch or acknowledge -> record final status.
// A panic anywhere past source resolution is converted to a generic JSON
// 500; nothing internal leaks to the sender.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Routing error, not a webhook event: unknown sources get no audit record.
	tag := strings.ToLower(chi.URLParam(r, "source"))
	src, ok := s.sources[tag]
	if !ok {
		s.respondError(w, http.StatusBadRequest, "Invalid webhook source: "+tag)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("webhook handler panic",
				"source", tag,
				"request_id", requestIDFrom(ctx),
				"panic", rec,
			)
			s.respondError(w, http.StatusInternalServerError, "internal error")
		}
	}()

	headers := normalizeHeaders(r.Header)

	limitedReader := io.LimitReader(r.Body, DefaultMaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > DefaultMaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	s.metrics.Received.WithLabelValues(tag).Inc()

	rawBody, decodeErr := decodeTransport(body, headers)
	if decodeErr != nil {
		// The one malformed-input case that precedes verification: the
		// transport said base64 and lied. Audited best-effort, then 400.
		s.record(r, tag, body, headers)
		s.logger.Warn("webhook body decode failed",
			"source", tag,
			"request_id", requestIDFrom(ctx),
			"error", decodeErr,
		)
		s.respondError(w, http.StatusBadRequest, "request body could not be decoded")
		return
	}

	handle := s.record(r, tag, rawBody, headers)

	result := s.verifier.Verify(tag, rawBody, headers)
	if !result.OK {
		s.auditor.UpdateStatus(ctx, handle, audit.StatusSignatureFailed,
			map[string]any{"reason": result.Reason})
		s.metrics.Rejected.WithLabelValues(tag, result.Reason).Inc()
		s.logger.Warn("webhook signature rejected",
			"source", tag,
			"request_id", requestIDFrom(ctx),
			"reason", result.Reason,
		)
		s.respondError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	s.auditor.UpdateStatus(ctx, handle, audit.StatusVerified, nil)
	s.metrics.Verified.WithLabelValues(tag).Inc()

	// Per-source policy is explicit configuration, never inferred from the
	// payload.
	if src.Policy == config.PolicyLogOnly {
		s.auditor.UpdateStatus(ctx, handle, audit.StatusLoggedOnly, nil)
		s.respondJSON(w, http.StatusOK, WebhookResponse{
			Received: true,
			Source:   tag,
			LogID:    handle.LogID(),
			Reason:   "source is configured log-only",
		})
		return
	}

	dres := s.dispatcher.Dispatch(ctx, tag)
	if !dres.Success {
		s.auditor.UpdateStatus(ctx, handle, audit.StatusWorkflowFailed,
			map[string]any{"error": dres.Error})
		s.metrics.Dispatches.WithLabelValues(tag, "failure").Inc()
		s.logger.Error("workflow dispatch failed",
			"source", tag,
			"request_id", requestIDFrom(ctx),
			"error", dres.Error,
		)
		// The event was received and verified; only the downstream action
		// failed. 500 so the sender does not treat it as its own fault.
		s.respondJSON(w, http.StatusInternalServerError, WebhookResponse{
			Received: true,
			Source:   tag,
			LogID:    handle.LogID(),
			Error:    "workflow dispatch failed",
		})
		return
	}

	extra := map[string]any{"workflow_triggered": true}
	if dres.RunID != "" {
		extra["run_id"] = dres.RunID
	}
	s.auditor.UpdateStatus(ctx, handle, audit.StatusProcessed, extra)
	s.metrics.Dispatches.WithLabelValues(tag, "success").Inc()

	s.respondJSON(w, http.StatusOK, WebhookResponse{
		Received:          true,
		Source:            tag,
		WorkflowTriggered: true,
		LogID:             handle.LogID(),
	})
}

// record writes the initial audit record for a request. The returned handle
// may be nil when audit storage is unreachable; the pipeline continues.
func (s *Server) record(r *http.Request, tag string, rawBody []byte, headers map[string]string) *audit.Handle {
	return s.auditor.Record(r.Context(), audit.RecordRequest{
		Source:    tag,
		EventType: extractEventType(tag, rawBody),
		RawBody:   rawBody,
		Headers:   headers,
		Metadata: audit.Metadata{
			RequestID: requestIDFrom(r.Context()),
			Service:   "hookgate",
			SourceIP:  r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Stage:     s.cfg.Stage,
		},
	})
}

// normalizeHeaders lowercases header keys and keeps the first value of each.
func normalizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[strings.ToLower(key)] = values[0]
		}
	}
	return out
}

// decodeTransport decodes the body when the transport flagged it as binary.
func decodeTransport(body []byte, headers map[string]string) ([]byte, error) {
	if !strings.EqualFold(headers["content-transfer-encoding"], "base64") {
		return body, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// extractEventType pulls a best-effort event name from the payload. Parse
// failure degrades to "unknown"; it never rejects the request.
func extractEventType(source string, rawBody []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return "unknown"
	}

	switch source {
	case config.SourcePlanningCenter:
		// Deliveries nest the event name under data[].attributes.name;
		// older shapes use a top-level type or action.
		if name := planningCenterEventName(payload); name != "" {
			return name
		}
	case config.SourceCloudflare:
		// Stream notifications carry a video uid plus a status state.
		if _, hasUID := payload["uid"]; hasUID {
			if status, ok := payload["status"].(map[string]any); ok {
				if state, ok := status["state"].(string); ok && state != "" {
					return "video." + state
				}
			}
			return "video.updated"
		}
	}
	return "unknown"
}

func planningCenterEventName(payload map[string]any) string {
	switch data := payload["data"].(type) {
	case []any:
		for _, item := range data {
			if entry, ok := item.(map[string]any); ok {
				if attrs, ok := entry["attributes"].(map[string]any); ok {
					if name, ok := attrs["name"].(string); ok && name != "" {
						return name
					}
				}
			}
		}
	case map[string]any:
		if attrs, ok := data["attributes"].(map[string]any); ok {
			if name, ok := attrs["name"].(string); ok && name != "" {
				return name
			}
		}
	}
	if t, ok := payload["type"].(string); ok && t != "" {
		return t
	}
	if action, ok := payload["action"].(string); ok && action != "" {
		return action
	}
	return ""
}
