// Package audit keeps an append-only, queryable record of webhook traffic.
//
// Availability of the webhook path must not depend on the audit store being
// reachable: Record returns a nil handle on storage failure and UpdateStatus
// is best-effort. Failures are logged, never propagated.
package audit

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/zeebo/blake3"

	"github.com/parishworks/hookgate/internal/config"
)

// writeTimeout bounds each store write so a slow database cannot stall the
// request handler.
const writeTimeout = 3 * time.Second

// civilZone is the fixed civil timezone used for the calendar-date
// partition. Explicit parameterization; never mutate the process TZ.
var civilZone = loadCivilZone()

func loadCivilZone() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}

// headerAllowlist is the subset of request headers worth keeping for
// debugging. Everything else (cookies, auth tokens, transport noise) is
// dropped before storage.
var headerAllowlist = map[string]bool{
	"content-type":                true,
	"content-transfer-encoding":   true,
	"user-agent":                  true,
	"x-forwarded-for":             true,
	"x-request-id":                true,
	"x-pco-webhooks-authenticity": true,
	"webhook-signature":           true,
}

// Store is the SQLite-backed audit log.
type Store struct {
	db           *sql.DB
	clock        clockwork.Clock
	logger       *slog.Logger
	retention    time.Duration
	maxBodyBytes int
}

// New creates a Store. The clock is injected so receipt timestamps and TTLs
// are testable.
func New(db *sql.DB, cfg config.AuditConfig, clock clockwork.Clock, logger *slog.Logger) *Store {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxBodyBytes
	}
	days := cfg.RetentionDays
	if days <= 0 {
		days = config.DefaultRetentionDays
	}
	return &Store{
		db:           db,
		clock:        clock,
		logger:       logger,
		retention:    time.Duration(days) * 24 * time.Hour,
		maxBodyBytes: maxBody,
	}
}

// Record creates one audit record with status "received" and returns its
// handle. On any storage failure it logs the error and returns nil so the
// caller proceeds without audit.
func (s *Store) Record(ctx context.Context, req RecordRequest) *Handle {
	now := s.clock.Now().UTC()

	// Sortable id with the receipt instant embedded up front.
	id := fmt.Sprintf("%013d-%s", now.UnixMilli(), uuid.NewString()[:8])
	receivedAt := now.Format(time.RFC3339Nano)
	receivedDate := now.In(civilZone).Format("2006-01-02")
	expiresAt := now.Add(s.retention).Format(time.RFC3339Nano)

	eventType := req.EventType
	if eventType == "" {
		eventType = "unknown"
	}

	digest := blake3.Sum256(req.RawBody)

	payload := sanitizePayload(req.RawBody)
	rawBody := capBody(req.RawBody, s.maxBodyBytes)

	headersJSON := marshalOrNull(filterHeaders(req.Headers))
	metadataJSON := marshalOrNull(req.Metadata)

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(wctx, `
INSERT INTO webhook_events(
  id, received_at, received_date, source, event_type, status,
  payload, raw_body, body_digest, headers, metadata, expires_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, receivedAt, receivedDate, req.Source, eventType, StatusReceived,
		nullableJSON(payload), rawBody, hex.EncodeToString(digest[:]),
		string(headersJSON), string(metadataJSON), expiresAt)
	if err != nil {
		s.logger.Error("audit record write failed",
			"source", req.Source,
			"error", err,
		)
		return nil
	}

	return &Handle{ID: id, ReceivedAt: receivedAt}
}

// UpdateStatus moves a record to a new status, merging any extra fields into
// the record's extra column. Best-effort: nil handles and storage failures
// are logged and swallowed. Calling twice with the same terminal status and
// extra data leaves the record at that status.
func (s *Store) UpdateStatus(ctx context.Context, h *Handle, status Status, extra map[string]any) {
	if h == nil {
		return
	}

	updatedAt := s.clock.Now().UTC().Format(time.RFC3339Nano)

	var extraJSON any
	if len(extra) > 0 {
		extraJSON = string(marshalOrNull(extra))
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(wctx, `
UPDATE webhook_events
SET status = ?, extra = COALESCE(?, extra), updated_at = ?
WHERE id = ? AND received_at = ?;
`, status, extraJSON, updatedAt, h.ID, h.ReceivedAt)
	if err != nil {
		s.logger.Error("audit status update failed",
			"log_id", h.ID,
			"status", status,
			"error", err,
		)
	}
}

const selectColumns = `
  id, received_at, received_date, source, event_type, status,
  payload, raw_body, body_digest, headers, metadata, extra,
  updated_at, expires_at`

// QueryBySource returns records for one source within [from, to].
func (s *Store) QueryBySource(ctx context.Context, source string, from, to time.Time) ([]Event, error) {
	return s.query(ctx, `
SELECT`+selectColumns+`
FROM webhook_events
WHERE source = ? AND received_at >= ? AND received_at <= ?
ORDER BY received_at ASC;
`, source, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
}

// QueryByEventType returns records for one event type within [from, to].
func (s *Store) QueryByEventType(ctx context.Context, eventType string, from, to time.Time) ([]Event, error) {
	return s.query(ctx, `
SELECT`+selectColumns+`
FROM webhook_events
WHERE event_type = ? AND received_at >= ? AND received_at <= ?
ORDER BY received_at ASC;
`, eventType, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
}

// QueryByStatus returns records in one status within [from, to].
func (s *Store) QueryByStatus(ctx context.Context, status Status, from, to time.Time) ([]Event, error) {
	return s.query(ctx, `
SELECT`+selectColumns+`
FROM webhook_events
WHERE status = ? AND received_at >= ? AND received_at <= ?
ORDER BY received_at ASC;
`, status, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
}

// QueryBySourceAndType returns records for the composite source:event_type path.
func (s *Store) QueryBySourceAndType(ctx context.Context, source, eventType string) ([]Event, error) {
	return s.query(ctx, `
SELECT`+selectColumns+`
FROM webhook_events
WHERE source = ? AND event_type = ?
ORDER BY received_at ASC;
`, source, eventType)
}

// QueryByDate returns records whose civil receipt date (in the fixed civil
// timezone) matches date, formatted "2006-01-02".
func (s *Store) QueryByDate(ctx context.Context, date string) ([]Event, error) {
	return s.query(ctx, `
SELECT`+selectColumns+`
FROM webhook_events
WHERE received_date = ?
ORDER BY received_at ASC;
`, date)
}

// PurgeExpired deletes records past their TTL. Returns the number removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE expires_at <= ?;`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired audit records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired audit records: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, stmt string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev          Event
		receivedAtS string
		statusS     string
		payload     sql.NullString
		rawBody     sql.NullString
		bodyDigest  sql.NullString
		headersS    sql.NullString
		metadataS   sql.NullString
		extraS      sql.NullString
		updatedAtS  sql.NullString
		expiresAtS  string
	)
	err := rows.Scan(
		&ev.ID, &receivedAtS, &ev.ReceivedDate, &ev.Source, &ev.EventType, &statusS,
		&payload, &rawBody, &bodyDigest, &headersS, &metadataS, &extraS,
		&updatedAtS, &expiresAtS,
	)
	if err != nil {
		return Event{}, fmt.Errorf("scan audit record: %w", err)
	}

	ev.Status = Status(statusS)
	if t, err := time.Parse(time.RFC3339Nano, receivedAtS); err == nil {
		ev.ReceivedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, expiresAtS); err == nil {
		ev.ExpiresAt = t
	}
	if updatedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, updatedAtS.String); err == nil {
			ev.UpdatedAt = &t
		}
	}
	if payload.Valid {
		ev.Payload = json.RawMessage(payload.String)
	}
	if rawBody.Valid {
		ev.RawBody = rawBody.String
	}
	if bodyDigest.Valid {
		ev.BodyDigest = bodyDigest.String
	}
	if headersS.Valid {
		_ = json.Unmarshal([]byte(headersS.String), &ev.Headers)
	}
	if metadataS.Valid {
		_ = json.Unmarshal([]byte(metadataS.String), &ev.Metadata)
	}
	if extraS.Valid {
		_ = json.Unmarshal([]byte(extraS.String), &ev.Extra)
	}
	return ev, nil
}

// sanitizePayload parses the raw body and drops empty strings and nulls from
// objects at every depth. Returns nil when the body is not valid JSON.
func sanitizePayload(raw []byte) json.RawMessage {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	cleaned := dropEmpty(parsed)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil
	}
	return out
}

func dropEmpty(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			if s, isString := item.(string); isString && s == "" {
				continue
			}
			out[k] = dropEmpty(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, dropEmpty(item))
		}
		return out
	default:
		return v
	}
}

// capBody truncates a body to the storage cap with a visible marker.
func capBody(raw []byte, maxBytes int) string {
	if len(raw) <= maxBytes {
		return string(raw)
	}
	keep := maxBytes - len(TruncationMarker)
	if keep < 0 {
		keep = 0
	}
	return string(raw[:keep]) + TruncationMarker
}

func filterHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range headers {
		if headerAllowlist[k] {
			out[k] = v
		}
	}
	return out
}

func marshalOrNull(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return out
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
