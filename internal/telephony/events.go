package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Inbound webhook payloads from the Vonage Voice API.
// Only the fields we act on are kept; unknown fields are ignored.
// Parsing fails closed: a payload missing its identifying field is a
// ValidationError and must not be processed further.

// maxWebhookBody bounds how much of a webhook body is read.
const maxWebhookBody = 1 << 20

// AnswerEvent is delivered when an inbound call is answered.
type AnswerEvent struct {
	CallUUID         string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	From             string `json:"from"`
	To               string `json:"to"`
}

// RecordingEvent is delivered when a record action finishes.
// CallUUID is optional; when absent the call is found via ConversationUUID.
type RecordingEvent struct {
	CallUUID         string
	ConversationUUID string
	RecordingUUID    string
	RecordingURL     string
	StartTime        *time.Time
	EndTime          *time.Time
	Size             int64
	Duration         int
}

// StatusEvent is a call state notification.
type StatusEvent struct {
	CallUUID         string
	ConversationUUID string
	Status           string
	Timestamp        *time.Time
	From             string
	To               string
	Reason           string
}

// ValidationError reports a malformed or incomplete webhook payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func missing(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

// ParseAnswerEvent accepts the GET form (query string) and the POST form (JSON body).
func ParseAnswerEvent(r *http.Request) (AnswerEvent, error) {
	var ev AnswerEvent
	if r.Method == http.MethodPost && isJSON(r) {
		body, err := readBody(r)
		if err != nil {
			return AnswerEvent{}, err
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &ev); err != nil {
				return AnswerEvent{}, &ValidationError{Message: "invalid json body"}
			}
		}
	}
	if ev.CallUUID == "" {
		ev = answerFromQuery(r.URL.Query())
	}

	ev.CallUUID = strings.TrimSpace(ev.CallUUID)
	ev.ConversationUUID = strings.TrimSpace(ev.ConversationUUID)
	ev.From = strings.TrimSpace(ev.From)
	ev.To = strings.TrimSpace(ev.To)
	if ev.CallUUID == "" {
		return AnswerEvent{}, missing("uuid")
	}
	return ev, nil
}

func answerFromQuery(q url.Values) AnswerEvent {
	return AnswerEvent{
		CallUUID:         q.Get("uuid"),
		ConversationUUID: q.Get("conversation_uuid"),
		From:             q.Get("from"),
		To:               q.Get("to"),
	}
}

type recordingPayload struct {
	UUID             string  `json:"uuid"`
	ConversationUUID string  `json:"conversation_uuid"`
	RecordingUUID    string  `json:"recording_uuid"`
	RecordingURL     string  `json:"recording_url"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	Size             flexInt `json:"size"`
	Duration         flexInt `json:"duration"`
}

// ParseRecordingEvent parses the JSON body of a recording callback.
func ParseRecordingEvent(r *http.Request) (RecordingEvent, error) {
	body, err := readBody(r)
	if err != nil {
		return RecordingEvent{}, err
	}
	var p recordingPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return RecordingEvent{}, &ValidationError{Message: "invalid json body"}
	}

	ev := RecordingEvent{
		CallUUID:         strings.TrimSpace(p.UUID),
		ConversationUUID: strings.TrimSpace(p.ConversationUUID),
		RecordingUUID:    strings.TrimSpace(p.RecordingUUID),
		RecordingURL:     strings.TrimSpace(p.RecordingURL),
		StartTime:        parseTimestamp(p.StartTime),
		EndTime:          parseTimestamp(p.EndTime),
		Size:             int64(p.Size),
		Duration:         int(p.Duration),
	}
	if ev.CallUUID == "" && ev.ConversationUUID == "" {
		return RecordingEvent{}, missing("conversation_uuid")
	}
	if ev.RecordingURL == "" {
		return RecordingEvent{}, missing("recording_url")
	}
	if ev.Duration < 0 {
		return RecordingEvent{}, &ValidationError{Field: "duration", Message: "must be >= 0"}
	}
	if ev.Size < 0 {
		return RecordingEvent{}, &ValidationError{Field: "size", Message: "must be >= 0"}
	}
	return ev, nil
}

type statusPayload struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	From             string `json:"from"`
	To               string `json:"to"`
	Reason           string `json:"reason"`
}

// ParseStatusEvent parses the JSON body of a call event callback.
func ParseStatusEvent(r *http.Request) (StatusEvent, error) {
	body, err := readBody(r)
	if err != nil {
		return StatusEvent{}, err
	}
	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return StatusEvent{}, &ValidationError{Message: "invalid json body"}
	}

	ev := StatusEvent{
		CallUUID:         strings.TrimSpace(p.UUID),
		ConversationUUID: strings.TrimSpace(p.ConversationUUID),
		Status:           strings.ToLower(strings.TrimSpace(p.Status)),
		Timestamp:        parseTimestamp(p.Timestamp),
		From:             strings.TrimSpace(p.From),
		To:               strings.TrimSpace(p.To),
		Reason:           strings.TrimSpace(p.Reason),
	}
	if ev.CallUUID == "" {
		return StatusEvent{}, missing("uuid")
	}
	if ev.Status == "" {
		return StatusEvent{}, missing("status")
	}
	return ev, nil
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

// readBody reads the request body and puts it back so later readers
// (and signature verification) see the same bytes.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, &ValidationError{Message: "empty body"}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return nil, &ValidationError{Message: "unreadable body"}
	}
	if len(body) > maxWebhookBody {
		return nil, &ValidationError{Message: "body too large"}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds.
// Unparseable values are treated as absent.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// flexInt decodes a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	// 2^63 is exactly representable; anything at or beyond it overflows int64.
	if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
		return fmt.Errorf("not an integer in range: %q", s)
	}
	*f = flexInt(v)
	return nil
}
