package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"voice-recorder/internal/storage"
	"voice-recorder/pkg/utils"
)

type fakeLifecycle struct {
	answers    []AnswerEvent
	recordings []RecordingEvent
	statuses   []StatusEvent
	err        error
}

func (f *fakeLifecycle) Answer(_ context.Context, ev AnswerEvent) (NCCO, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.answers = append(f.answers, ev)
	return NewBuilder(testConfig()).BuildVoicemailNCCO(ev.CallUUID), nil
}

func (f *fakeLifecycle) RecordingCompleted(_ context.Context, ev RecordingEvent) error {
	if f.err != nil {
		return f.err
	}
	f.recordings = append(f.recordings, ev)
	return nil
}

func (f *fakeLifecycle) StatusChanged(_ context.Context, ev StatusEvent) error {
	if f.err != nil {
		return f.err
	}
	f.statuses = append(f.statuses, ev)
	return nil
}

func newRouter(lc CallLifecycle) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	WebhookHandler{Lifecycle: lc}.Register(r)
	return r
}

func TestHandleAnswer_ReturnsNCCO(t *testing.T) {
	lc := &fakeLifecycle{}
	r := newRouter(lc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/answer?uuid=c1&from=a&to=b&conversation_uuid=v1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ncco []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &ncco); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ncco) != 2 || ncco[0]["action"] != "talk" || ncco[1]["action"] != "record" {
		t.Fatalf("unexpected ncco: %s", w.Body.String())
	}
	if len(lc.answers) != 1 || lc.answers[0].CallUUID != "c1" {
		t.Fatalf("expected lifecycle call, got %+v", lc.answers)
	}
}

func TestHandleAnswer_ValidationEnvelope(t *testing.T) {
	lc := &fakeLifecycle{}
	r := newRouter(lc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/answer?from=a", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp utils.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "validation_error" || resp.StatusCode != 400 || resp.Details["field"] != "uuid" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if len(lc.answers) != 0 {
		t.Fatalf("lifecycle must not be invoked on malformed input")
	}
}

func TestHandleRecording_Ack(t *testing.T) {
	lc := &fakeLifecycle{}
	r := newRouter(lc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/webhooks/recording", `{"recording_url":"https://x/f1","conversation_uuid":"v1","duration":12,"size":50000}`))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("expected ok ack, got %d %s", w.Code, w.Body.String())
	}
	if len(lc.recordings) != 1 || lc.recordings[0].Duration != 12 {
		t.Fatalf("unexpected recordings: %+v", lc.recordings)
	}
}

func TestHandleEvent_StorageErrorIs500(t *testing.T) {
	lc := &fakeLifecycle{err: &storage.Error{Op: "update_call_status", Err: errors.New("down")}}
	r := newRouter(lc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/webhooks/event", `{"uuid":"c1","status":"completed"}`))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var resp utils.ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error != "storage_error" {
		t.Fatalf("expected storage_error, got %+v", resp)
	}
}

func TestHandleEvent_MalformedIs400(t *testing.T) {
	lc := &fakeLifecycle{}
	r := newRouter(lc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/webhooks/event", `{"status":"completed"}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(lc.statuses) != 0 {
		t.Fatalf("lifecycle must not be invoked")
	}
}

func TestHandleRecording_InvalidRecordIs400(t *testing.T) {
	lc := &fakeLifecycle{err: &storage.Error{Op: "save_recording", Err: storage.ErrInvalidRecord}}
	var outcomes []string
	gin.SetMode(gin.TestMode)
	r := gin.New()
	WebhookHandler{Lifecycle: lc, Observe: func(webhook, outcome string) {
		outcomes = append(outcomes, webhook+":"+outcome)
	}}.Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/webhooks/recording", `{"recording_url":"https://x/f1","uuid":"c1","duration":3,"size":10}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if len(outcomes) != 1 || outcomes[0] != "recording:validation_error" {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}

func TestHandleEvent_ObservesSuccess(t *testing.T) {
	var outcomes []string
	gin.SetMode(gin.TestMode)
	r := gin.New()
	WebhookHandler{Lifecycle: &fakeLifecycle{}, Observe: func(webhook, outcome string) {
		outcomes = append(outcomes, webhook+":"+outcome)
	}}.Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/webhooks/event", `{"uuid":"c1","status":"ringing"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(outcomes) != 1 || outcomes[0] != "event:ok" {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}
