package telephony

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signWebhook(t *testing.T, secret string, body []byte, now time.Time) string {
	t.Helper()
	sum := sha256.Sum256(body)
	claims := signedWebhookClaims{
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)},
		APIKey:           "key",
		PayloadHash:      hex.EncodeToString(sum[:]),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + tok
}

func TestSignatureVerifier(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := NewSignatureVerifier("sig-secret", "key")
	v.now = func() time.Time { return now }
	body := []byte(`{"uuid":"c1","status":"answered"}`)

	if err := v.Verify(signWebhook(t, "sig-secret", body, now), body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := v.Verify("", body); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected missing signature, got %v", err)
	}
	if err := v.Verify(signWebhook(t, "other", body, now), body); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected bad signature, got %v", err)
	}
	tampered := []byte(`{"uuid":"c2","status":"answered"}`)
	if err := v.Verify(signWebhook(t, "sig-secret", body, now), tampered); !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("expected payload mismatch, got %v", err)
	}
}

func TestRequireSignedWebhook_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lc := &fakeLifecycle{}
	r := gin.New()
	r.Use(RequireSignedWebhook(NewSignatureVerifier("sig-secret", "")))
	WebhookHandler{Lifecycle: lc}.Register(r)

	body := `{"uuid":"c1","status":"answered"}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(http.MethodPost, "/webhooks/event", body))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 unsigned, got %d", w.Code)
	}

	req := jsonRequest(http.MethodPost, "/webhooks/event", body)
	req.Header.Set("Authorization", signWebhook(t, "sig-secret", []byte(body), time.Now()))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 signed, got %d: %s", w.Code, w.Body.String())
	}
	if len(lc.statuses) != 1 {
		t.Fatalf("expected body to reach handler intact")
	}
}
