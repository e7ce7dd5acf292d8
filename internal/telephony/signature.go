package telephony

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"voice-recorder/pkg/logger"
	"voice-recorder/pkg/utils"
)

// signedWebhookClaims is the claim set Vonage puts in the Authorization
// header of signed webhooks.
type signedWebhookClaims struct {
	jwt.RegisteredClaims

	APIKey      string `json:"api_key"`
	PayloadHash string `json:"payload_hash"`
}

var (
	ErrMissingSignature = errors.New("telephony: missing webhook signature")
	ErrBadSignature     = errors.New("telephony: invalid webhook signature")
	ErrPayloadMismatch  = errors.New("telephony: webhook payload hash mismatch")
)

// SignatureVerifier checks Vonage signed webhooks (HS256 JWT keyed with the
// account signature secret).
type SignatureVerifier struct {
	secret []byte
	apiKey string
	now    func() time.Time
}

func NewSignatureVerifier(secret, apiKey string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), apiKey: apiKey, now: time.Now}
}

// Verify validates the bearer token and, when the token carries a
// payload_hash, that it matches the SHA-256 of body.
func (v *SignatureVerifier) Verify(authorization string, body []byte) error {
	raw := strings.TrimSpace(authorization)
	if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
		return ErrMissingSignature
	}

	var claims signedWebhookClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(v.now),
	)
	_, err := parser.ParseWithClaims(strings.TrimPrefix(raw, bearerPrefix), &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return errors.Join(ErrBadSignature, err)
	}
	if v.apiKey != "" && claims.APIKey != "" && claims.APIKey != v.apiKey {
		return ErrBadSignature
	}

	if claims.PayloadHash != "" {
		sum := sha256.Sum256(body)
		got := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(strings.ToLower(claims.PayloadHash)), []byte(got)) != 1 {
			return ErrPayloadMismatch
		}
	}
	return nil
}

const bearerPrefix = "Bearer "

// RequireSignedWebhook rejects webhooks whose signature does not verify.
// A nil verifier disables the check.
func RequireSignedWebhook(v *SignatureVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		var body []byte
		if c.Request.Method != http.MethodGet {
			b, err := readBody(c.Request)
			if err != nil {
				utils.AbortWithError(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
				return
			}
			body = b
		}
		if err := v.Verify(c.GetHeader("Authorization"), body); err != nil {
			logger.FromGin(c).Warn("webhook_signature_rejected", "path", c.Request.URL.Path, "err", err)
			utils.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid webhook signature", nil)
			return
		}
		c.Next()
	}
}
