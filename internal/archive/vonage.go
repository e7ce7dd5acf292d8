package archive

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	appTokenTTL     = 5 * time.Minute
	downloadTimeout = 60 * time.Second
)

// VonageDownloader fetches recording media from the Vonage media API.
// Requests are authenticated with a short-lived application JWT (RS256,
// signed with the application's private key).
type VonageDownloader struct {
	http          *resty.Client
	applicationID string
	key           *rsa.PrivateKey
	now           func() time.Time
	checkURL      func(string) error
}

// LoadPrivateKey reads a PEM encoded RSA private key.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vonage private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse vonage private key: %w", err)
	}
	return key, nil
}

func NewVonageDownloader(applicationID string, key *rsa.PrivateKey) (*VonageDownloader, error) {
	if applicationID == "" {
		return nil, errors.New("vonage application id is required")
	}
	if key == nil {
		return nil, errors.New("vonage private key is required")
	}
	return &VonageDownloader{
		http: resty.New().
			SetTimeout(downloadTimeout).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			SetHeader("Accept", "audio/*"),
		applicationID: applicationID,
		key:           key,
		now:           time.Now,
		checkURL:      CheckMediaURL,
	}, nil
}

func (d *VonageDownloader) appToken() (string, error) {
	now := d.now()
	claims := jwt.MapClaims{
		"application_id": d.applicationID,
		"iat":            now.Unix(),
		"exp":            now.Add(appTokenTTL).Unix(),
		"jti":            uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(d.key)
}

// Download returns the media bytes and their content type.
// url must pass CheckMediaURL; nothing is signed or sent otherwise.
func (d *VonageDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	if err := d.checkURL(url); err != nil {
		return nil, "", err
	}
	token, err := d.appToken()
	if err != nil {
		return nil, "", fmt.Errorf("sign vonage app token: %w", err)
	}

	resp, err := d.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("download recording: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("download recording: status %s", resp.Status())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, "", errors.New("download recording: empty body")
	}
	return body, resp.Header().Get("Content-Type"), nil
}
