package archive

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-recorder/internal/config"
	"voice-recorder/internal/recordings"
	"voice-recorder/internal/storage"
)

func sample(callUUID string) recordings.Recording {
	return recordings.Recording{
		CallUUID:     callUUID,
		RecordingURL: "https://api.nexmo.com/v1/files/" + callUUID,
		Duration:     12,
		FileSize:     4,
		Format:       "mp3",
		Status:       recordings.StatusCompleted,
		CreatedAt:    time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC),
	}
}

func TestObjectKey(t *testing.T) {
	r := sample("c1")
	assert.Equal(t, "recordings/2024/01/15/c1.mp3", ObjectKey(r))

	// Dated in UTC regardless of the zone the timestamp carries.
	r.CreatedAt = time.Date(2024, 1, 16, 8, 0, 0, 0, time.FixedZone("JST", 9*3600))
	r.Format = "WAV"
	assert.Equal(t, "recordings/2024/01/15/c1.wav", ObjectKey(r))
}

type fakeDownloader struct {
	err   error
	calls *int
}

func (f fakeDownloader) Download(_ context.Context, url string) ([]byte, string, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("ID3!"), "", nil
}

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (u *memUploader) Upload(_ context.Context, key string, body []byte, ct string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = map[string][]byte{}
		u.types = map[string]string{}
	}
	u.objects[key] = body
	u.types[key] = ct
	return nil
}

func TestArchiver_UploadsAndMarksRow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	rec := sample("c1")
	require.NoError(t, store.SaveRecording(ctx, rec))

	up := &memUploader{}
	a := New(store, fakeDownloader{}, up, Options{Workers: 2})
	a.Start(ctx)
	require.True(t, a.Enqueue(rec))
	require.NoError(t, a.Stop(ctx))

	key := "recordings/2024/01/15/c1.mp3"
	assert.Equal(t, []byte("ID3!"), up.objects[key])
	assert.Equal(t, "audio/mpeg", up.types[key])

	got, _, err := store.GetRecording(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, key, got.ArchiveKey)
}

func TestArchiver_DownloadFailureLeavesRowUntouched(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	rec := sample("c2")
	require.NoError(t, store.SaveRecording(ctx, rec))

	up := &memUploader{}
	a := New(store, fakeDownloader{err: errors.New("403")}, up, Options{})
	a.Start(ctx)
	require.True(t, a.Enqueue(rec))
	require.NoError(t, a.Stop(ctx))

	assert.Empty(t, up.objects)
	got, _, err := store.GetRecording(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, got.ArchiveKey)
}

func TestArchiver_EnqueueAfterStop(t *testing.T) {
	a := New(storage.NewMemoryStore(), fakeDownloader{}, &memUploader{}, Options{})
	a.Start(context.Background())
	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.Enqueue(sample("c3")))
	// Stop is idempotent.
	require.NoError(t, a.Stop(context.Background()))
}

func TestArchiver_EnqueueDropsWhenFull(t *testing.T) {
	// Not started: nothing drains the queue.
	a := New(storage.NewMemoryStore(), fakeDownloader{}, &memUploader{}, Options{QueueSize: 1})
	assert.True(t, a.Enqueue(sample("c1")))
	assert.False(t, a.Enqueue(sample("c2")))
}

func writeKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "private.key")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
	return path, key
}

func TestVonageDownloader_SendsApplicationJWT(t *testing.T) {
	path, key := writeKey(t)
	loaded, err := LoadPrivateKey(path)
	require.NoError(t, err)

	var claims jwt.MapClaims
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims = jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3!"))
	}))
	defer srv.Close()

	d, err := NewVonageDownloader("app-123", loaded)
	require.NoError(t, err)
	d.checkURL = func(string) error { return nil }

	body, ct, err := d.Download(context.Background(), srv.URL+"/v1/files/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3!"), body)
	assert.Equal(t, "audio/mpeg", ct)
	assert.Equal(t, "app-123", claims["application_id"])
	assert.NotEmpty(t, claims["jti"])
}

func TestVonageDownloader_ErrorStatus(t *testing.T) {
	_, key := writeKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, err := NewVonageDownloader("app-123", key)
	require.NoError(t, err)
	d.checkURL = func(string) error { return nil }
	_, _, err = d.Download(context.Background(), srv.URL+"/v1/files/missing")
	require.Error(t, err)
}

func TestCheckMediaURL(t *testing.T) {
	cases := map[string]bool{
		"https://api.nexmo.com/v1/files/abc":        true,
		"https://API.NEXMO.com/v1/files/abc":        true,
		"https://api-us.vonage.com/v1/files/abc":    true,
		"https://media.eu.nexmo.com/v1/files/abc":   true,
		"http://api.nexmo.com/v1/files/abc":         false,
		"https://attacker.example.com/v1/files/abc": false,
		"https://api.nexmo.com.evil.io/v1/files":    false,
		"https://evilnexmo.com/v1/files":            false,
		"https://u:p@api.nexmo.com/v1/files/abc":    false,
		"ftp://api.nexmo.com/f":                     false,
		"not a url":                                 false,
	}
	for raw, ok := range cases {
		err := CheckMediaURL(raw)
		if ok {
			assert.NoError(t, err, raw)
		} else {
			assert.ErrorIs(t, err, ErrUntrustedMediaURL, raw)
		}
	}
}

func TestVonageDownloader_RefusesForeignHost(t *testing.T) {
	_, key := writeKey(t)
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("ID3!"))
	}))
	defer srv.Close()

	d, err := NewVonageDownloader("app-123", key)
	require.NoError(t, err)
	_, _, err = d.Download(context.Background(), srv.URL+"/evil")
	require.ErrorIs(t, err, ErrUntrustedMediaURL)
	assert.Zero(t, hits, "no request may reach a foreign host")
}

func TestArchiver_SkipsForeignMediaURL(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	rec := sample("c4")
	rec.RecordingURL = "https://attacker.example.com/v1/files/c4"
	require.NoError(t, store.SaveRecording(ctx, rec))

	var calls int
	up := &memUploader{}
	a := New(store, fakeDownloader{calls: &calls}, up, Options{})
	a.Start(ctx)
	require.True(t, a.Enqueue(rec))
	require.NoError(t, a.Stop(ctx))

	assert.Zero(t, calls)
	assert.Empty(t, up.objects)
	got, _, err := store.GetRecording(ctx, "c4")
	require.NoError(t, err)
	assert.Empty(t, got.ArchiveKey)
}

func TestLoadPrivateKey_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
	_, err := LoadPrivateKey(path)
	require.Error(t, err)
}

func TestS3Uploader_PutsObjectPathStyle(t *testing.T) {
	var (
		method, path string
		body         []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := NewS3Uploader(config.ArchiveConfig{
		Bucket:    "voicemail",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "AKID",
		SecretKey: "SECRET",
		PathStyle: true,
	})
	require.NoError(t, err)

	require.NoError(t, up.Upload(context.Background(), "recordings/2024/01/15/c1.mp3", []byte("ID3!"), "audio/mpeg"))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/voicemail/recordings/2024/01/15/c1.mp3", path)
	assert.Equal(t, []byte("ID3!"), body)
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(config.ArchiveConfig{})
	require.Error(t, err)
}
