package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropgate/dropgate/config"
	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/events"
	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
)

type uploadFixture struct {
	router *gin.Engine
	ledger *store.MemoryLedger
	blobs  *store.MemoryBlobStore
}

func newUploadFixture(t *testing.T, userID string) *uploadFixture {
	t.Helper()
	config.SetForTesting(config.AppConfig{
		BaseURL:              "http://localhost:8080",
		JWTSecret:            "test-secret",
		DefaultDownloadCap:   5,
		MaxUploadMB:          1,
		AllowAnonymousUpload: true,
	})
	ledger := store.NewMemoryLedger()
	blobs := store.NewMemoryBlobStore()
	cache := store.NewGrantCache(store.NewMemoryKV(), time.Hour)
	policy := delivery.NewPolicy(nil, nil)
	engine := delivery.NewEngine(ledger, blobs, cache, policy, nil)
	fc := NewFileController(engine, ledger, blobs, cache, policy, events.Nop{}, nil)

	r := gin.New()
	if userID != "" {
		r.Use(identityAs(userID, ""))
	}
	r.POST("/files", fc.Upload)
	r.GET("/upload-limits", fc.UploadLimits)
	return &uploadFixture{router: r, ledger: ledger, blobs: blobs}
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(f *uploadFixture, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func uploadToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Data struct {
			Token string `json:"token"`
			URL   string `json:"url"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	assert.Contains(t, resp.Data.URL, "/r/"+resp.Data.Token)
	return resp.Data.Token
}

func TestUploadDefaults(t *testing.T) {
	f := newUploadFixture(t, "")
	body, ct := multipartUpload(t, "doc.pdf", "pdfbytes", nil)

	rec := postUpload(f, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := uploadToken(t, rec)

	g, err := f.ledger.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", g.DisplayName)
	assert.Equal(t, models.StatusActive, g.Status)
	require.NotNil(t, g.DownloadCap)
	assert.EqualValues(t, 5, *g.DownloadCap)
	assert.Nil(t, g.ExpiresAt)
	assert.Nil(t, g.OwnerID)
	assert.True(t, f.blobs.Contains(g.BlobKey))
}

func TestUploadWithLifetimeAndCap(t *testing.T) {
	f := newUploadFixture(t, "user-1")
	body, ct := multipartUpload(t, "doc.pdf", "pdfbytes", map[string]string{
		"expiry":        "2 days",
		"max_downloads": "3",
	})

	rec := postUpload(f, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := uploadToken(t, rec)

	g, err := f.ledger.Get(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, g.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), *g.ExpiresAt, time.Minute)
	require.NotNil(t, g.DownloadCap)
	assert.EqualValues(t, 3, *g.DownloadCap)
	require.NotNil(t, g.OwnerID)
	assert.Equal(t, "user-1", *g.OwnerID)
}

func TestUploadUnlimited(t *testing.T) {
	f := newUploadFixture(t, "")
	body, ct := multipartUpload(t, "doc.pdf", "pdfbytes", map[string]string{
		"expiry":    "never",
		"unlimited": "true",
	})

	rec := postUpload(f, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	token := uploadToken(t, rec)

	g, err := f.ledger.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, g.DownloadCap)
	assert.Nil(t, g.ExpiresAt)
}

func TestUploadMaskedName(t *testing.T) {
	f := newUploadFixture(t, "")
	body, ct := multipartUpload(t, "notes.txt", "MZ", map[string]string{
		"originalName": "tool.exe",
	})

	rec := postUpload(f, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	token := uploadToken(t, rec)

	g, err := f.ledger.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", g.DisplayName)
	assert.Equal(t, "tool.exe", g.OriginalName)
	assert.Equal(t, "tool.exe", g.DownloadName())
}

func TestUploadValidation(t *testing.T) {
	f := newUploadFixture(t, "")

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.Close())
		rec := postUpload(f, &buf, mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("bad lifetime", func(t *testing.T) {
		body, ct := multipartUpload(t, "a.txt", "x", map[string]string{"expiry": "soonish"})
		rec := postUpload(f, body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("bad cap", func(t *testing.T) {
		body, ct := multipartUpload(t, "a.txt", "x", map[string]string{"max_downloads": "-3"})
		rec := postUpload(f, body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("oversize", func(t *testing.T) {
		body, ct := multipartUpload(t, "big.bin", string(make([]byte, 2<<20)), nil)
		rec := postUpload(f, body, ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestUploadLimits(t *testing.T) {
	f := newUploadFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/upload-limits", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			MaxUploadMB         int      `json:"max_upload_mb"`
			DefaultMaxDownloads int      `json:"default_max_downloads"`
			AnonymousUpload     bool     `json:"anonymous_upload"`
			ExpiryFormats       []string `json:"expiry_formats"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.MaxUploadMB)
	assert.Equal(t, 5, resp.Data.DefaultMaxDownloads)
	assert.True(t, resp.Data.AnonymousUpload)
	assert.Contains(t, resp.Data.ExpiryFormats, "never")
}

func TestUploadAnonymousDisallowed(t *testing.T) {
	f := newUploadFixture(t, "")
	cfg := config.Get()
	cfg.AllowAnonymousUpload = false
	config.SetForTesting(cfg)
	defer func() {
		cfg.AllowAnonymousUpload = true
		config.SetForTesting(cfg)
	}()

	body, ct := multipartUpload(t, "a.txt", "x", nil)
	rec := postUpload(f, body, ct)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
