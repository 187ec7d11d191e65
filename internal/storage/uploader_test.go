package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        string
}

type fakeS3 struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Body:        string(body),
	})
	f.mu.Unlock()
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func newTestUploader(t *testing.T) (*Uploader, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := NewUploader(Config{
		Endpoint:      srv.URL,
		Region:        "us-east-1",
		AccessKey:     "access",
		SecretKey:     "secret",
		Bucket:        "media",
		PublicBaseURL: "https://cdn.example.com/",
		UsePathStyle:  true,
	})
	require.NoError(t, err)
	u.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }
	return u, fake
}

func TestNewUploader_Validation(t *testing.T) {
	_, err := NewUploader(Config{Region: "r", AccessKey: "a", SecretKey: "s", PublicBaseURL: "u"})
	assert.ErrorContains(t, err, "bucket")
	_, err = NewUploader(Config{Bucket: "b", AccessKey: "a", SecretKey: "s", PublicBaseURL: "u"})
	assert.ErrorContains(t, err, "region")
	_, err = NewUploader(Config{Bucket: "b", Region: "r", PublicBaseURL: "u"})
	assert.ErrorContains(t, err, "credentials")
	_, err = NewUploader(Config{Bucket: "b", Region: "r", AccessKey: "a", SecretKey: "s"})
	assert.ErrorContains(t, err, "public base url")
}

func TestUpload(t *testing.T) {
	u, fake := newTestUploader(t)

	key, url, err := u.Upload(context.Background(), "user|42", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "generations/user_42/20260504T030201Z-"), key)
	assert.True(t, strings.HasSuffix(key, ".png"), key)
	assert.Equal(t, "https://cdn.example.com/"+key, url)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/media/"+key, req.Path)
	assert.Equal(t, "image/png", req.ContentType)
	assert.Contains(t, req.Body, "png-bytes")
}

func TestUpload_Empty(t *testing.T) {
	u, _ := newTestUploader(t)

	_, _, err := u.Upload(context.Background(), "u", nil, "image/png")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	u, fake := newTestUploader(t)

	require.NoError(t, u.Delete(context.Background(), "generations/u/a.png"))
	require.Len(t, fake.requests, 1)
	assert.Equal(t, http.MethodDelete, fake.requests[0].Method)
	assert.Equal(t, "/media/generations/u/a.png", fake.requests[0].Path)

	assert.Error(t, u.Delete(context.Background(), ""))
}

func TestExtensionFromContentType(t *testing.T) {
	assert.Equal(t, ".png", extensionFromContentType("image/png"))
	assert.Equal(t, ".jpg", extensionFromContentType("image/jpeg; charset=binary"))
	assert.Equal(t, ".webp", extensionFromContentType("IMAGE/WEBP"))
	assert.Equal(t, ".mp4", extensionFromContentType("video/mp4"))
	assert.Equal(t, ".bin", extensionFromContentType("application/octet-stream"))
}
