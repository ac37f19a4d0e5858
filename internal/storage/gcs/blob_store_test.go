package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
	arretesstorage "github.com/JakeFAU/arretes-crawler/internal/storage"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUsesDoesNotExistPrecondition(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "arretes/2025/abc.pdf", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "%PDF-1.4")
		fmt.Fprintln(w, `{"name": "arretes/2025/abc.pdf", "bucket": "test-bucket", "size": "8"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "arretes/2025/abc.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/arretes/2025/abc.pdf", uri)
}

func TestPutObjectPreconditionFailedReturnsExisting(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error": {"code": 412, "message": "Precondition Failed"}}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "arretes/2025/abc.pdf", "application/pdf", bytes.NewReader([]byte("%PDF")))
	require.ErrorIs(t, err, arretesstorage.ErrObjectExists)
	assert.Equal(t, "gs://test-bucket/arretes/2025/abc.pdf", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error": {"code": 403, "message": "Forbidden"}}`)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "arretes/2025/abc.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.Error(t, err)
	require.NotErrorIs(t, err, arretesstorage.ErrObjectExists)
	assert.Positive(t, calls.Load())
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.Error(t, err)
}

func TestStatObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "missing.pdf") {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"error": {"code": 404, "message": "No such object"}}`)
			return
		}
		fmt.Fprintln(w, `{"name": "arretes/2025/abc.pdf", "bucket": "test-bucket", "size": "2048"}`)
	})
	store := newTestStore(t, handler)

	info, err := store.StatObject(context.Background(), "arretes/2025/abc.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size)
	assert.Equal(t, "gs://test-bucket/arretes/2025/abc.pdf", info.URI)

	_, err = store.StatObject(context.Background(), "arretes/2025/missing.pdf")
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)
}
