package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/fly-screenshotter/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.ObjectStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/previews/o")
		assert.Equal(t, "screenshots/p1.jpg", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "jpeg-bytes")
		assert.Contains(t, string(body), "image/jpeg")

		fmt.Fprintln(w, `{"name":"screenshots/p1.jpg","bucket":"previews"}`)
	})

	store := newTestStore(t, handler, gcs.Config{Bucket: "previews"})
	url, err := store.PutObject(context.Background(), "screenshots/p1.jpg", "image/jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/previews/screenshots/p1.jpg", url)
}

func TestPutObjectPublicBaseURL(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"name":"p1.jpg","bucket":"previews"}`)
	})
	store := newTestStore(t, handler, gcs.Config{Bucket: "previews", PublicBaseURL: "https://cdn.example.com"})
	url, err := store.PutObject(context.Background(), "p1.jpg", "image/jpeg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/p1.jpg", url)
}

func TestPutObjectError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, gcs.Config{Bucket: "previews"})
	_, err := store.PutObject(context.Background(), "p1.jpg", "image/jpeg", []byte("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "image/jpeg", []byte("x"))
	require.ErrorContains(t, err, "path is required")
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"deleted", http.StatusNoContent, false},
		{"missing", http.StatusNotFound, false},
		{"forbidden", http.StatusForbidden, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				w.WriteHeader(tc.status)
			})
			store := newTestStore(t, handler, gcs.Config{Bucket: "previews"})
			err := store.DeleteObject(context.Background(), "screenshots/p1.jpg")
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
