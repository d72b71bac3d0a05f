package cloudinary

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/pkg/provider"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := New(Config{
		CloudName:    "demo",
		APIKey:       "key",
		APISecret:    "secret",
		Folder:       "/grading/screenshots/",
		UploadPrefix: server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestUploadReturnsSecureURL(t *testing.T) {
	var (
		path, publicID, folder string
		content                []byte
	)
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		publicID = r.FormValue("public_id")
		folder = r.FormValue("folder")
		if file, _, err := r.FormFile("file"); err == nil {
			content, _ = io.ReadAll(file)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"public_id":"grading/screenshots/a1-s2-0-test-failed-1","secure_url":"https://res.cloudinary.com/demo/image/upload/v1/grading/screenshots/a1-s2-0-test-failed-1.png"}`))
	})

	url, err := store.Upload(context.Background(), "a1-s2-0-test-failed-1.png", bytes.NewReader([]byte("\x89PNG")))
	require.NoError(t, err)
	require.Equal(t, "https://res.cloudinary.com/demo/image/upload/v1/grading/screenshots/a1-s2-0-test-failed-1.png", url)
	require.Equal(t, "/v1_1/demo/image/upload", path)
	require.Equal(t, "a1-s2-0-test-failed-1", publicID)
	require.Equal(t, "grading/screenshots", folder)
	require.Equal(t, []byte("\x89PNG"), content)
}

func TestUploadRejectedIsProviderError(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid image file"}}`))
	})

	_, err := store.Upload(context.Background(), "broken.png", bytes.NewReader([]byte("nope")))
	require.Error(t, err)
	require.True(t, provider.IsError(err))
	require.Contains(t, err.Error(), "Invalid image file")
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)
}

func TestPublicID(t *testing.T) {
	cases := map[string]string{
		"a1-s2-0-test-failed-1.png": "a1-s2-0-test-failed-1",
		"checkout flow (1).png":     "checkout-flow--1",
		".png":                      "screenshot",
		"already_clean":             "already-clean",
	}
	for input, expected := range cases {
		require.Equal(t, expected, PublicID(input), input)
	}
}
