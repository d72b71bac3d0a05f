package repohost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/pkg/provider"
)

type fakeGitHub struct {
	mu         sync.Mutex
	exists     bool
	creates    int
	blobs      []string
	treeCalls  int
	commits    int
	refUpdates int
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	repoJSON := map[string]interface{}{
		"name":           "grading-a42-s7",
		"html_url":       "https://github.test/acme/grading-a42-s7",
		"default_branch": "main",
		"owner":          map[string]interface{}{"login": "acme"},
	}

	mux.HandleFunc("/repos/acme/grading-a42-s7", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(repoJSON)
	})
	mux.HandleFunc("/orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		f.mu.Lock()
		f.exists = true
		f.creates++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(repoJSON)
	})
	mux.HandleFunc("/repos/acme/grading-a42-s7/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ref":"refs/heads/main","object":{"sha":"base-commit","type":"commit"}}`))
	})
	mux.HandleFunc("/repos/acme/grading-a42-s7/git/commits/base-commit", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sha":"base-commit","tree":{"sha":"base-tree"}}`))
	})
	mux.HandleFunc("/repos/acme/grading-a42-s7/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		require.NoError(t, err)
		if string(decoded) == "reject me" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"blob rejected"}`))
			return
		}
		f.mu.Lock()
		f.blobs = append(f.blobs, string(decoded))
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"blob-sha"}`))
	})
	mux.HandleFunc("/repos/acme/grading-a42-s7/git/trees", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.treeCalls++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"new-tree"}`))
	})
	mux.HandleFunc("/repos/acme/grading-a42-s7/git/commits", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.commits++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"new-commit"}`))
	})
	mux.HandleFunc("/repos/acme/grading-a42-s7/git/refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		f.mu.Lock()
		f.refUpdates++
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ref":"refs/heads/main","object":{"sha":"new-commit"}}`))
	})
	return mux
}

func newTestGitHub(t *testing.T, server *httptest.Server) *GitHub {
	t.Helper()
	host, err := NewGitHub(GitHubConfig{
		Token:        "token",
		Owner:        "acme",
		Organization: true,
		BaseURL:      server.URL,
		RetryMax:     1,
	}, zerolog.Nop())
	require.NoError(t, err)
	return host.WithBackoff(func() retry.Backoff {
		return retry.WithMaxRetries(0, retry.NewConstant(1))
	})
}

func TestGitHubEnsureRepositoryCreatesOnce(t *testing.T) {
	fake := &fakeGitHub{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	host := newTestGitHub(t, server)
	ctx := context.Background()

	first, err := host.EnsureRepository(ctx, "grading-a42-s7")
	require.NoError(t, err)
	second, err := host.EnsureRepository(ctx, "grading-a42-s7")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, fake.creates)
	require.Equal(t, "https://github.test/acme/grading-a42-s7", first.URL)
	require.Equal(t, "main", first.Branch)
}

func TestGitHubCommitFilesReportsFailedBlobs(t *testing.T) {
	fake := &fakeGitHub{exists: true}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	host := newTestGitHub(t, server)
	repo := Repository{Owner: "acme", Name: "grading-a42-s7", Branch: "main"}

	result, err := host.CommitFiles(context.Background(), repo, []File{
		{Path: "App.js", Content: "export default 1"},
		{Path: "broken.js", Content: "reject me"},
	}, "Submission 7")
	require.NoError(t, err)

	require.Equal(t, "new-commit", result.CommitSHA)
	require.Equal(t, []string{"App.js"}, result.Written)
	require.Len(t, result.Failed, 1)
	require.Equal(t, "broken.js", result.Failed[0].Path)
	require.Equal(t, 1, fake.treeCalls)
	require.Equal(t, 1, fake.commits)
	require.Equal(t, 1, fake.refUpdates)
}

func TestGitHubUnauthorizedIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	host := newTestGitHub(t, server)
	_, err := host.EnsureRepository(context.Background(), "grading-a42-s7")
	require.Error(t, err)
	require.True(t, provider.IsError(err))
}
