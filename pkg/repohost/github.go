package repohost

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/assessment-api/pkg/provider"
)

const githubProvider = "github"

var tracer = otel.Tracer("github.com/noah-isme/assessment-api/pkg/repohost")

// GitHubConfig holds credentials and placement options for the GitHub host.
type GitHubConfig struct {
	Token             string
	Owner             string
	Organization      bool
	AppID             int64
	InstallationID    int64
	AppPrivateKeyPath string
	BaseURL           string
	Private           bool
	DefaultBranch     string
	RetryMax          int
}

// GitHub creates grading repositories through the GitHub REST API. Files are written
// as blobs and committed as a single tree so one push triggers one workflow run.
type GitHub struct {
	client        *github.Client
	owner         string
	organization  bool
	private       bool
	defaultBranch string
	backoff       func() retry.Backoff
	logger        zerolog.Logger
}

// NewGitHub builds a GitHub host. App credentials take precedence over a token.
func NewGitHub(cfg GitHubConfig, logger zerolog.Logger) (*GitHub, error) {
	if strings.TrimSpace(cfg.Owner) == "" {
		return nil, fmt.Errorf("github owner must be provided")
	}

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.RetryMax = cfg.RetryMax
	if httpClient.RetryMax <= 0 {
		httpClient.RetryMax = 3
	}

	var client *github.Client
	switch {
	case cfg.AppID != 0 && cfg.InstallationID != 0 && cfg.AppPrivateKeyPath != "":
		transport, err := ghinstallation.NewKeyFromFile(httpClient.HTTPClient.Transport, cfg.AppID, cfg.InstallationID, cfg.AppPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load github app key: %w", err)
		}
		httpClient.HTTPClient.Transport = transport
		client = github.NewClient(httpClient.StandardClient())
	case cfg.Token != "":
		client = github.NewClient(httpClient.StandardClient()).WithAuthToken(cfg.Token)
	default:
		return nil, fmt.Errorf("github token or app credentials must be provided")
	}

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = parsed
	}

	branch := cfg.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	return &GitHub{
		client:        client,
		owner:         cfg.Owner,
		organization:  cfg.Organization,
		private:       cfg.Private,
		defaultBranch: branch,
		backoff: func() retry.Backoff {
			b := retry.NewExponential(250 * time.Millisecond)
			b = retry.WithMaxRetries(4, b)
			return b
		},
		logger: logger.With().Str("component", "github_host").Logger(),
	}, nil
}

// WithBackoff replaces the per-file retry policy.
func (g *GitHub) WithBackoff(backoff func() retry.Backoff) *GitHub {
	g.backoff = backoff
	return g
}

// EnsureRepository returns the named repository, creating it when missing.
func (g *GitHub) EnsureRepository(ctx context.Context, name string) (Repository, error) {
	ctx, span := tracer.Start(ctx, "GitHub.EnsureRepository")
	defer span.End()
	span.SetAttributes(attribute.String("repository.name", name))

	repo, resp, err := g.client.Repositories.Get(ctx, g.owner, name)
	if err == nil {
		span.SetStatus(codes.Ok, "repository exists")
		return g.toRepository(repo), nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up repository")
		return Repository{}, provider.Wrap(githubProvider, "get repository", err)
	}

	org := ""
	if g.organization {
		org = g.owner
	}

	created, resp, err := g.client.Repositories.Create(ctx, org, &github.Repository{
		Name:        github.String(name),
		Private:     github.Bool(g.private),
		AutoInit:    github.Bool(true),
		Description: github.String("Grading repository"),
	})
	if err != nil {
		// Another attempt may have created it between the lookup and the create call.
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			if existing, _, getErr := g.client.Repositories.Get(ctx, g.owner, name); getErr == nil {
				return g.toRepository(existing), nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create repository")
		return Repository{}, provider.Wrap(githubProvider, "create repository", err)
	}

	g.logger.Info().Str("repository", name).Msg("grading repository created")
	span.SetStatus(codes.Ok, "repository created")
	return g.toRepository(created), nil
}

// CommitFiles writes every file as a blob and commits the successful ones on the
// repository branch. Blob failures are reported per file and do not abort the commit.
func (g *GitHub) CommitFiles(ctx context.Context, repo Repository, files []File, message string) (CommitResult, error) {
	ctx, span := tracer.Start(ctx, "GitHub.CommitFiles")
	defer span.End()
	span.SetAttributes(
		attribute.String("repository.name", repo.Name),
		attribute.Int("files.count", len(files)),
	)

	branch := repo.Branch
	if branch == "" {
		branch = g.defaultBranch
	}
	owner := repo.Owner
	if owner == "" {
		owner = g.owner
	}

	ref, _, err := g.client.Git.GetRef(ctx, owner, repo.Name, "refs/heads/"+branch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve branch")
		return CommitResult{}, provider.Wrap(githubProvider, "get ref", err)
	}

	parent, _, err := g.client.Git.GetCommit(ctx, owner, repo.Name, ref.GetObject().GetSHA())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load head commit")
		return CommitResult{}, provider.Wrap(githubProvider, "get commit", err)
	}

	var result CommitResult
	entries := make([]*github.TreeEntry, 0, len(files))
	for _, file := range files {
		sha, err := g.createBlob(ctx, owner, repo.Name, file.Content)
		if err != nil {
			g.logger.Warn().Err(err).Str("repository", repo.Name).Str("path", file.Path).Msg("failed to upload file blob")
			result.Failed = append(result.Failed, FileError{Path: file.Path, Err: err})
			continue
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.String(file.Path),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  github.String(sha),
		})
		result.Written = append(result.Written, file.Path)
	}

	if len(entries) == 0 {
		result.Unchanged = true
		result.CommitSHA = parent.GetSHA()
		return result, nil
	}

	tree, _, err := g.client.Git.CreateTree(ctx, owner, repo.Name, parent.GetTree().GetSHA(), entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create tree")
		return result, provider.Wrap(githubProvider, "create tree", err)
	}

	if tree.GetSHA() == parent.GetTree().GetSHA() {
		result.Unchanged = true
		result.CommitSHA = parent.GetSHA()
		span.SetStatus(codes.Ok, "tree unchanged")
		return result, nil
	}

	commit, _, err := g.client.Git.CreateCommit(ctx, owner, repo.Name, &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: tree.SHA},
		Parents: []*github.Commit{{SHA: parent.SHA}},
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create commit")
		return result, provider.Wrap(githubProvider, "create commit", err)
	}

	_, _, err = g.client.Git.UpdateRef(ctx, owner, repo.Name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move branch")
		return result, provider.Wrap(githubProvider, "update ref", err)
	}

	result.CommitSHA = commit.GetSHA()
	span.SetStatus(codes.Ok, "committed")
	return result, nil
}

func (g *GitHub) createBlob(ctx context.Context, owner, name, content string) (string, error) {
	var sha string
	err := retry.Do(ctx, g.backoff(), func(ctx context.Context) error {
		blob, resp, err := g.client.Git.CreateBlob(ctx, owner, name, &github.Blob{
			Content:  github.String(base64.StdEncoding.EncodeToString([]byte(content))),
			Encoding: github.String("base64"),
		})
		if err != nil {
			if isRetryable(resp, err) {
				return retry.RetryableError(err)
			}
			return err
		}
		sha = blob.GetSHA()
		return nil
	})
	return sha, err
}

func (g *GitHub) toRepository(repo *github.Repository) Repository {
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = g.defaultBranch
	}
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = g.owner
	}
	return Repository{
		URL:    repo.GetHTMLURL(),
		Owner:  owner,
		Name:   repo.GetName(),
		Branch: branch,
	}
}

func isRetryable(resp *github.Response, err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}
