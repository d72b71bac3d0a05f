package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/observability"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/pkg/pipeline"
	"github.com/noah-isme/assessment-api/pkg/provider"
	"github.com/noah-isme/assessment-api/pkg/repohost"
)

var excludedDirs = []string{"node_modules", ".git", ".next", "dist", "build", ".cache", "coverage"}

var excludedFiles = map[string]struct{}{".DS_Store": {}}

// MaterializeRequest identifies the snapshot to push into a grading repository.
type MaterializeRequest struct {
	AssignmentID uint
	SubmissionID uint
	TestID       uint
	Files        map[string]string
}

// MaterializeResult is the repository the snapshot landed in, plus any files that did not.
type MaterializeResult struct {
	Repository repohost.Repository
	Workflow   string
	Warnings   []PartialWriteWarning
	Unchanged  bool
}

// Materializer turns submission snapshots into grading repositories.
type Materializer interface {
	Materialize(ctx context.Context, req MaterializeRequest) (MaterializeResult, error)
	MaterializeSubmission(ctx context.Context, submissionID uint) (MaterializeResult, error)
}

type materializer struct {
	host        RepositoryHost
	tests       repository.TestRepository
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	reconciler  Reconciler
	cache       StatusInvalidator
	settings    GradingSettings
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewMaterializer constructs a materializer.
func NewMaterializer(host RepositoryHost, tests repository.TestRepository, assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, reconciler Reconciler, cache StatusInvalidator, settings GradingSettings, logger zerolog.Logger) Materializer {
	if settings.Branch == "" {
		settings.Branch = "main"
	}
	return &materializer{
		host:        host,
		tests:       tests,
		assignments: assignments,
		submissions: submissions,
		reconciler:  reconciler,
		cache:       cache,
		settings:    settings,
		logger:      logger.With().Str("component", "materializer").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/assessment-api/internal/service/materializer"),
		now:         time.Now,
	}
}

func (m *materializer) MaterializeSubmission(ctx context.Context, submissionID uint) (MaterializeResult, error) {
	submission, err := m.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return MaterializeResult{}, ErrSubmissionNotFound
		}
		return MaterializeResult{}, storageError("load submission", err)
	}

	assignment, err := m.assignments.GetByID(ctx, submission.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return MaterializeResult{}, ErrAssignmentNotFound
		}
		return MaterializeResult{}, storageError("load assignment", err)
	}

	return m.Materialize(ctx, MaterializeRequest{
		AssignmentID: assignment.ID,
		SubmissionID: submission.ID,
		TestID:       assignment.TestID,
		Files:        submission.Files(),
	})
}

func (m *materializer) Materialize(ctx context.Context, req MaterializeRequest) (MaterializeResult, error) {
	ctx, span := m.tracer.Start(ctx, "materializer.materialize", trace.WithAttributes(
		attribute.Int64("assignment.id", int64(req.AssignmentID)),
		attribute.Int64("submission.id", int64(req.SubmissionID)),
	))
	defer span.End()

	started := m.now()
	defer func() {
		observability.MaterializationDuration().Observe(time.Since(started).Seconds())
	}()

	name := RepositoryName(m.settings.RepoPrefix, req.AssignmentID, req.SubmissionID)
	log := m.logger.With().
		Uint("assignment_id", req.AssignmentID).
		Uint("submission_id", req.SubmissionID).
		Str("repository", name).
		Logger()

	accepted, warnings := filterSnapshot(req.Files)

	configurations, err := m.tests.ListConfigurations(ctx, req.TestID, true)
	if err != nil {
		return m.fail(ctx, req, name, storageError("load test configurations", err), span)
	}
	scripts := make([]pipeline.Script, 0, len(configurations))
	for _, configuration := range configurations {
		scripts = append(scripts, pipeline.Script{ID: configuration.ID, Name: configuration.Name, Source: configuration.Script})
	}

	repo, err := m.host.EnsureRepository(ctx, name)
	if err != nil {
		return m.fail(ctx, req, name, err, span)
	}
	if repo.Branch == "" {
		repo.Branch = m.settings.Branch
	}

	params := m.settings.Pipeline
	params.Branch = repo.Branch
	params.SubmissionID = req.SubmissionID
	params.AssignmentID = req.AssignmentID
	params.SignatureToken = SignatureToken(m.settings.WebhookSecret, req.SubmissionID)

	_, hasPackage := accepted[pipeline.PackagePath]
	generated, err := pipeline.Build(scripts, params, !hasPackage)
	if err != nil {
		return m.fail(ctx, req, name, NewValidationError(err.Error()), span)
	}
	for _, file := range generated.Files {
		accepted[file.Path] = file.Content
	}

	commit, err := m.host.CommitFiles(ctx, repo, toRepoFiles(accepted), fmt.Sprintf("Submission %d for assignment %d", req.SubmissionID, req.AssignmentID))
	if err != nil {
		return m.fail(ctx, req, name, err, span)
	}
	if err := uncommittedPipeline(commit, generated.Files); err != nil {
		return m.fail(ctx, req, name, err, span)
	}
	for _, failed := range commit.Failed {
		warnings = append(warnings, PartialWriteWarning{Path: failed.Path, Reason: failed.Err.Error()})
	}

	if err := m.assignments.SetRepository(ctx, req.AssignmentID, repo.URL, repo.Branch); err != nil {
		return m.fail(ctx, req, name, storageError("save repository on assignment", err), span)
	}

	if !commit.Unchanged && m.reconciler != nil {
		_, err := m.reconciler.Record(ctx, ResultEvent{
			SubmissionID: req.SubmissionID,
			AssignmentID: req.AssignmentID,
			Status:       models.TestStatusRunning,
			Output:       map[string]interface{}{"summary": "waiting for CI run", "commit": commit.CommitSHA},
			Logs:         "repository " + repo.URL + " updated, waiting for CI",
			ReportedAt:   m.now().UTC(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to record running placeholder")
		}
	}

	if err := m.submissions.SetMaterialization(ctx, req.SubmissionID, models.MaterializationMaterialized, name, ""); err != nil {
		return m.fail(ctx, req, name, storageError("mark submission materialized", err), span)
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx, req.SubmissionID)
	}

	observability.Materializations().WithLabelValues("materialized").Inc()
	event := log.Info()
	if len(warnings) > 0 {
		event = log.Warn().Strs("warnings", WarningStrings(warnings))
	}
	event.Str("url", repo.URL).
		Str("commit", commit.CommitSHA).
		Int("files", len(commit.Written)).
		Bool("unchanged", commit.Unchanged).
		Msg("submission materialized")

	span.SetStatus(codes.Ok, "materialized")
	return MaterializeResult{
		Repository: repo,
		Workflow:   generated.Workflow,
		Warnings:   warnings,
		Unchanged:  commit.Unchanged,
	}, nil
}

// fail marks the submission as failed to materialize. The assignment is left untouched.
func (m *materializer) fail(ctx context.Context, req MaterializeRequest, name string, cause error, span trace.Span) (MaterializeResult, error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "materialization_failed")

	outcome := "failed"
	if provider.IsError(cause) {
		outcome = "provider_error"
	}
	observability.Materializations().WithLabelValues(outcome).Inc()

	if err := m.submissions.SetMaterialization(ctx, req.SubmissionID, models.MaterializationFailed, name, cause.Error()); err != nil {
		m.logger.Error().Err(err).Uint("submission_id", req.SubmissionID).Msg("failed to record materialization failure")
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx, req.SubmissionID)
	}

	m.logger.Error().Err(cause).
		Uint("assignment_id", req.AssignmentID).
		Uint("submission_id", req.SubmissionID).
		Str("repository", name).
		Msg("materialization failed")
	return MaterializeResult{}, cause
}

// uncommittedPipeline reports a commit that cannot trigger grading: nothing was written,
// or one of the generated pipeline files failed to upload.
func uncommittedPipeline(commit repohost.CommitResult, generated []pipeline.File) error {
	required := make(map[string]struct{}, len(generated))
	for _, file := range generated {
		required[file.Path] = struct{}{}
	}
	var missing []string
	for _, failed := range commit.Failed {
		if _, ok := required[failed.Path]; ok {
			missing = append(missing, failed.Path+": "+failed.Err.Error())
		}
	}
	if len(missing) == 0 && len(commit.Written) > 0 {
		return nil
	}
	if len(missing) == 0 {
		missing = append(missing, "no files written")
	}
	return provider.Wrap("repository host", "commit grading pipeline", fmt.Errorf("%w: %s", ErrPipelineNotCommitted, strings.Join(missing, "; ")))
}

// filterSnapshot drops dependency/build directories silently and reports unusable paths
// and binary content as warnings.
func filterSnapshot(files map[string]string) (map[string]string, []PartialWriteWarning) {
	accepted := make(map[string]string, len(files))
	var warnings []PartialWriteWarning

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, raw := range paths {
		clean, ok := repohost.CleanPath(raw)
		if !ok {
			warnings = append(warnings, PartialWriteWarning{Path: raw, Reason: "invalid path"})
			continue
		}
		if isExcludedPath(clean) {
			continue
		}
		content := files[raw]
		if isBinary(content) {
			warnings = append(warnings, PartialWriteWarning{Path: clean, Reason: "binary content skipped"})
			continue
		}
		accepted[clean] = content
	}
	return accepted, warnings
}

func isExcludedPath(p string) bool {
	if _, ok := excludedFiles[path.Base(p)]; ok {
		return true
	}
	segments := strings.Split(p, "/")
	for _, segment := range segments[:len(segments)-1] {
		for _, dir := range excludedDirs {
			if segment == dir {
				return true
			}
		}
	}
	return false
}

func isBinary(content string) bool {
	if content == "" {
		return false
	}
	detected := mimetype.Detect([]byte(content))
	for mt := detected; mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return false
		}
	}
	return true
}

func toRepoFiles(files map[string]string) []repohost.File {
	out := make([]repohost.File, 0, len(files))
	for p, content := range files {
		out = append(out, repohost.File{Path: p, Content: content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
