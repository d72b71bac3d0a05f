package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/repository"
)

// SubmissionService accepts candidate snapshots and serves their grading status.
type SubmissionService interface {
	Submit(ctx context.Context, token string, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error)
	Status(ctx context.Context, token string, submissionID uint) (dto.SubmissionStatusResponse, error)
}

type submissionService struct {
	assignments  repository.AssignmentRepository
	submissions  repository.SubmissionRepository
	results      repository.TestResultRepository
	materializer Materializer
	runner       TaskRunner
	cache        *StatusCache
	timeout      time.Duration
	validator    *validator.Validate
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewSubmissionService constructs the submission service. timeout bounds each background
// materialization; zero means no bound.
func NewSubmissionService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, results repository.TestResultRepository, materializer Materializer, runner TaskRunner, cache *StatusCache, timeout time.Duration, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		assignments:  assignments,
		submissions:  submissions,
		results:      results,
		materializer: materializer,
		runner:       runner,
		cache:        cache,
		timeout:      timeout,
		validator:    validate,
		logger:       logger.With().Str("component", "submission_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/assessment-api/internal/service/submission"),
		now:          time.Now,
	}
}

// Submit stores the snapshot and returns as soon as it is durable. Materialization runs
// in the background and reports progress through the submission's status fields.
func (s *submissionService) Submit(ctx context.Context, token string, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.submit")
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, validationFailure(err)
	}
	for path := range payload.Files {
		if strings.TrimSpace(path) == "" {
			return dto.SubmissionResponse{}, &ValidationError{Message: "invalid payload", Fields: map[string]string{"files": "empty path"}}
		}
	}

	assignment, err := s.assignmentByToken(ctx, token)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	span.SetAttributes(attribute.Int64("assignment.id", int64(assignment.ID)))

	if assignment.IsArchived() {
		return dto.SubmissionResponse{}, ErrAssignmentArchived
	}
	switch assignment.Status {
	case models.AssignmentStatusCompleted:
		return dto.SubmissionResponse{}, ErrAssignmentCompleted
	case models.AssignmentStatusPending:
		if _, err := s.assignments.TransitionStatus(ctx, assignment.ID, models.AssignmentStatusPending, models.AssignmentStatusInProgress, s.now().UTC()); err != nil {
			return dto.SubmissionResponse{}, storageError("start assignment", err)
		}
	}

	submission := models.Submission{
		AssignmentID:          assignment.ID,
		TestStatus:            models.TestStatusPending,
		MaterializationStatus: models.MaterializationQueued,
	}
	submission.SetFiles(payload.Files)
	if err := s.submissions.Create(ctx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, storageError("create submission", err)
	}

	request := MaterializeRequest{
		AssignmentID: assignment.ID,
		SubmissionID: submission.ID,
		TestID:       assignment.TestID,
		Files:        payload.Files,
	}
	correlationID := middleware.CorrelationIDFromContext(ctx)
	s.runner.Run(ctx, func(taskCtx context.Context) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, s.timeout)
			defer cancel()
		}
		result, err := s.materializer.Materialize(taskCtx, request)
		if err != nil {
			s.logger.Error().Err(err).
				Str("correlation_id", correlationID).
				Uint("submission_id", request.SubmissionID).
				Msg("background materialization failed")
			return
		}
		s.logger.Info().
			Str("correlation_id", correlationID).
			Uint("submission_id", request.SubmissionID).
			Str("repository_url", result.Repository.URL).
			Int("warnings", len(result.Warnings)).
			Msg("background materialization finished")
	})

	s.logger.Info().
		Uint("assignment_id", assignment.ID).
		Uint("submission_id", submission.ID).
		Int("files", len(payload.Files)).
		Msg("submission accepted")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Status(ctx context.Context, token string, submissionID uint) (dto.SubmissionStatusResponse, error) {
	assignment, err := s.assignmentByToken(ctx, token)
	if err != nil {
		return dto.SubmissionStatusResponse{}, err
	}

	if view, ok := s.cache.Get(ctx, submissionID); ok && view.Submission.AssignmentID == assignment.ID {
		return view, nil
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionStatusResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionStatusResponse{}, storageError("load submission", err)
	}
	if submission.AssignmentID != assignment.ID {
		return dto.SubmissionStatusResponse{}, ErrSubmissionNotFound
	}

	history, err := s.results.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return dto.SubmissionStatusResponse{}, storageError("load test results", err)
	}

	view := dto.SubmissionStatusResponse{
		Submission:       dto.NewSubmissionResponse(submission),
		AssignmentStatus: assignment.Status,
		Results:          dto.NewTestResultResponseSlice(history),
	}
	s.cache.Set(ctx, submission.ID, view)
	return view, nil
}

func (s *submissionService) assignmentByToken(ctx context.Context, token string) (models.Assignment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Assignment{}, ErrAssignmentNotFound
	}
	assignment, err := s.assignments.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, storageError("load assignment", err)
	}
	return assignment, nil
}
