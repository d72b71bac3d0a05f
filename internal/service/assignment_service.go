package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/repository"
)

// AssignmentService manages the assignment lifecycle.
type AssignmentService interface {
	Create(ctx context.Context, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error)
	Get(ctx context.Context, id uint) (dto.AssignmentResponse, error)
	GetByToken(ctx context.Context, token string) (dto.AssignmentResponse, error)
	Start(ctx context.Context, token string) (dto.AssignmentResponse, error)
	Transition(ctx context.Context, id uint, payload dto.AssignmentStatusRequest) (dto.AssignmentResponse, error)
	Archive(ctx context.Context, id uint) (dto.AssignmentResponse, error)
}

type assignmentService struct {
	assignments repository.AssignmentRepository
	tests       repository.TestRepository
	candidates  repository.CandidateRepository
	notifier    Notifier
	accessLink  func(token string) string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewAssignmentService creates a new assignment service.
func NewAssignmentService(assignments repository.AssignmentRepository, tests repository.TestRepository, candidates repository.CandidateRepository, notifier Notifier, accessLink func(string) string, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	return &assignmentService{
		assignments: assignments,
		tests:       tests,
		candidates:  candidates,
		notifier:    notifier,
		accessLink:  accessLink,
		validator:   validate,
		logger:      logger.With().Str("component", "assignment_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/assessment-api/internal/service/assignment"),
		now:         time.Now,
	}
}

func (s *assignmentService) Create(ctx context.Context, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.create", trace.WithAttributes(
		attribute.Int64("assignment.test_id", int64(payload.TestID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssignmentResponse{}, validationFailure(err)
	}

	if _, err := s.tests.GetByID(ctx, payload.TestID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrTestNotFound
		}
		return dto.AssignmentResponse{}, storageError("load test", err)
	}

	candidate, err := s.candidates.FindOrCreate(ctx, payload.CandidateName, payload.CandidateEmail)
	if err != nil {
		return dto.AssignmentResponse{}, storageError("save candidate", err)
	}

	assignment := models.Assignment{
		TestID:      payload.TestID,
		CandidateID: candidate.ID,
		AccessToken: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:      models.AssignmentStatusPending,
	}
	if err := s.assignments.Create(ctx, &assignment); err != nil {
		span.RecordError(err)
		return dto.AssignmentResponse{}, storageError("create assignment", err)
	}

	stored, err := s.assignments.GetByID(ctx, assignment.ID)
	if err != nil {
		return dto.AssignmentResponse{}, storageError("reload assignment", err)
	}

	link := s.link(stored.AccessToken)
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, Notification{
			Kind:          models.NotificationKindInvitation,
			AssignmentID:  stored.ID,
			Recipient:     stored.Candidate.Email,
			RecipientName: stored.Candidate.Name,
			TestTitle:     stored.Test.Title,
			AccessLink:    link,
		})
	}

	s.logger.Info().
		Uint("assignment_id", stored.ID).
		Uint("test_id", stored.TestID).
		Uint("candidate_id", stored.CandidateID).
		Msg("assignment created")

	response := dto.NewAssignmentResponse(stored)
	response.AccessLink = link
	return response, nil
}

func (s *assignmentService) Get(ctx context.Context, id uint) (dto.AssignmentResponse, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	response := dto.NewAssignmentResponse(assignment)
	response.AccessLink = s.link(assignment.AccessToken)
	return response, nil
}

func (s *assignmentService) GetByToken(ctx context.Context, token string) (dto.AssignmentResponse, error) {
	assignment, err := s.loadByToken(ctx, token)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	return dto.NewCandidateAssignmentResponse(assignment), nil
}

// Start moves a pending assignment to in-progress. Starting an in-progress assignment
// again is a no-op so candidates can reopen their link.
func (s *assignmentService) Start(ctx context.Context, token string) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.start")
	defer span.End()

	assignment, err := s.loadByToken(ctx, token)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if assignment.IsArchived() {
		return dto.AssignmentResponse{}, ErrAssignmentArchived
	}
	if assignment.Status == models.AssignmentStatusInProgress {
		return dto.NewCandidateAssignmentResponse(assignment), nil
	}

	updated, err := s.transition(ctx, assignment, models.AssignmentStatusInProgress)
	if err != nil {
		span.RecordError(err)
		return dto.AssignmentResponse{}, err
	}
	return dto.NewCandidateAssignmentResponse(updated), nil
}

// Transition applies a recruiter-requested status change. Completion is reserved for
// grading results and is always rejected here.
func (s *assignmentService) Transition(ctx context.Context, id uint, payload dto.AssignmentStatusRequest) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.transition", trace.WithAttributes(
		attribute.Int64("assignment.id", int64(id)),
		attribute.String("assignment.target_status", payload.Status),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, validationFailure(err)
	}

	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if assignment.IsArchived() {
		return dto.AssignmentResponse{}, ErrAssignmentArchived
	}
	if payload.Status == models.AssignmentStatusCompleted {
		span.SetStatus(codes.Error, "invalid_transition")
		return dto.AssignmentResponse{}, &InvalidTransitionError{From: assignment.Status, To: payload.Status}
	}

	updated, err := s.transition(ctx, assignment, payload.Status)
	if err != nil {
		span.SetStatus(codes.Error, "invalid_transition")
		return dto.AssignmentResponse{}, err
	}

	response := dto.NewAssignmentResponse(updated)
	response.AccessLink = s.link(updated.AccessToken)
	return response, nil
}

func (s *assignmentService) Archive(ctx context.Context, id uint) (dto.AssignmentResponse, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	if !assignment.IsArchived() {
		if _, err := s.assignments.Archive(ctx, id, s.now().UTC()); err != nil {
			return dto.AssignmentResponse{}, storageError("archive assignment", err)
		}
		s.logger.Info().Uint("assignment_id", id).Msg("assignment archived")
	}

	return s.Get(ctx, id)
}

func (s *assignmentService) transition(ctx context.Context, assignment models.Assignment, to string) (models.Assignment, error) {
	if !models.CanTransitionAssignment(assignment.Status, to) {
		return models.Assignment{}, &InvalidTransitionError{From: assignment.Status, To: to}
	}

	moved, err := s.assignments.TransitionStatus(ctx, assignment.ID, assignment.Status, to, s.now().UTC())
	if err != nil {
		return models.Assignment{}, storageError("transition assignment", err)
	}

	current, err := s.load(ctx, assignment.ID)
	if err != nil {
		return models.Assignment{}, err
	}
	if !moved && current.Status != to {
		return models.Assignment{}, &InvalidTransitionError{From: current.Status, To: to}
	}

	s.logger.Info().
		Uint("assignment_id", assignment.ID).
		Str("from", assignment.Status).
		Str("to", to).
		Msg("assignment status changed")
	return current, nil
}

func (s *assignmentService) load(ctx context.Context, id uint) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, storageError("load assignment", err)
	}
	return assignment, nil
}

func (s *assignmentService) loadByToken(ctx context.Context, token string) (models.Assignment, error) {
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

func (s *assignmentService) link(token string) string {
	if s.accessLink == nil {
		return ""
	}
	return s.accessLink(token)
}
