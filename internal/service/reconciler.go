package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/observability"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/pkg/pipeline"
)

var webhookSchemaSource = fmt.Sprintf(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["submission_id", "assignment_id", "status"],
  "properties": {
    "submission_id": {"type": "integer", "minimum": 1},
    "assignment_id": {"type": "integer", "minimum": 1},
    "status": {"type": "string", "enum": ["pending", "running", "passed", "failed"]},
    "test_output": {"type": ["object", "null"]},
    "logs": {"type": ["string", "null"]},
    "screenshot_urls": {"type": ["array", "null"], "items": {"type": "string"}},
    "screenshots": {
      "type": ["array", "null"],
      "maxItems": %d,
      "items": {
        "type": "object",
        "required": ["name", "content"],
        "properties": {
          "name": {"type": "string", "minLength": 1, "maxLength": 200},
          "content": {"type": "string", "minLength": 1}
        }
      }
    },
    "timestamp": {"type": ["string", "null"], "format": "date-time"}
  }
}`, pipeline.MaxScreenshots)

var webhookSchema = jsonschema.MustCompileString("grading-webhook.json", webhookSchemaSource)

// ResultEvent is a grading outcome for one submission at one point in time.
type ResultEvent struct {
	SubmissionID   uint
	AssignmentID   uint
	Status         string
	Output         map[string]interface{}
	Logs           string
	ScreenshotURLs []string
	ReportedAt     time.Time

	// Screenshots are images still to be re-hosted; their URLs join ScreenshotURLs.
	Screenshots []Screenshot

	// ReceiptTimed is set when ReportedAt is the arrival time rather than a CI timestamp.
	ReceiptTimed bool
}

// Screenshot is a decoded image from a webhook body.
type Screenshot struct {
	Name string
	Data []byte
}

// ReconcileOutcome describes what recording an event changed.
type ReconcileOutcome struct {
	Result           models.TestResult
	Applied          bool
	Completed        bool
	SubmissionStatus string
	AssignmentStatus string
}

// Reconciler ingests grading results and maintains the current-status projections.
type Reconciler interface {
	Ingest(ctx context.Context, body []byte, signature string) (dto.WebhookAckResponse, error)
	Record(ctx context.Context, event ResultEvent) (ReconcileOutcome, error)
}

// ReconcilerDeps groups collaborators the reconciler notifies after a projection change.
type ReconcilerDeps struct {
	Notifier    Notifier
	Publisher   StatusPublisher
	Cache       StatusInvalidator
	Screenshots ScreenshotStore
	AccessLink  func(token string) string
}

type reconciler struct {
	submissions repository.SubmissionRepository
	results     repository.TestResultRepository
	assignments repository.AssignmentRepository
	deps        ReconcilerDeps
	secret      string
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewReconciler constructs a reconciler. An empty secret disables signature checks.
func NewReconciler(submissions repository.SubmissionRepository, results repository.TestResultRepository, assignments repository.AssignmentRepository, secret string, deps ReconcilerDeps, logger zerolog.Logger) Reconciler {
	return &reconciler{
		submissions: submissions,
		results:     results,
		assignments: assignments,
		deps:        deps,
		secret:      secret,
		logger:      logger.With().Str("component", "reconciler").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/assessment-api/internal/service/reconciler"),
		now:         time.Now,
	}
}

func (r *reconciler) Ingest(ctx context.Context, body []byte, signature string) (dto.WebhookAckResponse, error) {
	ctx, span := r.tracer.Start(ctx, "webhook.ingest")
	defer span.End()

	if err := validateWebhookBody(body); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		observability.Webhooks().WithLabelValues("unknown", "invalid").Inc()
		return dto.WebhookAckResponse{}, err
	}

	var payload dto.TestResultWebhookRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		observability.Webhooks().WithLabelValues("unknown", "invalid").Inc()
		return dto.WebhookAckResponse{}, NewValidationError("malformed webhook body")
	}
	span.SetAttributes(
		attribute.Int64("webhook.submission_id", int64(payload.SubmissionID)),
		attribute.String("webhook.status", payload.Status),
	)

	screenshots, err := decodeScreenshots(payload.Screenshots)
	if err != nil {
		observability.Webhooks().WithLabelValues(payload.Status, "invalid").Inc()
		return dto.WebhookAckResponse{}, err
	}

	if r.secret != "" {
		token := SignatureToken(r.secret, payload.SubmissionID)
		if err := github.ValidateSignature(signature, body, []byte(token)); err != nil {
			span.SetStatus(codes.Error, "signature_invalid")
			observability.Webhooks().WithLabelValues(payload.Status, "unauthorized").Inc()
			r.logger.Warn().Err(err).Uint("submission_id", payload.SubmissionID).Msg("webhook signature rejected")
			return dto.WebhookAckResponse{}, ErrInvalidSignature
		}
	}

	reportedAt, receiptTimed := r.now().UTC(), true
	if payload.Timestamp != nil && !payload.Timestamp.IsZero() {
		reportedAt, receiptTimed = payload.Timestamp.UTC(), false
	}

	outcome, err := r.Record(ctx, ResultEvent{
		SubmissionID:   payload.SubmissionID,
		AssignmentID:   payload.AssignmentID,
		Status:         payload.Status,
		Output:         payload.TestOutput,
		Logs:           payload.Logs,
		ScreenshotURLs: payload.ScreenshotURLs,
		Screenshots:    screenshots,
		ReportedAt:     reportedAt,
		ReceiptTimed:   receiptTimed,
	})
	if err != nil {
		span.RecordError(err)
		return dto.WebhookAckResponse{}, err
	}

	return dto.WebhookAckResponse{
		ResultID:         outcome.Result.ID,
		Applied:          outcome.Applied,
		SubmissionStatus: outcome.SubmissionStatus,
		AssignmentStatus: outcome.AssignmentStatus,
	}, nil
}

func (r *reconciler) Record(ctx context.Context, event ResultEvent) (ReconcileOutcome, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.record", trace.WithAttributes(
		attribute.Int64("submission.id", int64(event.SubmissionID)),
		attribute.String("result.status", event.Status),
	))
	defer span.End()

	if !models.IsKnownTestStatus(event.Status) {
		return ReconcileOutcome{}, &ValidationError{Message: "invalid status", Fields: map[string]string{"status": event.Status}}
	}
	if event.ReportedAt.IsZero() {
		event.ReportedAt = r.now().UTC()
		event.ReceiptTimed = true
	}

	submission, err := r.submissions.GetByID(ctx, event.SubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.Webhooks().WithLabelValues(event.Status, "unknown_submission").Inc()
			return ReconcileOutcome{}, ErrSubmissionNotFound
		}
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return ReconcileOutcome{}, storageError("load submission", err)
	}
	if submission.AssignmentID != event.AssignmentID {
		observability.Webhooks().WithLabelValues(event.Status, "mismatch").Inc()
		return ReconcileOutcome{}, &ValidationError{
			Message: "submission does not belong to assignment",
			Fields:  map[string]string{"assignment_id": fmt.Sprintf("%d", event.AssignmentID)},
		}
	}

	summary := summarizeOutput(event.Status, event.Output)
	result := models.TestResult{
		SubmissionID: event.SubmissionID,
		AssignmentID: event.AssignmentID,
		Status:       event.Status,
		Output:       datatypes.JSONMap(event.Output),
		Logs:         event.Logs,
		ReportedAt:   event.ReportedAt.UTC(),
	}
	result.SetScreenshots(append(append([]string(nil), event.ScreenshotURLs...), r.rehost(ctx, event)...))
	if err := r.results.Create(ctx, &result); err != nil {
		span.SetStatus(codes.Error, "result_insert_failed")
		return ReconcileOutcome{}, storageError("append test result", err)
	}
	if r.deps.Cache != nil {
		defer r.deps.Cache.Invalidate(ctx, submission.ID)
	}

	applied, err := r.submissions.ApplyProjection(ctx, repository.ProjectionUpdate{
		SubmissionID: submission.ID,
		Status:       event.Status,
		Summary:      summary,
		ResultID:     result.ID,
		EventTime:    event.ReportedAt,
		ReceiptTimed: event.ReceiptTimed,
	})
	if err != nil {
		span.SetStatus(codes.Error, "projection_update_failed")
		return ReconcileOutcome{}, storageError("update submission projection", err)
	}
	if applied {
		if err := r.results.MarkApplied(ctx, result.ID); err != nil {
			return ReconcileOutcome{}, storageError("mark result applied", err)
		}
		result.Applied = true
	}

	current, err := r.submissions.GetByID(ctx, submission.ID)
	if err != nil {
		return ReconcileOutcome{}, storageError("reload submission", err)
	}

	outcome := ReconcileOutcome{
		Result:           result,
		Applied:          applied,
		SubmissionStatus: current.TestStatus,
	}

	// Any terminal event seen over a terminal projection retries completion, so a delivery
	// that failed between the two writes is finished by its redelivery. The transition is
	// conditional on in-progress and happens at most once.
	if models.IsTerminalTestStatus(event.Status) && current.IsTerminal() {
		completed, err := r.assignments.TransitionStatus(ctx, event.AssignmentID, models.AssignmentStatusInProgress, models.AssignmentStatusCompleted, r.now().UTC())
		if err != nil {
			span.SetStatus(codes.Error, "assignment_completion_failed")
			return ReconcileOutcome{}, storageError("complete assignment", err)
		}
		outcome.Completed = completed
	}

	assignment, err := r.assignments.GetByID(ctx, event.AssignmentID)
	if err != nil {
		return ReconcileOutcome{}, storageError("load assignment", err)
	}
	outcome.AssignmentStatus = assignment.Status

	if applied && r.deps.Publisher != nil {
		r.deps.Publisher.Publish(ctx, dto.StatusEvent{
			Type:             "submission.status",
			AssignmentID:     assignment.ID,
			SubmissionID:     submission.ID,
			TestStatus:       current.TestStatus,
			AssignmentStatus: assignment.Status,
			Summary:          current.TestResultsSummary,
			OccurredAt:       event.ReportedAt.UTC(),
		})
	}

	if outcome.Completed && r.deps.Notifier != nil {
		link := ""
		if r.deps.AccessLink != nil {
			link = r.deps.AccessLink(assignment.AccessToken)
		}
		r.deps.Notifier.Dispatch(ctx, Notification{
			Kind:          models.NotificationKindGraded,
			AssignmentID:  assignment.ID,
			Recipient:     assignment.Candidate.Email,
			RecipientName: assignment.Candidate.Name,
			TestTitle:     assignment.Test.Title,
			AccessLink:    link,
			Outcome:       current.TestStatus,
		})
	}

	label := "ignored"
	if applied {
		label = "applied"
	}
	observability.Webhooks().WithLabelValues(event.Status, label).Inc()

	r.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assignment_id", event.AssignmentID).
		Uint("result_id", result.ID).
		Str("status", event.Status).
		Bool("applied", applied).
		Bool("completed", outcome.Completed).
		Msg("grading result recorded")

	return outcome, nil
}

// rehost uploads inline screenshots. An image that fails to upload is logged and dropped.
func (r *reconciler) rehost(ctx context.Context, event ResultEvent) []string {
	if len(event.Screenshots) == 0 {
		return nil
	}
	log := r.logger.With().Uint("submission_id", event.SubmissionID).Logger()
	if r.deps.Screenshots == nil {
		log.Debug().Int("count", len(event.Screenshots)).Msg("no screenshot store configured, dropping inline screenshots")
		return nil
	}

	urls := make([]string, 0, len(event.Screenshots))
	for i, shot := range event.Screenshots {
		name := fmt.Sprintf("a%d-s%d-%d-%d-%s", event.AssignmentID, event.SubmissionID, event.ReportedAt.UnixMilli(), i, shot.Name)
		url, err := r.deps.Screenshots.Upload(ctx, name, bytes.NewReader(shot.Data))
		if err != nil {
			log.Warn().Err(err).Str("screenshot", shot.Name).Msg("failed to re-host screenshot")
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

func decodeScreenshots(inline []dto.WebhookScreenshot) ([]Screenshot, error) {
	if len(inline) == 0 {
		return nil, nil
	}
	out := make([]Screenshot, 0, len(inline))
	for i, shot := range inline {
		field := fmt.Sprintf("/screenshots/%d/content", i)
		data, err := base64.StdEncoding.DecodeString(shot.Content)
		if err != nil {
			return nil, &ValidationError{Message: "invalid screenshot", Fields: map[string]string{field: "must be base64"}}
		}
		if len(data) > pipeline.MaxScreenshotBytes {
			return nil, &ValidationError{Message: "invalid screenshot", Fields: map[string]string{field: "too large"}}
		}
		if !strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
			return nil, &ValidationError{Message: "invalid screenshot", Fields: map[string]string{field: "must be an image"}}
		}
		out = append(out, Screenshot{Name: path.Base(shot.Name), Data: data})
	}
	return out, nil
}

func validateWebhookBody(body []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return NewValidationError("malformed webhook body")
	}

	err := webhookSchema.Validate(document)
	var schemaErr *jsonschema.ValidationError
	if errors.As(err, &schemaErr) {
		fields := map[string]string{}
		for _, detail := range schemaErr.BasicOutput().Errors {
			if detail.InstanceLocation == "" && strings.HasPrefix(detail.Error, "doesn't validate") {
				continue
			}
			location := detail.InstanceLocation
			if location == "" {
				location = "/"
			}
			fields[location] = detail.Error
		}
		return &ValidationError{Message: "webhook payload failed validation", Fields: fields}
	}
	if err != nil {
		return NewValidationError(err.Error())
	}
	return nil
}

// summarizeOutput condenses a Playwright JSON report into one line.
func summarizeOutput(status string, output map[string]interface{}) string {
	if len(output) > 0 {
		raw, err := json.Marshal(output)
		if err == nil {
			stats := gjson.GetBytes(raw, "stats")
			if stats.Exists() {
				return fmt.Sprintf("%d passed, %d failed, %d flaky, %d skipped",
					stats.Get("expected").Int(),
					stats.Get("unexpected").Int(),
					stats.Get("flaky").Int(),
					stats.Get("skipped").Int(),
				)
			}
			if summary := gjson.GetBytes(raw, "summary"); summary.Type == gjson.String {
				return summary.String()
			}
		}
	}

	switch status {
	case models.TestStatusRunning:
		return "grading in progress"
	case models.TestStatusPending:
		return "waiting for grading"
	default:
		return status
	}
}
