package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/pkg/pipeline"
	"github.com/noah-isme/assessment-api/pkg/repohost"
)

// RepositoryHost creates grading repositories and pushes snapshots to them.
type RepositoryHost interface {
	EnsureRepository(ctx context.Context, name string) (repohost.Repository, error)
	CommitFiles(ctx context.Context, repo repohost.Repository, files []repohost.File, message string) (repohost.CommitResult, error)
}

// TaskRunner schedules background work that outlives the request.
type TaskRunner interface {
	Run(ctx context.Context, fn func(context.Context))
}

// StatusPublisher receives projection changes for live subscribers.
type StatusPublisher interface {
	Publish(ctx context.Context, event dto.StatusEvent)
}

// StatusInvalidator drops cached status views.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, submissionID uint)
}

// ScreenshotStore re-hosts screenshots posted by CI and returns their public URL.
type ScreenshotStore interface {
	Upload(ctx context.Context, name string, content io.Reader) (string, error)
}

// Notifier hands notifications to the dispatcher without waiting for delivery.
type Notifier interface {
	Dispatch(ctx context.Context, notification Notification)
}

// GradingSettings configures repository naming and the generated CI pipeline.
type GradingSettings struct {
	RepoPrefix    string
	Branch        string
	WebhookSecret string
	Pipeline      pipeline.Params
}

// RepositoryName derives the grading repository name for a submission.
func RepositoryName(prefix string, assignmentID, submissionID uint) string {
	if prefix == "" {
		prefix = "grading"
	}
	return fmt.Sprintf("%s-a%d-s%d", prefix, assignmentID, submissionID)
}

// SignatureToken derives the per-submission key CI uses to sign webhook bodies.
// It is empty when no webhook secret is configured.
func SignatureToken(secret string, submissionID uint) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("submission:" + strconv.FormatUint(uint64(submissionID), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
