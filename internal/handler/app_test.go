package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/config"
	"github.com/noah-isme/assessment-api/internal/database"
	"github.com/noah-isme/assessment-api/internal/handler"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/internal/router"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/pkg/mailer"
	"github.com/noah-isme/assessment-api/pkg/pipeline"
	"github.com/noah-isme/assessment-api/pkg/repohost"
	"github.com/noah-isme/assessment-api/pkg/taskrunner"
)

const testJWTSecret = "s3cret"

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	runner *taskrunner.Runner
	stream service.StatusStream
	cfg    config.Config
}

type envOptions struct {
	webhookSecret  string
	submissionRate int
}

type apiResponse struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Data     json.RawMessage        `json:"data"`
	Details  map[string]interface{} `json:"details"`
	Warnings []string               `json:"warnings"`
}

func setupApp(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if opts.submissionRate == 0 {
		opts.submissionRate = 50
	}
	cfg := config.Config{
		AppName:              "Assessment API Test",
		AppEnv:               "test",
		PublicBaseURL:        "https://assess.test",
		JWTSecret:            testJWTSecret,
		RepoPrefix:           "grading",
		RepoBranch:           "main",
		GradingWebhookSecret: opts.webhookSecret,
		SubmissionRateLimit:  opts.submissionRate,
		WebhookRateLimit:     100,
		RateLimitWindow:      time.Minute,
	}

	logger := zerolog.New(io.Discard)
	validate := service.NewValidator()

	host, err := repohost.NewLocal(t.TempDir(), cfg.RepoBranch)
	require.NoError(t, err)

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	resultRepo := repository.NewTestResultRepository(db)
	testRepo := repository.NewTestRepository(db)
	candidateRepo := repository.NewCandidateRepository(db)
	deliveryRepo := repository.NewNotificationDeliveryRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := service.NewNotificationDispatcher(mailer.NewLogSender(logger), deliveryRepo, nil, service.DispatcherConfig{}, logger)
	dispatcher.Start(ctx)
	stream := service.NewStatusStream(nil, "", logger)
	stream.Start(ctx)

	runner := taskrunner.New()
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = runner.Shutdown(shutdownCtx)
		cancel()
		dispatcher.Wait()
	})

	cache := service.NewStatusCache(nil, 0, logger)
	reconciler := service.NewReconciler(submissionRepo, resultRepo, assignmentRepo, cfg.GradingWebhookSecret, service.ReconcilerDeps{
		Notifier:   dispatcher,
		Publisher:  stream,
		Cache:      cache,
		AccessLink: cfg.AccessLink,
	}, logger)
	materializer := service.NewMaterializer(host, testRepo, assignmentRepo, submissionRepo, reconciler, cache, service.GradingSettings{
		RepoPrefix:    cfg.RepoPrefix,
		Branch:        cfg.RepoBranch,
		WebhookSecret: cfg.GradingWebhookSecret,
		Pipeline:      pipeline.Params{WebhookURL: "https://assess.test/api/v2/webhooks/test-results"},
	}, logger)

	assignmentService := service.NewAssignmentService(assignmentRepo, testRepo, candidateRepo, dispatcher, cfg.AccessLink, validate, logger)
	submissionService := service.NewSubmissionService(assignmentRepo, submissionRepo, resultRepo, materializer, runner, cache, time.Minute, validate, logger)
	testService := service.NewTestService(testRepo, validate, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		DB:                db,
		AssessmentHandler: handler.NewAssessmentHandler(assignmentService, submissionService, stream, logger),
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, logger),
		TestHandler:       handler.NewTestHandler(testService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(materializer, logger),
		WebhookHandler:    handler.NewWebhookHandler(reconciler, logger),
	})

	return &testEnv{app: app, db: db, runner: runner, stream: stream, cfg: cfg}
}

func recruiterToken(t *testing.T, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "7",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	default:
		encoded, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := e.app.Test(req, 10_000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload apiResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp.StatusCode, payload
}

func (e *testEnv) recruiter(t *testing.T, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	return e.do(t, method, "/api/v2/recruiter"+path, body, map[string]string{
		"Authorization": "Bearer " + recruiterToken(t, "recruiter"),
	})
}

// waitForBackground blocks until scheduled materializations have finished.
func (e *testEnv) waitForBackground(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.runner.Shutdown(ctx))
}

type seeded struct {
	testID       uint
	assignmentID uint
	token        string
}

// seedAssignment creates a test with one script and invites a candidate through the
// recruiter API.
func (e *testEnv) seedAssignment(t *testing.T) seeded {
	t.Helper()

	status, resp := e.recruiter(t, http.MethodPost, "/tests", map[string]string{"title": "Todo app", "description": "Build a todo list"})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var test struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &test))

	status, resp = e.recruiter(t, http.MethodPost, fmt.Sprintf("/tests/%d/configurations", test.ID), map[string]string{
		"name":   "adds items",
		"script": "test('adds items', async ({ page }) => { await page.goto('/'); });",
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)

	status, resp = e.recruiter(t, http.MethodPost, "/assignments", map[string]interface{}{
		"test_id":         test.ID,
		"candidate_name":  "Ada Lovelace",
		"candidate_email": "ada@example.com",
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var assignment struct {
		ID         uint   `json:"id"`
		Status     string `json:"status"`
		AccessLink string `json:"access_link"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &assignment))
	require.Equal(t, "pending", assignment.Status)
	require.True(t, strings.HasPrefix(assignment.AccessLink, "https://assess.test/assessment/"))

	return seeded{
		testID:       test.ID,
		assignmentID: assignment.ID,
		token:        strings.TrimPrefix(assignment.AccessLink, "https://assess.test/assessment/"),
	}
}
